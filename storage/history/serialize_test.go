package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeInt(t *testing.T) {
	ser, err := SerializeInt(42)
	require.NoError(t, err)

	back, err := DeserializeInt(ser)
	require.NoError(t, err)
	assert.Equal(t, 42, back)
}

func TestSerializeNilObject(t *testing.T) {
	_, err := SerializeObject[struct{}](nil)
	assert.Error(t, err)
}

func TestSequenceKeysAreSorted(t *testing.T) {
	assert.Less(t, string(SerializeSequence(9)), string(SerializeSequence(10)))
	assert.Less(t, string(SerializeSequence(255)), string(SerializeSequence(256)))
	assert.Equal(t, uint64(256), DeserializeSequence(SerializeSequence(256)))
	assert.Equal(t, uint64(0), DeserializeSequence([]byte("abc")))
}
