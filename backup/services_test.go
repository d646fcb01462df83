package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunServicesIndependently(t *testing.T) {
	failure := errors.New("calendar not reachable")

	slow := NewService("contacts", func(ctx context.Context) (*Report, error) {
		time.Sleep(50 * time.Millisecond)
		// the failure of another service must not cancel this one
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Report{Service: "contacts", Stored: 3}, nil
	})
	failing := NewService("calendar", func(ctx context.Context) (*Report, error) {
		return nil, failure
	})
	panicking := NewService("other", func(ctx context.Context) (*Report, error) {
		panic("boom")
	})

	results := RunServices(context.Background(), slow, failing, panicking)
	require.Len(t, results, 3)

	assert.Equal(t, "contacts", results[0].Service)
	assert.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Report)
	assert.Equal(t, 3, results[0].Report.Stored)

	assert.Equal(t, "calendar", results[1].Service)
	assert.ErrorIs(t, results[1].Err, failure)
	assert.Nil(t, results[1].Report)

	assert.Equal(t, "other", results[2].Service)
	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "boom")
}

func TestRunNoService(t *testing.T) {
	results := RunServices(context.Background())
	assert.Empty(t, results)
}

func TestMailIsAService(t *testing.T) {
	var service Service = NewMail(MailConfig{}, nil, nil, nil)
	assert.Equal(t, MailService, service.Name())
}
