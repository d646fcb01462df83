package limitio_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"testing"
	"time"

	"github.com/creativeprojects/gbackup/limitio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const burst = 1024 // 1KB of burst

func getRates() []float64 {
	return []float64{
		500 * 1024,  // 500KB/sec
		1024 * 1024, // 1MB/sec
	}
}

func getSource() []byte {
	return bytes.Repeat([]byte{10}, 256*1024) // 256KB
}

func TestRead(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	for _, limit := range getRates() {
		limit := limit
		t.Run(fmt.Sprintf("Read at %s/sec", iBytes(uint64(limit))), func(t *testing.T) {
			t.Parallel()
			sio := limitio.NewReader(bytes.NewReader(getSource()))
			sio.SetRateLimit(limit, burst)
			start := time.Now()
			n, err := io.Copy(io.Discard, sio)
			elapsed := time.Since(start)
			require.NoError(t, err)
			assertRate(t, n, elapsed, limit)
		})
	}
}

func TestWrite(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	for _, limit := range getRates() {
		limit := limit
		t.Run(fmt.Sprintf("Write at %s/sec", iBytes(uint64(limit))), func(t *testing.T) {
			t.Parallel()
			sio := limitio.NewWriter(io.Discard)
			sio.SetRateLimit(limit, burst)
			start := time.Now()
			n, err := io.Copy(sio, bytes.NewReader(getSource()))
			elapsed := time.Since(start)
			require.NoError(t, err)
			assertRate(t, n, elapsed, limit)
		})
	}
}

func TestNoLimit(t *testing.T) {
	sio := limitio.NewReader(bytes.NewReader(getSource()))
	sio.SetRateLimit(0, 0)
	n, err := io.Copy(io.Discard, sio)
	require.NoError(t, err)
	assert.Equal(t, int64(256*1024), n)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sio := limitio.NewWriter(io.Discard).WithContext(ctx)
	sio.SetRateLimit(1024, burst)
	_, err := sio.Write(make([]byte, 10))
	assert.Error(t, err)
}

func TestConnWithoutLimit(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	assert.Equal(t, client, limitio.NewConn(client, 0))
}

func TestConn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}
	client, server := net.Pipe()
	defer server.Close()

	const limit = 256 * 1024
	conn := limitio.NewConn(client, limit)
	defer conn.Close()

	go func() {
		_, _ = server.Write(getSource())
		_ = server.Close()
	}()

	start := time.Now()
	n, err := io.Copy(io.Discard, conn)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, int64(256*1024), n)
	// the first burst is free
	assert.Greater(t, elapsed, 800*time.Millisecond)
}

func assertRate(t *testing.T, n int64, elapsed time.Duration, limit float64) {
	t.Helper()
	realRate := float64(n) / elapsed.Seconds()
	percent := realRate / limit * 100
	assert.InDelta(t, 100, percent, 3) // 3% error margin
	t.Logf(
		"transferred %s / %s: Real %s/sec Limit %s/sec. (%.2f %%)",
		iBytes(uint64(n)),
		elapsed,
		iBytes(uint64(realRate)),
		iBytes(uint64(limit)),
		percent,
	)
}

func iBytes(s uint64) string {
	var base float64 = 1024
	sizes := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

	if s < 10 {
		return fmt.Sprintf("%d B", s)
	}
	e := math.Floor(logn(float64(s), base))
	suffix := sizes[int(e)]
	val := math.Floor(float64(s)/math.Pow(base, e)*10+0.5) / 10
	f := "%.0f %s"
	if val < 10 {
		f = "%.1f %s"
	}

	return fmt.Sprintf(f, val, suffix)
}

func logn(n, b float64) float64 {
	return math.Log(n) / math.Log(b)
}
