// Package imaptest runs an in-memory IMAP server for the tests
package imaptest

import (
	"bytes"
	"sync"
	"testing"
	"time"

	compress "github.com/emersion/go-imap-compress"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

const (
	Username = "username"
	Password = "password"
)

// Start an IMAP server on a local port. The server is closed at the end of the test.
func Start(t *testing.T) string {
	t.Helper()
	// Create a memory backend
	be := memory.New()

	// Create a new server
	srv := server.New(be)
	// Since we will use this server for testing only, we can allow plain text
	// authentication over non-encrypted connections
	srv.AllowInsecureAuth = true
	srv.Enable(compress.NewExtension())

	listener, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)

	t.Logf("Starting IMAP server at %s", listener.Addr().String())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = srv.Serve(listener)
	}()

	t.Cleanup(func() {
		_ = srv.Close()
		wg.Wait()
	})

	time.Sleep(100 * time.Millisecond)
	return listener.Addr().String()
}

// Append creates the mailbox (if needed) and adds the messages to it
func Append(t *testing.T, addr, name string, date time.Time, messages ...string) {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer func() {
		_ = c.Logout()
	}()

	require.NoError(t, c.Login(Username, Password))
	if name != "INBOX" {
		// an error means the mailbox already exists
		_ = c.Create(name)
	}
	for _, message := range messages {
		require.NoError(t, c.Append(name, nil, date, bytes.NewBufferString(message)))
	}
}
