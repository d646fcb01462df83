package remote

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/creativeprojects/gbackup/mailbox"
	"github.com/creativeprojects/gbackup/remote/imaptest"
	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage(id int) string {
	return "From: contact@example.org\r\n" +
		"To: contact@example.org\r\n" +
		"Subject: A little message, just for you\r\n" +
		"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
		fmt.Sprintf("Message-ID: <%d@localhost>\r\n", id) +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hi there :)"
}

func newTestImap(t *testing.T, addr string, compress bool) *Imap {
	t.Helper()
	backend, err := NewImap(Config{
		ServerURL: addr,
		Username:  imaptest.Username,
		Password:  imaptest.Password,
		NoTLS:     true,
		Compress:  compress,
		Logger:    lib.NewTestLogger(t, "client"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = backend.Close()
	})
	return backend
}

func TestMissingConfig(t *testing.T) {
	_, err := NewImap(Config{ServerURL: "localhost:143"})
	assert.Error(t, err)
}

func TestConnectionRefused(t *testing.T) {
	_, err := NewImap(Config{
		ServerURL:   "127.0.0.1:1",
		Username:    "user",
		Password:    "pass",
		NoTLS:       true,
		DialTimeout: time.Second,
	})
	var connErr *lib.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestAuthenticationFailure(t *testing.T) {
	addr := imaptest.Start(t)
	_, err := NewImap(Config{
		ServerURL: addr,
		Username:  imaptest.Username,
		Password:  "wrong",
		NoTLS:     true,
	})
	var connErr *lib.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, addr, connErr.Server)
}

func TestImapSession(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			addr := imaptest.Start(t)
			imaptest.Append(t, addr, "Inbox/Work", time.Date(2020, 10, 20, 12, 11, 0, 0, time.UTC),
				sampleMessage(1), sampleMessage(2), sampleMessage(3))

			backend := newTestImap(t, addr, compress)
			assert.False(t, backend.SupportGmail())

			list, err := backend.ListMailbox()
			require.NoError(t, err)

			catalog, err := mailbox.NewCatalog(list)
			require.NoError(t, err)

			inbox := catalog.Find("INBOX")
			require.NotNil(t, inbox)
			work := catalog.Find("Inbox", "Work")
			require.NotNil(t, work)
			assert.True(t, work.Selectable)

			status, err := backend.ExamineMailbox(work)
			require.NoError(t, err)
			assert.Equal(t, uint32(3), status.Messages)
			assert.Greater(t, status.NewestUID, uint32(0))

			received := fetchAll(t, backend, 1, status.NewestUID)
			require.Len(t, received, 3)
			for _, raw := range received {
				assert.NotEmpty(t, raw.Body)
				assert.LessOrEqual(t, raw.Uid, status.NewestUID)
				assert.Empty(t, raw.GmailMessageID)
			}

			// window beyond the newest message
			received = fetchAll(t, backend, status.NewestUID+1, status.NewestUID+100)
			assert.Empty(t, received)

			require.NoError(t, backend.UnselectMailbox())
		})
	}
}

func TestFetchNeedsSelectedMailbox(t *testing.T) {
	addr := imaptest.Start(t)
	backend := newTestImap(t, addr, false)

	messages := make(chan *mailbox.RawMessage, 1)
	err := backend.FetchWindow(context.Background(), 1, 100, messages)
	assert.ErrorIs(t, err, lib.ErrNotSelected)
	_, open := <-messages
	assert.False(t, open)
}

func TestExamineMissingMailbox(t *testing.T) {
	addr := imaptest.Start(t)
	backend := newTestImap(t, addr, false)

	_, err := backend.ExamineMailbox(&mailbox.Mailbox{Name: "No mailbox at that name", Path: []string{"No mailbox at that name"}})
	require.Error(t, err)
	assert.False(t, lib.IsFatal(err))
}

func TestSessionClosed(t *testing.T) {
	addr := imaptest.Start(t)
	backend := newTestImap(t, addr, false)

	list, err := backend.ListMailbox()
	require.NoError(t, err)
	catalog, err := mailbox.NewCatalog(list)
	require.NoError(t, err)

	require.NoError(t, backend.client.Logout())
	_, err = backend.ExamineMailbox(catalog.Find("INBOX"))
	var connErr *lib.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestAttributeString(t *testing.T) {
	assert.Equal(t, "", attributeString(nil))
	assert.Equal(t, "1278455344230334865", attributeString("1278455344230334865"))
	assert.Equal(t, "1278455344230334865", attributeString(imap.RawString("1278455344230334865")))
	assert.Equal(t, "42", attributeString(uint32(42)))
	assert.Equal(t, "1278455344230334865", attributeString(uint64(1278455344230334865)))
}

func fetchAll(t *testing.T, backend *Imap, from, to uint32) []*mailbox.RawMessage {
	t.Helper()
	messages := make(chan *mailbox.RawMessage, 10)
	done := make(chan error, 1)
	go func() {
		done <- backend.FetchWindow(context.Background(), from, to, messages)
	}()
	received := make([]*mailbox.RawMessage, 0)
	for raw := range messages {
		received = append(received, raw)
	}
	require.NoError(t, <-done)
	return received
}
