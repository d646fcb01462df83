package mdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/creativeprojects/gbackup/storage/disk"
	"github.com/emersion/go-maildir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(id int) []byte {
	return []byte("From: contact@example.org\r\n" +
		"To: contact@example.org\r\n" +
		"Subject: A little message, just for you\r\n" +
		"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
		fmt.Sprintf("Message-ID: <%d@localhost>\r\n", id) +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hi there :)")
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "INBOX", FolderName([]string{"INBOX"}))
	assert.Equal(t, "[Gmail].All Mail", FolderName([]string{"[Gmail]", "All Mail"}))
	assert.Equal(t, "Work.v1\\.2", FolderName([]string{"Work", "v1.2"}))
	assert.Equal(t, "Work.a%2Fb", FolderName([]string{"Work", "a/b"}))
}

func TestExport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("maildir is not supported on Windows")
		return
	}
	date := time.Date(2016, 5, 11, 14, 31, 59, 0, time.UTC)
	store, err := disk.New(disk.Config{Root: t.TempDir(), NoSymlink: true})
	require.NoError(t, err)

	put := func(path []string, uid uint32, identity string) {
		_, err := store.WriteIfAbsent(identity, message(int(uid)), date)
		require.NoError(t, err)
		_, err = store.LinkByLabel(path, uid, identity)
		require.NoError(t, err)
	}
	put([]string{"INBOX"}, 1, "a")
	put([]string{"INBOX"}, 2, "b")
	put([]string{"[Gmail]", "All Mail"}, 10, "a")

	exporter, err := New(t.TempDir())
	require.NoError(t, err)

	count, err := exporter.Export(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	inbox := maildir.Dir(filepath.Join(exporter.Root(), "INBOX"))
	keys, err := inbox.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	filename, err := inbox.Filename(keys[0])
	require.NoError(t, err)
	info, err := os.Stat(filename)
	require.NoError(t, err)
	assert.True(t, date.Equal(info.ModTime()))
	flags, err := inbox.Flags(keys[0])
	require.NoError(t, err)
	assert.Equal(t, []maildir.Flag{maildir.FlagSeen}, flags)

	keys, err = maildir.Dir(filepath.Join(exporter.Root(), "[Gmail].All Mail")).Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	// nothing new
	count, err = exporter.Export(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	put([]string{"INBOX"}, 3, "c")
	count, err = exporter.Export(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	keys, err = inbox.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	status, err := exporter.getStatus("INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), status.LastUID)
	assert.Equal(t, 3, status.Messages)
}
