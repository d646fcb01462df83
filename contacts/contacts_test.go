package contacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav/carddav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	principalErr error
	books        map[string][]carddav.AddressObject
	bookErr      map[string]error
}

func (d *fakeDirectory) FindCurrentUserPrincipal(ctx context.Context) (string, error) {
	if d.principalErr != nil {
		return "", d.principalErr
	}
	return "/principals/user/", nil
}

func (d *fakeDirectory) FindAddressBookHomeSet(ctx context.Context, principal string) (string, error) {
	return principal + "books/", nil
}

func (d *fakeDirectory) FindAddressBooks(ctx context.Context, homeSet string) ([]carddav.AddressBook, error) {
	books := make([]carddav.AddressBook, 0, len(d.books)+len(d.bookErr))
	for name := range d.books {
		books = append(books, carddav.AddressBook{Path: homeSet + name + "/", Name: name})
	}
	for name := range d.bookErr {
		books = append(books, carddav.AddressBook{Path: homeSet + name + "/", Name: name})
	}
	return books, nil
}

func (d *fakeDirectory) QueryAddressBook(ctx context.Context, path string, query *carddav.AddressBookQuery) ([]carddav.AddressObject, error) {
	name := filepath.Base(path)
	if err, ok := d.bookErr[name]; ok {
		return nil, err
	}
	return d.books[name], nil
}

func card(fields map[string]string) vcard.Card {
	c := make(vcard.Card)
	c.SetValue(vcard.FieldVersion, "3.0")
	for field, value := range fields {
		c.SetValue(field, value)
	}
	return c
}

func newTestBackup(t *testing.T, directory Directory) *Backup {
	t.Helper()
	backup, err := NewWithDirectory(Config{
		Username: "user@example.com",
		Dir:      filepath.Join(t.TempDir(), "contacts"),
		Logger:   lib.NewTestLogger(t, "contacts"),
	}, directory)
	require.NoError(t, err)
	return backup
}

func TestFilename(t *testing.T) {
	testCases := []struct{ path, filename string }{
		{"/principals/user/books/default/1a2b3c", "1a2b3c.vcf"},
		{"/principals/user/books/default/1a2b3c.vcf", "1a2b3c.vcf"},
		{"/principals/user/books/default/1a2b3c/", "1a2b3c.vcf"},
		{"/principals/user/books/default/a\\b", "a%5Cb.vcf"},
		{"", ""},
		{"/", ""},
	}
	for _, testCase := range testCases {
		t.Run(testCase.path, func(t *testing.T) {
			assert.Equal(t, testCase.filename, Filename(testCase.path))
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Jane Doe", DisplayName(card(map[string]string{vcard.FieldFormattedName: "Jane Doe", vcard.FieldOrganization: "ACME"})))
	assert.Equal(t, "ACME", DisplayName(card(map[string]string{vcard.FieldOrganization: "ACME"})))
	assert.Equal(t, "Doe;Jane", DisplayName(card(map[string]string{vcard.FieldName: "Doe;Jane;;;"})))
	assert.Equal(t, "jane@example.com", DisplayName(card(map[string]string{vcard.FieldEmail: "jane@example.com"})))
	assert.Equal(t, MissingName, DisplayName(card(nil)))
}

func TestModificationTime(t *testing.T) {
	date := time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, date.Equal(modificationTime(carddav.AddressObject{ModTime: date})))
	assert.True(t, date.Equal(modificationTime(carddav.AddressObject{ETag: `"2022-10-01T12:00:00Z"`})))
	assert.True(t, date.Equal(modificationTime(carddav.AddressObject{ETag: `"1664625600000"`})))
	assert.True(t, modificationTime(carddav.AddressObject{ETag: `"abcdef"`}).IsZero())
	assert.True(t, modificationTime(carddav.AddressObject{}).IsZero())
}

func TestBackupContacts(t *testing.T) {
	modified := time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC)
	directory := &fakeDirectory{
		books: map[string][]carddav.AddressObject{
			"default": {
				{Path: "/principals/user/books/default/jane", ModTime: modified, Card: card(map[string]string{vcard.FieldFormattedName: "Jane Doe"})},
				{Path: "/principals/user/books/default/acme", ETag: `"2022-10-02T12:00:00Z"`, Card: card(map[string]string{vcard.FieldOrganization: "ACME"})},
				{Path: "/principals/user/books/default/empty", ModTime: modified},
			},
		},
		bookErr: map[string]error{
			"broken": errors.New("403 Forbidden"),
		},
	}
	backup := newTestBackup(t, directory)

	result, err := backup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stored)
	// the empty card and the broken address book
	assert.Equal(t, 2, result.Failed)

	filename := filepath.Join(backup.dir, "jane.vcf")
	file, err := os.Open(filename)
	require.NoError(t, err)
	saved, err := vcard.NewDecoder(file).Decode()
	_ = file.Close()
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", saved.PreferredValue(vcard.FieldFormattedName))

	info, err := os.Stat(filename)
	require.NoError(t, err)
	assert.True(t, modified.Equal(info.ModTime()))

	// nothing changed
	result, err = backup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stored)
	assert.Equal(t, 2, result.Skipped)

	// jane was updated
	directory.books["default"][0].ModTime = modified.Add(time.Hour)
	directory.books["default"][0].Card.SetValue(vcard.FieldFormattedName, "Jane Smith")
	result, err = backup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, result.Skipped)

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Jane Smith")
}

func TestBackupContactsDiscoveryFailure(t *testing.T) {
	backup := newTestBackup(t, &fakeDirectory{principalErr: errors.New("401 Unauthorized")})
	_, err := backup.Run(context.Background())
	assert.Error(t, err)
}

func TestMissingConfig(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir()})
	assert.Error(t, err)
	_, err = NewWithDirectory(Config{}, &fakeDirectory{})
	assert.Error(t, err)
	_, err = NewWithDirectory(Config{Dir: t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestFailedWriteLeavesNoPartialFile(t *testing.T) {
	modified := time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC)
	directory := &fakeDirectory{
		books: map[string][]carddav.AddressObject{
			"default": {
				{Path: "/principals/user/books/default/jane", ModTime: modified, Card: card(map[string]string{vcard.FieldFormattedName: "Jane Doe"})},
			},
		},
	}
	backup := newTestBackup(t, directory)
	filename := filepath.Join(backup.dir, "jane.vcf")
	// the contact file cannot replace a directory
	require.NoError(t, os.MkdirAll(filepath.Join(filename, "keep"), 0700))
	old := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filename, old, old))

	result, err := backup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	entries, err := os.ReadDir(backup.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "jane.vcf", entries[0].Name())
	assert.True(t, entries[0].IsDir())

	require.NoError(t, os.RemoveAll(filename))
	result, err = backup.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)
	info, err := os.Stat(filename)
	require.NoError(t, err)
	assert.True(t, modified.Equal(info.ModTime()))
}
