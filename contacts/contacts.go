// Package contacts saves the vCards of all the CardDAV address books of an account
package contacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"
	"github.com/sirupsen/logrus"
)

const (
	DefaultURL     = "https://www.googleapis.com/carddav/v1/principals/%s/lists/default/"
	DefaultTimeout = 5 * time.Minute
	Extension      = ".vcf"
	Service        = "contacts"
	MissingName    = "(Missing Name)"
)

// Directory is the part of the CardDAV client used for the backup
type Directory interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindAddressBookHomeSet(ctx context.Context, principal string) (string, error)
	FindAddressBooks(ctx context.Context, addressBookHomeSet string) ([]carddav.AddressBook, error)
	QueryAddressBook(ctx context.Context, addressBook string, query *carddav.AddressBookQuery) ([]carddav.AddressObject, error)
}

type Config struct {
	// URL of the CardDAV server, DefaultURL when empty
	URL      string
	Username string
	Password string
	// Dir is where the .vcf files are saved
	Dir        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Result counts the contacts of a run
type Result struct {
	Stored  int
	Skipped int
	Failed  int
}

type Backup struct {
	dir       string
	directory Directory
	log       logrus.FieldLogger
}

// New connects to a CardDAV server
func New(cfg Config) (*Backup, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("missing contacts credentials")
	}
	if cfg.URL == "" {
		cfg.URL = fmt.Sprintf(DefaultURL, cfg.Username)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := carddav.NewClient(webdav.HTTPClientWithBasicAuth(cfg.HTTPClient, cfg.Username, cfg.Password), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid CardDAV server: %w", err)
	}
	return NewWithDirectory(cfg, client)
}

// NewWithDirectory uses any CardDAV client
func NewWithDirectory(cfg Config, directory Directory) (*Backup, error) {
	if cfg.Dir == "" {
		return nil, errors.New("missing contacts directory")
	}
	if directory == nil {
		return nil, errors.New("missing CardDAV client")
	}
	if cfg.Logger == nil {
		cfg.Logger = lib.NoLog()
	}
	return &Backup{
		dir:       cfg.Dir,
		directory: directory,
		log: cfg.Logger.WithFields(logrus.Fields{
			lib.FieldComponent: Service,
			lib.FieldAccount:   cfg.Username,
		}),
	}, nil
}

// Run saves the contacts modified since the last run.
// An error on one contact (or one address book) is logged and doesn't stop the others.
func (b *Backup) Run(ctx context.Context) (*Result, error) {
	result := &Result{}
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return result, fmt.Errorf("cannot create contacts directory: %w", err)
	}

	books, err := b.addressBooks(ctx)
	if err != nil {
		return result, err
	}

	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
	}
	for _, book := range books {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		log := b.log.WithField(lib.FieldMailbox, book.Path)
		objects, err := b.directory.QueryAddressBook(ctx, book.Path, query)
		if err != nil {
			result.Failed++
			log.WithError(err).WithField(lib.FieldOutcome, lib.OutcomeAbandoned).Error("cannot load address book")
			continue
		}
		log.Debugf("%d contacts in address book %q", len(objects), book.Name)
		for _, object := range objects {
			outcome, err := b.save(object)
			entry := log.WithField(lib.FieldIdentity, object.Path)
			if err != nil {
				result.Failed++
				entry.WithError(err).WithField(lib.FieldOutcome, lib.OutcomeFailed).Warn("contact skipped")
				continue
			}
			switch outcome {
			case lib.OutcomeStored:
				result.Stored++
				entry.WithField(lib.FieldOutcome, outcome).Debugf("saved %q", DisplayName(object.Card))
			case lib.OutcomeSkipped:
				result.Skipped++
				entry.WithField(lib.FieldOutcome, outcome).Trace("unchanged")
			}
		}
	}
	b.log.WithField(lib.FieldOutcome, lib.OutcomeDone).Infof("contacts backup finished: %d stored, %d unchanged, %d failed",
		result.Stored, result.Skipped, result.Failed)
	return result, nil
}

func (b *Backup) addressBooks(ctx context.Context) ([]carddav.AddressBook, error) {
	principal, err := b.directory.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot find current user: %w", err)
	}
	homeSet, err := b.directory.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("cannot find address books of %q: %w", principal, err)
	}
	books, err := b.directory.FindAddressBooks(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("cannot list address books: %w", err)
	}
	return books, nil
}

// save writes the vCard unless the file on disk is at least as recent
func (b *Backup) save(object carddav.AddressObject) (string, error) {
	name := Filename(object.Path)
	if name == "" {
		return "", fmt.Errorf("invalid contact path %q", object.Path)
	}
	if object.Card == nil {
		return "", errors.New("empty vCard")
	}
	filename := filepath.Join(b.dir, name)
	modified := modificationTime(object)

	if info, err := os.Stat(filename); err == nil {
		if modified.IsZero() || !info.ModTime().Before(modified) {
			return lib.OutcomeSkipped, nil
		}
	}

	buffer := &bytes.Buffer{}
	if err := vcard.NewEncoder(buffer).Encode(object.Card); err != nil {
		return "", fmt.Errorf("invalid vCard: %w", err)
	}
	// the mtime is only valid once the whole file is written
	if err := lib.WriteFileAtomic(filename, buffer.Bytes(), modified); err != nil {
		return "", &lib.StorageWriteError{Path: filename, Err: err}
	}
	return lib.OutcomeStored, nil
}

// Filename is the last segment of the contact path, with a .vcf extension
func Filename(objectPath string) string {
	base := path.Base(strings.TrimSuffix(objectPath, "/"))
	if base == "." || base == "/" || base == "" {
		return ""
	}
	return lib.SafeName(strings.TrimSuffix(base, Extension)) + Extension
}

// DisplayName returns the first non-empty of FN, ORG, N and EMAIL
func DisplayName(card vcard.Card) string {
	for _, field := range []string{vcard.FieldFormattedName, vcard.FieldOrganization, vcard.FieldName, vcard.FieldEmail} {
		value := strings.Trim(card.PreferredValue(field), "; ")
		if value != "" {
			return value
		}
	}
	return MissingName
}

// modificationTime is the last modification reported by the server.
// Some servers only send a date in the ETag.
func modificationTime(object carddav.AddressObject) time.Time {
	if !object.ModTime.IsZero() {
		return object.ModTime
	}
	etag := object.ETag
	if unquoted, err := strconv.Unquote(etag); err == nil {
		etag = unquoted
	}
	if etag == "" {
		return time.Time{}
	}
	if date, err := time.Parse(time.RFC3339Nano, etag); err == nil {
		return date
	}
	if millis, err := strconv.ParseInt(etag, 10, 64); err == nil && millis > 0 {
		return time.UnixMilli(millis)
	}
	return time.Time{}
}
