// Package calendar saves every event of an iCalendar feed to its own .ics file
package calendar

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultURL of the Google calendar feed, the parameter is the account email
	DefaultURL     = "https://www.google.com/calendar/dav/%s/events"
	DefaultTimeout = 5 * time.Minute
	Extension      = ".ics"
	Service        = "calendar"

	defaultProductID = "-//creativeprojects//gbackup//EN"
)

type Config struct {
	// URL of the feed, DefaultURL when empty
	URL      string
	Username string
	Password string
	// Dir is where the .ics files are saved
	Dir        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Result counts the events of a run
type Result struct {
	Stored  int
	Skipped int
	Failed  int
}

type Backup struct {
	url    string
	dir    string
	client webdav.HTTPClient
	log    logrus.FieldLogger
}

func New(cfg Config) (*Backup, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("missing calendar credentials")
	}
	if cfg.Dir == "" {
		return nil, errors.New("missing calendar directory")
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
	if cfg.Logger == nil {
		cfg.Logger = lib.NoLog()
	}
	return &Backup{
		url:    cfg.URL,
		dir:    cfg.Dir,
		client: webdav.HTTPClientWithBasicAuth(cfg.HTTPClient, cfg.Username, cfg.Password),
		log: cfg.Logger.WithFields(logrus.Fields{
			lib.FieldComponent: Service,
			lib.FieldAccount:   cfg.Username,
		}),
	}, nil
}

// Run downloads the feed and saves the events modified since the last run.
// An error on one event is logged and doesn't stop the others.
func (b *Backup) Run(ctx context.Context) (*Result, error) {
	result := &Result{}
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return result, fmt.Errorf("cannot create calendar directory: %w", err)
	}

	calendars, err := b.download(ctx)
	if err != nil {
		return result, err
	}

	for _, cal := range calendars {
		for _, event := range groupEvents(cal) {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			outcome, err := b.save(cal, event)
			log := b.log.WithField(lib.FieldIdentity, event.uid)
			if err != nil {
				result.Failed++
				log.WithError(err).WithField(lib.FieldOutcome, lib.OutcomeFailed).Warn("event skipped")
				continue
			}
			switch outcome {
			case lib.OutcomeStored:
				result.Stored++
				log.WithField(lib.FieldOutcome, outcome).Debugf("saved %q", event.summary())
			case lib.OutcomeSkipped:
				result.Skipped++
				log.WithField(lib.FieldOutcome, outcome).Trace("unchanged")
			}
		}
	}
	b.log.WithField(lib.FieldOutcome, lib.OutcomeDone).Infof("calendar backup finished: %d stored, %d unchanged, %d failed",
		result.Stored, result.Skipped, result.Failed)
	return result, nil
}

func (b *Backup) download(ctx context.Context) ([]*ical.Calendar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", ical.MIMEType)

	b.log.Debugf("downloading %s", b.url)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot download calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("cannot download calendar: %s", resp.Status)
	}

	calendars := make([]*ical.Calendar, 0, 1)
	decoder := ical.NewDecoder(resp.Body)
	for {
		cal, err := decoder.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid calendar: %w", err)
		}
		calendars = append(calendars, cal)
	}
	return calendars, nil
}

// save writes the event file unless the file on disk is at least as recent
func (b *Backup) save(cal *ical.Calendar, event *event) (string, error) {
	if event.uid == "" {
		return "", errors.New("event without UID")
	}
	filename := filepath.Join(b.dir, Filename(event.uid))
	modified := event.modified()

	if info, err := os.Stat(filename); err == nil {
		if modified.IsZero() || !info.ModTime().Before(modified) {
			return lib.OutcomeSkipped, nil
		}
	}

	content, err := encode(cal, event)
	if err != nil {
		return "", err
	}
	// the mtime is only valid once the whole file is written
	err = lib.WriteFileAtomic(filename, content, modified)
	if err != nil {
		return "", &lib.StorageWriteError{Path: filename, Err: err}
	}
	return lib.OutcomeStored, nil
}

// Filename of the event with this UID
func Filename(uid string) string {
	sum := md5.Sum([]byte(uid)) //nolint:gosec
	return hex.EncodeToString(sum[:]) + Extension
}

// encode builds a standalone calendar holding the event and the time zones of the feed
func encode(feed *ical.Calendar, event *event) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	productID, err := feed.Props.Text(ical.PropProductID)
	if err != nil || productID == "" {
		productID = defaultProductID
	}
	cal.Props.SetText(ical.PropProductID, productID)
	for _, child := range feed.Children {
		if child.Name == ical.CompTimezone {
			cal.Children = append(cal.Children, child)
		}
	}
	cal.Children = append(cal.Children, event.components...)

	buffer := &bytes.Buffer{}
	err = ical.NewEncoder(buffer).Encode(cal)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
