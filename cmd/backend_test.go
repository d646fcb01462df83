package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creativeprojects/gbackup/backup"
	"github.com/creativeprojects/gbackup/cfg"
	"github.com/creativeprojects/gbackup/lib"
	"github.com/creativeprojects/gbackup/remote/imaptest"
	"github.com/creativeprojects/gbackup/storage/disk"
	"github.com/creativeprojects/gbackup/storage/history"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sampleMessage = "From: contact@example.org\r\n" +
		"To: contact@example.org\r\n" +
		"Subject: Meeting notes\r\n" +
		"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
		"Message-ID: <0000002@localhost>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hi there :)"

	sampleFeed = "BEGIN:VCALENDAR\r\n" +
		"PRODID:-//Google Inc//Google Calendar 70.9054//EN\r\n" +
		"VERSION:2.0\r\n" +
		"BEGIN:VEVENT\r\n" +
		"DTSTART:20221010T090000Z\r\n" +
		"DTSTAMP:20221001T080000Z\r\n" +
		"UID:first-event@google.com\r\n" +
		"SUMMARY:Team meeting\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
)

// nothing listens on this port
const closedAddress = "127.0.0.1:1"

func setConfig(t *testing.T, content string) {
	t.Helper()
	loaded, err := cfg.Load(strings.NewReader(content))
	require.NoError(t, err)
	previous := config
	config = loaded
	t.Cleanup(func() {
		config = previous
	})
}

func calendarServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != imaptest.Username || pass != imaptest.Password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLoadDefaultAccountFromEnvironment(t *testing.T) {
	setConfig(t, "")
	root := t.TempDir()
	t.Setenv(cfg.EnvUsername, "user@gmail.com")
	t.Setenv(cfg.EnvPassword, "secret")
	t.Setenv(cfg.EnvFilepath, root)
	t.Setenv(cfg.EnvServices, "mail,calendar")

	account, err := loadAccount("")
	require.NoError(t, err)
	assert.Equal(t, "user@gmail.com", account.Username)
	assert.Equal(t, root, account.Root)
	assert.Equal(t, cfg.DefaultServerURL, account.ServerURL)
	assert.Equal(t, []string{cfg.ServiceMail, cfg.ServiceCalendar}, account.Services)

	services, err := newServices(account, lib.NewTestLogger(t, "cmd"))
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, backup.MailService, services[0].Name())
	assert.Equal(t, cfg.ServiceCalendar, services[1].Name())
}

func TestLoadUnknownAccount(t *testing.T) {
	setConfig(t, "")
	_, err := loadAccount("nobody")
	assert.Error(t, err)
}

func TestLoadInvalidAccount(t *testing.T) {
	setConfig(t, "accounts:\n  gmail:\n    username: user@gmail.com\n")
	t.Setenv(cfg.EnvPassword, "")
	_, err := loadAccount("gmail")
	assert.Error(t, err)
}

func TestImapConfig(t *testing.T) {
	account := &cfg.Account{
		ServerURL:      "imap.example.com:993",
		Username:       "user",
		Password:       "pass",
		Compress:       true,
		BandwidthLimit: 100,
		DialTimeout:    time.Second,
	}
	remoteConfig := imapConfig(account, nil)
	assert.Equal(t, "imap.example.com:993", remoteConfig.ServerURL)
	assert.True(t, remoteConfig.Compress)
	assert.Equal(t, float64(100*1024), remoteConfig.BandwidthLimit)
	assert.Equal(t, time.Second, remoteConfig.DialTimeout)
}

func TestBackupAccount(t *testing.T) {
	addr := imaptest.Start(t)
	imaptest.Append(t, addr, "Work", time.Now(), sampleMessage)
	server := calendarServer(t)

	account := &cfg.Account{
		Username:    imaptest.Username,
		Password:    imaptest.Password,
		Root:        t.TempDir(),
		Services:    []string{cfg.ServiceMail, cfg.ServiceCalendar},
		ServerURL:   addr,
		NoTLS:       true,
		CalendarURL: server.URL,
	}
	require.NoError(t, account.Validate())
	log := lib.NewTestLogger(t, "backup")

	results, err := backupAccount(context.Background(), account, log)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		require.NoError(t, result.Err)
		require.NotNil(t, result.Report)
	}
	// the server starts with one message in INBOX
	assert.Equal(t, 2, results[0].Report.Stored)
	assert.Equal(t, 1, results[1].Report.Stored)
	assert.NoError(t, resultsError(results))

	entries, err := os.ReadDir(filepath.Join(account.Root, mailDir, disk.ByID))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	entries, err = os.ReadDir(filepath.Join(account.Root, calendarDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// second run: nothing new
	results, err = backupAccount(context.Background(), account, log)
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Report.Stored)
	assert.Equal(t, 1, results[1].Report.Skipped)

	store, err := history.NewBoltStore(historyFile(account))
	require.NoError(t, err)
	defer store.Close()
	reports, err := store.List(account.Username, 0)
	require.NoError(t, err)
	assert.Len(t, reports, 4)
}

func TestBackupAccountServiceFailure(t *testing.T) {
	server := calendarServer(t)
	account := &cfg.Account{
		Username:    imaptest.Username,
		Password:    imaptest.Password,
		Root:        t.TempDir(),
		Services:    []string{cfg.ServiceMail, cfg.ServiceCalendar},
		ServerURL:   closedAddress,
		NoTLS:       true,
		DialTimeout: time.Second,
		CalendarURL: server.URL,
	}
	require.NoError(t, account.Validate())

	results, err := backupAccount(context.Background(), account, lib.NewTestLogger(t, "backup"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	var connErr *lib.ConnectionError
	assert.ErrorAs(t, results[0].Err, &connErr)
	// the calendar doesn't depend on the mail
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Report.Stored)

	err = resultsError(results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), backup.MailService)
}

func TestReportTable(t *testing.T) {
	start := time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC)
	rows := reportTable([]backup.ServiceResult{
		{Service: "mail", Report: &backup.Report{Start: start, End: start.Add(time.Second), Stored: 3, Skipped: 2, Failed: 1}},
		{Service: "contacts", Err: errors.New("401 Unauthorized")},
	})
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"mail", "3", "2", "1", "0", "1s", ""}, rows[1])
	assert.Equal(t, []string{"contacts", "", "", "", "", "", "401 Unauthorized"}, rows[2])
}

func TestResultsError(t *testing.T) {
	assert.NoError(t, resultsError(nil))
	assert.EqualError(t, resultsError([]backup.ServiceResult{{Service: "mail", Err: errors.New("down")}}), "backup failed")
}

func TestProgresser(t *testing.T) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.TraceLevel)
	progress := newProgresser(nil)
	log.AddHook(progress)

	log.WithFields(logrus.Fields{lib.FieldUID: 1, lib.FieldOutcome: lib.OutcomeStored}).Debug("stored")
	log.WithFields(logrus.Fields{lib.FieldIdentity: "abc", lib.FieldOutcome: lib.OutcomeSkipped}).Trace("unchanged")
	log.WithFields(logrus.Fields{lib.FieldUID: 2, lib.FieldOutcome: lib.OutcomeFailed}).Warn("message skipped")
	// not a message
	log.WithFields(logrus.Fields{lib.FieldMailbox: "INBOX", lib.FieldOutcome: lib.OutcomeSkipped}).Warn("window skipped")
	log.WithField(lib.FieldOutcome, lib.OutcomeDone).Info("done")

	assert.Equal(t, 1, progress.Count(lib.OutcomeStored))
	assert.Equal(t, 1, progress.Count(lib.OutcomeSkipped))
	assert.Equal(t, 1, progress.Count(lib.OutcomeFailed))
	assert.Equal(t, "1 stored, 1 skipped, 1 failed", progress.text())
	progress.Stop()
}

func TestFindDuplicates(t *testing.T) {
	store, err := disk.New(disk.Config{Root: t.TempDir()})
	require.NoError(t, err)

	date := time.Date(2022, 10, 1, 12, 0, 0, 0, time.UTC)
	for _, identity := range []string{"first", "second"} {
		_, err = store.WriteIfAbsent(identity, []byte(sampleMessage), date)
		require.NoError(t, err)
	}
	_, err = store.LinkByLabel([]string{"INBOX"}, 1, "first")
	require.NoError(t, err)
	_, err = store.LinkByLabel([]string{"INBOX"}, 2, "second")
	require.NoError(t, err)
	_, err = store.LinkByLabel([]string{"Work", "Projects"}, 10, "first")
	require.NoError(t, err)

	labels, err := store.Labels()
	require.NoError(t, err)
	visited := 0
	mailboxes, err := findDuplicates(store, labels, func() { visited++ })
	require.NoError(t, err)
	assert.Equal(t, len(labels), visited)
	assert.ElementsMatch(t, []string{"INBOX", "Work/Projects"}, mailboxes["first"])
	assert.Equal(t, []string{"INBOX"}, mailboxes["second"])
}
