package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/gbackup/backup"
	"github.com/creativeprojects/gbackup/calendar"
	"github.com/creativeprojects/gbackup/cfg"
	"github.com/creativeprojects/gbackup/contacts"
	"github.com/creativeprojects/gbackup/remote"
	"github.com/creativeprojects/gbackup/storage/disk"
	"github.com/sirupsen/logrus"
)

const (
	mailDir     = "mail"
	calendarDir = "calendar"
	contactsDir = "contacts"
)

// loadAccount returns the account ready to use: environment overrides,
// password from the keyring and default values applied
func loadAccount(name string) (*cfg.Account, error) {
	account, err := config.Account(name, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if account.Keyring && account.Password == "" {
		ring, err := cfg.OpenKeyring()
		if err != nil {
			return nil, err
		}
		if err := account.LoadPassword(ring); err != nil {
			return nil, err
		}
	}
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("invalid account %q: %w", accountName(name), err)
	}
	return account, nil
}

func accountName(name string) string {
	if name == "" {
		return cfg.DefaultAccount
	}
	return name
}

func imapConfig(account *cfg.Account, log logrus.FieldLogger) remote.Config {
	return remote.Config{
		ServerURL:           account.ServerURL,
		Username:            account.Username,
		Password:            account.Password,
		NoTLS:               account.NoTLS,
		StartTLS:            account.StartTLS,
		SkipTLSVerification: account.SkipTLSVerification,
		Compress:            account.Compress,
		BandwidthLimit:      float64(account.BandwidthLimit) * 1024,
		DialTimeout:         account.DialTimeout,
		CommandTimeout:      account.CommandTimeout,
		Logger:              log,
	}
}

func openMailStore(account *cfg.Account, log logrus.FieldLogger) (*disk.Store, error) {
	return disk.New(disk.Config{
		Root:      filepath.Join(account.Root, mailDir),
		NoSymlink: account.NoSymlink,
		Logger:    log,
	})
}

func newMailService(account *cfg.Account, log logrus.FieldLogger) (backup.Service, error) {
	store, err := openMailStore(account, log)
	if err != nil {
		return nil, err
	}
	return backup.NewMail(backup.MailConfig{
		Account:   account.Username,
		BatchSize: account.BatchSize,
	}, backup.ImapDialer(imapConfig(account, log)), store, log), nil
}

func newCalendarService(account *cfg.Account, log logrus.FieldLogger) (backup.Service, error) {
	cal, err := calendar.New(calendar.Config{
		URL:      account.CalendarURL,
		Username: account.Username,
		Password: account.Password,
		Dir:      filepath.Join(account.Root, calendarDir),
		Timeout:  account.CommandTimeout,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return backup.NewService(calendar.Service, func(ctx context.Context) (*backup.Report, error) {
		report := &backup.Report{Service: calendar.Service, Account: account.Username, Start: time.Now()}
		result, err := cal.Run(ctx)
		return finishReport(report, result.Stored, result.Skipped, result.Failed, err)
	}), nil
}

func newContactsService(account *cfg.Account, log logrus.FieldLogger) (backup.Service, error) {
	book, err := contacts.New(contacts.Config{
		URL:      account.ContactsURL,
		Username: account.Username,
		Password: account.Password,
		Dir:      filepath.Join(account.Root, contactsDir),
		Timeout:  account.CommandTimeout,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return backup.NewService(contacts.Service, func(ctx context.Context) (*backup.Report, error) {
		report := &backup.Report{Service: contacts.Service, Account: account.Username, Start: time.Now()}
		result, err := book.Run(ctx)
		return finishReport(report, result.Stored, result.Skipped, result.Failed, err)
	}), nil
}

// newServices returns the services enabled on the account
func newServices(account *cfg.Account, log logrus.FieldLogger) ([]backup.Service, error) {
	factories := []struct {
		name   string
		create func(*cfg.Account, logrus.FieldLogger) (backup.Service, error)
	}{
		{cfg.ServiceMail, newMailService},
		{cfg.ServiceCalendar, newCalendarService},
		{cfg.ServiceContacts, newContactsService},
	}
	services := make([]backup.Service, 0, len(factories))
	for _, factory := range factories {
		if !account.HasService(factory.name) {
			continue
		}
		service, err := factory.create(account, log)
		if err != nil {
			return nil, fmt.Errorf("cannot start %s backup: %w", factory.name, err)
		}
		services = append(services, service)
	}
	return services, nil
}

func finishReport(report *backup.Report, stored, skipped, failed int, err error) (*backup.Report, error) {
	report.End = time.Now()
	report.Stored = stored
	report.Skipped = skipped
	report.Failed = failed
	if err != nil {
		report.Error = err.Error()
	}
	return report, err
}
