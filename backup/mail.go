// Package backup runs the incremental mail backup and the other services of an account.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/creativeprojects/gbackup/mailbox"
	"github.com/creativeprojects/gbackup/storage/disk"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize = 100
	MailService      = "mail"
)

type MailConfig struct {
	// Account is only used in logs and reports
	Account string
	// BatchSize is the number of uids requested in one UID FETCH
	BatchSize uint32
}

// Mail is the incremental mail backup of one account
type Mail struct {
	cfg   MailConfig
	dial  Dialer
	store *disk.Store
	log   logrus.FieldLogger
}

func NewMail(cfg MailConfig, dial Dialer, store *disk.Store, logger logrus.FieldLogger) *Mail {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = lib.NoLog()
	}
	return &Mail{
		cfg:   cfg,
		dial:  dial,
		store: store,
		log: logger.WithFields(logrus.Fields{
			lib.FieldComponent: MailService,
			lib.FieldAccount:   cfg.Account,
		}),
	}
}

func (m *Mail) Name() string {
	return MailService
}

// Run backs up all the selectable mailboxes, one after the other.
// Only a connection or discovery error (or a cancelled context) stops the run;
// the report is always returned.
func (m *Mail) Run(ctx context.Context) (*Report, error) {
	report := newReport(MailService, m.cfg.Account)
	err := m.run(ctx, report)
	report.finish(err)
	if err != nil {
		m.log.WithError(err).Error("mail backup aborted")
		return report, err
	}
	m.log.WithField(lib.FieldOutcome, lib.OutcomeDone).Infof("mail backup finished: %d stored, %d skipped, %d failed in %s",
		report.Stored, report.Skipped, report.Failed, report.Duration().Truncate(time.Millisecond))
	return report, nil
}

func (m *Mail) run(ctx context.Context, report *Report) error {
	session, err := m.dial(ctx)
	if err != nil {
		if lib.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		return &lib.ConnectionError{Server: m.cfg.Account, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			m.log.WithError(err).Debug("cannot close session")
		}
	}()

	catalog, err := discover(session)
	if err != nil {
		return err
	}
	mailboxes := catalog.Selectable()
	m.log.Infof("found %d mailboxes to backup", len(mailboxes))

	for _, mbox := range mailboxes {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := &fetcher{
			session:   session,
			store:     m.store,
			batchSize: m.cfg.BatchSize,
			mbox:      mbox,
			log:       m.log.WithField(lib.FieldMailbox, mbox.String()),
			report:    &MailboxReport{Mailbox: mbox.String()},
		}
		err := f.run(ctx)
		report.add(f.report)
		if err != nil {
			return err
		}
	}
	return nil
}

// discover lists the mailboxes of the account. Any error is fatal.
func discover(session Session) (*mailbox.Catalog, error) {
	list, err := session.ListMailbox()
	if err != nil {
		if lib.IsFatal(err) {
			return nil, err
		}
		return nil, &lib.DiscoveryError{Err: err}
	}
	catalog, err := mailbox.NewCatalog(list)
	if err != nil {
		return nil, &lib.DiscoveryError{Err: fmt.Errorf("invalid mailbox list: %w", err)}
	}
	return catalog, nil
}
