package backup

import (
	"context"
	"errors"
	"math"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/creativeprojects/gbackup/mailbox"
	"github.com/creativeprojects/gbackup/storage/disk"
	"github.com/sirupsen/logrus"
)

// fetcher backs up one mailbox in windows of uids
type fetcher struct {
	session   Session
	store     *disk.Store
	batchSize uint32
	mbox      *mailbox.Mailbox
	log       logrus.FieldLogger
	report    *MailboxReport
}

// run returns an error only when the whole backup must stop
func (f *fetcher) run(ctx context.Context) error {
	cursor, err := f.store.Watermark(f.mbox.Path)
	if err != nil {
		f.abandon(err)
		return nil
	}
	f.report.Start = cursor
	f.report.Cursor = cursor

	status, err := f.session.ExamineMailbox(f.mbox)
	if err != nil {
		if lib.IsFatal(err) {
			return err
		}
		f.abandon(&lib.MailboxOpenError{Mailbox: f.mbox.Name, Err: err})
		return nil
	}
	newest := status.NewestUID
	f.report.Newest = newest
	f.log.Debugf("mailbox opened: %d messages, newest uid %d, resuming after uid %d", status.Messages, newest, cursor)

	err = f.fetch(ctx, cursor, newest)
	if err != nil {
		return err
	}

	err = f.session.UnselectMailbox()
	if err != nil {
		if lib.IsFatal(err) {
			return err
		}
		f.log.WithError(err).Warn("cannot close mailbox")
	}
	f.log.WithField(lib.FieldOutcome, lib.OutcomeDone).Infof("%d stored, %d skipped, %d failed",
		f.report.Stored, f.report.Skipped, f.report.Failed)
	return nil
}

// fetch loops over the windows [cursor+1, cursor+batchSize] up to the newest uid
func (f *fetcher) fetch(ctx context.Context, cursor, newest uint32) error {
	for cursor < newest {
		if err := ctx.Err(); err != nil {
			return err
		}
		from := cursor + 1
		to := from + f.batchSize - 1
		if to < from {
			// overflow
			to = math.MaxUint32
		}

		highest, err := f.window(ctx, from, to)
		f.report.Windows++
		if err != nil {
			if lib.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			f.report.FailedWindows++
			f.log.WithError(&lib.MessageFetchError{Mailbox: f.mbox.Name, From: from, To: to, Err: err}).
				WithField(lib.FieldOutcome, lib.OutcomeSkipped).Warn("window skipped")
		}

		cursor = to
		if highest > cursor {
			cursor = highest
		}
		f.report.Cursor = cursor
		if cursor == math.MaxUint32 {
			break
		}
	}
	return nil
}

// window processes all the messages of the uid range and returns the highest uid received
func (f *fetcher) window(ctx context.Context, from, to uint32) (uint32, error) {
	f.log.Debugf("fetching uid %d:%d", from, to)
	messages := make(chan *mailbox.RawMessage, 10)
	done := make(chan error, 1)
	go func() {
		done <- f.session.FetchWindow(ctx, from, to, messages)
	}()

	var highest uint32
	for raw := range messages {
		if raw == nil {
			continue
		}
		if raw.Uid != 0 && (raw.Uid < from || raw.Uid > to) {
			f.log.WithField(lib.FieldUID, raw.Uid).Debug("ignoring message outside of the window")
			continue
		}
		// a message failing below still counts as processed
		if raw.Uid > highest {
			highest = raw.Uid
		}
		f.message(raw)
	}
	return highest, <-done
}

// message stores one message and its references. Errors never go further than this message.
func (f *fetcher) message(raw *mailbox.RawMessage) {
	log := f.log.WithField(lib.FieldUID, raw.Uid)

	msg, err := mailbox.ParseMessage(raw)
	if err != nil {
		f.failed(log, err)
		return
	}
	log = log.WithFields(logrus.Fields{
		lib.FieldIdentity: msg.Identity,
		lib.FieldThread:   msg.ThreadID,
	})

	written, err := f.store.WriteIfAbsent(msg.Identity, msg.Raw, msg.Date)
	if err != nil {
		f.failed(log, err)
		return
	}
	if msg.ThreadID != "" {
		_, err = f.store.LinkByThread(msg.ThreadID, msg.Identity)
		if err != nil {
			f.failed(log, err)
			return
		}
	}
	// the label reference moves the cursor on disk: it must come last
	_, err = f.store.LinkByLabel(f.mbox.Path, msg.Uid, msg.Identity)
	if err != nil {
		f.failed(log, err)
		return
	}

	if written {
		f.report.Stored++
		log.WithField(lib.FieldOutcome, lib.OutcomeStored).Debugf("stored %q", msg.Subject)
		return
	}
	f.report.Skipped++
	log.WithField(lib.FieldOutcome, lib.OutcomeSkipped).Debug("already stored")
}

func (f *fetcher) failed(log logrus.FieldLogger, err error) {
	f.report.Failed++
	log.WithError(err).WithField(lib.FieldOutcome, lib.OutcomeFailed).Warn("message skipped")
}

func (f *fetcher) abandon(err error) {
	f.report.Abandoned = err.Error()
	var openErr *lib.MailboxOpenError
	if !errors.As(err, &openErr) {
		err = &lib.MailboxOpenError{Mailbox: f.mbox.Name, Err: err}
	}
	f.log.WithError(err).WithField(lib.FieldOutcome, lib.OutcomeAbandoned).Error("mailbox abandoned")
}
