package backup

import (
	"context"

	"github.com/creativeprojects/gbackup/mailbox"
	"github.com/creativeprojects/gbackup/remote"
)

// Session is a read-only connection to the mail server
type Session interface {
	ListMailbox() ([]mailbox.Info, error)
	// ExamineMailbox opens the mailbox read-only. The status carries the newest uid at that time.
	ExamineMailbox(mbox *mailbox.Mailbox) (*mailbox.Status, error)
	// FetchWindow sends the messages between the two uids (inclusive) and closes the channel
	FetchWindow(ctx context.Context, from, to uint32, messages chan<- *mailbox.RawMessage) error
	UnselectMailbox() error
	Close() error
}

// Dialer opens a new session
type Dialer func(ctx context.Context) (Session, error)

// ImapDialer connects to an IMAP server
func ImapDialer(cfg remote.Config) Dialer {
	return func(ctx context.Context) (Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		session, err := remote.NewImap(cfg)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}
