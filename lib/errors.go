package lib

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMailboxNotFound = errors.New("mailbox not found")
	ErrNotSelected     = errors.New("mailbox not selected")
	ErrMissingUID      = errors.New("missing message uid")
	ErrEmptyBody       = errors.New("empty message body")
	ErrMissingDate     = errors.New("missing message date")
	ErrInvalidName     = errors.New("invalid name")
)

// ConnectionError is fatal for the whole mail backup (dial, login, broken transport)
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %s", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DiscoveryError is fatal: the mailbox tree cannot be enumerated
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("cannot discover mailboxes: %s", e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// MailboxOpenError abandons the mailbox only
type MailboxOpenError struct {
	Mailbox string
	Err     error
}

func (e *MailboxOpenError) Error() string {
	return fmt.Sprintf("cannot open mailbox %q: %s", e.Mailbox, e.Err)
}

func (e *MailboxOpenError) Unwrap() error {
	return e.Err
}

// MessageFetchError skips a window of messages
type MessageFetchError struct {
	Mailbox string
	From    uint32
	To      uint32
	Err     error
}

func (e *MessageFetchError) Error() string {
	return fmt.Sprintf("cannot fetch messages %d:%d from %q: %s", e.From, e.To, e.Mailbox, e.Err)
}

func (e *MessageFetchError) Unwrap() error {
	return e.Err
}

// MessageParseError skips one message
type MessageParseError struct {
	UID uint32
	Err error
}

func (e *MessageParseError) Error() string {
	return fmt.Sprintf("cannot parse message uid=%d: %s", e.UID, e.Err)
}

func (e *MessageParseError) Unwrap() error {
	return e.Err
}

// StorageWriteError skips one message (canonical write or reference creation)
type StorageWriteError struct {
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("cannot write %q: %s", e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

// IsFatal returns true for errors that must abort the mail backup
func IsFatal(err error) bool {
	var connErr *ConnectionError
	var discoveryErr *DiscoveryError
	return errors.As(err, &connErr) || errors.As(err, &discoveryErr)
}

// ValidName verifies a name can be used as a single path element
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// SafeName makes a mailbox name segment usable as a single path element.
// Reserved characters are percent encoded so two different names never share a directory.
func SafeName(name string) string {
	switch name {
	case "":
		return "%"
	case ".", "..":
		return strings.Repeat("%2E", len(name))
	}
	builder := strings.Builder{}
	builder.Grow(len(name))
	for i := 0; i < len(name); i++ {
		switch c := name[i]; c {
		case '%', '/', '\\', 0:
			fmt.Fprintf(&builder, "%%%02X", c)
		default:
			builder.WriteByte(c)
		}
	}
	return builder.String()
}

// OriginalName decodes a path element made by SafeName
func OriginalName(element string) (string, error) {
	if element == "%" {
		return "", nil
	}
	name, err := url.PathUnescape(element)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, element)
	}
	return name, nil
}
