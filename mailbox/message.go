package mailbox

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// RawMessage is a message as received from the server
type RawMessage struct {
	// The message unique identifier, inside its mailbox.
	Uid uint32
	// The date the message was received by the server.
	InternalDate time.Time
	// The full RFC 5322 message.
	Body []byte
	// Gmail extension (X-GM-MSGID), if available
	GmailMessageID string
	// Gmail extension (X-GM-THRID), if available
	GmailThreadID string
}

// Message is a parsed message, ready to be stored
type Message struct {
	// Identity is the canonical storage key, stable across mailboxes
	Identity string
	// Uid is only unique inside its mailbox
	Uid uint32
	// ThreadID groups a conversation (can be empty)
	ThreadID string
	// Date the message was sent
	Date time.Time
	// Subject is only used for display
	Subject string
	// Raw is the immutable message payload
	Raw []byte
}

// ParseMessage validates the required fields and derives identity and thread.
// Errors are always *lib.MessageParseError.
func ParseMessage(raw *RawMessage) (*Message, error) {
	if raw == nil {
		return nil, &lib.MessageParseError{Err: lib.ErrEmptyBody}
	}
	if raw.Uid == 0 {
		return nil, &lib.MessageParseError{Err: lib.ErrMissingUID}
	}
	if len(raw.Body) == 0 {
		return nil, &lib.MessageParseError{UID: raw.Uid, Err: lib.ErrEmptyBody}
	}

	// a broken header is not fatal: identity and date can still come from the server
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw.Body)))
	if err != nil {
		header = textproto.Header{}
	}
	h := mail.Header{Header: message.Header{Header: header}}

	date, err := h.Date()
	if err != nil || date.IsZero() {
		date = raw.InternalDate
	}
	if date.IsZero() {
		return nil, &lib.MessageParseError{UID: raw.Uid, Err: lib.ErrMissingDate}
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}

	messageID, _ := h.MessageID()

	identity := raw.GmailMessageID
	if identity == "" {
		if messageID != "" {
			identity = hashString(messageID)
		} else {
			identity = hashBytes(raw.Body)
		}
	}
	if err := lib.ValidName(identity); err != nil {
		return nil, &lib.MessageParseError{UID: raw.Uid, Err: err}
	}

	threadID := raw.GmailThreadID
	if threadID == "" {
		if root := threadRoot(h, messageID); root != "" {
			threadID = hashString(root)
		}
	}
	if threadID != "" {
		if err := lib.ValidName(threadID); err != nil {
			return nil, &lib.MessageParseError{UID: raw.Uid, Err: err}
		}
	}

	return &Message{
		Identity: identity,
		Uid:      raw.Uid,
		ThreadID: threadID,
		Date:     date,
		Subject:  subject,
		Raw:      raw.Body,
	}, nil
}

// threadRoot returns the message ID starting the conversation
func threadRoot(h mail.Header, messageID string) string {
	if references, err := h.MsgIDList("References"); err == nil && len(references) > 0 {
		return references[0]
	}
	if inReplyTo, err := h.MsgIDList("In-Reply-To"); err == nil && len(inReplyTo) > 0 {
		return inReplyTo[0]
	}
	return messageID
}

func hashString(value string) string {
	return hashBytes([]byte(value))
}

func hashBytes(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}
