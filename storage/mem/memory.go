// Package mem is an in-memory mail account with fault injection.
// It serves the same read-only session operations as the IMAP client.
package mem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/creativeprojects/gbackup/mailbox"
	"github.com/sirupsen/logrus"
)

const (
	Delimiter = "."
	Server    = "memory"
)

// ErrConnectionLost is returned (wrapped in a *lib.ConnectionError) once the session is dropped
var ErrConnectionLost = errors.New("connection lost")

// MessageProperties are the optional attributes of a message stored in memory
type MessageProperties struct {
	InternalDate   time.Time
	GmailMessageID string
	GmailThreadID  string
}

// Window is a UID FETCH range received by the backend
type Window struct {
	From uint32
	To   uint32
}

type Backend struct {
	mu       sync.Mutex
	data     map[string]*memMailbox
	log      logrus.FieldLogger
	selected string
	closed   bool
	listErr  error
	// dropAfter is the number of messages to send before dropping the connection (-1 = never)
	dropAfter       int
	windows         map[string][]Window
	sessions        int
	nextUidValidity uint32
}

func New() *Backend {
	return NewWithLogger(nil)
}

func NewWithLogger(logger logrus.FieldLogger) *Backend {
	if logger == nil {
		logger = lib.NoLog()
	}
	return &Backend{
		data:            make(map[string]*memMailbox),
		log:             logger.WithField(lib.FieldComponent, "memory"),
		dropAfter:       -1,
		windows:         make(map[string][]Window),
		nextUidValidity: 1,
	}
}

// Dial opens a new session on the backend: the backend is its own session.
// It has the signature of a session dialer.
func (m *Backend) Dial(ctx context.Context) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = false
	m.selected = ""
	m.sessions++
	return m, nil
}

// Sessions returns the number of times Dial was called
func (m *Backend) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sessions
}

func (m *Backend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.selected = ""
	return nil
}

func (m *Backend) Delimiter() string {
	return Delimiter
}

// CreateMailbox adds an empty mailbox. Nothing happens if the mailbox already exists.
func (m *Backend) CreateMailbox(info mailbox.Info) error {
	name := lib.VerifyDelimiter(info.Name, info.Delimiter, Delimiter)
	if name == "" {
		return lib.ErrInvalidName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[name]; ok {
		// already exists
		return nil
	}
	m.data[name] = newMailbox(m.nextUidValidity, info.Attributes)
	m.nextUidValidity++
	return nil
}

func (m *Backend) DeleteMailbox(info mailbox.Info) error {
	name := lib.VerifyDelimiter(info.Name, info.Delimiter, Delimiter)

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, name)
	return nil
}

// PutMessage appends a message to the mailbox and returns its uid
func (m *Backend) PutMessage(info mailbox.Info, body []byte, props MessageProperties) (uint32, error) {
	name := lib.VerifyDelimiter(info.Name, info.Delimiter, Delimiter)

	m.mu.Lock()
	defer m.mu.Unlock()

	mbox, ok := m.data[name]
	if !ok {
		return 0, lib.ErrMailboxNotFound
	}
	content := make([]byte, len(body))
	copy(content, body)
	return mbox.newMessage(&memMessage{
		content:        content,
		date:           props.InternalDate,
		gmailMessageID: props.GmailMessageID,
		gmailThreadID:  props.GmailThreadID,
	}), nil
}

// DeleteMessage expunges a message, leaving a gap in the uid space
func (m *Backend) DeleteMessage(info mailbox.Info, uid uint32) error {
	name := lib.VerifyDelimiter(info.Name, info.Delimiter, Delimiter)

	m.mu.Lock()
	defer m.mu.Unlock()

	mbox, ok := m.data[name]
	if !ok {
		return lib.ErrMailboxNotFound
	}
	delete(mbox.messages, uid)
	return nil
}

// SkipUIDs moves the next uid of the mailbox forward
func (m *Backend) SkipUIDs(info mailbox.Info, count uint32) error {
	name := lib.VerifyDelimiter(info.Name, info.Delimiter, Delimiter)

	m.mu.Lock()
	defer m.mu.Unlock()

	mbox, ok := m.data[name]
	if !ok {
		return lib.ErrMailboxNotFound
	}
	mbox.currentUid += count
	return nil
}

// FailList makes the next ListMailbox calls return err (nil to reset)
func (m *Backend) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listErr = err
}

// FailExamine makes ExamineMailbox return err for this mailbox (nil to reset)
func (m *Backend) FailExamine(info mailbox.Info, err error) error {
	name := lib.VerifyDelimiter(info.Name, info.Delimiter, Delimiter)

	m.mu.Lock()
	defer m.mu.Unlock()

	mbox, ok := m.data[name]
	if !ok {
		return lib.ErrMailboxNotFound
	}
	mbox.examineErr = err
	return nil
}

// FailFetch makes FetchWindow return err for the window starting at this uid (nil to reset)
func (m *Backend) FailFetch(info mailbox.Info, from uint32, err error) error {
	name := lib.VerifyDelimiter(info.Name, info.Delimiter, Delimiter)

	m.mu.Lock()
	defer m.mu.Unlock()

	mbox, ok := m.data[name]
	if !ok {
		return lib.ErrMailboxNotFound
	}
	if err == nil {
		delete(mbox.fetchErr, from)
		return nil
	}
	mbox.fetchErr[from] = err
	return nil
}

// DropConnectionAfter closes the session after sending this number of messages
func (m *Backend) DropConnectionAfter(messages int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropAfter = messages
}

// Windows returns the UID FETCH ranges received for the mailbox, in order
func (m *Backend) Windows(info mailbox.Info) []Window {
	name := lib.VerifyDelimiter(info.Name, info.Delimiter, Delimiter)

	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Window(nil), m.windows[name]...)
}

// ResetWindows forgets all the UID FETCH ranges received so far
func (m *Backend) ResetWindows() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windows = make(map[string][]Window)
}

func (m *Backend) ListMailbox() ([]mailbox.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, m.connectionError()
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	list := make([]mailbox.Info, 0, len(m.data))
	for name, mbox := range m.data {
		list = append(list, mailbox.Info{
			Delimiter:  Delimiter,
			Name:       name,
			Attributes: mbox.attributes,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list, nil
}

// ExamineMailbox selects the mailbox and takes a snapshot of its newest uid
func (m *Backend) ExamineMailbox(mbox *mailbox.Mailbox) (*mailbox.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, m.connectionError()
	}
	name := lib.VerifyDelimiter(mbox.Name, mbox.Delimiter, Delimiter)
	data, ok := m.data[name]
	if !ok {
		return nil, lib.ErrMailboxNotFound
	}
	if data.examineErr != nil {
		return nil, data.examineErr
	}
	m.selected = name
	return &mailbox.Status{
		Name:        name,
		Messages:    uint32(len(data.messages)),
		UidNext:     data.currentUid + 1,
		UidValidity: data.uidValidity,
		NewestUID:   data.newestUID(),
	}, nil
}

// FetchWindow sends the messages with a uid between from and to (inclusive), in uid order.
// The messages channel is closed when done.
func (m *Backend) FetchWindow(ctx context.Context, from, to uint32, messages chan<- *mailbox.RawMessage) error {
	defer close(messages)

	batch, err := m.window(from, to)
	if err != nil {
		return err
	}
	for _, raw := range batch {
		if err := m.consume(); err != nil {
			return err
		}
		select {
		case messages <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Backend) UnselectMailbox() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.connectionError()
	}
	m.selected = ""
	return nil
}

// GenerateFakeEmails adds count random messages to the mailbox, creating it if needed
func (m *Backend) GenerateFakeEmails(info mailbox.Info, count uint32, maxSize int) {
	_ = m.CreateMailbox(info)
	start := time.Date(2010, 1, 1, 12, 0, 0, 0, time.UTC)
	seed := seededRand.Int63()

	var i uint32
	for i = 1; i <= count; i++ {
		date := start.Add(time.Duration(i) * time.Hour)
		_, _ = m.PutMessage(info,
			GenerateEmail("user1@example.com", "user2@example.com", seed, i, date, maxSize),
			MessageProperties{InternalDate: date},
		)
	}
}

// window copies the messages of the range while holding the lock
func (m *Backend) window(from, to uint32) ([]*mailbox.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, m.connectionError()
	}
	if m.selected == "" {
		return nil, lib.ErrNotSelected
	}
	m.windows[m.selected] = append(m.windows[m.selected], Window{From: from, To: to})

	data := m.data[m.selected]
	if err, ok := data.fetchErr[from]; ok {
		return nil, err
	}
	uids := make([]uint32, 0)
	for uid := range data.messages {
		if uid >= from && uid <= to {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	batch := make([]*mailbox.RawMessage, len(uids))
	for i, uid := range uids {
		msg := data.messages[uid]
		batch[i] = &mailbox.RawMessage{
			Uid:            uid,
			InternalDate:   msg.date,
			Body:           msg.content,
			GmailMessageID: msg.gmailMessageID,
			GmailThreadID:  msg.gmailThreadID,
		}
	}
	return batch, nil
}

// consume counts one message sent and drops the connection when required
func (m *Backend) consume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.connectionError()
	}
	if m.dropAfter == 0 {
		m.log.Debug("dropping connection")
		m.dropAfter = -1
		m.closed = true
		m.selected = ""
		return m.connectionError()
	}
	if m.dropAfter > 0 {
		m.dropAfter--
	}
	return nil
}

func (m *Backend) connectionError() error {
	return &lib.ConnectionError{Server: Server, Err: ErrConnectionLost}
}
