package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/creativeprojects/gbackup/limitio"
	"github.com/creativeprojects/gbackup/mailbox"
	"github.com/emersion/go-imap"
	compress "github.com/emersion/go-imap-compress"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

const (
	// GmailExtension is the capability advertised by Gmail for X-GM-MSGID and X-GM-THRID
	GmailExtension = "X-GM-EXT-1"

	gmailMessageID imap.FetchItem = "X-GM-MSGID"
	gmailThreadID  imap.FetchItem = "X-GM-THRID"

	DefaultDialTimeout    = 30 * time.Second
	DefaultCommandTimeout = 5 * time.Minute
)

type Config struct {
	ServerURL string
	Username  string
	Password  string
	NoTLS     bool
	// StartTLS upgrades a plain connection (port 143) instead of connecting with TLS
	StartTLS            bool
	SkipTLSVerification bool
	// Compress enables COMPRESS=DEFLATE when the server supports it
	Compress bool
	// BandwidthLimit in bytes per second (0 = no limit)
	BandwidthLimit float64
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	Logger         logrus.FieldLogger
}

// Imap is a read-only session on an IMAP server
type Imap struct {
	client   *client.Client
	log      logrus.FieldLogger
	server   string
	gmail    bool
	selected *mailbox.Status
}

func NewImap(cfg Config) (*Imap, error) {
	log := cfg.Logger
	if log == nil {
		log = lib.NoLog()
	}
	log = log.WithField(lib.FieldComponent, "imap")
	if cfg.ServerURL == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("missing information from Config object")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	log.Debugf("Connecting to server %s...", cfg.ServerURL)
	imapClient, err := dial(cfg)
	if err != nil {
		return nil, &lib.ConnectionError{Server: cfg.ServerURL, Err: err}
	}
	imapClient.Timeout = cfg.CommandTimeout
	log.Debug("Connected")

	if err := imapClient.Login(cfg.Username, cfg.Password); err != nil {
		_ = imapClient.Logout()
		return nil, &lib.ConnectionError{Server: cfg.ServerURL, Err: fmt.Errorf("authentication failure: %w", err)}
	}
	log.Debugf("Logged in as %s", cfg.Username)

	if caps, err := imapClient.Capability(); err == nil {
		log.Debugf("capabilities: %+v", caps)
	}

	if cfg.Compress {
		compressClient := compress.NewClient(imapClient)
		supported, err := compressClient.SupportCompress(compress.Deflate)
		if err == nil && supported {
			err = compressClient.Compress(compress.Deflate)
			if err != nil {
				_ = imapClient.Logout()
				return nil, &lib.ConnectionError{Server: cfg.ServerURL, Err: fmt.Errorf("cannot enable compression: %w", err)}
			}
			log.Debug("Compression enabled")
		} else {
			log.Debug("IMAP server does NOT support COMPRESS=DEFLATE")
		}
	}

	gmail, err := imapClient.Support(GmailExtension)
	if err != nil {
		gmail = false
	}
	if gmail {
		log.Debug("Gmail extension available: using X-GM-MSGID and X-GM-THRID")
	}

	return &Imap{
		client: imapClient,
		log:    log,
		server: cfg.ServerURL,
		gmail:  gmail,
	}, nil
}

func dial(cfg Config) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.Dial("tcp", cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	conn = limitio.NewConn(conn, cfg.BandwidthLimit)

	host, _, err := net.SplitHostPort(cfg.ServerURL)
	if err != nil {
		host = cfg.ServerURL
	}
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: cfg.SkipTLSVerification, //nolint:gosec
	}
	if !cfg.NoTLS && !cfg.StartTLS {
		conn = tls.Client(conn, tlsConfig)
	}
	imapClient, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !cfg.NoTLS && cfg.StartTLS {
		if err := imapClient.StartTLS(tlsConfig); err != nil {
			_ = imapClient.Logout()
			return nil, fmt.Errorf("cannot start TLS: %w", err)
		}
	}
	return imapClient, nil
}

func (i *Imap) Close() error {
	i.log.Debug("Closing connection")
	return i.client.Logout()
}

// SupportGmail returns true when the server sends X-GM-MSGID and X-GM-THRID
func (i *Imap) SupportGmail() bool {
	return i.gmail
}

func (i *Imap) ListMailbox() ([]mailbox.Info, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- i.client.List("", "*", mailboxes)
	}()

	info := make([]mailbox.Info, 0, 10)
	for m := range mailboxes {
		i.log.Debugf("* %q: %+v (delimiter = %q)", m.Name, m.Attributes, m.Delimiter)
		info = append(info, mailbox.Info{
			Delimiter:  m.Delimiter,
			Name:       m.Name,
			Attributes: m.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, i.classify(err)
	}
	return info, nil
}

// ExamineMailbox opens the mailbox read-only and takes a snapshot of its newest uid
func (i *Imap) ExamineMailbox(mbox *mailbox.Mailbox) (*mailbox.Status, error) {
	i.log.Debugf("Examining mailbox %q", mbox.Name)
	status, err := i.client.Select(mbox.Name, true)
	if err != nil {
		return nil, i.classify(err)
	}
	i.selected = &mailbox.Status{
		Name:        status.Name,
		Messages:    status.Messages,
		UidNext:     status.UidNext,
		UidValidity: status.UidValidity,
	}
	if status.Messages > 0 {
		newest, err := i.lastUID(status.Messages)
		if err != nil {
			return nil, i.classify(err)
		}
		if newest == 0 && status.UidNext > 0 {
			newest = status.UidNext - 1
		}
		i.selected.NewestUID = newest
	}
	return i.selected, nil
}

// lastUID returns the uid of the message at the sequence number
func (i *Imap) lastUID(seqNum uint32) (uint32, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNum)

	receiver := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- i.client.Fetch(seqset, []imap.FetchItem{imap.FetchUid}, receiver)
	}()

	var uid uint32
	for msg := range receiver {
		if msg.Uid > uid {
			uid = msg.Uid
		}
	}
	return uid, <-done
}

// FetchWindow sends all the messages with a uid between from and to (inclusive).
// The messages channel is closed when done.
func (i *Imap) FetchWindow(ctx context.Context, from, to uint32, messages chan<- *mailbox.RawMessage) error {
	defer close(messages)

	if i.selected == nil {
		return lib.ErrNotSelected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(from, to)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid, imap.FetchInternalDate}
	if i.gmail {
		items = append(items, gmailMessageID, gmailThreadID)
	}

	receiver := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	// fetch messages in the background
	go func() {
		done <- i.client.UidFetch(seqset, items, receiver)
	}()

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range receiver {
			raw := &mailbox.RawMessage{
				Uid:          msg.Uid,
				InternalDate: msg.InternalDate,
			}
			if body := msg.GetBody(section); body != nil {
				content, err := io.ReadAll(body)
				if err != nil {
					i.log.WithError(err).WithField(lib.FieldUID, msg.Uid).Warn("cannot read message body")
				}
				raw.Body = content
			}
			if i.gmail {
				raw.GmailMessageID = attributeString(msg.Items[gmailMessageID])
				raw.GmailThreadID = attributeString(msg.Items[gmailThreadID])
			}
			messages <- raw
		}
	}()
	// will return the error from Fetch when it's finished
	err := <-done
	wg.Wait()
	if err != nil {
		return i.classify(err)
	}
	return nil
}

func (i *Imap) UnselectMailbox() error {
	i.selected = nil
	var err error
	if supported, _ := i.client.Support("UNSELECT"); supported {
		err = i.client.Unselect()
	} else {
		// CLOSE on a read-only mailbox doesn't expunge anything
		err = i.client.Close()
	}
	if err != nil {
		return i.classify(err)
	}
	return nil
}

// classify turns errors on a dead session into a *lib.ConnectionError
func (i *Imap) classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if i.client.State() == imap.LogoutState ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr) {
		return &lib.ConnectionError{Server: i.server, Err: err}
	}
	return err
}

// attributeString reads a numeric attribute from an IMAP extension
func attributeString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case imap.RawString:
		return string(v)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
