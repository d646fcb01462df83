// Package mdir exports the mail backup into Maildir folders, one folder per mailbox.
package mdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/creativeprojects/gbackup/storage/disk"
	"github.com/emersion/go-maildir"
	"github.com/sirupsen/logrus"
)

const Delimiter = "."

// Status of an exported folder
type Status struct {
	Name string `json:"name"`
	// LastUID is the highest uid of the mailbox exported to this folder
	LastUID  uint32    `json:"last_uid"`
	Messages int       `json:"messages"`
	Updated  time.Time `json:"updated"`
}

type Maildir struct {
	root string
	log  logrus.FieldLogger
}

func New(root string) (*Maildir, error) {
	return NewWithLogger(root, nil)
}

func NewWithLogger(root string, logger logrus.FieldLogger) (*Maildir, error) {
	if runtime.GOOS == "windows" {
		return nil, errors.New("maildir is not supported on Windows")
	}
	if logger == nil {
		logger = lib.NoLog()
	}
	err := os.MkdirAll(root, 0700)
	if err != nil {
		return nil, err
	}

	return &Maildir{
		root: root,
		log:  logger.WithField(lib.FieldComponent, "maildir"),
	}, nil
}

func (m *Maildir) Root() string {
	return m.root
}

// FolderName is the maildir folder of a mailbox path
func FolderName(path []string) string {
	elements := make([]string, len(path))
	for i, segment := range path {
		elements[i] = lib.SafeName(segment)
	}
	return lib.JoinPath(elements, Delimiter)
}

// Export copies the messages of every mailbox in the backup to its maildir folder.
// Only the messages newer than the previous export are copied.
func (m *Maildir) Export(ctx context.Context, store *disk.Store) (int, error) {
	labels, err := store.Labels()
	if err != nil {
		return 0, fmt.Errorf("cannot list mailboxes: %w", err)
	}
	total := 0
	for _, path := range labels {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		count, err := m.ExportMailbox(ctx, store, path)
		total += count
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ExportMailbox copies the messages of one mailbox path
func (m *Maildir) ExportMailbox(ctx context.Context, store *disk.Store, path []string) (int, error) {
	name := FolderName(path)
	log := m.log.WithField(lib.FieldMailbox, name)

	references, err := store.References(path)
	if err != nil {
		return 0, err
	}
	if len(references) == 0 {
		// intermediate directory only
		return 0, nil
	}

	status, err := m.createFolder(name)
	if err != nil {
		return 0, err
	}
	mbox := maildir.Dir(filepath.Join(m.root, name))

	count := 0
	defer func() {
		status.Updated = time.Now()
		if err := m.setStatus(name, status); err != nil {
			log.WithError(err).Warn("cannot save folder status")
		}
	}()

	for _, reference := range references {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		if reference.Uid <= status.LastUID {
			continue
		}
		canonical, err := store.Resolve(reference.Path)
		if err != nil {
			log.WithError(err).WithField(lib.FieldUID, reference.Uid).Warn("cannot resolve reference")
			continue
		}
		err = m.copyMessage(mbox, canonical)
		if err != nil {
			return count, fmt.Errorf("cannot export %q: %w", canonical, err)
		}
		status.LastUID = reference.Uid
		status.Messages++
		count++
	}
	log.Debugf("%d messages exported", count)
	return count, nil
}

func (m *Maildir) copyMessage(mbox maildir.Dir, canonical string) error {
	source, err := os.Open(canonical)
	if err != nil {
		return err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return err
	}

	key, writer, err := mbox.Create([]maildir.Flag{maildir.FlagSeen})
	if err != nil {
		return err
	}
	_, err = io.Copy(writer, source)
	if closeErr := writer.Close(); err == nil {
		err = closeErr
	}
	filename, filenameErr := mbox.Filename(key)
	if err != nil {
		if filenameErr == nil {
			_ = os.Remove(filename)
		}
		return err
	}
	if filenameErr != nil {
		return filenameErr
	}
	// keep the message date
	return os.Chtimes(filename, time.Now(), info.ModTime())
}

// createFolder doesn't return an error if the folder already exists
func (m *Maildir) createFolder(name string) (*Status, error) {
	if status, err := m.getStatus(name); err == nil {
		return status, nil
	}
	err := maildir.Dir(filepath.Join(m.root, name)).Init()
	if err != nil {
		return nil, err
	}
	status := &Status{Name: name}
	return status, m.setStatus(name, status)
}

func (m *Maildir) statusFile(name string) string {
	return filepath.Join(m.root, name+".json")
}

func (m *Maildir) setStatus(name string, status *Status) error {
	file, err := os.Create(m.statusFile(name))
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	return encoder.Encode(status)
}

func (m *Maildir) getStatus(name string) (*Status, error) {
	file, err := os.Open(m.statusFile(name))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	status := &Status{}
	decoder := json.NewDecoder(file)
	err = decoder.Decode(status)
	if err != nil {
		return nil, err
	}
	return status, nil
}
