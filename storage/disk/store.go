package disk

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creativeprojects/gbackup/lib"
	"github.com/sirupsen/logrus"
)

const (
	ByID         = "by-id"
	ByLabel      = "by-label"
	ByThread     = "by-thread"
	Extension    = ".eml"
	RefExtension = ".ref"
)

type Config struct {
	// Root directory of the mail backup
	Root string
	// NoSymlink always writes pointer records instead of symbolic links
	NoSymlink bool
	Logger    logrus.FieldLogger
}

// Store keeps one canonical copy of each message under by-id, and references
// to it from by-label and by-thread
type Store struct {
	root      string
	noSymlink bool
	log       logrus.FieldLogger
}

// Reference is an entry of the by-label view
type Reference struct {
	Uid  uint32
	Path string
}

func New(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = lib.NoLog()
	}
	if cfg.Root == "" {
		return nil, errors.New("missing root directory")
	}
	for _, dir := range []string{ByID, ByLabel, ByThread} {
		err := os.MkdirAll(filepath.Join(cfg.Root, dir), 0700)
		if err != nil {
			return nil, fmt.Errorf("cannot create backup directory: %w", err)
		}
	}
	return &Store{
		root:      cfg.Root,
		noSymlink: cfg.NoSymlink,
		log:       log.WithField(lib.FieldComponent, "store"),
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

// CanonicalFile is where the message with this identity is stored
func (s *Store) CanonicalFile(identity string) string {
	return filepath.Join(s.root, ByID, identity+Extension)
}

// Has returns true when the canonical copy of the message exists
func (s *Store) Has(identity string) bool {
	_, err := os.Stat(s.CanonicalFile(identity))
	return err == nil
}

// WriteIfAbsent saves the message unless a canonical copy already exists.
// The file modification time is set to the message date.
// It returns true when the message was written.
func (s *Store) WriteIfAbsent(identity string, raw []byte, date time.Time) (bool, error) {
	if err := lib.ValidName(identity); err != nil {
		return false, &lib.StorageWriteError{Path: identity, Err: err}
	}
	filename := s.CanonicalFile(identity)
	if _, err := os.Stat(filename); err == nil {
		return false, nil
	}
	err := lib.WriteFileAtomic(filename, raw, date)
	if err != nil {
		return false, &lib.StorageWriteError{Path: filename, Err: err}
	}
	return true, nil
}

// LinkByLabel creates the reference by-label/<path>/<uid>.eml to the canonical message.
// It returns true when the reference was created.
func (s *Store) LinkByLabel(path []string, uid uint32, identity string) (bool, error) {
	dir := s.LabelDir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return false, &lib.StorageWriteError{Path: dir, Err: err}
	}
	return s.link(filepath.Join(dir, strconv.FormatUint(uint64(uid), 10)+Extension), s.CanonicalFile(identity))
}

// LinkByThread creates the reference by-thread/<threadID>/<identity>.eml to the canonical message.
// It returns true when the reference was created.
func (s *Store) LinkByThread(threadID, identity string) (bool, error) {
	if err := lib.ValidName(threadID); err != nil {
		return false, &lib.StorageWriteError{Path: threadID, Err: err}
	}
	dir := s.ThreadDir(threadID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return false, &lib.StorageWriteError{Path: dir, Err: err}
	}
	return s.link(filepath.Join(dir, identity+Extension), s.CanonicalFile(identity))
}

// LabelDir is the by-label directory of the mailbox path
func (s *Store) LabelDir(path []string) string {
	elements := make([]string, 0, len(path)+2)
	elements = append(elements, s.root, ByLabel)
	for _, segment := range path {
		elements = append(elements, lib.SafeName(segment))
	}
	return filepath.Join(elements...)
}

// ThreadDir is the by-thread directory of the thread
func (s *Store) ThreadDir(threadID string) string {
	return filepath.Join(s.root, ByThread, threadID)
}

// Watermark returns the highest uid referenced from the mailbox path, or 0.
// This is the only state used to resume a mailbox.
func (s *Store) Watermark(path []string) (uint32, error) {
	references, err := s.References(path)
	if err != nil {
		return 0, err
	}
	if len(references) == 0 {
		return 0, nil
	}
	return references[len(references)-1].Uid, nil
}

// References lists the by-label entries of the mailbox path, sorted by uid
func (s *Store) References(path []string) ([]Reference, error) {
	dir := s.LabelDir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	references := make([]Reference, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), RefExtension)
		if !strings.HasSuffix(name, Extension) {
			continue
		}
		uid, err := strconv.ParseUint(strings.TrimSuffix(name, Extension), 10, 32)
		if err != nil || uid == 0 {
			continue
		}
		references = append(references, Reference{
			Uid:  uint32(uid),
			Path: filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(references, func(i, j int) bool {
		return references[i].Uid < references[j].Uid
	})
	return references, nil
}

// Labels returns the path of all the by-label directories
func (s *Store) Labels() ([][]string, error) {
	labels := make([][]string, 0)
	root := filepath.Join(s.root, ByLabel)
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		elements := strings.Split(filepath.ToSlash(rel), "/")
		label := make([]string, len(elements))
		for i, element := range elements {
			label[i], err = lib.OriginalName(element)
			if err != nil {
				// not created by the backup
				return fs.SkipDir
			}
		}
		labels = append(labels, label)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// Resolve returns the canonical file of a reference (symbolic link or pointer record)
func (s *Store) Resolve(reference string) (string, error) {
	if strings.HasSuffix(reference, RefExtension) {
		content, err := os.ReadFile(reference)
		if err != nil {
			return "", err
		}
		target := strings.TrimSpace(string(content))
		if target == "" {
			return "", fmt.Errorf("empty pointer record %q", reference)
		}
		return filepath.Join(s.root, filepath.FromSlash(target)), nil
	}
	target, err := os.Readlink(reference)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(reference), target)
	}
	return filepath.Clean(target), nil
}

func (s *Store) link(reference, target string) (bool, error) {
	if exists(reference) || exists(reference+RefExtension) {
		return false, nil
	}
	if !s.noSymlink {
		relative, err := filepath.Rel(filepath.Dir(reference), target)
		if err != nil {
			return false, &lib.StorageWriteError{Path: reference, Err: err}
		}
		err = os.Symlink(relative, reference)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		s.log.WithError(err).Debug("symbolic link not supported, writing a pointer record")
	}
	relative, err := filepath.Rel(s.root, target)
	if err != nil {
		return false, &lib.StorageWriteError{Path: reference, Err: err}
	}
	err = lib.WriteFileAtomic(reference+RefExtension, []byte(filepath.ToSlash(relative)+"\n"), time.Time{})
	if err != nil {
		return false, &lib.StorageWriteError{Path: reference + RefExtension, Err: err}
	}
	return true, nil
}

func exists(filename string) bool {
	_, err := os.Lstat(filename)
	return err == nil
}
