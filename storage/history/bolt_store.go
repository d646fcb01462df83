// Package history keeps the reports of the previous runs.
// It is informational only: nothing in there is used to resume a backup.
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/creativeprojects/gbackup/backup"
	"github.com/creativeprojects/gbackup/lib"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	Filename        = ".history.db"
	metadataBucket  = "metadata"
	historyBucket   = "history"
	versionKey      = "version"
	boltFileVersion = 1
)

var ErrAccountNotFound = errors.New("no history for this account")

type BoltStore struct {
	dbFile string
	db     *bolt.DB
	log    logrus.FieldLogger
}

func NewBoltStore(filename string) (*BoltStore, error) {
	return NewBoltStoreWithLogger(filename, nil)
}

func NewBoltStoreWithLogger(filename string, logger logrus.FieldLogger) (*BoltStore, error) {
	if logger == nil {
		logger = lib.NoLog()
	}
	options := *bolt.DefaultOptions
	options.Timeout = 10 * time.Second

	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", filename, err)
	}

	db, err := bolt.Open(filename, 0600, &options)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", filename, err)
	}

	store := &BoltStore{
		dbFile: filename,
		db:     db,
		log:    logger.WithField(lib.FieldComponent, "history"),
	}
	err = store.init()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *BoltStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if version := bucket.Get([]byte(versionKey)); version != nil {
			current, err := DeserializeInt(version)
			if err != nil {
				return fmt.Errorf("invalid history file version: %w", err)
			}
			if current > boltFileVersion {
				return fmt.Errorf("history file version %d is not supported", current)
			}
			return nil
		}
		version, err := SerializeInt(boltFileVersion)
		if err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists([]byte(historyBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(versionKey), version)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Add saves the report at the end of the account history
func (s *BoltStore) Add(report *backup.Report) error {
	if report == nil {
		return errors.New("no report to save")
	}
	data, err := SerializeObject(report)
	if err != nil {
		return fmt.Errorf("cannot serialize report: %w", err)
	}

	// Start the transaction.
	tx, err := s.db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	root, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
	if err != nil {
		return err
	}
	bucket, err := root.CreateBucketIfNotExists([]byte(accountKey(report.Account)))
	if err != nil {
		return err
	}
	sequence, err := bucket.NextSequence()
	if err != nil {
		return err
	}
	err = bucket.Put(SerializeSequence(sequence), data)
	if err != nil {
		return err
	}

	// Commit the transaction.
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		lib.FieldAccount: report.Account,
		"service":        report.Service,
	}).Debugf("report #%d saved", sequence)
	return nil
}

// Accounts returns the accounts with a history, sorted by name
func (s *BoltStore) Accounts() ([]string, error) {
	accounts := make([]string, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(historyBucket))
		if root == nil {
			return nil
		}
		return root.ForEach(func(k, v []byte) error {
			if v == nil {
				// nested bucket
				accounts = append(accounts, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(accounts)
	return accounts, nil
}

// List returns the last reports of the account, oldest first (limit <= 0 returns everything)
func (s *BoltStore) List(account string, limit int) ([]*backup.Report, error) {
	reports := make([]*backup.Report, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(historyBucket))
		if root == nil {
			return ErrAccountNotFound
		}
		bucket := root.Bucket([]byte(accountKey(account)))
		if bucket == nil {
			return ErrAccountNotFound
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if limit > 0 && len(reports) >= limit {
				break
			}
			report, err := DeserializeObject[backup.Report](v)
			if err != nil {
				s.log.WithError(err).Warnf("invalid report #%d", DeserializeSequence(k))
				continue
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(reports)-1; i < j; i, j = i+1, j-1 {
		reports[i], reports[j] = reports[j], reports[i]
	}
	return reports, nil
}

func accountKey(account string) string {
	if account == "" {
		return "default"
	}
	return account
}
