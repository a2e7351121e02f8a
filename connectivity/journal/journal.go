// Package journal records cell task outcomes in an embedded BadgerDB so a
// resumed or inspected run can see what happened to every (subject, cell)
// without re-reading the bundle directory.
//
// Keys are task/<subject>/<cell>; the latest outcome of a task overwrites the
// previous one.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
)

const keyPrefix = "task/"

// Config holds the journal's storage settings.
type Config struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the journal in RAM only.
	InMemory bool

	SyncWrites bool

	// Logger receives badger's internal log lines; nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns a durable on-disk configuration at dir.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, SyncWrites: true}
}

// InMemoryConfig is for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Journal is a connectivity.TaskJournal backed by BadgerDB. Safe for
// concurrent use by scheduler workers.
type Journal struct {
	db *badger.DB
}

var _ connectivity.TaskJournal = (*Journal)(nil)

// Open opens (creating if needed) the journal described by cfg.
func Open(cfg Config) (*Journal, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, &connectivity.ConfigurationError{Field: "journal_dir", Reason: "required for a persistent journal"}
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal.Open: mkdir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal.Open: %w", err)
	}
	return &Journal{db: db}, nil
}

func taskKey(subject, cell string) []byte {
	return []byte(keyPrefix + subject + "/" + cell)
}

// Record stores rec as the latest outcome of its task.
func (j *Journal) Record(rec connectivity.TaskRecord) error {
	if rec.Subject == "" || rec.Cell == "" {
		return errors.New("journal.Record: subject and cell are required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal.Record: marshal: %w", err)
	}
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(taskKey(rec.Subject, rec.Cell), b)
	}); err != nil {
		return fmt.Errorf("journal.Record: %w", err)
	}
	return nil
}

// Get returns the latest outcome of (subject, cell); ok is false if none was recorded.
func (j *Journal) Get(subject, cell string) (rec connectivity.TaskRecord, ok bool, err error) {
	err = j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(subject, cell))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return connectivity.TaskRecord{}, false, fmt.Errorf("journal.Get: %w", err)
	}
	return rec, ok, nil
}

// List returns every recorded outcome, ordered by subject then cell. A
// non-empty subject restricts the listing to that subject.
func (j *Journal) List(subject string) ([]connectivity.TaskRecord, error) {
	prefix := []byte(keyPrefix)
	if subject != "" {
		prefix = []byte(keyPrefix + subject + "/")
	}
	var out []connectivity.TaskRecord
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec connectivity.TaskRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal.List: %w", err)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Subject != out[b].Subject {
			return out[a].Subject < out[b].Subject
		}
		return out[a].Cell < out[b].Cell
	})
	return out, nil
}

// Failed returns the recorded outcomes whose status is failed.
func (j *Journal) Failed() ([]connectivity.TaskRecord, error) {
	all, err := j.List("")
	if err != nil {
		return nil, err
	}
	var out []connectivity.TaskRecord
	for _, r := range all {
		if r.Status == connectivity.StatusFailed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
