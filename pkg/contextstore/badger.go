package contextstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

// BadgerOptions configures the badger context store.
type BadgerOptions struct {
	Dir      string `json:"dir"`
	InMemory bool   `json:"inMemory"`
}

// BadgerStore persists context in an embedded badger database. Keys are laid
// out as `<scope>\x00<key>`.
type BadgerStore struct {
	opts   BadgerOptions
	logger *zap.Logger

	mu sync.RWMutex
	db *badger.DB
}

func NewBadgerStore(opts BadgerOptions, logger *zap.Logger) (*BadgerStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.Dir == "" && !opts.InMemory {
		return nil, rwerrors.BadArguments("badger store needs a dir or inMemory")
	}
	return &BadgerStore{opts: opts, logger: logger}, nil
}

func (s *BadgerStore) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	dir := s.opts.Dir
	if s.opts.InMemory {
		dir = ""
	}
	opts := badger.DefaultOptions(dir).
		WithInMemory(s.opts.InMemory).
		WithLogger(badgerLogger{s.logger.Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open badger context store: %w", err)
	}
	s.db = db
	s.logger.Info("Opened badger context store",
		zap.String("dir", s.opts.Dir),
		zap.Bool("in_memory", s.opts.InMemory))
	return nil
}

func (s *BadgerStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) handle() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, rwerrors.InvalidOperation("badger context store is not open")
	}
	return s.db, nil
}

func scopePrefix(scope string) []byte {
	return append([]byte(scope), 0)
}

func scopedKey(scope, key string) []byte {
	return append(scopePrefix(scope), key...)
}

func (s *BadgerStore) Get(_ context.Context, scope, key string) (any, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var data []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(scopedKey(scope, key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, rwerrors.NotFound("context key %q in scope %q", key, scope)
	}
	if err != nil {
		return nil, err
	}
	return decodeValue(data)
}

func (s *BadgerStore) Keys(_ context.Context, scope string) ([]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	prefix := scopePrefix(scope)
	var keys []string
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) Set(_ context.Context, scope, key string, value any) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(scopedKey(scope, key), data)
	})
}

func (s *BadgerStore) Delete(_ context.Context, scope, key string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(scopedKey(scope, key))
	})
}

func (s *BadgerStore) Clean(_ context.Context, activeScopes []string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	active := activeSet(activeScopes)
	var stale [][]byte
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			idx := bytes.IndexByte(k, 0)
			if idx < 0 {
				continue
			}
			if _, ok := active[string(k[:idx])]; !ok {
				stale = append(stale, k)
			}
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	s.logger.Debug("Cleaned badger context store", zap.Int("keys", len(stale)))
	return nil
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
