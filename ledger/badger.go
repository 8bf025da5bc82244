// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

var (
	aggregateKeyPrefix = []byte("aggregate:")
	positionKeyPrefix  = []byte("position:")
)

// BadgerStore is a badger-backed Store. Data is persisted when a data
// directory is provided and kept in memory otherwise.
type BadgerStore struct {
	db       *badger.DB
	logger   *slog.Logger
	gcTicker *time.Ticker
	gcStopCh chan struct{}
	dataDir  string
	gcWg     sync.WaitGroup
	// Serializes Update calls so engine operations against the same key
	// are totally ordered rather than retried on conflict
	updateMutex sync.Mutex
}

type BadgerStoreOptionFunc func(*BadgerStore)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) BadgerStoreOptionFunc {
	return func(b *BadgerStore) {
		b.logger = logger
	}
}

// WithDataDir specifies the data directory to use for storage. The default
// is to store everything in memory
func WithDataDir(dataDir string) BadgerStoreOptionFunc {
	return func(b *BadgerStore) {
		b.dataDir = dataDir
	}
}

// NewBadgerStore creates a new badger-backed ledger store
func NewBadgerStore(opts ...BadgerStoreOptionFunc) (*BadgerStore, error) {
	store := &BadgerStore{}
	for _, opt := range opts {
		opt(store)
	}
	if store.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		store.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var db *badger.DB
	var err error
	if store.dataDir == "" {
		badgerOpts := badger.DefaultOptions("").
			WithLogger(newBadgerLogger(store.logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true)
		db, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(store.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(store.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		ledgerDir := filepath.Join(
			store.dataDir,
			"ledger",
		)
		badgerOpts := badger.DefaultOptions(ledgerDir).
			WithLogger(newBadgerLogger(store.logger)).
			WithLoggingLevel(badger.WARNING).
			WithCompression(options.Snappy)
		db, err = badger.Open(badgerOpts)
		if err != nil {
			return nil, err
		}
		// Value log GC only applies to disk-backed stores
		store.gcTicker = time.NewTicker(5 * time.Minute)
		store.gcStopCh = make(chan struct{})
		store.gcWg.Add(1)
		go store.valueLogGc(store.gcTicker, store.gcStopCh)
	}
	store.db = db
	return store, nil
}

func (s *BadgerStore) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer s.gcWg.Done()
	for {
		select {
		case <-t.C:
		again:
			err := s.db.RunValueLogGC(0.5)
			if err != nil {
				if !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Warn(
						fmt.Sprintf("ledger DB: GC failure: %s", err),
						"component", "ledger",
					)
				}
			} else {
				// Run it again if it just ran successfully
				goto again
			}
		case <-stop:
			return
		}
	}
}

func (s *BadgerStore) Close() error {
	if s.gcTicker != nil {
		s.gcTicker.Stop()
		if s.gcStopCh != nil {
			close(s.gcStopCh)
			s.gcStopCh = nil
		}
		s.gcWg.Wait()
		s.gcTicker = nil
	}
	return s.db.Close()
}

func aggregateKey(key ContentKey) []byte {
	ret := make([]byte, 0, len(aggregateKeyPrefix)+ContentKeySize)
	ret = append(ret, aggregateKeyPrefix...)
	ret = append(ret, key[:]...)
	return ret
}

func positionKey(key ContentKey, user Address) []byte {
	ret := make([]byte, 0, len(positionKeyPrefix)+ContentKeySize+len(user))
	ret = append(ret, positionKeyPrefix...)
	ret = append(ret, key[:]...)
	ret = append(ret, user...)
	return ret
}

func (s *BadgerStore) GetAggregate(key ContentKey) (*Aggregate, error) {
	var ret *Aggregate
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ret, err = getAggregate(txn, key)
		return err
	})
	return ret, err
}

func (s *BadgerStore) GetPosition(
	key ContentKey,
	user Address,
) (*Position, error) {
	var ret *Position
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ret, err = getPosition(txn, key, user)
		return err
	})
	return ret, err
}

func (s *BadgerStore) ListAggregateKeys() ([]ContentKey, error) {
	var ret []ContentKey
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.IteratorOptions{
			Prefix: aggregateKeyPrefix,
		})
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			rawKey := iter.Item().KeyCopy(nil)
			key, ok := ContentKeyFromBytes(rawKey[len(aggregateKeyPrefix):])
			if !ok {
				return fmt.Errorf("malformed aggregate key: %x", rawKey)
			}
			ret = append(ret, key)
		}
		return nil
	})
	return ret, err
}

func (s *BadgerStore) ListPositionUsers(key ContentKey) ([]Address, error) {
	prefix := positionKey(key, nil)
	var ret []Address
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.IteratorOptions{
			Prefix: prefix,
		})
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			rawKey := iter.Item().KeyCopy(nil)
			ret = append(ret, Address(rawKey[len(prefix):]))
		}
		return nil
	})
	return ret, err
}

// Update applies fn in a single badger transaction. Updates are serialized
// to avoid transaction conflicts between concurrent engine operations.
func (s *BadgerStore) Update(fn func(txn Txn) error) error {
	s.updateMutex.Lock()
	defer s.updateMutex.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

type badgerTxn struct {
	txn *badger.Txn
}

func getAggregate(txn *badger.Txn, key ContentKey) (*Aggregate, error) {
	item, err := txn.Get(aggregateKey(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrAggregateNotFound
		}
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	ret := &Aggregate{}
	if err := json.Unmarshal(val, ret); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	return ret, nil
}

func getPosition(
	txn *badger.Txn,
	key ContentKey,
	user Address,
) (*Position, error) {
	item, err := txn.Get(positionKey(key, user))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	ret := &Position{}
	if err := json.Unmarshal(val, ret); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return ret, nil
}

func (t *badgerTxn) GetAggregate(key ContentKey) (*Aggregate, error) {
	return getAggregate(t.txn, key)
}

func (t *badgerTxn) GetPosition(
	key ContentKey,
	user Address,
) (*Position, error) {
	return getPosition(t.txn, key, user)
}

func (t *badgerTxn) SetAggregate(key ContentKey, aggregate *Aggregate) error {
	val, err := json.Marshal(aggregate)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	return t.txn.Set(aggregateKey(key), val)
}

func (t *badgerTxn) SetPosition(
	key ContentKey,
	user Address,
	position *Position,
) error {
	val, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	return t.txn.Set(positionKey(key, user), val)
}

// badgerLogger is a wrapper type to give our logger the interface expected
// by badger
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) Errorf(msg string, args ...any) {
	b.logger.Error(fmt.Sprintf(msg, args...), "component", "ledger")
}

func (b *badgerLogger) Warningf(msg string, args ...any) {
	b.logger.Warn(fmt.Sprintf(msg, args...), "component", "ledger")
}

func (b *badgerLogger) Infof(msg string, args ...any) {
	b.logger.Info(fmt.Sprintf(msg, args...), "component", "ledger")
}

func (b *badgerLogger) Debugf(msg string, args ...any) {
	b.logger.Debug(fmt.Sprintf(msg, args...), "component", "ledger")
}
