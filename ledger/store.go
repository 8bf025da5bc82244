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
	"errors"
	"sync"
)

// Txn is the mutation surface available inside a store update. Reads
// observe writes made earlier in the same update.
type Txn interface {
	GetAggregate(key ContentKey) (*Aggregate, error)
	GetPosition(key ContentKey, user Address) (*Position, error)
	SetAggregate(key ContentKey, aggregate *Aggregate) error
	SetPosition(key ContentKey, user Address, position *Position) error
}

// Store holds the authoritative aggregate and position records. Update
// applies the given function atomically: either every write it makes is
// visible afterward or none of them are. Operations against the same store
// are totally ordered, matching the host ledger's native serialization.
type Store interface {
	GetAggregate(key ContentKey) (*Aggregate, error)
	GetPosition(key ContentKey, user Address) (*Position, error)
	ListAggregateKeys() ([]ContentKey, error)
	ListPositionUsers(key ContentKey) ([]Address, error)
	Update(fn func(txn Txn) error) error
	Close() error
}

// MemStore is a mutex-guarded in-memory Store, used for tests and dev mode
type MemStore struct {
	aggregates map[ContentKey]*Aggregate
	positions  map[ContentKey]map[string]*Position
	mu         sync.RWMutex
}

func NewMemStore() *MemStore {
	return &MemStore{
		aggregates: make(map[ContentKey]*Aggregate),
		positions:  make(map[ContentKey]map[string]*Position),
	}
}

func (s *MemStore) GetAggregate(key ContentKey) (*Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	aggregate, ok := s.aggregates[key]
	if !ok {
		return nil, ErrAggregateNotFound
	}
	return aggregate.Copy(), nil
}

func (s *MemStore) GetPosition(
	key ContentKey,
	user Address,
) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users, ok := s.positions[key]
	if !ok {
		return nil, ErrPositionNotFound
	}
	position, ok := users[string(user)]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return position.Copy(), nil
}

func (s *MemStore) ListAggregateKeys() ([]ContentKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]ContentKey, 0, len(s.aggregates))
	for key := range s.aggregates {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *MemStore) ListPositionUsers(key ContentKey) ([]Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]Address, 0, len(s.positions[key]))
	for user := range s.positions[key] {
		users = append(users, Address(user))
	}
	return users, nil
}

// Update applies fn under the write lock. Writes are staged and only
// merged into the live maps when fn returns nil.
func (s *MemStore) Update(fn func(txn Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn := &memTxn{
		store:      s,
		aggregates: make(map[ContentKey]*Aggregate),
		positions:  make(map[ContentKey]map[string]*Position),
	}
	if err := fn(txn); err != nil {
		return err
	}
	// Merge staged writes
	for key, aggregate := range txn.aggregates {
		s.aggregates[key] = aggregate
	}
	for key, users := range txn.positions {
		if _, ok := s.positions[key]; !ok {
			s.positions[key] = make(map[string]*Position)
		}
		for user, position := range users {
			s.positions[key][user] = position
		}
	}
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

type memTxn struct {
	store      *MemStore
	aggregates map[ContentKey]*Aggregate
	positions  map[ContentKey]map[string]*Position
}

func (t *memTxn) GetAggregate(key ContentKey) (*Aggregate, error) {
	if aggregate, ok := t.aggregates[key]; ok {
		return aggregate.Copy(), nil
	}
	aggregate, ok := t.store.aggregates[key]
	if !ok {
		return nil, ErrAggregateNotFound
	}
	return aggregate.Copy(), nil
}

func (t *memTxn) GetPosition(
	key ContentKey,
	user Address,
) (*Position, error) {
	if users, ok := t.positions[key]; ok {
		if position, ok := users[string(user)]; ok {
			return position.Copy(), nil
		}
	}
	users, ok := t.store.positions[key]
	if !ok {
		return nil, ErrPositionNotFound
	}
	position, ok := users[string(user)]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return position.Copy(), nil
}

func (t *memTxn) SetAggregate(key ContentKey, aggregate *Aggregate) error {
	if aggregate == nil {
		return errors.New("nil aggregate")
	}
	t.aggregates[key] = aggregate.Copy()
	return nil
}

func (t *memTxn) SetPosition(
	key ContentKey,
	user Address,
	position *Position,
) error {
	if position == nil {
		return errors.New("nil position")
	}
	if _, ok := t.positions[key]; !ok {
		t.positions[key] = make(map[string]*Position)
	}
	t.positions[key][string(user)] = position.Copy()
	return nil
}
