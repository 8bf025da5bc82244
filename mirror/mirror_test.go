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

package mirror_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/blinklabs-io/chorus/ledger"
	"github.com/blinklabs-io/chorus/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *mirror.StoreSqlite {
	t.Helper()
	store, err := mirror.NewStoreSqlite()
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func testFields(totalRaw, totalQuad int64) mirror.AggregateFields {
	return mirror.AggregateFields{
		ContentId:       "content-1",
		OwnerScope:      "test-community",
		TotalRaw:        big.NewInt(totalRaw),
		TotalQuadWeight: big.NewInt(totalQuad),
		SupporterCount:  1,
	}
}

func TestUpsertAggregateCreateAndRead(t *testing.T) {
	store := newTestStore(t)
	key := ledger.NewContentKey("content-1").Bytes()
	now := time.Now()

	err := store.UpsertAggregate(key, 1, testFields(400, 20), now)
	require.NoError(t, err)

	record, err := store.GetAggregate(key)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "content-1", record.ContentId)
	assert.Equal(t, "test-community", record.OwnerScope)
	assert.Equal(t, "400", record.TotalRaw.String())
	assert.Equal(t, "20", record.TotalQuadWeight.String())
	assert.Equal(t, uint64(1), record.SupporterCount)
	assert.Equal(t, uint64(1), record.Version)
}

func TestGetAggregateNeverSynced(t *testing.T) {
	store := newTestStore(t)
	record, err := store.GetAggregate(
		ledger.NewContentKey("never-synced").Bytes(),
	)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestUpsertAggregateVersionGuard(t *testing.T) {
	store := newTestStore(t)
	key := ledger.NewContentKey("content-1").Bytes()
	now := time.Now()

	err := store.UpsertAggregate(key, 5, testFields(500, 30), now)
	require.NoError(t, err)
	// A write carrying an older version must be skipped, not applied
	err = store.UpsertAggregate(key, 3, testFields(100, 10), now)
	require.NoError(t, err)

	record, err := store.GetAggregate(key)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, uint64(5), record.Version)
	assert.Equal(t, "500", record.TotalRaw.String())

	// Equal and newer versions apply
	err = store.UpsertAggregate(key, 5, testFields(600, 32), now)
	require.NoError(t, err)
	record, err = store.GetAggregate(key)
	require.NoError(t, err)
	assert.Equal(t, "600", record.TotalRaw.String())
	err = store.UpsertAggregate(key, 9, testFields(700, 34), now)
	require.NoError(t, err)
	record, err = store.GetAggregate(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), record.Version)
	assert.Equal(t, "700", record.TotalRaw.String())
}

func TestUpsertUserSignal(t *testing.T) {
	store := newTestStore(t)
	key := ledger.NewContentKey("content-1").Bytes()
	userA := []byte("user-a")
	userB := []byte("user-b")
	now := time.Now()

	err := store.UpsertUserSignal(
		key,
		userA,
		big.NewInt(400),
		big.NewInt(20),
		now,
	)
	require.NoError(t, err)
	err = store.UpsertUserSignal(
		key,
		userB,
		big.NewInt(100),
		big.NewInt(10),
		now.Add(time.Second),
	)
	require.NoError(t, err)
	// Upsert for an existing (key, user) pair updates in place
	err = store.UpsertUserSignal(
		key,
		userA,
		big.NewInt(350),
		big.NewInt(18),
		now.Add(2*time.Second),
	)
	require.NoError(t, err)

	signals, err := store.GetUserSignals(key)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	// Ordered by most recently updated
	assert.Equal(t, userA, signals[0].User)
	assert.Equal(t, "350", signals[0].RawAmount.String())
	assert.Equal(t, "18", signals[0].QuadWeight.String())
	assert.Equal(t, userB, signals[1].User)
	assert.Equal(t, "100", signals[1].RawAmount.String())
}

func TestUserSignalsScopedToKey(t *testing.T) {
	store := newTestStore(t)
	key1 := ledger.NewContentKey("content-1").Bytes()
	key2 := ledger.NewContentKey("content-2").Bytes()
	now := time.Now()

	err := store.UpsertUserSignal(
		key1,
		[]byte("user-a"),
		big.NewInt(1),
		big.NewInt(1),
		now,
	)
	require.NoError(t, err)

	signals, err := store.GetUserSignals(key2)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestUpsertAggregateLargeValues(t *testing.T) {
	store := newTestStore(t)
	key := ledger.NewContentKey("content-1").Bytes()
	totalRaw := new(big.Int).Exp(big.NewInt(10), big.NewInt(40), nil)
	totalQuad := new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

	err := store.UpsertAggregate(key, 1, mirror.AggregateFields{
		ContentId:       "content-1",
		OwnerScope:      "test-community",
		TotalRaw:        totalRaw,
		TotalQuadWeight: totalQuad,
		SupporterCount:  1,
	}, time.Now())
	require.NoError(t, err)

	record, err := store.GetAggregate(key)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, totalRaw.String(), record.TotalRaw.String())
	assert.Equal(t, totalQuad.String(), record.TotalQuadWeight.String())
}
