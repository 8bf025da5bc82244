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

package sync_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/chorus/custody"
	"github.com/blinklabs-io/chorus/ledger"
	"github.com/blinklabs-io/chorus/mirror"
	"github.com/blinklabs-io/chorus/mirror/models"
	chorussync "github.com/blinklabs-io/chorus/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOwnerScope = "test-community"

type testHarness struct {
	engine      *ledger.Engine
	store       ledger.Store
	tokenLedger *custody.TokenLedger
	mirror      mirror.Store
	client      *chorussync.InProcessClient
}

func newTestHarness(
	t *testing.T,
	mirrorStore mirror.Store,
	clientOpts ...chorussync.InProcessClientOptionFunc,
) *testHarness {
	t.Helper()
	store := ledger.NewMemStore()
	tokenLedger := custody.NewTokenLedger()
	engine := ledger.NewEngine(ledger.EngineConfig{
		Store:   store,
		Custody: tokenLedger,
	})
	if mirrorStore == nil {
		var err error
		mirrorStore, err = mirror.NewStoreSqlite()
		require.NoError(t, err)
		t.Cleanup(func() {
			mirrorStore.Close()
		})
	}
	return &testHarness{
		engine:      engine,
		store:       store,
		tokenLedger: tokenLedger,
		mirror:      mirrorStore,
		client:      chorussync.NewInProcessClient(engine, store, clientOpts...),
	}
}

func (h *testHarness) fund(user ledger.Address, amount int64) {
	h.tokenLedger.Mint(user, big.NewInt(amount))
	h.tokenLedger.Approve(user, big.NewInt(amount))
}

func (h *testHarness) reconciler(user ledger.Address) *chorussync.Reconciler {
	return chorussync.NewReconciler(chorussync.ReconcilerConfig{
		Client:     h.client,
		Mirror:     h.mirror,
		Signer:     user,
		OwnerScope: testOwnerScope,
	})
}

func TestReconcilerPlaceConfirmedAndMirrored(t *testing.T) {
	userA := ledger.Address("user-a")
	h := newTestHarness(t, nil)
	h.fund(userA, 1000)
	reconciler := h.reconciler(userA)

	result, err := reconciler.Place(
		context.Background(),
		"content-1",
		big.NewInt(400),
	)
	require.NoError(t, err)
	assert.Equal(t, chorussync.OutcomeConfirmed, result.Outcome)
	require.NotNil(t, result.Aggregate)
	assert.Equal(t, int64(400), result.Aggregate.TotalRaw.Int64())
	assert.Equal(t, int64(20), result.Aggregate.TotalQuadWeight.Int64())

	// The mirror must match the authoritative state
	key := ledger.NewContentKey("content-1")
	record, err := h.mirror.GetAggregate(key.Bytes())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "400", record.TotalRaw.String())
	assert.Equal(t, "20", record.TotalQuadWeight.String())
	assert.Equal(t, result.Aggregate.Version, record.Version)

	signals, err := h.mirror.GetUserSignals(key.Bytes())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, []byte(userA), signals[0].User)
	assert.Equal(t, "400", signals[0].RawAmount.String())
}

func TestReconcilerWithdrawConfirmedAndMirrored(t *testing.T) {
	userA := ledger.Address("user-a")
	h := newTestHarness(t, nil)
	h.fund(userA, 1000)
	reconciler := h.reconciler(userA)
	ctx := context.Background()

	_, err := reconciler.Place(ctx, "content-1", big.NewInt(400))
	require.NoError(t, err)
	result, err := reconciler.Withdraw(ctx, "content-1", big.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, chorussync.OutcomeConfirmed, result.Outcome)
	assert.Equal(t, int64(350), result.Position.RawAmount.Int64())
	assert.Equal(t, int64(18), result.Position.QuadWeight.Int64())

	record, err := h.mirror.GetAggregate(
		ledger.NewContentKey("content-1").Bytes(),
	)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "350", record.TotalRaw.String())
	assert.Equal(t, "18", record.TotalQuadWeight.String())
}

func TestReconcilerLedgerRejection(t *testing.T) {
	userA := ledger.Address("user-a")
	h := newTestHarness(t, nil)
	// No funding, so the escrow transfer fails at apply time
	reconciler := h.reconciler(userA)

	result, err := reconciler.Place(
		context.Background(),
		"content-1",
		big.NewInt(100),
	)
	require.Error(t, err)
	assert.Equal(t, chorussync.OutcomeRejected, result.Outcome)
	var allowanceErr *custody.InsufficientAllowanceError
	assert.ErrorAs(t, err, &allowanceErr)

	// Nothing to mirror after a rejection
	record, err := h.mirror.GetAggregate(
		ledger.NewContentKey("content-1").Bytes(),
	)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestReconcilerTimeoutIndeterminate(t *testing.T) {
	userA := ledger.Address("user-a")
	h := newTestHarness(
		t,
		nil,
		chorussync.WithFinalityDelay(500*time.Millisecond),
	)
	h.fund(userA, 1000)
	reconciler := chorussync.NewReconciler(chorussync.ReconcilerConfig{
		Client:          h.client,
		Mirror:          h.mirror,
		Signer:          userA,
		OwnerScope:      testOwnerScope,
		FinalityTimeout: 50 * time.Millisecond,
	})

	result, err := reconciler.Place(
		context.Background(),
		"content-1",
		big.NewInt(100),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, chorussync.ErrIndeterminate)
	assert.Equal(t, chorussync.OutcomeIndeterminate, result.Outcome)

	// The operation still lands after the local wait gave up
	require.Eventually(t, func() bool {
		aggregate, err := h.engine.GetAggregate(
			ledger.NewContentKey("content-1"),
		)
		return err == nil && aggregate.Exists
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconcilerMirrorFailureStillConfirms(t *testing.T) {
	userA := ledger.Address("user-a")
	failing := &failingMirror{err: errors.New("mirror down")}
	h := newTestHarness(t, failing)
	h.fund(userA, 1000)
	reconciler := h.reconciler(userA)

	// A broken mirror must never fail the user-visible action
	result, err := reconciler.Place(
		context.Background(),
		"content-1",
		big.NewInt(400),
	)
	require.NoError(t, err)
	assert.Equal(t, chorussync.OutcomeConfirmed, result.Outcome)
}

func TestReconcilerSweepRepairsMirror(t *testing.T) {
	userA := ledger.Address("user-a")
	userB := ledger.Address("user-b")
	failing := &failingMirror{err: errors.New("mirror down")}
	h := newTestHarness(t, failing)
	h.fund(userA, 1000)
	h.fund(userB, 1000)
	ctx := context.Background()

	_, err := h.reconciler(userA).Place(ctx, "content-1", big.NewInt(400))
	require.NoError(t, err)
	_, err = h.reconciler(userB).Place(ctx, "content-1", big.NewInt(100))
	require.NoError(t, err)

	// Swap in a healthy mirror and sweep
	mirrorStore, err := mirror.NewStoreSqlite()
	require.NoError(t, err)
	defer mirrorStore.Close()
	reconciler := chorussync.NewReconciler(chorussync.ReconcilerConfig{
		Client:     h.client,
		Mirror:     mirrorStore,
		OwnerScope: testOwnerScope,
	})
	require.NoError(t, reconciler.Sweep(ctx, "content-1"))

	key := ledger.NewContentKey("content-1")
	record, err := mirrorStore.GetAggregate(key.Bytes())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "500", record.TotalRaw.String())
	assert.Equal(t, "30", record.TotalQuadWeight.String())
	assert.Equal(t, uint64(2), record.SupporterCount)
	signals, err := mirrorStore.GetUserSignals(key.Bytes())
	require.NoError(t, err)
	assert.Len(t, signals, 2)
}

func TestReconcilerSweepSkipsUnknownContent(t *testing.T) {
	h := newTestHarness(t, nil)
	reconciler := h.reconciler(nil)
	err := reconciler.Sweep(context.Background(), "never-signaled")
	require.NoError(t, err)
	record, err := h.mirror.GetAggregate(
		ledger.NewContentKey("never-signaled").Bytes(),
	)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestReconcilerConcurrentConvergence(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	users := []ledger.Address{
		ledger.Address("user-a"),
		ledger.Address("user-b"),
		ledger.Address("user-c"),
		ledger.Address("user-d"),
	}
	for _, user := range users {
		h.fund(user, 1000)
	}

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(user ledger.Address) {
			defer wg.Done()
			reconciler := h.reconciler(user)
			for i := 0; i < 5; i++ {
				_, err := reconciler.Place(ctx, "content-1", big.NewInt(4))
				assert.NoError(t, err)
			}
		}(user)
	}
	wg.Wait()

	// Authoritative totals reflect every place exactly once
	key := ledger.NewContentKey("content-1")
	aggregate, err := h.engine.GetAggregate(key)
	require.NoError(t, err)
	assert.Equal(t, int64(80), aggregate.TotalRaw.Int64())
	assert.Equal(t, uint64(4), aggregate.SupporterCount)
	// Each user holds 20 raw, so total weight is 4*isqrt(20)
	assert.Equal(t, int64(16), aggregate.TotalQuadWeight.Int64())

	// A final sweep leaves the mirror byte-for-byte current
	require.NoError(
		t,
		h.reconciler(nil).Sweep(ctx, "content-1"),
	)
	record, err := h.mirror.GetAggregate(key.Bytes())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "80", record.TotalRaw.String())
	assert.Equal(t, aggregate.Version, record.Version)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "confirmed", chorussync.OutcomeConfirmed.String())
	assert.Equal(t, "rejected", chorussync.OutcomeRejected.String())
	assert.Equal(
		t,
		"indeterminate",
		chorussync.OutcomeIndeterminate.String(),
	)
}

type failingMirror struct {
	err error
}

func (m *failingMirror) UpsertAggregate(
	contentKey []byte,
	version uint64,
	fields mirror.AggregateFields,
	syncedAt time.Time,
) error {
	return m.err
}

func (m *failingMirror) UpsertUserSignal(
	contentKey []byte,
	user []byte,
	rawAmount *big.Int,
	quadWeight *big.Int,
	updatedAt time.Time,
) error {
	return m.err
}

func (m *failingMirror) GetAggregate(
	contentKey []byte,
) (*models.AggregateMirror, error) {
	return nil, m.err
}

func (m *failingMirror) GetUserSignals(
	contentKey []byte,
) ([]models.UserSignal, error) {
	return nil, m.err
}

func (m *failingMirror) Close() error {
	return nil
}
