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

// Package sync implements the client-side reconciliation protocol that
// bridges the authoritative signal ledger and the eventually-consistent
// mirror store.
package sync

import (
	"context"
	"math/big"
	"time"

	"github.com/blinklabs-io/chorus/ledger"
)

// OpHandle tracks a submitted ledger operation until finality
type OpHandle struct {
	done chan struct{}
	err  error
}

func newOpHandle() *OpHandle {
	return &OpHandle{done: make(chan struct{})}
}

func (h *OpHandle) finalize(err error) {
	h.err = err
	close(h.done)
}

// LedgerClient is the submit/await/read contract against the authoritative
// ledger. Reads always reflect finalized state; submissions are applied in
// the order the ledger serializes them, not the order of submission.
type LedgerClient interface {
	SubmitPlace(
		ctx context.Context,
		contentId string,
		ownerScope string,
		signer ledger.Address,
		amount *big.Int,
	) (*OpHandle, error)
	SubmitWithdraw(
		ctx context.Context,
		contentId string,
		signer ledger.Address,
		amount *big.Int,
	) (*OpHandle, error)
	// WaitFinality blocks until the operation is irreversibly included or
	// the context ends. Cancellation stops the local wait only; it never
	// retracts a submitted operation.
	WaitFinality(ctx context.Context, handle *OpHandle) error
	GetAggregate(
		ctx context.Context,
		key ledger.ContentKey,
	) (*ledger.Aggregate, error)
	GetPosition(
		ctx context.Context,
		key ledger.ContentKey,
		user ledger.Address,
	) (*ledger.Position, error)
	ListPositionUsers(
		ctx context.Context,
		key ledger.ContentKey,
	) ([]ledger.Address, error)
	DeriveKey(contentId string) ledger.ContentKey
}

// InProcessClient adapts a local ledger engine to the LedgerClient
// contract. Finality is immediate by default; a configurable delay can
// simulate inclusion latency in tests and dev mode.
type InProcessClient struct {
	engine        *ledger.Engine
	store         ledger.Store
	finalityDelay time.Duration
}

type InProcessClientOptionFunc func(*InProcessClient)

// WithFinalityDelay specifies an artificial delay between submission and
// finality. The default is immediate finality
func WithFinalityDelay(delay time.Duration) InProcessClientOptionFunc {
	return func(c *InProcessClient) {
		c.finalityDelay = delay
	}
}

func NewInProcessClient(
	engine *ledger.Engine,
	store ledger.Store,
	opts ...InProcessClientOptionFunc,
) *InProcessClient {
	c := &InProcessClient{
		engine: engine,
		store:  store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *InProcessClient) SubmitPlace(
	ctx context.Context,
	contentId string,
	ownerScope string,
	signer ledger.Address,
	amount *big.Int,
) (*OpHandle, error) {
	handle := newOpHandle()
	go func() {
		if c.finalityDelay > 0 {
			time.Sleep(c.finalityDelay)
		}
		_, err := c.engine.Place(contentId, ownerScope, signer, amount)
		handle.finalize(err)
	}()
	return handle, nil
}

func (c *InProcessClient) SubmitWithdraw(
	ctx context.Context,
	contentId string,
	signer ledger.Address,
	amount *big.Int,
) (*OpHandle, error) {
	handle := newOpHandle()
	go func() {
		if c.finalityDelay > 0 {
			time.Sleep(c.finalityDelay)
		}
		_, err := c.engine.Withdraw(contentId, signer, amount)
		handle.finalize(err)
	}()
	return handle, nil
}

func (c *InProcessClient) WaitFinality(
	ctx context.Context,
	handle *OpHandle,
) error {
	select {
	case <-handle.done:
		return handle.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *InProcessClient) GetAggregate(
	ctx context.Context,
	key ledger.ContentKey,
) (*ledger.Aggregate, error) {
	return c.engine.GetAggregate(key)
}

func (c *InProcessClient) GetPosition(
	ctx context.Context,
	key ledger.ContentKey,
	user ledger.Address,
) (*ledger.Position, error) {
	return c.engine.GetPosition(key, user)
}

func (c *InProcessClient) ListPositionUsers(
	ctx context.Context,
	key ledger.ContentKey,
) ([]ledger.Address, error) {
	return c.store.ListPositionUsers(key)
}

func (c *InProcessClient) DeriveKey(contentId string) ledger.ContentKey {
	return c.engine.DeriveKey(contentId)
}
