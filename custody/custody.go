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

// Package custody defines the token escrow contract the signal engine
// depends on, along with an in-memory fungible token ledger implementing
// the standard approve-then-transfer protocol.
package custody

import (
	"fmt"
	"math/big"
	"sync"
)

// Custody moves the underlying fungible token between a user's balance and
// the engine's escrow. EscrowTransferIn must be all-or-nothing: on error no
// balance has moved and the engine aborts the enclosing operation.
// EscrowTransferOut is only ever called with amounts the engine has
// previously escrowed, so failure there indicates a broken engine invariant.
type Custody interface {
	EscrowTransferIn(from []byte, amount *big.Int) error
	EscrowTransferOut(to []byte, amount *big.Int) error
}

// InsufficientFundsError is returned when a transfer exceeds the holder's balance
type InsufficientFundsError struct {
	Requested *big.Int
	Balance   *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"insufficient funds: requested=%s, balance=%s",
		e.Requested.String(),
		e.Balance.String(),
	)
}

// InsufficientAllowanceError is returned when a transfer exceeds the
// allowance the holder has approved for the escrow
type InsufficientAllowanceError struct {
	Requested *big.Int
	Allowance *big.Int
}

func (e *InsufficientAllowanceError) Error() string {
	return fmt.Sprintf(
		"insufficient allowance: requested=%s, allowance=%s",
		e.Requested.String(),
		e.Allowance.String(),
	)
}

// TokenLedger is an in-memory fungible token ledger with a single escrow
// account. It satisfies Custody for dev mode and tests; in production the
// engine calls into the token contract of the host ledger instead.
type TokenLedger struct {
	balances    map[string]*big.Int
	allowances  map[string]*big.Int
	funded      map[string]bool
	escrow      *big.Int
	devIssuance *big.Int
	mu          sync.Mutex
}

// TokenLedgerOptionFunc is a type that represents functions that modify the token ledger config
type TokenLedgerOptionFunc func(*TokenLedger)

// WithDevIssuance mints and approves the given amount for each holder the
// first time it escrows. This makes a fresh dev node usable without an
// out-of-band funding step; a production custody backend never does this
func WithDevIssuance(amount *big.Int) TokenLedgerOptionFunc {
	return func(t *TokenLedger) {
		t.devIssuance = new(big.Int).Set(amount)
	}
}

func NewTokenLedger(opts ...TokenLedgerOptionFunc) *TokenLedger {
	t := &TokenLedger{
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		funded:     make(map[string]bool),
		escrow:     new(big.Int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Mint credits amount to the holder's balance
func (t *TokenLedger) Mint(holder []byte, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balance(holder)
	bal.Add(bal, amount)
}

// Approve sets the amount the escrow may pull from the holder's balance.
// This replaces any previous allowance rather than adding to it.
func (t *TokenLedger) Approve(holder []byte, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[string(holder)] = new(big.Int).Set(amount)
}

// BalanceOf returns the holder's current balance
func (t *TokenLedger) BalanceOf(holder []byte) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(holder))
}

// Allowance returns the holder's remaining escrow allowance
func (t *TokenLedger) Allowance(holder []byte) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowance(holder))
}

// EscrowBalance returns the total tokens currently held in escrow
func (t *TokenLedger) EscrowBalance() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.escrow)
}

// EscrowTransferIn moves amount from the holder's balance into escrow,
// consuming allowance. All checks happen before any mutation.
func (t *TokenLedger) EscrowTransferIn(from []byte, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fund(from)
	allowance := t.allowance(from)
	if allowance.Cmp(amount) < 0 {
		return &InsufficientAllowanceError{
			Requested: new(big.Int).Set(amount),
			Allowance: new(big.Int).Set(allowance),
		}
	}
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		return &InsufficientFundsError{
			Requested: new(big.Int).Set(amount),
			Balance:   new(big.Int).Set(bal),
		}
	}
	bal.Sub(bal, amount)
	allowance.Sub(allowance, amount)
	t.escrow.Add(t.escrow, amount)
	return nil
}

// EscrowTransferOut returns amount from escrow to the holder's balance
func (t *TokenLedger) EscrowTransferOut(to []byte, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.escrow.Cmp(amount) < 0 {
		// The engine only releases what it escrowed, so this is a broken
		// invariant rather than a user-level failure
		panic(fmt.Sprintf(
			"custody: escrow underflow: requested=%s, escrow=%s",
			amount.String(),
			t.escrow.String(),
		))
	}
	t.escrow.Sub(t.escrow, amount)
	bal := t.balance(to)
	bal.Add(bal, amount)
	return nil
}

// fund applies the one-time dev issuance for a holder. Caller must hold the lock
func (t *TokenLedger) fund(holder []byte) {
	if t.devIssuance == nil || t.funded[string(holder)] {
		return
	}
	t.funded[string(holder)] = true
	bal := t.balance(holder)
	bal.Add(bal, t.devIssuance)
	allowance := t.allowance(holder)
	allowance.Add(allowance, t.devIssuance)
}

func (t *TokenLedger) balance(holder []byte) *big.Int {
	bal, ok := t.balances[string(holder)]
	if !ok {
		bal = new(big.Int)
		t.balances[string(holder)] = bal
	}
	return bal
}

func (t *TokenLedger) allowance(holder []byte) *big.Int {
	allowance, ok := t.allowances[string(holder)]
	if !ok {
		allowance = new(big.Int)
		t.allowances[string(holder)] = allowance
	}
	return allowance
}
