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
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/blinklabs-io/chorus/custody"
	"github.com/blinklabs-io/chorus/event"
	"github.com/blinklabs-io/chorus/quad"
	"github.com/prometheus/client_golang/prometheus"
)

type EngineConfig struct {
	Store        Store
	Custody      custody.Custody
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Engine is the state machine over (Position, Aggregate) pairs. Each
// operation applies atomically via the store: either the whole transition
// is visible afterward or none of it is. The engine assumes the store
// totally orders operations (the host ledger's native serialization) and
// takes no additional locks of its own.
type Engine struct {
	store    Store
	custody  custody.Custody
	eventBus *event.EventBus
	logger   *slog.Logger
	metrics  engineMetrics
}

// SignalReceipt carries the post-operation position and aggregate back to
// the caller, for optimistic UI and for the reconciliation protocol.
type SignalReceipt struct {
	ContentKey ContentKey
	Position   *Position
	Aggregate  *Aggregate
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		store:    cfg.Store,
		custody:  cfg.Custody,
		eventBus: cfg.EventBus,
		logger:   cfg.Logger,
	}
	if e.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e.metrics.init(cfg.PromRegistry)
	return e
}

// DeriveKey resolves a content identifier to its ledger key. Pure and
// deterministic.
func (e *Engine) DeriveKey(contentId string) ContentKey {
	return NewContentKey(contentId)
}

// GetAggregate returns the aggregate for a key. A key that has never seen
// a place returns a zeroed aggregate with Exists false rather than an error.
func (e *Engine) GetAggregate(key ContentKey) (*Aggregate, error) {
	aggregate, err := e.store.GetAggregate(key)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) {
			return &Aggregate{
				TotalRaw:        new(big.Int),
				TotalQuadWeight: new(big.Int),
			}, nil
		}
		return nil, err
	}
	return aggregate, nil
}

// GetPosition returns the signer's position for a key. Absent positions
// read as zero, matching their implicit creation on first place.
func (e *Engine) GetPosition(
	key ContentKey,
	user Address,
) (*Position, error) {
	position, err := e.store.GetPosition(key, user)
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			return NewPosition(), nil
		}
		return nil, err
	}
	return position, nil
}

// Place commits amount tokens from the signer to the content, moving the
// tokens into escrow and updating the signer's position and the content's
// aggregate under quadratic weighting.
func (e *Engine) Place(
	contentId string,
	ownerScope string,
	signer Address,
	amount *big.Int,
) (*SignalReceipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		e.metrics.rejectionsTotal.WithLabelValues("place").Inc()
		return nil, ErrZeroAmount
	}
	key := NewContentKey(contentId)
	receipt := &SignalReceipt{ContentKey: key}
	escrowed := false
	err := e.store.Update(func(txn Txn) error {
		// Create the aggregate if absent; otherwise guard the owner scope
		aggregate, err := txn.GetAggregate(key)
		if err != nil {
			if !errors.Is(err, ErrAggregateNotFound) {
				return err
			}
			aggregate = NewAggregate(contentId, ownerScope)
		} else if aggregate.OwnerScope != ownerScope {
			return fmt.Errorf(
				"%w: have %q, aggregate has %q",
				ErrScopeMismatch,
				ownerScope,
				aggregate.OwnerScope,
			)
		}
		position, err := txn.GetPosition(key, signer)
		if err != nil {
			if !errors.Is(err, ErrPositionNotFound) {
				return err
			}
			position = NewPosition()
		}
		oldWeight := new(big.Int).Set(position.QuadWeight)
		wasActive := position.RawAmount.Sign() > 0
		position.RawAmount.Add(position.RawAmount, amount)
		position.QuadWeight = quad.Weight(position.RawAmount)
		if !wasActive {
			aggregate.SupporterCount++
		}
		aggregate.TotalRaw.Add(aggregate.TotalRaw, amount)
		// Weight totals sum per-user roots; apply this user's delta only
		weightDelta := new(big.Int).Sub(position.QuadWeight, oldWeight)
		aggregate.TotalQuadWeight.Add(aggregate.TotalQuadWeight, weightDelta)
		aggregate.Version++
		if err := txn.SetPosition(key, signer, position); err != nil {
			return err
		}
		if err := txn.SetAggregate(key, aggregate); err != nil {
			return err
		}
		// Move tokens into escrow only once every ledger write has staged.
		// A failed transfer still aborts the whole transaction; a commit
		// failure after this point is compensated below.
		if err := e.custody.EscrowTransferIn(signer, amount); err != nil {
			return err
		}
		escrowed = true
		receipt.Position = position.Copy()
		receipt.Aggregate = aggregate.Copy()
		return nil
	})
	if err != nil {
		if escrowed {
			// The store rolled back after tokens moved into escrow. Return
			// them so escrow keeps matching the recorded positions.
			if outErr := e.custody.EscrowTransferOut(signer, amount); outErr != nil {
				err = errors.Join(err, outErr)
			}
		}
		e.metrics.rejectionsTotal.WithLabelValues("place").Inc()
		return nil, err
	}
	e.metrics.placesTotal.Inc()
	e.publishEvent(
		event.SignalPlacedEventType,
		contentId,
		signer,
		amount,
		receipt,
	)
	return receipt, nil
}

// Withdraw returns amount tokens from escrow to the signer, updating their
// position and the content's aggregate. Withdrawing more than the recorded
// position rejects with no state change; there is no negative-balance state.
func (e *Engine) Withdraw(
	contentId string,
	signer Address,
	amount *big.Int,
) (*SignalReceipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		e.metrics.rejectionsTotal.WithLabelValues("withdraw").Inc()
		return nil, ErrZeroAmount
	}
	key := NewContentKey(contentId)
	receipt := &SignalReceipt{ContentKey: key}
	err := e.store.Update(func(txn Txn) error {
		aggregate, err := txn.GetAggregate(key)
		if err != nil {
			if errors.Is(err, ErrAggregateNotFound) {
				return ErrUnknownContent
			}
			return err
		}
		position, err := txn.GetPosition(key, signer)
		if err != nil {
			if !errors.Is(err, ErrPositionNotFound) {
				return err
			}
			position = NewPosition()
		}
		if position.RawAmount.Cmp(amount) < 0 {
			return &OverdraftError{
				Requested: new(big.Int).Set(amount),
				Held:      new(big.Int).Set(position.RawAmount),
			}
		}
		oldWeight := new(big.Int).Set(position.QuadWeight)
		position.RawAmount.Sub(position.RawAmount, amount)
		position.QuadWeight = quad.Weight(position.RawAmount)
		// Isqrt is monotonic, so the weight delta is always non-negative
		// here. Anything else means the aggregation invariant was broken
		// elsewhere and is fatal.
		weightDelta := new(big.Int).Sub(oldWeight, position.QuadWeight)
		if weightDelta.Sign() < 0 {
			panic("ledger: negative weight delta on withdraw")
		}
		if position.RawAmount.Sign() == 0 {
			if aggregate.SupporterCount == 0 {
				panic("ledger: supporter count underflow")
			}
			aggregate.SupporterCount--
		}
		aggregate.TotalRaw.Sub(aggregate.TotalRaw, amount)
		aggregate.TotalQuadWeight.Sub(aggregate.TotalQuadWeight, weightDelta)
		if aggregate.TotalRaw.Sign() < 0 ||
			aggregate.TotalQuadWeight.Sign() < 0 {
			panic("ledger: aggregate total underflow")
		}
		aggregate.Version++
		if err := txn.SetPosition(key, signer, position); err != nil {
			return err
		}
		if err := txn.SetAggregate(key, aggregate); err != nil {
			return err
		}
		receipt.Position = position.Copy()
		receipt.Aggregate = aggregate.Copy()
		return nil
	})
	if err != nil {
		e.metrics.rejectionsTotal.WithLabelValues("withdraw").Inc()
		return nil, err
	}
	// Return escrowed tokens only after the ledger mutation has committed.
	// If the commit fails the position is untouched and nothing was paid
	// out, so the signer cannot withdraw the same tokens twice. The amount
	// was escrowed by earlier places, so a failure here means the custody
	// invariant is already broken; the tokens stay in escrow.
	if err := e.custody.EscrowTransferOut(signer, amount); err != nil {
		e.metrics.rejectionsTotal.WithLabelValues("withdraw").Inc()
		return nil, fmt.Errorf("escrow release after commit: %w", err)
	}
	e.metrics.withdrawalsTotal.Inc()
	e.publishEvent(
		event.SignalWithdrawnEventType,
		contentId,
		signer,
		new(big.Int).Neg(amount),
		receipt,
	)
	return receipt, nil
}

func (e *Engine) publishEvent(
	eventType event.EventType,
	contentId string,
	signer Address,
	amountDelta *big.Int,
	receipt *SignalReceipt,
) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Publish(
		eventType,
		event.NewEvent(
			eventType,
			event.SignalEvent{
				ContentKey:     receipt.ContentKey.Bytes(),
				ContentId:      contentId,
				User:           signer,
				AmountDelta:    amountDelta,
				UserRawAfter:   new(big.Int).Set(receipt.Position.RawAmount),
				UserQuadAfter:  new(big.Int).Set(receipt.Position.QuadWeight),
				TotalRawAfter:  new(big.Int).Set(receipt.Aggregate.TotalRaw),
				TotalQuadAfter: new(big.Int).Set(receipt.Aggregate.TotalQuadWeight),
				Version:        receipt.Aggregate.Version,
				Timestamp:      time.Now(),
			},
		),
	)
}
