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

package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/blinklabs-io/chorus/ledger"
	"github.com/blinklabs-io/chorus/mirror"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultFinalityTimeout bounds how long a reconciliation waits for the
// ledger to report finality before declaring the outcome indeterminate
const DefaultFinalityTimeout = 30 * time.Second

// Outcome is the three-state result of a reconciled signal action
type Outcome int

const (
	// OutcomeConfirmed means the operation reached finality and its
	// effects were re-read from the ledger
	OutcomeConfirmed Outcome = iota
	// OutcomeRejected means the ledger rejected the operation with no
	// state change. Rejections are deterministic preconditions, never
	// transient.
	OutcomeRejected
	// OutcomeIndeterminate means finality could not be confirmed within
	// budget. The operation may still land: callers must re-check ledger
	// state before retrying, because a blind retry risks a double place.
	OutcomeIndeterminate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeIndeterminate:
		return "indeterminate"
	default:
		return fmt.Sprintf("unknown (%d)", int(o))
	}
}

// ErrIndeterminate is returned when an operation's outcome could not be
// confirmed within the finality timeout. It is deliberately distinct from
// failure: mapping it to failure invites double submission.
var ErrIndeterminate = errors.New(
	"operation outcome indeterminate: verify ledger state before retrying",
)

// SyncResult carries the outcome of a reconciled signal action along with
// the authoritative position and aggregate re-read after finality
type SyncResult struct {
	Outcome   Outcome
	Position  *ledger.Position
	Aggregate *ledger.Aggregate
}

type ReconcilerConfig struct {
	Client          LedgerClient
	Mirror          mirror.Store
	Signer          ledger.Address
	OwnerScope      string
	FinalityTimeout time.Duration
	Logger          *slog.Logger
	PromRegistry    prometheus.Registerer
}

// Reconciler runs the five-step reconciliation protocol for user-initiated
// signal actions: submit, await finality, re-read authoritative state,
// version-guarded mirror write. Multiple reconcilers may race on the same
// content key; the mirror's version guard makes their writes commute.
type Reconciler struct {
	client          LedgerClient
	mirror          mirror.Store
	signer          ledger.Address
	ownerScope      string
	finalityTimeout time.Duration
	logger          *slog.Logger
	metrics         reconcilerMetrics
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		client:          cfg.Client,
		mirror:          cfg.Mirror,
		signer:          cfg.Signer,
		ownerScope:      cfg.OwnerScope,
		finalityTimeout: cfg.FinalityTimeout,
		logger:          cfg.Logger,
	}
	if r.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if r.finalityTimeout <= 0 {
		r.finalityTimeout = DefaultFinalityTimeout
	}
	r.metrics.init(cfg.PromRegistry)
	return r
}

// Place submits a place intent and reconciles the mirror once it is final
func (r *Reconciler) Place(
	ctx context.Context,
	contentId string,
	amount *big.Int,
) (*SyncResult, error) {
	handle, err := r.client.SubmitPlace(
		ctx,
		contentId,
		r.ownerScope,
		r.signer,
		amount,
	)
	if err != nil {
		// Never submitted, so a retry is safe
		r.metrics.actionsTotal.WithLabelValues("place", "rejected").Inc()
		return &SyncResult{Outcome: OutcomeRejected}, fmt.Errorf(
			"submit place: %w",
			err,
		)
	}
	return r.awaitAndReconcile(ctx, "place", contentId, handle)
}

// Withdraw submits a withdraw intent and reconciles the mirror once it is
// final
func (r *Reconciler) Withdraw(
	ctx context.Context,
	contentId string,
	amount *big.Int,
) (*SyncResult, error) {
	handle, err := r.client.SubmitWithdraw(ctx, contentId, r.signer, amount)
	if err != nil {
		r.metrics.actionsTotal.WithLabelValues("withdraw", "rejected").Inc()
		return &SyncResult{Outcome: OutcomeRejected}, fmt.Errorf(
			"submit withdraw: %w",
			err,
		)
	}
	return r.awaitAndReconcile(ctx, "withdraw", contentId, handle)
}

func (r *Reconciler) awaitAndReconcile(
	ctx context.Context,
	op string,
	contentId string,
	handle *OpHandle,
) (*SyncResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.finalityTimeout)
	defer cancel()
	if err := r.client.WaitFinality(waitCtx, handle); err != nil {
		if errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, context.Canceled) {
			// The operation may still land after the local wait stopped
			r.metrics.actionsTotal.WithLabelValues(op, "indeterminate").Inc()
			r.logger.Warn(
				"finality not confirmed within budget",
				"component", "sync",
				"op", op,
				"content_id", contentId,
			)
			return &SyncResult{Outcome: OutcomeIndeterminate}, fmt.Errorf(
				"%w: %s of %s",
				ErrIndeterminate,
				op,
				contentId,
			)
		}
		// Deterministic ledger rejection, no state change
		r.metrics.actionsTotal.WithLabelValues(op, "rejected").Inc()
		return &SyncResult{Outcome: OutcomeRejected}, err
	}
	result := &SyncResult{Outcome: OutcomeConfirmed}
	r.metrics.actionsTotal.WithLabelValues(op, "confirmed").Inc()
	// Re-read authoritative state rather than trusting locally computed
	// deltas: concurrent signals from other users may have landed between
	// submission and finality
	key := r.client.DeriveKey(contentId)
	aggregate, err := r.client.GetAggregate(ctx, key)
	if err != nil {
		r.mirrorDesync(op, contentId, err)
		return result, nil
	}
	position, err := r.client.GetPosition(ctx, key, r.signer)
	if err != nil {
		r.mirrorDesync(op, contentId, err)
		return result, nil
	}
	result.Aggregate = aggregate
	result.Position = position
	// Mirror write failure never fails the user-visible action; a later
	// sweep repairs the mirror from ledger state
	if err := r.writeMirror(key, aggregate, position); err != nil {
		r.mirrorDesync(op, contentId, err)
	}
	return result, nil
}

func (r *Reconciler) writeMirror(
	key ledger.ContentKey,
	aggregate *ledger.Aggregate,
	position *ledger.Position,
) error {
	now := time.Now()
	err := r.mirror.UpsertAggregate(
		key.Bytes(),
		aggregate.Version,
		mirror.AggregateFields{
			ContentId:       aggregate.ContentId,
			OwnerScope:      aggregate.OwnerScope,
			TotalRaw:        aggregate.TotalRaw,
			TotalQuadWeight: aggregate.TotalQuadWeight,
			SupporterCount:  aggregate.SupporterCount,
		},
		now,
	)
	if err != nil {
		return err
	}
	return r.mirror.UpsertUserSignal(
		key.Bytes(),
		r.signer,
		position.RawAmount,
		position.QuadWeight,
		now,
	)
}

func (r *Reconciler) mirrorDesync(op, contentId string, err error) {
	r.metrics.desyncTotal.Inc()
	r.logger.Error(
		"mirror desync: ledger operation is final but mirror was not updated",
		"component", "sync",
		"op", op,
		"content_id", contentId,
		"error", err,
	)
}

// Sweep re-reads the authoritative aggregate and positions for each
// content identifier and re-applies the version-guarded mirror writes.
// It is the repair path for mirror desync and is safe to run concurrently
// with live reconciliations.
func (r *Reconciler) Sweep(ctx context.Context, contentIds ...string) error {
	var errs []error
	for _, contentId := range contentIds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key := r.client.DeriveKey(contentId)
		if err := r.SweepKey(ctx, key); err != nil {
			errs = append(
				errs,
				fmt.Errorf("sweep %s: %w", contentId, err),
			)
		}
	}
	r.metrics.sweepsTotal.Inc()
	return errors.Join(errs...)
}

// SweepKey repairs the mirror records for a single content key from
// authoritative ledger state
func (r *Reconciler) SweepKey(ctx context.Context, key ledger.ContentKey) error {
	aggregate, err := r.client.GetAggregate(ctx, key)
	if err != nil {
		return err
	}
	if !aggregate.Exists {
		// Never signaled, nothing to mirror
		return nil
	}
	now := time.Now()
	err = r.mirror.UpsertAggregate(
		key.Bytes(),
		aggregate.Version,
		mirror.AggregateFields{
			ContentId:       aggregate.ContentId,
			OwnerScope:      aggregate.OwnerScope,
			TotalRaw:        aggregate.TotalRaw,
			TotalQuadWeight: aggregate.TotalQuadWeight,
			SupporterCount:  aggregate.SupporterCount,
		},
		now,
	)
	if err != nil {
		return err
	}
	users, err := r.client.ListPositionUsers(ctx, key)
	if err != nil {
		return err
	}
	var errs []error
	for _, user := range users {
		position, err := r.client.GetPosition(ctx, key, user)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		err = r.mirror.UpsertUserSignal(
			key.Bytes(),
			user,
			position.RawAmount,
			position.QuadWeight,
			now,
		)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
