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

// Package chorus wires the quadratic signal ledger, its token custody, the
// off-chain mirror, and the reconciliation protocol into a runnable node.
package chorus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/chorus/custody"
	"github.com/blinklabs-io/chorus/event"
	"github.com/blinklabs-io/chorus/ledger"
	"github.com/blinklabs-io/chorus/mirror"
	chorussync "github.com/blinklabs-io/chorus/sync"
)

type Node struct {
	eventBus      *event.EventBus
	ledgerStore   ledger.Store
	tokenLedger   *custody.TokenLedger
	engine        *ledger.Engine
	mirrorStore   *mirror.StoreSqlite
	client        *chorussync.InProcessClient
	shutdownFuncs []func(context.Context) error
	config        Config
	sweepStopCh   chan struct{}
	sweepWg       sync.WaitGroup
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	return n, nil
}

func (n *Node) Run() error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Open ledger store
	var ledgerStore ledger.Store
	if n.config.dataDir == "" {
		ledgerStore = ledger.NewMemStore()
	} else {
		badgerStore, err := ledger.NewBadgerStore(
			ledger.WithDataDir(n.config.dataDir),
			ledger.WithLogger(n.config.logger),
		)
		if err != nil {
			return fmt.Errorf("failed to open ledger store: %w", err)
		}
		ledgerStore = badgerStore
	}
	n.ledgerStore = ledgerStore
	// Token custody. Without dev issuance the ledger starts empty and
	// signers must be funded via TokenLedger before placing
	var custodyOpts []custody.TokenLedgerOptionFunc
	if n.config.devIssuance != nil {
		custodyOpts = append(
			custodyOpts,
			custody.WithDevIssuance(n.config.devIssuance),
		)
	}
	n.tokenLedger = custody.NewTokenLedger(custodyOpts...)
	// Signal engine
	n.engine = ledger.NewEngine(ledger.EngineConfig{
		Store:        n.ledgerStore,
		Custody:      n.tokenLedger,
		EventBus:     n.eventBus,
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
	})
	// Mirror store
	mirrorStore, err := mirror.NewStoreSqlite(
		mirror.WithDataDir(n.config.dataDir),
		mirror.WithLogger(n.config.logger),
		mirror.WithPromRegistry(n.config.promRegistry),
	)
	if err != nil {
		return fmt.Errorf("failed to open mirror store: %w", err)
	}
	n.mirrorStore = mirrorStore
	// Ledger client
	n.client = chorussync.NewInProcessClient(n.engine, n.ledgerStore)
	// Periodic mirror repair sweep
	if n.config.sweepInterval > 0 {
		n.sweepStopCh = make(chan struct{})
		n.sweepWg.Add(1)
		go n.sweepLoop()
	}
	// Wait for shutdown signal
	<-n.done
	return nil
}

// Engine returns the signal engine for direct (authoritative) access
func (n *Node) Engine() *ledger.Engine {
	return n.engine
}

// Mirror returns the mirror store for presentation-layer reads
func (n *Node) Mirror() *mirror.StoreSqlite {
	return n.mirrorStore
}

// TokenLedger returns the in-memory token custody ledger. Unless dev
// issuance is enabled, signers must be minted and approved here before
// their first place
func (n *Node) TokenLedger() *custody.TokenLedger {
	return n.tokenLedger
}

// NewReconciler returns a reconciler bound to the given signer, running
// the reconciliation protocol against this node's ledger and mirror
func (n *Node) NewReconciler(signer ledger.Address) *chorussync.Reconciler {
	return chorussync.NewReconciler(chorussync.ReconcilerConfig{
		Client:          n.client,
		Mirror:          n.mirrorStore,
		Signer:          signer,
		OwnerScope:      n.config.ownerScope,
		FinalityTimeout: n.config.finalityTimeout,
		Logger:          n.config.logger,
		PromRegistry:    n.config.promRegistry,
	})
}

func (n *Node) sweepLoop() {
	defer n.sweepWg.Done()
	reconciler := n.NewReconciler(nil)
	ticker := time.NewTicker(n.config.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(
				context.Background(),
				n.config.sweepInterval,
			)
			if err := n.sweepAll(ctx, reconciler); err != nil {
				n.config.logger.Error(
					"mirror repair sweep failed",
					"component", "node",
					"error", err,
				)
			}
			cancel()
		case <-n.sweepStopCh:
			return
		}
	}
}

func (n *Node) sweepAll(
	ctx context.Context,
	reconciler *chorussync.Reconciler,
) error {
	keys, err := n.ledgerStore.ListAggregateKeys()
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range keys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := reconciler.SweepKey(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := n.config.shutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Stop the sweep loop before closing the stores it reads
	if n.sweepStopCh != nil {
		close(n.sweepStopCh)
		n.sweepWg.Wait()
	}

	if n.mirrorStore != nil {
		if closeErr := n.mirrorStore.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("mirror store close: %w", closeErr),
			)
		}
	}

	if n.ledgerStore != nil {
		if closeErr := n.ledgerStore.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("ledger store close: %w", closeErr),
			)
		}
	}

	// Call registered shutdown functions (tracing, etc)
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
