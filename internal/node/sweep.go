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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blinklabs-io/chorus/custody"
	"github.com/blinklabs-io/chorus/internal/config"
	"github.com/blinklabs-io/chorus/ledger"
	"github.com/blinklabs-io/chorus/mirror"
	chorussync "github.com/blinklabs-io/chorus/sync"
)

// Sweep runs a one-shot mirror repair sweep against the on-disk stores and
// exits. It is meant to run while the node is stopped, to repair a mirror
// that drifted during downtime or a crash.
func Sweep(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DatabasePath == "" {
		return errors.New("sweep requires a database path")
	}
	ledgerStore, err := ledger.NewBadgerStore(
		ledger.WithDataDir(cfg.DatabasePath),
		ledger.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open ledger store: %w", err)
	}
	defer ledgerStore.Close()
	mirrorStore, err := mirror.NewStoreSqlite(
		mirror.WithDataDir(cfg.DatabasePath),
		mirror.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open mirror store: %w", err)
	}
	defer mirrorStore.Close()
	// The sweep only reads ledger state, so the custody backend is never
	// exercised
	engine := ledger.NewEngine(ledger.EngineConfig{
		Store:   ledgerStore,
		Custody: custody.NewTokenLedger(),
		Logger:  logger,
	})
	reconciler := chorussync.NewReconciler(chorussync.ReconcilerConfig{
		Client: chorussync.NewInProcessClient(engine, ledgerStore),
		Mirror: mirrorStore,
		Logger: logger,
	})
	keys, err := ledgerStore.ListAggregateKeys()
	if err != nil {
		return fmt.Errorf("failed to list aggregates: %w", err)
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
	logger.Info(
		fmt.Sprintf("swept %d aggregates", len(keys)),
		"component", "node",
	)
	return errors.Join(errs...)
}
