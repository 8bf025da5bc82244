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

// Package mirror implements the off-chain read cache of ledger state. The
// mirror is eventually consistent and never authoritative: its only writer
// is the reconciliation protocol, and all writes are version-guarded so a
// stale reconciliation can never overwrite a fresher one.
package mirror

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/chorus/mirror/models"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// AggregateFields is the set of authoritative values copied verbatim from
// a freshly read ledger aggregate at sync time
type AggregateFields struct {
	ContentId       string
	OwnerScope      string
	TotalRaw        *big.Int
	TotalQuadWeight *big.Int
	SupporterCount  uint64
}

// Store is the write/read contract the reconciliation protocol and
// presentation layers use against the mirror
type Store interface {
	UpsertAggregate(
		contentKey []byte,
		version uint64,
		fields AggregateFields,
		syncedAt time.Time,
	) error
	UpsertUserSignal(
		contentKey []byte,
		user []byte,
		rawAmount *big.Int,
		quadWeight *big.Int,
		updatedAt time.Time,
	) error
	GetAggregate(contentKey []byte) (*models.AggregateMirror, error)
	GetUserSignals(contentKey []byte) ([]models.UserSignal, error)
	Close() error
}

// StoreSqlite is a SQLite-backed mirror store. Uses an in-memory database
// when dataDir is empty, which is useful for testing.
type StoreSqlite struct {
	promRegistry prometheus.Registerer
	db           *gorm.DB
	logger       *slog.Logger
	metrics      storeMetrics
	dataDir      string
}

type StoreSqliteOptionFunc func(*StoreSqlite)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) StoreSqliteOptionFunc {
	return func(s *StoreSqlite) {
		s.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(
	registry prometheus.Registerer,
) StoreSqliteOptionFunc {
	return func(s *StoreSqlite) {
		s.promRegistry = registry
	}
}

// WithDataDir specifies the data directory to use for storage
func WithDataDir(dataDir string) StoreSqliteOptionFunc {
	return func(s *StoreSqlite) {
		s.dataDir = dataDir
	}
}

// NewStoreSqlite creates a SQLite mirror store
func NewStoreSqlite(opts ...StoreSqliteOptionFunc) (*StoreSqlite, error) {
	store := &StoreSqlite{}
	for _, opt := range opts {
		opt(store)
	}
	if store.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		store.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var mirrorDb *gorm.DB
	var err error
	if store.dataDir == "" {
		// cache=shared allows multiple connections to share the same in-memory database
		mirrorDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(store.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(store.dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		mirrorDbPath := filepath.Join(
			store.dataDir,
			"mirror.sqlite",
		)
		// WAL journal mode, disable sync on write
		mirrorConnOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		mirrorDb, err = gorm.Open(
			sqlite.Open(
				fmt.Sprintf("file:%s?%s", mirrorDbPath, mirrorConnOpts),
			),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	store.db = mirrorDb
	// Configure tracing for GORM
	if err := store.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	store.metrics.init(store.promRegistry)
	// Create table schemas
	for _, model := range models.MigrateModels {
		store.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := store.db.AutoMigrate(model); err != nil {
			return store, err
		}
	}
	return store, nil
}

// DB returns the underlying GORM database handle
func (s *StoreSqlite) DB() *gorm.DB {
	return s.db
}

// Close shuts down the database connection
func (s *StoreSqlite) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return db.Close()
}

// UpsertAggregate writes a mirrored aggregate, conditioned on version
// monotonicity: a write with a version lower than the stored one is
// skipped rather than applied, so out-of-order reconciliations cannot
// roll the mirror backward.
func (s *StoreSqlite) UpsertAggregate(
	contentKey []byte,
	version uint64,
	fields AggregateFields,
	syncedAt time.Time,
) error {
	existing := &models.AggregateMirror{}
	result := s.db.Where("content_key = ?", contentKey).First(existing)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		record := &models.AggregateMirror{
			ContentKey:      contentKey,
			ContentId:       fields.ContentId,
			OwnerScope:      fields.OwnerScope,
			TotalRaw:        models.NewBigInt(fields.TotalRaw),
			TotalQuadWeight: models.NewBigInt(fields.TotalQuadWeight),
			SupporterCount:  fields.SupporterCount,
			Version:         version,
			LastSyncedAt:    syncedAt,
		}
		if err := s.db.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create aggregate mirror: %w", err)
		}
		return nil
	}
	if existing.Version > version {
		// Stale write from an out-of-order reconciliation
		s.metrics.staleWritesTotal.Inc()
		s.logger.Debug(
			"skipping stale aggregate mirror write",
			"component", "mirror",
			"stored_version", existing.Version,
			"incoming_version", version,
		)
		return nil
	}
	updates := map[string]interface{}{
		"content_id":        fields.ContentId,
		"owner_scope":       fields.OwnerScope,
		"total_raw":         models.NewBigInt(fields.TotalRaw),
		"total_quad_weight": models.NewBigInt(fields.TotalQuadWeight),
		"supporter_count":   fields.SupporterCount,
		"version":           version,
		"last_synced_at":    syncedAt,
	}
	// The version condition repeats in the WHERE clause to close the race
	// between the read above and this update
	result = s.db.Model(&models.AggregateMirror{}).
		Where("content_key = ? AND version <= ?", contentKey, version).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update aggregate mirror: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		s.metrics.staleWritesTotal.Inc()
	}
	return nil
}

// UpsertUserSignal records the signer's per-user entry for display
func (s *StoreSqlite) UpsertUserSignal(
	contentKey []byte,
	user []byte,
	rawAmount *big.Int,
	quadWeight *big.Int,
	updatedAt time.Time,
) error {
	record := &models.UserSignal{}
	result := s.db.FirstOrCreate(record, models.UserSignal{
		ContentKey: contentKey,
		User:       user,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to find or create user signal: %w", result.Error)
	}
	updates := map[string]interface{}{
		"raw_amount":  models.NewBigInt(rawAmount),
		"quad_weight": models.NewBigInt(quadWeight),
		"updated_at":  updatedAt,
	}
	if err := s.db.Model(record).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update user signal: %w", err)
	}
	return nil
}

// GetAggregate gets a mirrored aggregate, or nil when the key has never
// been synchronized
func (s *StoreSqlite) GetAggregate(
	contentKey []byte,
) (*models.AggregateMirror, error) {
	ret := &models.AggregateMirror{}
	result := s.db.Where("content_key = ?", contentKey).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetUserSignals lists the per-user signal entries for a content key
func (s *StoreSqlite) GetUserSignals(
	contentKey []byte,
) ([]models.UserSignal, error) {
	var ret []models.UserSignal
	result := s.db.Where("content_key = ?", contentKey).
		Order("updated_at desc").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
