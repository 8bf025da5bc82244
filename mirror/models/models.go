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

package models

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"time"
)

// MigrateModels contains a list of model objects that should have DB migrations applied
var MigrateModels = []any{
	&AggregateMirror{},
	&UserSignal{},
}

// BigInt stores an arbitrary-precision integer as a decimal string
//
//nolint:recvcheck
type BigInt struct {
	*big.Int
}

func NewBigInt(val *big.Int) BigInt {
	if val == nil {
		return BigInt{Int: new(big.Int)}
	}
	return BigInt{Int: new(big.Int).Set(val)}
}

func (b BigInt) Value() (driver.Value, error) {
	if b.Int == nil {
		return "0", nil
	}
	return b.String(), nil
}

func (b *BigInt) Scan(val any) error {
	if b.Int == nil {
		b.Int = new(big.Int)
	}
	v, ok := val.(string)
	if !ok {
		return fmt.Errorf(
			"value was not expected type, wanted string, got %T",
			val,
		)
	}
	if _, ok := b.SetString(v, 10); !ok {
		return fmt.Errorf("failed to set big.Int value from string: %s", v)
	}
	return nil
}

// AggregateMirror is the off-chain shadow of a ledger aggregate. It is
// eventually consistent and never authoritative; Version carries the
// ledger's monotonic freshness marker and guards against stale writes.
type AggregateMirror struct {
	ID              uint   `gorm:"primarykey"`
	ContentKey      []byte `gorm:"uniqueIndex"`
	ContentId       string
	OwnerScope      string `gorm:"index"`
	TotalRaw        BigInt `gorm:"type:text"`
	TotalQuadWeight BigInt `gorm:"type:text"`
	SupporterCount  uint64
	Version         uint64
	LastSyncedAt    time.Time
}

func (AggregateMirror) TableName() string {
	return "aggregate_mirror"
}

// UserSignal is the denormalized per-user signal entry kept alongside each
// mirrored aggregate for display
type UserSignal struct {
	ID         uint   `gorm:"primarykey"`
	ContentKey []byte `gorm:"index;uniqueIndex:idx_user_signal_key_user"`
	User       []byte `gorm:"index;uniqueIndex:idx_user_signal_key_user"`
	RawAmount  BigInt `gorm:"type:text"`
	QuadWeight BigInt `gorm:"type:text"`
	UpdatedAt  time.Time
}

func (UserSignal) TableName() string {
	return "user_signal"
}
