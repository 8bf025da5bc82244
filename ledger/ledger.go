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

// Package ledger implements the authoritative signal ledger: per-user
// positions, per-content aggregates, and the engine that mutates them
// under quadratic weighting.
package ledger

import (
	"encoding/hex"
	"math/big"

	"github.com/zeebo/blake3"
)

// ContentKeySize is the width of a derived content key in bytes
const ContentKeySize = 32

// ContentKey is the fixed-width collision-resistant hash of a content
// identifier, used as the ledger's primary index
type ContentKey [ContentKeySize]byte

// NewContentKey derives the ledger key for a content identifier. The
// derivation is pure, so independent clients always agree on the key.
func NewContentKey(contentId string) ContentKey {
	return ContentKey(blake3.Sum256([]byte(contentId)))
}

func (k ContentKey) Bytes() []byte {
	return k[:]
}

func (k ContentKey) String() string {
	return hex.EncodeToString(k[:])
}

// ContentKeyFromBytes parses a raw key, returning ok=false on bad length
func ContentKeyFromBytes(data []byte) (ContentKey, bool) {
	var key ContentKey
	if len(data) != ContentKeySize {
		return key, false
	}
	copy(key[:], data)
	return key, true
}

// Address is an opaque signer identity attached to ledger calls
type Address []byte

func (a Address) String() string {
	return hex.EncodeToString(a)
}

// Position is the per-(content, user) record of committed stake. RawAmount
// never goes negative; QuadWeight is always recomputed from RawAmount and
// never independently mutated.
type Position struct {
	RawAmount  *big.Int `json:"rawAmount"`
	QuadWeight *big.Int `json:"quadWeight"`
}

// NewPosition returns an empty position. Positions are created implicitly
// on first place and only ever decay to zero, never deleted.
func NewPosition() *Position {
	return &Position{
		RawAmount:  new(big.Int),
		QuadWeight: new(big.Int),
	}
}

// Copy returns a deep copy of the position
func (p *Position) Copy() *Position {
	return &Position{
		RawAmount:  new(big.Int).Set(p.RawAmount),
		QuadWeight: new(big.Int).Set(p.QuadWeight),
	}
}

// Aggregate is the per-content summary record. TotalQuadWeight is the sum
// of per-user quadratic weights, never the square root of TotalRaw:
// quadratic voting sums per-user roots so that any single user's influence
// grows sub-linearly in their stake.
type Aggregate struct {
	ContentId       string   `json:"contentId"`
	OwnerScope      string   `json:"ownerScope"`
	TotalRaw        *big.Int `json:"totalRaw"`
	TotalQuadWeight *big.Int `json:"totalQuadWeight"`
	SupporterCount  uint64   `json:"supporterCount"`
	// Version increments on every successful mutation of this key and
	// serves as the monotonic freshness marker for mirror writes
	Version uint64 `json:"version"`
	Exists  bool   `json:"exists"`
}

// NewAggregate returns an aggregate for a key that has seen its first place
func NewAggregate(contentId, ownerScope string) *Aggregate {
	return &Aggregate{
		ContentId:       contentId,
		OwnerScope:      ownerScope,
		TotalRaw:        new(big.Int),
		TotalQuadWeight: new(big.Int),
		Exists:          true,
	}
}

// Copy returns a deep copy of the aggregate
func (a *Aggregate) Copy() *Aggregate {
	return &Aggregate{
		ContentId:       a.ContentId,
		OwnerScope:      a.OwnerScope,
		TotalRaw:        new(big.Int).Set(a.TotalRaw),
		TotalQuadWeight: new(big.Int).Set(a.TotalQuadWeight),
		SupporterCount:  a.SupporterCount,
		Version:         a.Version,
		Exists:          a.Exists,
	}
}
