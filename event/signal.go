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

package event

import (
	"math/big"
	"time"
)

// SignalPlacedEventType is the event type for successful place operations
const SignalPlacedEventType = EventType("signal.place")

// SignalWithdrawnEventType is the event type for successful withdraw operations
const SignalWithdrawnEventType = EventType("signal.withdraw")

// SignalEvent is emitted once per successful place or withdraw. It is the
// only channel through which the reconciler and external indexers learn of
// ledger state changes without re-reading full state.
type SignalEvent struct {
	// ContentKey is the derived ledger key for the content
	ContentKey []byte
	// ContentId is the original content identifier string
	ContentId string
	// User is the signer whose position changed
	User []byte
	// AmountDelta is the raw token amount moved (positive on place,
	// negative on withdraw)
	AmountDelta *big.Int
	// UserRawAfter is the signer's committed raw amount after the operation
	UserRawAfter *big.Int
	// UserQuadAfter is the signer's quadratic weight after the operation
	UserQuadAfter *big.Int
	// TotalRawAfter is the aggregate raw total after the operation
	TotalRawAfter *big.Int
	// TotalQuadAfter is the aggregate quadratic weight after the operation
	TotalQuadAfter *big.Int
	// Version is the aggregate's monotonic version after the operation
	Version uint64
	// Timestamp is when the operation was applied
	Timestamp time.Time
}
