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
	"math/big"
)

// ErrZeroAmount is returned when a place or withdraw specifies a zero or
// negative amount. A zero amount is a precondition violation, not a no-op.
var ErrZeroAmount = errors.New("amount must be greater than zero")

// ErrUnknownContent is returned when withdrawing against a content key
// that has never seen a place
var ErrUnknownContent = errors.New("unknown content key")

// ErrScopeMismatch is returned when a place names an owner scope different
// from the one recorded on the aggregate
var ErrScopeMismatch = errors.New("owner scope does not match aggregate")

// ErrAggregateNotFound is returned by store reads when no aggregate exists
// for the requested key
var ErrAggregateNotFound = errors.New("aggregate not found")

// ErrPositionNotFound is returned by store reads when no position exists
// for the requested key and user
var ErrPositionNotFound = errors.New("position not found")

// OverdraftError is returned when a withdraw exceeds the signer's recorded
// position. There is no negative-balance state; the operation is rejected
// with no ledger mutation.
type OverdraftError struct {
	Requested *big.Int
	Held      *big.Int
}

func (e *OverdraftError) Error() string {
	return fmt.Sprintf(
		"withdraw exceeds position: requested=%s, held=%s",
		e.Requested.String(),
		e.Held.String(),
	)
}
