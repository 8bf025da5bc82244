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

// Package quad provides the exact integer arithmetic used for quadratic
// signal weighting. The results become ledger state, so everything here
// must be deterministic across independent re-executions: no floating
// point, no platform-dependent behavior.
package quad

import "math/big"

var (
	bigOne = big.NewInt(1)
	bigTwo = big.NewInt(2)
)

// Isqrt returns the floor of the square root of n, i.e. the unique r such
// that r*r <= n < (r+1)*(r+1). It uses Newton's method with integer
// division, starting from a guess derived from the bit length of n, and
// converges in O(log n) iterations.
//
// A negative argument indicates a broken invariant elsewhere in the ledger
// and causes a panic rather than an error return.
func Isqrt(n *big.Int) *big.Int {
	if n.Sign() < 0 {
		panic("quad: Isqrt of negative number")
	}
	if n.Sign() == 0 {
		return new(big.Int)
	}
	// Initial guess: 2^ceil(bitlen/2) is always >= sqrt(n), which keeps
	// the Newton iteration on the decreasing side until convergence
	x := new(big.Int).Lsh(bigOne, uint(n.BitLen()+1)/2)
	y := new(big.Int)
	for {
		// y = (x + n/x) / 2
		y.Div(n, x)
		y.Add(y, x)
		y.Div(y, bigTwo)
		if y.Cmp(x) >= 0 {
			return x
		}
		x.Set(y)
	}
}

// Weight returns the quadratic weight for a raw committed amount. It is
// Isqrt under a name that matches what the ledger means by it.
func Weight(rawAmount *big.Int) *big.Int {
	return Isqrt(rawAmount)
}
