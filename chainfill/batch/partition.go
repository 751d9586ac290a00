// Copyright © 2024-2025 The ChainFill Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package batch splits a chain file into random, size-balanced batches
// and merges the patched batches back.
package batch

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/twotwotwo/sorts/sortutil"
)

// ErrDuplicatedID means a chain ID appears more than once in a chain file.
var ErrDuplicatedID = errors.New("batch: duplicated chain ID")

// Partition assigns chain IDs to n buckets: IDs are sorted, shuffled with
// the seed, and dealt round-robin, so bucket sizes differ by at most one
// and the assignment only depends on the set of IDs and the seed.
// The input slice is sorted in place.
func Partition(ids []uint64, n int, seed int64) ([][]uint64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("the number of batches should be positive: %d", n)
	}
	sortutil.Uint64s(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return nil, errors.Wrapf(ErrDuplicatedID, "%d", ids[i])
		}
	}

	shuffled := make([]uint64, len(ids))
	copy(shuffled, ids)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	buckets := make([][]uint64, n)
	size := len(ids)/n + 1
	for i := range buckets {
		buckets[i] = make([]uint64, 0, size)
	}
	for i, id := range shuffled {
		buckets[i%n] = append(buckets[i%n], id)
	}
	return buckets, nil
}
