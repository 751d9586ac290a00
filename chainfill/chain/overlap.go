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

package chain

import (
	"github.com/rdleal/intervalst/interval"
)

// a block of a chain, stored in the tree by its target interval.
// Intervals are closed.
type blockSpan struct {
	ID     uint64
	QStart int
	QEnd   int
}

func cmpInt(x, y int) int { return x - y }

// OverlapIndex finds chains sharing aligned bases with chains seen before,
// i.e., having a block overlapping a block of another chain on both the
// target and the query. Chains are grouped by the sequence names and the
// query strand.
type OverlapIndex struct {
	trees map[string]*interval.MultiValueSearchTree[blockSpan, int]
}

// NewOverlapIndex returns an empty OverlapIndex.
func NewOverlapIndex() *OverlapIndex {
	return &OverlapIndex{trees: make(map[string]*interval.MultiValueSearchTree[blockSpan, int], 64)}
}

// Add returns the ID of a chain added before which overlaps c,
// and then adds the blocks of c.
func (x *OverlapIndex) Add(c *Chain) (uint64, bool) {
	key := c.TName + "\t" + c.QName + "\t" + string(c.QStrand)
	tree, ok := x.trees[key]
	if !ok {
		tree = interval.NewMultiValueSearchTreeWithOptions[blockSpan, int](cmpInt, interval.TreeWithIntervalPoint())
		x.trees[key] = tree
	}

	var id uint64
	var found bool
	t, q := c.TStart, c.QStart
	for _, b := range c.Blocks {
		if b.Size > 0 && !found {
			if spans, ok := tree.AllIntersections(t, t+b.Size-1); ok {
				for _, s := range spans {
					if s.QStart <= q+b.Size-1 && q <= s.QEnd {
						id, found = s.ID, true
						break
					}
				}
			}
		}
		t += b.Size + b.DT
		q += b.Size + b.DQ
	}

	t, q = c.TStart, c.QStart
	for _, b := range c.Blocks {
		if b.Size > 0 {
			tree.Insert(t, t+b.Size-1, blockSpan{ID: c.ID, QStart: q, QEnd: q + b.Size - 1})
		}
		t += b.Size + b.DT
		q += b.Size + b.DQ
	}
	return id, found
}
