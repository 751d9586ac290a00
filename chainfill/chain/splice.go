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
	"sort"

	"github.com/pkg/errors"
)

// Best returns the highest-scoring candidate with a score >= minScore.
// Ties are broken by the input order. It returns nil if none passes.
func Best(candidates []*Chain, minScore int) *Chain {
	var best *Chain
	for _, c := range candidates {
		if c.Score < minScore {
			continue
		}
		if best == nil || c.Score > best.Score {
			best = c
		}
	}
	return best
}

// Patch replaces the block BlockIndex, together with its trailing gap,
// with a list of blocks covering the same target and query spans.
type Patch struct {
	BlockIndex int
	Blocks     []Block
}

// Splicer inserts mini chains into the gaps of one chain.
type Splicer struct {
	c       *Chain
	patches []*Patch
}

// NewSplicer creates a Splicer for a chain.
func NewSplicer(c *Chain) *Splicer {
	return &Splicer{c: c}
}

// Patches returns the patches added.
func (s *Splicer) Patches() []*Patch { return s.patches }

// Add computes the patch of inserting mini chain m into gap g.
//
// The gap is identified by the target range and the query range on the
// positive strand, as sent to the aligner. For a chain on the negative
// strand, the query range is reflected back before computing distances,
// as the chaining tool reports coordinates on the strand of the chain.
func (s *Splicer) Add(g Gap, m *Chain) error {
	c := s.c
	if g.BlockIndex < 0 || g.BlockIndex >= len(c.Blocks)-1 {
		return errors.Wrapf(ErrInvalidFormat, "chain %d has no gap after block %d", c.ID, g.BlockIndex)
	}
	if c.Blocks[g.BlockIndex].Size != g.BlockLen {
		return errors.Wrapf(ErrInvalidFormat, "chain %d, block %d: block size mismatch: %d != %d",
			c.ID, g.BlockIndex, c.Blocks[g.BlockIndex].Size, g.BlockLen)
	}
	if m.TName != c.TName || m.QName != c.QName {
		return errors.Wrapf(ErrInvalidFormat, "chain %d, block %d: mini chain on %s/%s, expected %s/%s",
			c.ID, g.BlockIndex, m.TName, m.QName, c.TName, c.QName)
	}
	if m.QStrand != c.QStrand {
		return errors.Wrapf(ErrInvalidFormat, "chain %d, block %d: mini chain on strand %c, expected %c",
			c.ID, g.BlockIndex, m.QStrand, c.QStrand)
	}
	if err := m.Validate(); err != nil {
		return errors.Wrapf(err, "mini chain for chain %d, block %d", c.ID, g.BlockIndex)
	}

	qBlockEnd, qGapEnd := g.QPlusStart, g.QPlusEnd
	if c.QStrand == '-' {
		qBlockEnd, qGapEnd = c.QSize-g.QPlusEnd, c.QSize-g.QPlusStart
	}

	dt1 := m.TStart - g.TBlockEnd
	dq1 := m.QStart - qBlockEnd
	dt2 := g.TGapEnd - m.TEnd
	dq2 := qGapEnd - m.QEnd
	if dt1 < 0 || dq1 < 0 || dt2 < 0 || dq2 < 0 {
		return errors.Wrapf(ErrNegativeGap,
			"chain %d, block %d: gap t[%d, %d) q[%d, %d), mini chain %d t[%d, %d) q[%d, %d)",
			c.ID, g.BlockIndex, g.TBlockEnd, g.TGapEnd, qBlockEnd, qGapEnd,
			m.ID, m.TStart, m.TEnd, m.QStart, m.QEnd)
	}

	k := len(m.Blocks)
	blocks := make([]Block, 0, k+1)
	blocks = append(blocks, Block{Size: g.BlockLen, DT: dt1, DQ: dq1})
	blocks = append(blocks, m.Blocks[:k-1]...)
	blocks = append(blocks, Block{Size: m.Blocks[k-1].Size, DT: dt2, DQ: dq2})

	s.patches = append(s.patches, &Patch{BlockIndex: g.BlockIndex, Blocks: blocks})
	return nil
}

// Apply rewrites the block list of the chain with all patches,
// and checks the span invariant of the result.
func (s *Splicer) Apply() error {
	if len(s.patches) == 0 {
		return nil
	}
	c := s.c
	sort.Slice(s.patches, func(i, j int) bool { return s.patches[i].BlockIndex < s.patches[j].BlockIndex })

	n := len(c.Blocks)
	for i, p := range s.patches {
		if i > 0 && p.BlockIndex == s.patches[i-1].BlockIndex {
			return errors.Wrapf(ErrInvalidFormat, "chain %d: more than one patch for block %d", c.ID, p.BlockIndex)
		}
		n += len(p.Blocks) - 1
	}

	blocks := make([]Block, 0, n)
	var j int
	for i, b := range c.Blocks {
		if j < len(s.patches) && s.patches[j].BlockIndex == i {
			blocks = append(blocks, s.patches[j].Blocks...)
			j++
			continue
		}
		blocks = append(blocks, b)
	}

	old := c.Blocks
	c.Blocks = blocks
	if err := c.Validate(); err != nil {
		c.Blocks = old
		return err
	}
	c.modified = true
	c.raw = nil
	s.patches = s.patches[:0]
	return nil
}
