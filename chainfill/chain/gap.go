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
	"fmt"

	"github.com/pkg/errors"
)

// ScanOptions contains the thresholds for choosing chains and gaps to patch.
type ScanOptions struct {
	ChainMinScore int // only chains with a score >= this
	ChainMinSizeT int // minimum aligned target span of a chain
	ChainMinSizeQ int // minimum aligned query span of a chain

	// gaps with target and query sizes in these closed ranges are patched
	GapMinSizeT int
	GapMaxSizeT int
	GapMinSizeQ int
	GapMaxSizeQ int
}

// DefaultScanOptions consider all chains, and gaps of 10-100000 bp on both sides.
var DefaultScanOptions = ScanOptions{
	GapMinSizeT: 10,
	GapMaxSizeT: 100000,
	GapMinSizeQ: 10,
	GapMaxSizeQ: 100000,
}

// CheckScanOptions checks the thresholds.
func CheckScanOptions(opt *ScanOptions) error {
	if opt.ChainMinSizeT < 0 || opt.ChainMinSizeQ < 0 {
		return fmt.Errorf("minimum chain sizes should be >= 0")
	}
	if opt.GapMinSizeT < 0 || opt.GapMinSizeQ < 0 {
		return fmt.Errorf("minimum gap sizes should be >= 0")
	}
	if opt.GapMaxSizeT < opt.GapMinSizeT {
		return fmt.Errorf("maximum target gap size (%d) should be >= the minimum (%d)", opt.GapMaxSizeT, opt.GapMinSizeT)
	}
	if opt.GapMaxSizeQ < opt.GapMinSizeQ {
		return fmt.Errorf("maximum query gap size (%d) should be >= the minimum (%d)", opt.GapMaxSizeQ, opt.GapMinSizeQ)
	}
	return nil
}

// Gap is the space after block BlockIndex. Coordinates are 0-based, half-open:
// the gap covers [TBlockEnd, TGapEnd) on the target and [QBlockEnd, QGapEnd)
// on the query strand of the chain.
type Gap struct {
	BlockIndex int
	BlockLen   int // size of the preceding block

	TBlockEnd int
	TGapEnd   int
	QBlockEnd int
	QGapEnd   int

	// query range on the positive strand, the one sent to the aligner.
	// For a chain on the negative strand, it's [qSize-QGapEnd, qSize-QBlockEnd).
	QPlusStart int
	QPlusEnd   int

	Minus bool // the query is on the negative strand
}

func (g Gap) String() string {
	return fmt.Sprintf("block %d: t[%d, %d) q[%d, %d)", g.BlockIndex, g.TBlockEnd, g.TGapEnd, g.QBlockEnd, g.QGapEnd)
}

// TSize returns the gap size on the target.
func (g Gap) TSize() int { return g.TGapEnd - g.TBlockEnd }

// QSize returns the gap size on the query.
func (g Gap) QSize() int { return g.QGapEnd - g.QBlockEnd }

// Passes tells whether a chain is worth scanning.
func (opt *ScanOptions) Passes(c *Chain) bool {
	return c.Score >= opt.ChainMinScore &&
		c.TSpan() >= opt.ChainMinSizeT &&
		c.QSpan() >= opt.ChainMinSizeQ
}

// Eligible tells whether a gap will be patched. Both windows are closed.
func (opt *ScanOptions) Eligible(dt, dq int) bool {
	return dt >= opt.GapMinSizeT && dt <= opt.GapMaxSizeT &&
		dq >= opt.GapMinSizeQ && dq <= opt.GapMaxSizeQ
}

// Scan returns all gaps of a chain to patch, in block order.
// A target strand other than '+' is an error, whether the chain
// passes the thresholds or not.
func Scan(c *Chain, opt *ScanOptions) ([]Gap, error) {
	if c.TStrand != '+' {
		return nil, errors.Wrapf(ErrTargetStrand, "chain %d", c.ID)
	}
	if !opt.Passes(c) {
		return nil, nil
	}

	var gaps []Gap
	t, q := c.TStart, c.QStart
	last := len(c.Blocks) - 1
	for i, b := range c.Blocks {
		if i == last {
			break
		}
		if opt.Eligible(b.DT, b.DQ) {
			gaps = append(gaps, newGap(c, i, t, q))
		}
		t += b.Size + b.DT
		q += b.Size + b.DQ
	}
	return gaps, nil
}

// GapAt recomputes the gap after block i, eligible or not.
func GapAt(c *Chain, i int) (Gap, error) {
	if i < 0 || i >= len(c.Blocks)-1 {
		return Gap{}, errors.Wrapf(ErrInvalidFormat, "chain %d has no gap after block %d", c.ID, i)
	}
	t, q := c.TStart, c.QStart
	for _, b := range c.Blocks[:i] {
		t += b.Size + b.DT
		q += b.Size + b.DQ
	}
	return newGap(c, i, t, q), nil
}

// t and q are the start positions of block i.
func newGap(c *Chain, i int, t, q int) Gap {
	b := c.Blocks[i]
	g := Gap{
		BlockIndex: i,
		BlockLen:   b.Size,
		TBlockEnd:  t + b.Size,
		TGapEnd:    t + b.Size + b.DT,
		QBlockEnd:  q + b.Size,
		QGapEnd:    q + b.Size + b.DQ,
		Minus:      c.QStrand == '-',
	}
	if g.Minus {
		g.QPlusStart = c.QSize - g.QGapEnd
		g.QPlusEnd = c.QSize - g.QBlockEnd
	} else {
		g.QPlusStart = g.QBlockEnd
		g.QPlusEnd = g.QGapEnd
	}
	return g
}
