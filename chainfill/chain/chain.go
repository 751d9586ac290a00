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
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// ErrInvalidFormat means the chain text is malformed.
var ErrInvalidFormat = errors.New("chain: invalid format")

// ErrTargetStrand means the target strand of a chain is not '+'.
var ErrTargetStrand = errors.New("chain: target strand should be +")

// ErrSpanMismatch means the blocks and gaps do not add up to the header span.
var ErrSpanMismatch = errors.New("chain: blocks do not match the header span")

// ErrNegativeGap means a computed gap distance is negative, the chain would be corrupted.
var ErrNegativeGap = errors.New("chain: negative gap distance")

// Block is an ungapped aligned segment, followed by a gap of DT bases
// on the target and DQ bases on the query. The last block has no gap.
type Block struct {
	Size int
	DT   int
	DQ   int
}

// Chain is a gapped co-linear alignment between a target and a query range.
// All coordinates are 0-based and half-open. Query coordinates are on
// the strand given by QStrand.
type Chain struct {
	Score   int
	TName   string
	TSize   int
	TStrand byte
	TStart  int
	TEnd    int
	QName   string
	QSize   int
	QStrand byte
	QStart  int
	QEnd    int
	ID      uint64

	Blocks []Block

	// the record text as read, used for writing unmodified chains
	raw      []byte
	modified bool
}

func (c *Chain) String() string {
	return fmt.Sprintf("chain %d: %s:%d-%d %s:%d-%d(%c), score: %d, blocks: %d",
		c.ID, c.TName, c.TStart, c.TEnd, c.QName, c.QStart, c.QEnd, c.QStrand, c.Score, len(c.Blocks))
}

// Raw returns the record text as read. It returns nil for chains
// created or modified in memory.
func (c *Chain) Raw() []byte {
	if c.modified {
		return nil
	}
	return c.raw
}

// Modified tells whether the blocks have been changed since parsing.
func (c *Chain) Modified() bool { return c.modified }

// TSpan returns the aligned target length.
func (c *Chain) TSpan() int { return c.TEnd - c.TStart }

// QSpan returns the aligned query length.
func (c *Chain) QSpan() int { return c.QEnd - c.QStart }

// Validate checks the strand and span invariants:
// sum(sizes) + sum(dt) = tEnd - tStart, and the same for the query.
func (c *Chain) Validate() error {
	if c.TStrand != '+' {
		return errors.Wrapf(ErrTargetStrand, "chain %d", c.ID)
	}
	if c.QStrand != '+' && c.QStrand != '-' {
		return errors.Wrapf(ErrInvalidFormat, "chain %d: invalid query strand: %c", c.ID, c.QStrand)
	}
	if c.TStart < 0 || c.TStart > c.TEnd || c.TEnd > c.TSize {
		return errors.Wrapf(ErrInvalidFormat, "chain %d: invalid target range: %d-%d (size %d)",
			c.ID, c.TStart, c.TEnd, c.TSize)
	}
	if c.QStart < 0 || c.QStart > c.QEnd || c.QEnd > c.QSize {
		return errors.Wrapf(ErrInvalidFormat, "chain %d: invalid query range: %d-%d (size %d)",
			c.ID, c.QStart, c.QEnd, c.QSize)
	}
	if len(c.Blocks) == 0 {
		return errors.Wrapf(ErrInvalidFormat, "chain %d: no blocks", c.ID)
	}

	var t, q int
	last := len(c.Blocks) - 1
	for i, b := range c.Blocks {
		if b.Size < 0 || b.DT < 0 || b.DQ < 0 {
			return errors.Wrapf(ErrNegativeGap, "chain %d, block %d: %d %d %d", c.ID, i, b.Size, b.DT, b.DQ)
		}
		if i == last && (b.DT != 0 || b.DQ != 0) {
			return errors.Wrapf(ErrInvalidFormat, "chain %d: the last block should not have a gap", c.ID)
		}
		t += b.Size + b.DT
		q += b.Size + b.DQ
	}
	if t != c.TSpan() {
		return errors.Wrapf(ErrSpanMismatch, "chain %d: target: %d != %d", c.ID, t, c.TSpan())
	}
	if q != c.QSpan() {
		return errors.Wrapf(ErrSpanMismatch, "chain %d: query: %d != %d", c.ID, q, c.QSpan())
	}
	return nil
}

// Clone returns a deep copy of the chain.
func (c *Chain) Clone() *Chain {
	c2 := *c
	c2.Blocks = make([]Block, len(c.Blocks))
	copy(c2.Blocks, c.Blocks)
	if c.raw != nil {
		c2.raw = make([]byte, len(c.raw))
		copy(c2.raw, c.raw)
	}
	return &c2
}

// ---------------------------------------------------------------------------

var _chain = []byte("chain")

// ParseHeader parses a header line:
//
//	chain score tName tSize tStrand tStart tEnd qName qSize qStrand qStart qEnd id
func ParseHeader(line []byte, c *Chain) error {
	items := bytes.Fields(line)
	if len(items) < 13 || !bytes.Equal(items[0], _chain) {
		return errors.Wrapf(ErrInvalidFormat, "invalid chain header: %s", line)
	}

	var err error
	if c.Score, err = parseScore(items[1]); err != nil {
		return errors.Wrapf(ErrInvalidFormat, "invalid score in header: %s", line)
	}

	c.TName = string(items[2])
	if len(items[4]) != 1 {
		return errors.Wrapf(ErrInvalidFormat, "invalid target strand in header: %s", line)
	}
	c.TStrand = items[4][0]

	c.QName = string(items[7])
	if len(items[9]) != 1 {
		return errors.Wrapf(ErrInvalidFormat, "invalid query strand in header: %s", line)
	}
	c.QStrand = items[9][0]

	ints := [...]struct {
		v *int
		i int
	}{
		{&c.TSize, 3}, {&c.TStart, 5}, {&c.TEnd, 6},
		{&c.QSize, 8}, {&c.QStart, 10}, {&c.QEnd, 11},
	}
	for _, x := range ints {
		if *x.v, err = strconv.Atoi(string(items[x.i])); err != nil {
			return errors.Wrapf(ErrInvalidFormat, "invalid coordinate in header: %s", line)
		}
	}

	if c.ID, err = strconv.ParseUint(string(items[12]), 10, 64); err != nil {
		return errors.Wrapf(ErrInvalidFormat, "invalid chain ID in header: %s", line)
	}

	return nil
}

// some tools write scores as floating-point numbers, e.g., 3.5e+06.
func parseScore(s []byte) (int, error) {
	v, err := strconv.Atoi(string(s))
	if err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

// ParseBlock parses a block line with one ("size", the last block) or
// three fields ("size dt dq").
func ParseBlock(line []byte) (Block, bool, error) {
	var b Block
	items := bytes.Fields(line)
	var err error
	switch len(items) {
	case 1:
		b.Size, err = strconv.Atoi(string(items[0]))
		if err != nil {
			return b, false, errors.Wrapf(ErrInvalidFormat, "invalid block: %s", line)
		}
		return b, true, nil
	case 3:
		if b.Size, err = strconv.Atoi(string(items[0])); err != nil {
			return b, false, errors.Wrapf(ErrInvalidFormat, "invalid block: %s", line)
		}
		if b.DT, err = strconv.Atoi(string(items[1])); err != nil {
			return b, false, errors.Wrapf(ErrInvalidFormat, "invalid block: %s", line)
		}
		if b.DQ, err = strconv.Atoi(string(items[2])); err != nil {
			return b, false, errors.Wrapf(ErrInvalidFormat, "invalid block: %s", line)
		}
		return b, false, nil
	default:
		return b, false, errors.Wrapf(ErrInvalidFormat, "invalid block: %s", line)
	}
}

// IsBlockLine tells whether a line starts with a digit.
func IsBlockLine(line []byte) bool {
	return len(line) > 0 && line[0] >= '0' && line[0] <= '9'
}

// IsHeaderLine tells whether a line is a chain header.
func IsHeaderLine(line []byte) bool {
	return bytes.HasPrefix(line, _chain) && len(line) > 5 && (line[5] == ' ' || line[5] == '\t')
}
