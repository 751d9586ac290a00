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

package job

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/pkg/errors"
)

// Geometry locates a gap for splicing. Coordinates are 0-based, half-open.
// The query range is the one on the positive strand, i.e., reflected for
// chains with the query on the negative strand.
type Geometry struct {
	BlockLen  int
	TBlockEnd int
	TGapEnd   int
	QBlockEnd int
	QGapEnd   int
}

// GeometryOf returns the geometry of a gap.
func GeometryOf(g chain.Gap) Geometry {
	return Geometry{
		BlockLen:  g.BlockLen,
		TBlockEnd: g.TBlockEnd,
		TGapEnd:   g.TGapEnd,
		QBlockEnd: g.QPlusStart,
		QGapEnd:   g.QPlusEnd,
	}
}

// Job is a realignment task for one gap.
type Job struct {
	ChainID    uint64
	BlockIndex int

	TName string
	QName string
	Minus bool // query on the negative strand

	Geometry
}

// New creates a job for a gap of a chain.
func New(c *chain.Chain, g chain.Gap) *Job {
	return &Job{
		ChainID:    c.ID,
		BlockIndex: g.BlockIndex,
		TName:      c.TName,
		QName:      c.QName,
		Minus:      g.Minus,
		Geometry:   GeometryOf(g),
	}
}

// FromChain scans a chain and returns one job per eligible gap, in block order.
func FromChain(c *chain.Chain, opt *chain.ScanOptions) ([]*Job, []chain.Gap, error) {
	gaps, err := chain.Scan(c, opt)
	if err != nil {
		return nil, nil, err
	}
	if len(gaps) == 0 {
		return nil, nil, nil
	}
	jobs := make([]*Job, len(gaps))
	for i, g := range gaps {
		jobs[i] = New(c, g)
	}
	return jobs, gaps, nil
}

// Tag returns the correlation tag of the job.
func (j *Job) Tag() string {
	return Tag(j.ChainID, j.BlockIndex)
}

// Strand returns the value for the aligner option --strand.
func (j *Job) Strand() string {
	if j.Minus {
		return "minus"
	}
	return "plus"
}

// TRange returns the 1-based, closed target range for the aligner, e.g., "[601..650]".
func (j *Job) TRange() string {
	return fmt.Sprintf("[%d..%d]", j.TBlockEnd+1, j.TGapEnd)
}

// QRange returns the 1-based, closed query range on the positive strand.
func (j *Job) QRange() string {
	return fmt.Sprintf("[%d..%d]", j.QBlockEnd+1, j.QGapEnd)
}

func (j *Job) String() string {
	return fmt.Sprintf("%s %s%s %s%s %s", j.Tag(), j.TName, j.TRange(), j.QName, j.QRange(), j.Strand())
}

// Tag formats a correlation tag: "<chainID>:<blockIndex>".
func Tag(id uint64, blockIndex int) string {
	return strconv.FormatUint(id, 10) + ":" + strconv.Itoa(blockIndex)
}

// ParseTag parses a correlation tag.
func ParseTag(tag string) (uint64, int, error) {
	i := strings.IndexByte(tag, ':')
	if i <= 0 || i == len(tag)-1 {
		return 0, 0, errors.Wrapf(ErrInvalidFrame, "invalid tag: %s", tag)
	}
	id, err := strconv.ParseUint(tag[:i], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrInvalidFrame, "invalid chain ID in tag: %s", tag)
	}
	bi, err := strconv.Atoi(tag[i+1:])
	if err != nil || bi < 0 {
		return 0, 0, errors.Wrapf(ErrInvalidFrame, "invalid block index in tag: %s", tag)
	}
	return id, bi, nil
}

// CheckGap checks that the geometry matches the gap recomputed from the parent chain.
func (g Geometry) CheckGap(tag string, gap chain.Gap) error {
	if g != GeometryOf(gap) {
		return errors.Wrapf(ErrInvalidFrame, "%s: geometry mismatch: %v != %v", tag, g, GeometryOf(gap))
	}
	return nil
}
