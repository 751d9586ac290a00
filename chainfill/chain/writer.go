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
	"io"
	"strconv"
)

// AppendHeader appends the header line, without the line break.
func AppendHeader(buf []byte, c *Chain) []byte {
	buf = append(buf, "chain "...)
	buf = strconv.AppendInt(buf, int64(c.Score), 10)
	buf = append(buf, ' ')
	buf = append(buf, c.TName...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(c.TSize), 10)
	buf = append(buf, ' ', c.TStrand, ' ')
	buf = strconv.AppendInt(buf, int64(c.TStart), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(c.TEnd), 10)
	buf = append(buf, ' ')
	buf = append(buf, c.QName...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(c.QSize), 10)
	buf = append(buf, ' ', c.QStrand, ' ')
	buf = strconv.AppendInt(buf, int64(c.QStart), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(c.QEnd), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, c.ID, 10)
	return buf
}

// AppendChain appends a whole record. Chains not modified since parsing
// are written as they were read.
func AppendChain(buf []byte, c *Chain) []byte {
	if raw := c.Raw(); raw != nil {
		return append(buf, raw...)
	}

	buf = AppendHeader(buf, c)
	buf = append(buf, '\n')
	last := len(c.Blocks) - 1
	for i, b := range c.Blocks {
		buf = strconv.AppendInt(buf, int64(b.Size), 10)
		if i < last {
			buf = append(buf, '\t')
			buf = strconv.AppendInt(buf, int64(b.DT), 10)
			buf = append(buf, '\t')
			buf = strconv.AppendInt(buf, int64(b.DQ), 10)
		}
		buf = append(buf, '\n')
	}
	return buf
}

// Write writes a chain followed by a blank line.
func Write(w io.Writer, c *Chain) error {
	buf := AppendChain(make([]byte, 0, 64+16*len(c.Blocks)), c)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}
