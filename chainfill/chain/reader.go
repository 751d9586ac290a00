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
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// BufferSize is size of reading buffer
var BufferSize = 65536

// Reader is a streaming parser of chain-format text.
// Blank lines and comment lines starting with "#" between records are skipped.
// The raw text kept for each record has "\r\n" line breaks normalised to "\n",
// so an unmodified record is written back byte-for-byte only for LF input.
type Reader struct {
	fh *xopen.Reader
	r  *bufio.Reader

	// Validate controls whether every chain is checked with Chain.Validate.
	Validate bool

	line   int   // current line number
	offset int64 // bytes consumed

	// header line of the next record, already read
	pending       []byte
	pendingLine   int
	pendingOffset int64

	// Offset and Length locate the last record in the (uncompressed) input,
	// from the header to the end of the last block line.
	Offset int64
	Length int64

	buf []byte
}

// NewReader opens a plain or compressed chain file, "-" for stdin.
func NewReader(file string) (*Reader, error) {
	fh, err := xopen.Ropen(file)
	if err == xopen.ErrNoContent { // empty file
		return NewReaderFromIO(bytes.NewReader(nil)), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading chain file: %s", file)
	}
	r := NewReaderFromIO(fh)
	r.fh = fh
	return r, nil
}

// NewReaderFromIO creates a Reader from an io.Reader.
func NewReaderFromIO(rd io.Reader) *Reader {
	return &Reader{
		r:        bufio.NewReaderSize(rd, BufferSize),
		Validate: true,
		buf:      make([]byte, 0, 1024),
	}
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.fh != nil {
		return r.fh.Close()
	}
	return nil
}

// readLine returns a line with the line break removed, and the number
// of bytes consumed. The returned slice is valid until the next call.
func (r *Reader) readLine() ([]byte, int, error) {
	line, err := r.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		r.buf = append(r.buf[:0], line...)
		for err == bufio.ErrBufferFull {
			line, err = r.r.ReadSlice('\n')
			r.buf = append(r.buf, line...)
		}
		line = r.buf
	}
	n := len(line)
	if err != nil && err != io.EOF {
		return nil, n, err
	}
	if n == 0 && err == io.EOF {
		return nil, 0, io.EOF
	}
	r.line++
	return bytes.TrimRight(line, "\r\n"), n, nil
}

// Read returns the next chain, or io.EOF when no more records are left.
func (r *Reader) Read() (*Chain, error) {
	var line []byte
	var n int
	var err error

	// header
	var header []byte
	var headerLine int
	var headerOffset int64
	if r.pending != nil {
		header, headerLine, headerOffset = r.pending, r.pendingLine, r.pendingOffset
		r.pending = nil
	} else {
		for {
			headerOffset = r.offset
			line, n, err = r.readLine()
			if err != nil {
				return nil, err
			}
			r.offset += int64(n)
			if len(line) == 0 || line[0] == '#' {
				continue
			}
			if !IsHeaderLine(line) {
				return nil, errors.Wrapf(ErrInvalidFormat, "line %d: chain header expected: %s", r.line, line)
			}
			header = append([]byte(nil), line...)
			headerLine = r.line
			break
		}
	}

	c := &Chain{Blocks: make([]Block, 0, 8)}
	if err = ParseHeader(header, c); err != nil {
		return nil, errors.Wrapf(err, "line %d", headerLine)
	}
	raw := make([]byte, 0, len(header)+64)
	raw = append(raw, header...)
	raw = append(raw, '\n')
	end := r.offset

	// blocks
	var b Block
	var last bool
	for {
		lineOffset := r.offset
		line, n, err = r.readLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		r.offset += int64(n)

		if len(line) == 0 { // the end of a record
			break
		}
		if IsHeaderLine(line) { // a record without the trailing blank line
			r.pending = append([]byte(nil), line...)
			r.pendingLine = r.line
			r.pendingOffset = lineOffset
			break
		}
		if !IsBlockLine(line) {
			return nil, errors.Wrapf(ErrInvalidFormat, "line %d: block expected in chain %d: %s", r.line, c.ID, line)
		}
		if last {
			return nil, errors.Wrapf(ErrInvalidFormat, "line %d: block after the last block in chain %d", r.line, c.ID)
		}

		b, last, err = ParseBlock(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", r.line)
		}
		c.Blocks = append(c.Blocks, b)
		raw = append(raw, line...)
		raw = append(raw, '\n')
		end = r.offset
	}

	if !last {
		return nil, errors.Wrapf(ErrInvalidFormat, "line %d: chain %d is not terminated by a single-value block", headerLine, c.ID)
	}

	c.raw = raw
	r.Offset = headerOffset
	r.Length = end - headerOffset

	if r.Validate {
		if err = c.Validate(); err != nil {
			return nil, errors.Wrapf(err, "line %d", headerLine)
		}
	}
	return c, nil
}

// ParseChains parses all chains in a piece of text, e.g., the output of
// the chaining tool for one gap.
func ParseChains(data []byte) ([]*Chain, error) {
	r := NewReaderFromIO(bytes.NewReader(data))
	chains := make([]*Chain, 0, 4)
	for {
		c, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chains = append(chains, c)
	}
	return chains, nil
}
