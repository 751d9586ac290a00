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
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/pkg/errors"
)

// ErrInvalidFrame means the sentinel framing of the realignment output is broken.
var ErrInvalidFrame = errors.New("job: invalid sentinel frame")

// sentinels
var (
	_open  = []byte("#gap")
	_close = []byte("#end")
)

// Result is the output of one job: the candidate chains in chain format.
type Result struct {
	Tag        string
	ChainID    uint64
	BlockIndex int
	Geometry

	Data []byte
}

// Chains parses the candidate chains.
func (r *Result) Chains() ([]*chain.Chain, error) {
	if len(bytes.TrimSpace(r.Data)) == 0 {
		return nil, nil
	}
	chains, err := chain.ParseChains(r.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "mini chains of %s", r.Tag)
	}
	return chains, nil
}

// AppendOpen appends the opening sentinel line.
func AppendOpen(buf []byte, tag string, g Geometry) []byte {
	buf = append(buf, _open...)
	buf = append(buf, '\t')
	buf = append(buf, tag...)
	for _, v := range [...]int{g.BlockLen, g.TBlockEnd, g.TGapEnd, g.QBlockEnd, g.QGapEnd} {
		buf = append(buf, '\t')
		buf = strconv.AppendInt(buf, int64(v), 10)
	}
	return append(buf, '\n')
}

// AppendClose appends the closing sentinel line.
func AppendClose(buf []byte, tag string) []byte {
	buf = append(buf, _close...)
	buf = append(buf, '\t')
	buf = append(buf, tag...)
	return append(buf, '\n')
}

// WriteFramed writes the output of a job between two sentinels.
func WriteFramed(w io.Writer, tag string, g Geometry, data []byte) error {
	buf := make([]byte, 0, len(data)+128)
	buf = AppendOpen(buf, tag, g)
	buf = append(buf, data...)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		buf = append(buf, '\n')
	}
	buf = AppendClose(buf, tag)
	_, err := w.Write(buf)
	return err
}

// ResultReader splits a sentinel-framed stream into per-job results.
type ResultReader struct {
	r    *bufio.Reader
	line int
}

// NewResultReader creates a ResultReader.
func NewResultReader(r io.Reader) *ResultReader {
	return &ResultReader{r: bufio.NewReaderSize(r, 65536)}
}

func (rr *ResultReader) readLine() ([]byte, error) {
	line, err := rr.r.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return nil, err
	}
	if err != nil && err != io.EOF {
		return nil, err
	}
	rr.line++
	return line, nil
}

// Read returns the next result, or io.EOF.
// Text outside frames other than blank lines, a frame opened inside another,
// a closing sentinel with another tag, or a frame left open are all errors.
func (rr *ResultReader) Read() (*Result, error) {
	var line, trimmed []byte
	var err error

	// opening sentinel
	for {
		line, err = rr.readLine()
		if err != nil {
			return nil, err
		}
		trimmed = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(trimmed)) == 0 {
			continue
		}
		if bytes.HasPrefix(trimmed, _close) {
			return nil, errors.Wrapf(ErrInvalidFrame, "line %d: closing sentinel without an opening one: %s", rr.line, trimmed)
		}
		if !bytes.HasPrefix(trimmed, _open) {
			return nil, errors.Wrapf(ErrInvalidFrame, "line %d: text outside frames: %s", rr.line, trimmed)
		}
		break
	}

	res, err := parseOpen(trimmed)
	if err != nil {
		return nil, errors.Wrapf(err, "line %d", rr.line)
	}
	openLine := rr.line

	var data []byte
	for {
		line, err = rr.readLine()
		if err == io.EOF {
			return nil, errors.Wrapf(ErrInvalidFrame, "line %d: frame %s is not closed", openLine, res.Tag)
		}
		if err != nil {
			return nil, err
		}
		trimmed = bytes.TrimRight(line, "\r\n")
		if bytes.HasPrefix(trimmed, _open) {
			return nil, errors.Wrapf(ErrInvalidFrame, "line %d: frame opened inside frame %s", rr.line, res.Tag)
		}
		if bytes.HasPrefix(trimmed, _close) {
			items := bytes.Split(trimmed, []byte{'\t'})
			if len(items) != 2 || !bytes.Equal(items[0], _close) {
				return nil, errors.Wrapf(ErrInvalidFrame, "line %d: malformed closing sentinel: %s", rr.line, trimmed)
			}
			if string(items[1]) != res.Tag {
				return nil, errors.Wrapf(ErrInvalidFrame, "line %d: frame %s closed by %s", rr.line, res.Tag, items[1])
			}
			break
		}
		data = append(data, trimmed...)
		data = append(data, '\n')
	}
	res.Data = data
	return res, nil
}

func parseOpen(line []byte) (*Result, error) {
	items := bytes.Split(line, []byte{'\t'})
	if len(items) != 7 || !bytes.Equal(items[0], _open) {
		return nil, errors.Wrapf(ErrInvalidFrame, "malformed opening sentinel: %s", line)
	}
	res := &Result{Tag: string(items[1])}
	var err error
	if res.ChainID, res.BlockIndex, err = ParseTag(res.Tag); err != nil {
		return nil, err
	}
	values := [...]*int{&res.BlockLen, &res.TBlockEnd, &res.TGapEnd, &res.QBlockEnd, &res.QGapEnd}
	for i, v := range values {
		if *v, err = strconv.Atoi(string(items[i+2])); err != nil || *v < 0 {
			return nil, errors.Wrapf(ErrInvalidFrame, "malformed opening sentinel: %s", line)
		}
	}
	return res, nil
}

// ParseFramed reads all results of a stream, indexed by tag.
// A tag seen twice is an error.
func ParseFramed(r io.Reader) (map[string]*Result, error) {
	rr := NewResultReader(r)
	m := make(map[string]*Result, 1024)
	for {
		res, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, ok := m[res.Tag]; ok {
			return nil, errors.Wrapf(ErrInvalidFrame, "duplicated frame: %s", res.Tag)
		}
		m[res.Tag] = res
	}
	return m, nil
}
