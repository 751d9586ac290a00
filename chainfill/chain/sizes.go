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
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/breader"
)

// Sizes maps sequence names to their lengths, e.g., from a chrom.sizes file.
type Sizes map[string]int

type sizeRecord struct {
	name string
	size int
}

// ReadSizes reads a two-column tab-delimited file of sequence names and sizes.
func ReadSizes(file string) (Sizes, error) {
	fn := func(line string) (interface{}, bool, error) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" || line[0] == '#' {
			return nil, false, nil
		}
		items := strings.Split(line, "\t")
		if len(items) < 2 {
			return nil, false, fmt.Errorf("two columns needed: %s", line)
		}
		size, err := strconv.Atoi(items[1])
		if err != nil || size < 0 {
			return nil, false, fmt.Errorf("invalid sequence size: %s", line)
		}
		return sizeRecord{name: items[0], size: size}, true, nil
	}

	reader, err := breader.NewBufferedReader(file, 2, 1000, fn)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sizes file: %s", file)
	}

	m := make(Sizes, 1024)
	var r sizeRecord
	for chunk := range reader.Ch {
		if chunk.Err != nil {
			reader.Cancel()
			for range reader.Ch {
			}
			return nil, errors.Wrapf(chunk.Err, "reading sizes file: %s", file)
		}
		for _, data := range chunk.Data {
			r = data.(sizeRecord)
			m[r.name] = r.size
		}
	}
	return m, nil
}

// CheckTarget checks the target name and size of a chain.
func (s Sizes) CheckTarget(c *Chain) error {
	return s.check(c.ID, "target", c.TName, c.TSize)
}

// CheckQuery checks the query name and size of a chain.
func (s Sizes) CheckQuery(c *Chain) error {
	return s.check(c.ID, "query", c.QName, c.QSize)
}

func (s Sizes) check(id uint64, what string, name string, size int) error {
	v, ok := s[name]
	if !ok {
		return errors.Wrapf(ErrInvalidFormat, "chain %d: %s sequence not found in sizes file: %s", id, what, name)
	}
	if v != size {
		return errors.Wrapf(ErrInvalidFormat, "chain %d: %s sequence %s size mismatch: %d != %d", id, what, name, size, v)
	}
	return nil
}
