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

package chainidx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var records = []string{
	"chain 5000 chr1 1000000 + 100 900 chr1 1000000 + 200 1000 3\n500 50 50\n250\n",
	"chain 100 chr3 5000 + 0 30 chr4 6000 + 10 40 1\n10\t5\t5\n15\n",
	"chain 5000 chr1 1000000 + 100 900 chr2 2000 - 200 1000 2\n500 50 50\n250\n",
}

func writeFile(t *testing.T) string {
	file := filepath.Join(t.TempDir(), "test.chain")
	var data []byte
	for _, r := range records {
		data = append(data, r...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestIndex(t *testing.T) {
	file := writeFile(t)
	n, err := Build(file)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 chains, got %d", n)
	}

	rdr, err := NewReader(file)
	if err != nil {
		t.Fatal(err)
	}
	defer rdr.Close()

	ids := rdr.IDs()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("unexpected IDs: %v", ids)
	}

	for i, id := range []uint64{3, 1, 2} {
		raw, err := rdr.Raw(id)
		if err != nil {
			t.Fatal(err)
		}
		if string(raw) != records[i] {
			t.Errorf("chain %d: unexpected record: %q", id, raw)
		}
		c, err := rdr.Chain(id)
		if err != nil {
			t.Fatal(err)
		}
		if c.ID != id {
			t.Errorf("expected chain %d, got %d", id, c.ID)
		}
	}

	if _, err = rdr.Chain(4); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing chain should be reported, got: %v", err)
	}
}

func TestIndexErrors(t *testing.T) {
	if _, err := Build("x.chain.gz"); !errors.Is(err, ErrCompressed) {
		t.Errorf("compressed file should be rejected, got: %v", err)
	}

	file := writeFile(t)
	if _, err := Build(file); err != nil {
		t.Fatal(err)
	}
	// append a chain after indexing
	fh, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	fh.WriteString("chain 1 chr1 10 + 0 1 chr2 10 + 0 1 9\n1\n\n")
	fh.Close()
	if _, err = NewReader(file); !errors.Is(err, ErrOutdated) {
		t.Errorf("outdated index should be reported, got: %v", err)
	}

	// broken index
	if err = os.WriteFile(IndexFile(file), []byte(".chainix"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err = NewReader(file); !errors.Is(err, ErrBrokenFile) {
		t.Errorf("broken index should be reported, got: %v", err)
	}
	if err = os.WriteFile(IndexFile(file), []byte("12345678abcdefgh"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err = NewReader(file); !errors.Is(err, ErrInvalidFileFormat) {
		t.Errorf("invalid index should be reported, got: %v", err)
	}

	// a header claiming too many records
	header := make([]byte, 32)
	copy(header, Magic[:])
	header[8] = MainVersion
	be.PutUint64(header[24:32], 1<<60)
	if err = os.WriteFile(IndexFile(file), append(header, make([]byte, 24)...), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err = NewReader(file); !errors.Is(err, ErrBrokenFile) {
		t.Errorf("index with a wrong number of records should be reported, got: %v", err)
	}

	dup := filepath.Join(t.TempDir(), "dup.chain")
	os.WriteFile(dup, []byte(records[1]+"\n"+records[1]+"\n"), 0644)
	if _, err = Build(dup); !errors.Is(err, ErrDuplicatedID) {
		t.Errorf("duplicated IDs should be reported, got: %v", err)
	}
}
