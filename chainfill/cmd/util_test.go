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

package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chainfill/ChainFill/chainfill/chain"
)

func TestGapSizeStats(t *testing.T) {
	vals := []float64{9, 1, 5, 3, 7, 2, 8, 4, 6, 10}
	s := gapSizeStats(vals)
	expected := []string{"10", "5.50", "1", "3", "5", "8", "9", "10", "10"}
	if strings.Join(s, ",") != strings.Join(expected, ",") {
		t.Errorf("expected %v, got %v", expected, s)
	}

	s = gapSizeStats(nil)
	if s[0] != "0" || len(s) != 9 {
		t.Errorf("unexpected stats of no gaps: %v", s)
	}
}

func TestCheckChain(t *testing.T) {
	input := chainA +
		"chain 900 chr2 5000 + 0 30 chr3 6000 - 10 40 2\n10 5 5\n15\n\n" +
		"chain 900 chr2 5000 + 0 30 chr3 6000 - 10 40 2\n10 5 5\n15\n\n" + // duplicated
		"chain 900 chr2 5000 + 0 31 chr3 6000 - 10 40 3\n10 5 5\n15\n\n" // span mismatch

	rdr := chain.NewReaderFromIO(strings.NewReader(input))
	rdr.Validate = false
	chains := make([]*chain.Chain, 0, 4)
	for {
		c, err := rdr.Read()
		if err != nil {
			break
		}
		chains = append(chains, c)
	}
	if len(chains) != 4 {
		t.Fatalf("expected 4 chains, got %d", len(chains))
	}

	tSizes := chain.Sizes{"chr1": 1000000, "chr2": 5000}
	ids := make(map[uint64]struct{})
	if err := checkChain(chains[0], ids, tSizes, nil); err != nil {
		t.Errorf("chain 1: unexpected error: %s", err)
	}
	if err := checkChain(chains[1], ids, tSizes, nil); err != nil {
		t.Errorf("chain 2: unexpected error: %s", err)
	}
	if err := checkChain(chains[2], ids, tSizes, nil); !errors.Is(err, chain.ErrInvalidFormat) {
		t.Errorf("expected an error of duplicated ID, got: %v", err)
	}
	if err := checkChain(chains[3], ids, tSizes, nil); !errors.Is(err, chain.ErrSpanMismatch) {
		t.Errorf("expected ErrSpanMismatch, got: %v", err)
	}

	// unknown query sequence
	if err := checkChain(chains[0], map[uint64]struct{}{}, nil, chain.Sizes{"chr9": 100}); err == nil {
		t.Errorf("expected an error for unknown sequence")
	}
}

func TestGetListFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "list.txt")
	if err := os.WriteFile(file, []byte("a.chain\n\n# comment\n  b.chain  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	files, err := getListFromFile(file, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "a.chain" || files[1] != "b.chain" {
		t.Errorf("unexpected files: %v", files)
	}
}
