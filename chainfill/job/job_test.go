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
	"errors"
	"strings"
	"testing"

	"github.com/chainfill/ChainFill/chainfill/chain"
)

func parseOne(t *testing.T, s string) *chain.Chain {
	chains, err := chain.ParseChains([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return chains[0]
}

func TestFromChain(t *testing.T) {
	c := parseOne(t, "chain 5000 chr1 1000000 + 100 900 chr2 2000 - 200 1000 7\n500 50 50\n250\n")
	jobs, gaps, err := FromChain(c, &chain.DefaultScanOptions)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || len(gaps) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	j := jobs[0]
	if j.Tag() != "7:0" {
		t.Errorf("unexpected tag: %s", j.Tag())
	}
	if j.Strand() != "minus" {
		t.Errorf("unexpected strand: %s", j.Strand())
	}
	if j.TRange() != "[601..650]" {
		t.Errorf("unexpected target range: %s", j.TRange())
	}
	if j.QRange() != "[1251..1300]" {
		t.Errorf("unexpected query range: %s", j.QRange())
	}
	g := Geometry{BlockLen: 500, TBlockEnd: 600, TGapEnd: 650, QBlockEnd: 1250, QGapEnd: 1300}
	if j.Geometry != g {
		t.Errorf("unexpected geometry: %+v", j.Geometry)
	}
	if err = j.Geometry.CheckGap(j.Tag(), gaps[0]); err != nil {
		t.Error(err)
	}
	g.TGapEnd++
	if err = g.CheckGap(j.Tag(), gaps[0]); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("geometry mismatch expected, got %v", err)
	}
}

func TestTag(t *testing.T) {
	id, i, err := ParseTag(Tag(18446744073709551615, 12))
	if err != nil {
		t.Fatal(err)
	}
	if id != 18446744073709551615 || i != 12 {
		t.Errorf("unexpected tag values: %d, %d", id, i)
	}
	for _, s := range []string{"", "12", ":1", "1:", "a:1", "1:-1", "1:b"} {
		if _, _, err = ParseTag(s); err == nil {
			t.Errorf("invalid tag not detected: %q", s)
		}
	}
}

const mini = "chain 3000 chr1 1000000 + 605 645 chr1 1000000 + 705 745 9\n15\t10\t10\n15\n\n"

func TestFraming(t *testing.T) {
	g := Geometry{BlockLen: 500, TBlockEnd: 600, TGapEnd: 650, QBlockEnd: 700, QGapEnd: 750}
	var buf bytes.Buffer
	if err := WriteFramed(&buf, "1:0", g, []byte(mini)); err != nil {
		t.Fatal(err)
	}
	if err := WriteFramed(&buf, "1:2", g, nil); err != nil {
		t.Fatal(err)
	}

	expected := "#gap\t1:0\t500\t600\t650\t700\t750\n" + mini + "#end\t1:0\n" +
		"#gap\t1:2\t500\t600\t650\t700\t750\n#end\t1:2\n"
	if buf.String() != expected {
		t.Fatalf("unexpected framed output:\n%s", buf.String())
	}

	results, err := ParseFramed(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	r := results["1:0"]
	if r == nil || r.ChainID != 1 || r.BlockIndex != 0 || r.Geometry != g {
		t.Fatalf("unexpected result: %+v", r)
	}
	chains, err := r.Chains()
	if err != nil {
		t.Fatal(err)
	}
	if len(chains) != 1 || chains[0].ID != 9 || len(chains[0].Blocks) != 2 {
		t.Errorf("unexpected candidates: %v", chains)
	}

	chains, err = results["1:2"].Chains()
	if err != nil {
		t.Fatal(err)
	}
	if len(chains) != 0 {
		t.Errorf("no candidates expected")
	}
}

func TestFramingErrors(t *testing.T) {
	open := "#gap\t1:0\t500\t600\t650\t700\t750\n"
	cases := map[string]string{
		"text outside":   "hello\n" + open + "#end\t1:0\n",
		"missing close":  open + mini,
		"missing open":   mini + "#end\t1:0\n",
		"nested":         open + "#gap\t1:1\t500\t600\t650\t700\t750\n#end\t1:1\n#end\t1:0\n",
		"other tag":      open + "#end\t1:1\n",
		"malformed open": "#gap\t1:0\t500\t600\n#end\t1:0\n",
		"negative value": "#gap\t1:0\t500\t-600\t650\t700\t750\n#end\t1:0\n",
		"bad tag":        "#gap\tx\t500\t600\t650\t700\t750\n#end\tx\n",
		"duplicated":     open + "#end\t1:0\n" + open + "#end\t1:0\n",
	}
	for name, s := range cases {
		_, err := ParseFramed(strings.NewReader(s))
		if err == nil {
			t.Errorf("%s: error expected", name)
			continue
		}
		if !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("%s: unexpected error: %s", name, err)
		}
	}

	// blank lines between frames are fine
	if _, err := ParseFramed(strings.NewReader("\n" + open + "#end\t1:0\n\n")); err != nil {
		t.Error(err)
	}
}

func TestScriptWriter(t *testing.T) {
	j := &Job{ChainID: 3, BlockIndex: 1, TName: "chr1", QName: "chr2",
		Geometry: Geometry{BlockLen: 10, TBlockEnd: 20, TGapEnd: 40, QBlockEnd: 30, QGapEnd: 60}}
	stages := [][]string{
		{"lastz", "t.2bit/chr1[21..40]", "q.2bit/chr2[31..60]", "--format=axt", "K=1500", "--strand=plus"},
		{"axtChain", "-linearGap=loose", "stdin", "t.2bit", "q.2bit", "stdout"},
		{"chainSort", "stdin", "stdout"},
	}
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	sw := NewScriptWriter(w)
	if err := sw.Write(j, stages); err != nil {
		t.Fatal(err)
	}
	w.Flush()

	expected := "#!/usr/bin/env bash\n" +
		`set -o pipefail; printf '#gap\t3:1\t10\t20\t40\t30\t60\n'; ` +
		`lastz 't.2bit/chr1[21..40]' 'q.2bit/chr2[31..60]' --format=axt K=1500 --strand=plus | ` +
		`axtChain -linearGap=loose stdin t.2bit q.2bit stdout | chainSort stdin stdout && printf '#end\t3:1\n'` + "\n"
	if buf.String() != expected {
		t.Errorf("expected:\n%s\nresult:\n%s", expected, buf.String())
	}
	if sw.N != 1 {
		t.Errorf("expected 1 job, got %d", sw.N)
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":          "''",
		"abc":       "abc",
		"a b":       "'a b'",
		"it's":      `'it'\''s'`,
		"x[1..2]":   "'x[1..2]'",
		"--a=b,c:d": "--a=b,c:d",
	}
	for s, expected := range cases {
		if q := ShellQuote(s); q != expected {
			t.Errorf("%q: expected %s, got %s", s, expected, q)
		}
	}
}
