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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/chainfill/ChainFill/chainfill/gateway"
	"github.com/chainfill/ChainFill/chainfill/job"
	"github.com/spf13/cobra"
)

type silentLogger struct{}

func (silentLogger) Infof(format string, args ...interface{})    {}
func (silentLogger) Warningf(format string, args ...interface{}) {}

const chainA = "chain 5000 chr1 1000000 + 100 900 chr1 1000000 + 200 1000 1\n500 50 50\n250\n\n"

// a mini chain for the gap of chainA: [600, 650) on the target, [700, 750) on the query
const miniA = "chain 3000 chr1 1000000 + 605 645 chr1 1000000 + 705 745 7\n15 10 10\n15\n\n"

const patchedA = "chain 5000 chr1 1000000 + 100 900 chr1 1000000 + 200 1000 1\n" +
	"500\t5\t5\n15\t10\t10\n15\t5\t5\n250\n\n"

func testFillingOptions(threads int) *FillingOptions {
	opt := DefaultFillingOptions
	opt.NumCPUs = threads
	opt.Tools.TStore = "t.2bit"
	opt.Tools.QStore = "q.2bit"
	return &opt
}

func newTestFiller(t *testing.T, opt *FillingOptions, fn realignFunc) *Filler {
	f, err := NewFiller(opt, silentLogger{})
	if err != nil {
		t.Fatal(err)
	}
	f.realign = fn
	return f
}

func fillString(t *testing.T, f *Filler, input string) (string, error) {
	var buf bytes.Buffer
	err := f.Fill(context.Background(), chain.NewReaderFromIO(strings.NewReader(input)), &buf)
	return buf.String(), err
}

func TestFillOneGap(t *testing.T) {
	var calls int
	f := newTestFiller(t, testFillingOptions(2), func(_ context.Context, j *job.Job, g chain.Gap) ([]byte, error) {
		calls++
		if j.Tag() != "1:0" || g.TBlockEnd != 600 || g.TGapEnd != 650 {
			return nil, fmt.Errorf("unexpected job: %s", j)
		}
		return []byte(miniA), nil
	})

	out, err := fillString(t, f, chainA)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected 1 realignment, got %d", calls)
	}
	if out != patchedA {
		t.Errorf("unexpected output:\n%s\nexpected:\n%s", out, patchedA)
	}
	if f.Stats.GapsPatched != 1 || f.Stats.ChainsPatched != 1 {
		t.Errorf("unexpected stats: %+v", f.Stats)
	}
}

func TestFillUnchanged(t *testing.T) {
	input := chainA +
		"chain 900 chr2 5000 + 0 30 chr3 6000 - 10 40 2\n10 5 5\n15\n\n"

	tests := []struct {
		name    string
		mini    string
		noCands int64
		below   int64
	}{
		{"no candidates", "", 1, 0},
		{"below the threshold", strings.Replace(miniA, "3000", "1500", 1), 0, 1},
	}
	for _, test := range tests {
		f := newTestFiller(t, testFillingOptions(4), func(_ context.Context, _ *job.Job, _ chain.Gap) ([]byte, error) {
			return []byte(test.mini), nil
		})
		out, err := fillString(t, f, input)
		if err != nil {
			t.Fatalf("%s: %s", test.name, err)
		}
		if out != input {
			t.Errorf("%s: output differs from the input:\n%s", test.name, out)
		}
		if f.Stats.NoCandidates != test.noCands || f.Stats.BelowThreshold != test.below {
			t.Errorf("%s: unexpected stats: %+v", test.name, f.Stats)
		}
		if f.Stats.Chains != 2 || f.Stats.Gaps != 1 {
			t.Errorf("%s: unexpected stats: %+v", test.name, f.Stats)
		}
	}
}

func TestFillNoEligibleGaps(t *testing.T) {
	opt := testFillingOptions(2)
	opt.Scan.GapMaxSizeT = 30

	f := newTestFiller(t, opt, func(_ context.Context, j *job.Job, _ chain.Gap) ([]byte, error) {
		return nil, fmt.Errorf("unexpected job: %s", j)
	})
	out, err := fillString(t, f, chainA)
	if err != nil {
		t.Fatal(err)
	}
	if out != chainA {
		t.Errorf("output differs from the input:\n%s", out)
	}
}

func TestFillOrder(t *testing.T) {
	var input strings.Builder
	n := 200
	for i := 0; i < n; i++ {
		fmt.Fprintf(&input, "chain %d chr1 1000000 + 100 900 chr1 1000000 + 200 1000 %d\n500 50 50\n250\n\n", 5000+i, i)
	}

	f := newTestFiller(t, testFillingOptions(8), func(_ context.Context, j *job.Job, _ chain.Gap) ([]byte, error) {
		time.Sleep(time.Duration(j.ChainID%3) * time.Millisecond)
		if j.ChainID%2 == 0 {
			return []byte(miniA), nil
		}
		return nil, nil
	})
	out, err := fillString(t, f, input.String())
	if err != nil {
		t.Fatal(err)
	}

	chains, err := chain.ParseChains([]byte(out))
	if err != nil {
		t.Fatal(err)
	}
	if len(chains) != n {
		t.Fatalf("expected %d chains, got %d", n, len(chains))
	}
	for i, c := range chains {
		if c.ID != uint64(i) {
			t.Fatalf("chain %d: unexpected ID %d", i, c.ID)
		}
		if err = c.Validate(); err != nil {
			t.Errorf("chain %d: %s", i, err)
		}
		if blocks := len(c.Blocks); (i%2 == 0 && blocks != 4) || (i%2 == 1 && blocks != 2) {
			t.Errorf("chain %d: unexpected number of blocks: %d", i, blocks)
		}
	}
	if f.Stats.GapsPatched != int64(n/2) {
		t.Errorf("expected %d patched gaps, got %d", n/2, f.Stats.GapsPatched)
	}
}

func TestFillCollaboratorError(t *testing.T) {
	var input strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&input, "chain 5000 chr1 1000000 + 100 900 chr1 1000000 + 200 1000 %d\n500 50 50\n250\n\n", i)
	}

	f := newTestFiller(t, testFillingOptions(4), func(_ context.Context, j *job.Job, _ chain.Gap) ([]byte, error) {
		if j.ChainID == 5 {
			return nil, &gateway.CollaboratorError{Tool: "lastz", ExitCode: 1, Tag: j.Tag(), Stderr: "oops"}
		}
		return nil, nil
	})
	_, err := fillString(t, f, input.String())
	if err == nil {
		t.Fatal("expected an error")
	}
	var ce *gateway.CollaboratorError
	if !errors.As(err, &ce) || ce.Tag != "5:0" {
		t.Errorf("expected a collaborator error of job 5:0, got: %s", err)
	}
	if exitCode(err) != 2 {
		t.Errorf("expected exit code 2, got %d", exitCode(err))
	}
}

func TestFillNegativeGap(t *testing.T) {
	// the mini chain starts before the end of the preceding block
	mini := "chain 3000 chr1 1000000 + 595 635 chr1 1000000 + 705 745 7\n15 10 10\n15\n\n"
	f := newTestFiller(t, testFillingOptions(1), func(_ context.Context, _ *job.Job, _ chain.Gap) ([]byte, error) {
		return []byte(mini), nil
	})
	_, err := fillString(t, f, chainA)
	if !errors.Is(err, chain.ErrNegativeGap) {
		t.Errorf("expected ErrNegativeGap, got: %v", err)
	}
	if exitCode(err) != 1 {
		t.Errorf("expected exit code 1, got %d", exitCode(err))
	}
}

func TestFillMiniChains(t *testing.T) {
	c, err := chain.ParseChains([]byte(chainA))
	if err != nil {
		t.Fatal(err)
	}
	jobs, _, err := job.FromChain(c[0], &chain.DefaultScanOptions)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one job, got %d, %v", len(jobs), err)
	}
	j := jobs[0]

	dir := t.TempDir()

	var buf bytes.Buffer
	if err = job.WriteFramed(&buf, j.Tag(), j.Geometry, []byte(miniA)); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "mini.txt")
	if err = os.WriteFile(file, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	opt := testFillingOptions(2)
	opt.MiniChains = file
	f, err := NewFiller(opt, silentLogger{})
	if err != nil {
		t.Fatal(err)
	}
	out, err := fillString(t, f, chainA)
	if err != nil {
		t.Fatal(err)
	}
	if out != patchedA {
		t.Errorf("unexpected output:\n%s", out)
	}

	// a frame of another gap geometry
	g := j.Geometry
	g.TGapEnd++
	buf.Reset()
	if err = job.WriteFramed(&buf, j.Tag(), g, []byte(miniA)); err != nil {
		t.Fatal(err)
	}
	file2 := filepath.Join(dir, "mini2.txt")
	if err = os.WriteFile(file2, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	opt.MiniChains = file2
	f, err = NewFiller(opt, silentLogger{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = fillString(t, f, chainA)
	if !errors.Is(err, job.ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got: %v", err)
	}

	// no frame for the gap
	opt.MiniChains = filepath.Join(dir, "empty.txt")
	if err = os.WriteFile(opt.MiniChains, nil, 0644); err != nil {
		t.Fatal(err)
	}
	f, err = NewFiller(opt, silentLogger{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = fillString(t, f, chainA)
	if !errors.Is(err, job.ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got: %v", err)
	}
}

func TestFillDump(t *testing.T) {
	f := newTestFiller(t, testFillingOptions(2), func(_ context.Context, _ *job.Job, _ chain.Gap) ([]byte, error) {
		return []byte(miniA), nil
	})
	var dump bytes.Buffer
	f.SetDump(&dump)

	if _, err := fillString(t, f, chainA); err != nil {
		t.Fatal(err)
	}

	results, err := job.ParseFramed(&dump)
	if err != nil {
		t.Fatal(err)
	}
	r, ok := results["1:0"]
	if !ok {
		t.Fatalf("frame 1:0 not found")
	}
	if r.Geometry.TBlockEnd != 600 || r.Geometry.TGapEnd != 650 {
		t.Errorf("unexpected geometry: %+v", r.Geometry)
	}
	cands, err := r.Chains()
	if err != nil || len(cands) != 1 || cands[0].ID != 7 {
		t.Errorf("unexpected mini chains: %v, %v", cands, err)
	}
}

func TestCheckFillingOptions(t *testing.T) {
	opt := testFillingOptions(1)
	if err := CheckFillingOptions(opt); err != nil {
		t.Errorf("unexpected error: %s", err)
	}

	opt.Scan.GapMaxSizeT = opt.Scan.GapMinSizeT - 1
	if CheckFillingOptions(opt) == nil {
		t.Errorf("expected an error for invalid gap sizes")
	}

	opt = testFillingOptions(1)
	opt.Tools.TStore = ""
	if CheckFillingOptions(opt) == nil {
		t.Errorf("expected an error for missing sequence files")
	}
	opt.MiniChains = "mini.txt"
	if err := CheckFillingOptions(opt); err != nil {
		t.Errorf("sequence files are not needed for framed results: %s", err)
	}
}

func TestSetFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("gap-max-size-t", 100, "")
	cmd.Flags().Int("gap-min-size-t", 10, "")
	cmd.Flags().Bool("unmask", false, "")
	cmd.Flags().StringSlice("chain-ids", []string{}, "")

	if err := cmd.Flags().Set("gap-min-size-t", "20"); err != nil {
		t.Fatal(err)
	}

	values := map[string]interface{}{
		"gap-max-size-t": int64(50),
		"gap-min-size-t": int64(5), // given on the command line
		"unmask":         true,
		"chain-ids":      []interface{}{int64(1), int64(2)},
	}
	if err := setFlags(cmd, values); err != nil {
		t.Fatal(err)
	}

	if v, _ := cmd.Flags().GetInt("gap-max-size-t"); v != 50 {
		t.Errorf("gap-max-size-t: expected 50, got %d", v)
	}
	if v, _ := cmd.Flags().GetInt("gap-min-size-t"); v != 20 {
		t.Errorf("gap-min-size-t: expected 20, got %d", v)
	}
	if v, _ := cmd.Flags().GetBool("unmask"); !v {
		t.Errorf("unmask: expected true")
	}
	if v, _ := cmd.Flags().GetStringSlice("chain-ids"); len(v) != 2 || v[0] != "1" || v[1] != "2" {
		t.Errorf("chain-ids: unexpected value: %v", v)
	}

	if err := setFlags(cmd, map[string]interface{}{"no-such-flag": 1}); err == nil {
		t.Errorf("expected an error for unknown flags")
	}
}
