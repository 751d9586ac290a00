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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/chainfill/ChainFill/chainfill/batch"
	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/chainfill/ChainFill/chainfill/gateway"
	"github.com/chainfill/ChainFill/chainfill/job"
)

func splitTestChains(t *testing.T, n, parts int) (*batch.Manifest, string) {
	dir := t.TempDir()
	var input strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&input, "chain 5000 chr1 1000000 + 100 900 chr1 1000000 + 200 1000 %d\n500 50 50\n250\n\n", i)
	}
	file := filepath.Join(dir, "in.chain")
	if err := os.WriteFile(file, []byte(input.String()), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := batch.Split(file, &batch.SplitOptions{
		Parts:  parts,
		Seed:   1,
		OutDir: filepath.Join(dir, DirSplit),
		Prefix: "part",
	})
	if err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, DirFilled)
	if err = os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	return m, outDir
}

func TestFillBatches(t *testing.T) {
	n := 20
	m, outDir := splitTestChains(t, n, 4)

	stats, err := fillBatches(context.Background(), m, testFillingOptions(4), outDir, 2,
		func(_ context.Context, _ *job.Job, _ chain.Gap) ([]byte, error) {
			return []byte(miniA), nil
		}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Chains != int64(n) || stats.GapsPatched != int64(n) {
		t.Errorf("unexpected stats: %+v", stats)
	}

	files, err := m.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 {
		t.Fatalf("expected 4 patched batches, got %d", len(files))
	}
	var records int
	for _, b := range m.Batches {
		if b.Status != batch.StatusDone {
			t.Errorf("batch %d: unexpected status: %s", b.Index, b.Status)
		}
		if filepath.Dir(b.Output) != outDir {
			t.Errorf("batch %d: unexpected output: %s", b.Index, b.Output)
		}
		records += b.Records
	}
	if records != n {
		t.Errorf("expected %d records, got %d", n, records)
	}
}

func TestFillBatchesFailFast(t *testing.T) {
	m, outDir := splitTestChains(t, 20, 4)

	_, err := fillBatches(context.Background(), m, testFillingOptions(4), outDir, 2,
		func(_ context.Context, j *job.Job, _ chain.Gap) ([]byte, error) {
			if j.ChainID == 7 {
				return nil, &gateway.CollaboratorError{Tool: "lastz", ExitCode: 1, Tag: j.Tag(), Stderr: "oops"}
			}
			return []byte(miniA), nil
		}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var ce *gateway.CollaboratorError
	if !errors.As(err, &ce) || ce.Tag != "7:0" {
		t.Errorf("expected a collaborator error of job 7:0, got: %s", err)
	}
	if exitCode(err) != 2 {
		t.Errorf("expected exit code 2, got %d", exitCode(err))
	}

	var failed int
	for _, b := range m.Batches {
		switch b.Status {
		case batch.StatusFailed:
			failed++
			if b.Error == "" {
				t.Errorf("batch %d: error message expected", b.Index)
			}
		case batch.StatusDone:
		default:
			t.Errorf("batch %d: unexpected status: %s", b.Index, b.Status)
		}
	}
	if failed == 0 {
		t.Errorf("the batch of chain 7 should be marked as failed")
	}

	if _, err = m.Verify(); !errors.Is(err, batch.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got: %v", err)
	}
}

func TestMergeChainsEmptyOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}
	dir := t.TempDir()
	file := filepath.Join(dir, "part0.chain")
	if err := os.WriteFile(file, []byte(chainA), 0644); err != nil {
		t.Fatal(err)
	}

	tools := gateway.DefaultTools
	tools.MergeSort = filepath.Join(dir, "mergeSort")
	if err := os.WriteFile(tools.MergeSort, []byte("#!/bin/sh\ncat > /dev/null\n"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, outFile := range []string{"-", filepath.Join(dir, "empty.chain")} {
		err := mergeChains(context.Background(), &tools, []string{file}, outFile, -1)
		if !errors.Is(err, batch.ErrEmptyOutput) {
			t.Errorf("%s: expected ErrEmptyOutput, got: %v", outFile, err)
		}
	}

	if err := os.WriteFile(tools.MergeSort, []byte("#!/bin/sh\nwhile read f; do cat \"$f\"; done\n"), 0755); err != nil {
		t.Fatal(err)
	}
	outFile := filepath.Join(dir, "merged.chain")
	if err := mergeChains(context.Background(), &tools, []string{file}, outFile, -1); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != chainA {
		t.Errorf("unexpected output:\n%s", data)
	}
}
