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

package gateway

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/chainfill/ChainFill/chainfill/job"
)

func testJob() *job.Job {
	return &job.Job{ChainID: 1, BlockIndex: 0, TName: "chr1", QName: "chr2", Minus: true,
		Geometry: job.Geometry{BlockLen: 500, TBlockEnd: 600, TGapEnd: 650, QBlockEnd: 1250, QGapEnd: 1300}}
}

func TestStages(t *testing.T) {
	tools := DefaultTools
	tools.TStore, tools.QStore = "t.2bit", "q.2bit"
	tools.Unmask = true

	stages := tools.Stages(testJob())
	expected := [][]string{
		{"lastz", "t.2bit/chr1[601..650][unmask]", "q.2bit/chr2[1251..1300][unmask]", "--format=axt",
			"K=1500", "L=2000", "M=0", "T=0", "W=6", "--strand=minus"},
		{"axtChain", "-linearGap=loose", "stdin", "t.2bit", "q.2bit", "stdout"},
		{"chainSort", "stdin", "stdout"},
	}
	if !reflect.DeepEqual(stages, expected) {
		t.Errorf("expected:\n%v\nresult:\n%v", expected, stages)
	}
}

func writeScript(t *testing.T, dir, name, content string) string {
	file := filepath.Join(dir, name)
	if err := os.WriteFile(file, []byte("#!/bin/sh\n"+content), 0755); err != nil {
		t.Fatal(err)
	}
	return file
}

const candidate = "chain 3000 chr1 1000000 + 605 645 chr2 2000 - 705 745 9\n40\n\n"

func fakeTools(t *testing.T, chainerExit int) Tools {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}
	dir := t.TempDir()
	tools := DefaultTools
	tools.TStore, tools.QStore = "t.2bit", "q.2bit"
	// the aligner writes its arguments, the chainer checks them
	tools.Aligner = writeScript(t, dir, "aligner", `echo "$@"`+"\n")
	if chainerExit == 0 {
		tools.Chainer = writeScript(t, dir, "chainer",
			`grep -q -- '--strand=minus' || exit 9`+"\n"+
				`printf '`+strings.ReplaceAll(candidate, "\n", `\n`)+`'`+"\n")
	} else {
		tools.Chainer = writeScript(t, dir, "chainer", "echo oops >&2\nexit 3\n")
	}
	tools.Sorter = writeScript(t, dir, "sorter", "cat\n")
	tools.MergeSort = writeScript(t, dir, "merge", `while read f; do cat "$f"; done`+"\n")
	return tools
}

func TestRealign(t *testing.T) {
	tools := fakeTools(t, 0)
	data, err := tools.Realign(context.Background(), testJob())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != candidate {
		t.Errorf("unexpected output: %q", data)
	}
}

func TestRealignFailure(t *testing.T) {
	tools := fakeTools(t, 3)
	_, err := tools.Realign(context.Background(), testJob())
	if err == nil {
		t.Fatal("error expected")
	}
	var ce *CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("unexpected error type: %T", err)
	}
	if ce.Tool != tools.Chainer || ce.ExitCode != 3 || ce.Tag != "1:0" || !strings.Contains(ce.Stderr, "oops") {
		t.Errorf("unexpected error: %+v", ce)
	}
}

func TestMissingTool(t *testing.T) {
	tools := fakeTools(t, 0)
	tools.Sorter = filepath.Join(t.TempDir(), "not-exist")
	_, err := tools.Realign(context.Background(), testJob())
	var ce *CollaboratorError
	if !errors.As(err, &ce) || ce.Tool != tools.Sorter || ce.ExitCode != -1 {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMergeSortFiles(t *testing.T) {
	tools := fakeTools(t, 0)
	dir := t.TempDir()
	var files []string
	for i, s := range []string{"a\n", "b\n"} {
		file := filepath.Join(dir, string(rune('0'+i))+".chain")
		if err := os.WriteFile(file, []byte(s), 0644); err != nil {
			t.Fatal(err)
		}
		files = append(files, file)
	}
	var buf bytes.Buffer
	if err := tools.MergeSortFiles(context.Background(), files, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "a\nb\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(4)
	b.Write([]byte("ab"))
	if b.String() != "ab" {
		t.Errorf("unexpected: %s", b.String())
	}
	b.Write([]byte("cdef"))
	if b.String() != "...cdef" {
		t.Errorf("unexpected: %s", b.String())
	}
	b.Write([]byte("g"))
	if b.String() != "...defg" {
		t.Errorf("unexpected: %s", b.String())
	}
}
