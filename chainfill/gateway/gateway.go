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

// Package gateway runs the external collaborators: the aligner, the chaining
// tool, the chain sorter and the chain merge-sorter.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chainfill/ChainFill/chainfill/job"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
)

// DefaultAlignerParams are the sensitive parameters for aligning short gap regions.
const DefaultAlignerParams = "K=1500 L=2000 M=0 T=0 W=6"

// Tools contains paths and parameters of the external tools.
type Tools struct {
	Aligner   string // lastz
	Chainer   string // axtChain
	Sorter    string // chainSort
	MergeSort string // chainMergeSort

	AlignerParams string
	Unmask        bool   // append "[unmask]" to sequence specifiers
	LinearGap     string // loose, medium, or a file

	TStore string // target sequences in 2bit
	QStore string // query sequences in 2bit

	WorkDir string // the tools run in this directory, the current one if empty
}

// DefaultTools uses tools in PATH.
var DefaultTools = Tools{
	Aligner:   "lastz",
	Chainer:   "axtChain",
	Sorter:    "chainSort",
	MergeSort: "chainMergeSort",

	AlignerParams: DefaultAlignerParams,
	LinearGap:     "loose",
}

// Check expands "~" in paths, and checks the sequence stores and the tools.
// needStores and needMergeSort select what is checked.
func (t *Tools) Check(needStores, needMergeSort bool) error {
	var err error
	for _, p := range []*string{&t.Aligner, &t.Chainer, &t.Sorter, &t.MergeSort, &t.TStore, &t.QStore} {
		if *p == "" {
			continue
		}
		if *p, err = homedir.Expand(*p); err != nil {
			return errors.Wrapf(err, "expand path: %s", *p)
		}
	}

	if t.WorkDir != "" {
		if err = os.MkdirAll(t.WorkDir, 0755); err != nil {
			return errors.Wrapf(err, "create work directory: %s", t.WorkDir)
		}
		// relative paths do not work in another directory
		for _, p := range []*string{&t.TStore, &t.QStore} {
			if *p == "" || *p == "-" {
				continue
			}
			if *p, err = filepath.Abs(*p); err != nil {
				return err
			}
		}
		if t.LinearGap != "loose" && t.LinearGap != "medium" {
			if t.LinearGap, err = filepath.Abs(t.LinearGap); err != nil {
				return err
			}
		}
	}

	if needStores {
		for _, s := range []string{t.TStore, t.QStore} {
			ok, err := pathutil.Exists(s)
			if err != nil {
				return errors.Wrapf(err, "check sequence file: %s", s)
			}
			if !ok {
				return fmt.Errorf("sequence file not found: %s", s)
			}
		}
		for _, tool := range []string{t.Aligner, t.Chainer, t.Sorter} {
			if _, err = exec.LookPath(tool); err != nil {
				return errors.Wrapf(err, "executable not found: %s", tool)
			}
		}
		switch t.LinearGap {
		case "loose", "medium":
		default:
			ok, err := pathutil.Exists(t.LinearGap)
			if err != nil || !ok {
				return fmt.Errorf("linear gap should be loose, medium, or an existing file: %s", t.LinearGap)
			}
		}
	}
	if needMergeSort {
		if _, err = exec.LookPath(t.MergeSort); err != nil {
			return errors.Wrapf(err, "executable not found: %s", t.MergeSort)
		}
	}
	return nil
}

// Stages returns the argument lists of the three stages of a realignment job:
//
//	aligner tStore/tName[s..e] qStore/qName[s..e] --format=axt <params> --strand=plus|minus
//	chainer -linearGap=<v> stdin tStore qStore stdout
//	sorter stdin stdout
//
// Ranges are 1-based and closed, and the query range is on the positive strand.
func (t *Tools) Stages(j *job.Job) [][]string {
	var unmask string
	if t.Unmask {
		unmask = "[unmask]"
	}

	aligner := make([]string, 0, 16)
	aligner = append(aligner, t.Aligner,
		t.TStore+"/"+j.TName+j.TRange()+unmask,
		t.QStore+"/"+j.QName+j.QRange()+unmask,
		"--format=axt")
	aligner = append(aligner, strings.Fields(t.AlignerParams)...)
	aligner = append(aligner, "--strand="+j.Strand())

	return [][]string{
		aligner,
		{t.Chainer, "-linearGap=" + t.LinearGap, "stdin", t.TStore, t.QStore, "stdout"},
		{t.Sorter, "stdin", "stdout"},
	}
}

// Realign runs the pipeline of a job and returns the sorted candidate chains.
func (t *Tools) Realign(ctx context.Context, j *job.Job) ([]byte, error) {
	var out bytes.Buffer
	err := RunPipeline(ctx, t.WorkDir, j.Tag(), t.Stages(j), nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// MergeSortFiles merges sorted chain files with the merge-sort tool,
// which reads the list of files from stdin.
func (t *Tools) MergeSortFiles(ctx context.Context, files []string, w io.Writer) error {
	list := strings.Join(files, "\n") + "\n"
	return RunPipeline(ctx, t.WorkDir, "merge", [][]string{{t.MergeSort, "-inputList=stdin"}}, strings.NewReader(list), w)
}

// RunPipeline runs commands connected by pipes, like "a | b | c", with stdin
// fed to the first one and the output of the last one written to stdout.
// The exit status of every stage is checked.
func RunPipeline(ctx context.Context, dir string, tag string, stages [][]string, stdin io.Reader, stdout io.Writer) error {
	n := len(stages)
	if n == 0 {
		return nil
	}

	cmds := make([]*exec.Cmd, n)
	stderrs := make([]*tailBuffer, n)
	for i, args := range stages {
		cmds[i] = exec.CommandContext(ctx, args[0], args[1:]...)
		cmds[i].Dir = dir
		stderrs[i] = newTailBuffer(StderrTail)
		cmds[i].Stderr = stderrs[i]
	}
	cmds[0].Stdin = stdin
	cmds[n-1].Stdout = stdout

	// parent copies of the pipe ends, closed once the children have their own.
	var files []*os.File
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
		files = files[:0]
	}
	for i := 0; i < n-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			closeFiles()
			return errors.Wrap(err, "create pipe")
		}
		files = append(files, r, w)
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
	}

	started := 0
	var err error
	for ; started < n; started++ {
		if err = cmds[started].Start(); err != nil {
			break
		}
	}
	closeFiles()

	if err != nil {
		for _, c := range cmds[:started] {
			c.Process.Kill()
			c.Wait()
		}
		return &CollaboratorError{Tool: stages[started][0], ExitCode: -1, Tag: tag, Err: err}
	}

	errs := make([]error, n)
	for i, c := range cmds {
		errs[i] = c.Wait()
	}

	if ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), "%s", tag)
	}

	// upstream stages killed by SIGPIPE are consequences, not causes.
	failed := -1
	for i, e := range errs {
		if e == nil {
			continue
		}
		if failed < 0 {
			failed = i
		}
		if ee, ok := e.(*exec.ExitError); ok && ee.ExitCode() >= 0 {
			failed = i
			break
		}
	}
	if failed < 0 {
		return nil
	}

	code := -1
	if ee, ok := errs[failed].(*exec.ExitError); ok {
		code = ee.ExitCode()
	}
	return &CollaboratorError{
		Tool:     stages[failed][0],
		ExitCode: code,
		Tag:      tag,
		Stderr:   stderrs[failed].String(),
		Err:      errs[failed],
	}
}
