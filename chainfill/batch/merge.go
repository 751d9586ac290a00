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

package batch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/chainfill/ChainFill/chainfill/gateway"
	"github.com/iafan/cwalk"
	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// ErrEmptyOutput means the merged output is missing or empty.
var ErrEmptyOutput = errors.New("batch: merged output is empty")

// DefaultPattern matches patched batch files.
var DefaultPattern = regexp.MustCompile(`\.chain(\.gz)?$`)

// CollectFiles walks a directory and returns files whose names match the pattern, sorted.
func CollectFiles(dir string, pattern *regexp.Regexp, threads int) ([]string, error) {
	files := make([]string, 0, 512)
	ch := make(chan string, threads)
	done := make(chan int)
	go func() {
		for file := range ch {
			files = append(files, file)
		}
		done <- 1
	}()

	cwalk.NumWorkers = threads
	err := cwalk.WalkWithSymlinks(dir, func(_path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && pattern.MatchString(info.Name()) {
			ch <- filepath.Join(dir, _path)
		}
		return nil
	})
	close(ch)
	<-done
	if err != nil {
		return nil, errors.Wrapf(err, "walk directory: %s", dir)
	}

	sort.Strings(files)
	return files, nil
}

// Merge merge-sorts patched batch files with the external tool.
func Merge(ctx context.Context, tools *gateway.Tools, files []string, w io.Writer) error {
	if len(files) == 0 {
		return errors.Wrap(ErrEmptyOutput, "no files to merge")
	}
	abs := make([]string, len(files))
	for i, file := range files {
		p, err := filepath.Abs(file)
		if err != nil {
			return errors.Wrapf(err, "absolute path of %s", file)
		}
		abs[i] = p
	}
	return tools.MergeSortFiles(ctx, abs, w)
}

// CountingWriter counts bytes written to W.
type CountingWriter struct {
	W io.Writer
	N int64
}

func (w *CountingWriter) Write(p []byte) (int, error) {
	n, err := w.W.Write(p)
	w.N += int64(n)
	return n, err
}

// VerifyOutput checks that a (possibly compressed) file exists and has content.
func VerifyOutput(file string) error {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return errors.Wrapf(ErrEmptyOutput, "%s: %s", file, err)
	}
	defer fh.Close()

	buf := make([]byte, 1)
	n, err := io.ReadFull(fh, buf)
	if n == 0 {
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return errors.Wrapf(err, "read %s", file)
		}
		return errors.Wrap(ErrEmptyOutput, file)
	}
	return nil
}
