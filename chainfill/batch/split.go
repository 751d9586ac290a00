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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/pkg/errors"
)

// SplitOptions contains the options for splitting a chain file.
type SplitOptions struct {
	Parts  int    // number of batches
	Seed   int64  // seed for shuffling chain IDs
	OutDir string // output directory
	Prefix string // prefix of batch files, "<prefix><i>.chain"
}

// BatchFile returns the path of batch i.
func (opt *SplitOptions) BatchFile(i int) string {
	return filepath.Join(opt.OutDir, fmt.Sprintf("%s%d.chain", opt.Prefix, i))
}

// Split distributes the chains of a file into opt.Parts batch files and
// writes the manifest. The file is read twice, so stdin is not supported.
func Split(file string, opt *SplitOptions) (*Manifest, error) {
	if file == "-" {
		return nil, fmt.Errorf("stdin is not supported for splitting")
	}

	// chain IDs and target spans
	ids := make([]uint64, 0, 1024)
	spans := make(map[uint64]int, 1024)
	rdr, err := chain.NewReader(file)
	if err != nil {
		return nil, err
	}
	for {
		c, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rdr.Close()
			return nil, errors.Wrapf(err, "read %s", file)
		}
		if _, ok := spans[c.ID]; ok {
			rdr.Close()
			return nil, errors.Wrapf(chain.ErrInvalidFormat, "%s: duplicated chain ID: %d", file, c.ID)
		}
		ids = append(ids, c.ID)
		spans[c.ID] = c.TSpan()
	}
	rdr.Close()

	buckets, err := Partition(ids, opt.Parts, opt.Seed)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version: ManifestVersion,
		Input:   file,
		Parts:   opt.Parts,
		Seed:    opt.Seed,
		Chains:  len(ids),
		Batches: make([]*Info, opt.Parts),
	}
	which := make(map[uint64]int, len(ids))
	for i, b := range buckets {
		info := &Info{Index: i, Input: opt.BatchFile(i), Chains: len(b), Status: StatusPending}
		for _, id := range b {
			which[id] = i
			info.Bases += int64(spans[id])
		}
		m.Batches[i] = info
	}

	if err = os.MkdirAll(opt.OutDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create output directory: %s", opt.OutDir)
	}

	// all batch files are created, including empty ones
	outfhs := make([]*os.File, opt.Parts)
	writers := make([]*bufio.Writer, opt.Parts)
	closeAll := func() error {
		var err error
		for i, fh := range outfhs {
			if fh == nil {
				continue
			}
			if e := writers[i].Flush(); e != nil && err == nil {
				err = e
			}
			if e := fh.Close(); e != nil && err == nil {
				err = e
			}
			outfhs[i] = nil
		}
		return err
	}
	for i := range outfhs {
		outfhs[i], err = os.Create(opt.BatchFile(i))
		if err != nil {
			closeAll()
			return nil, errors.Wrapf(err, "create batch file: %s", opt.BatchFile(i))
		}
		writers[i] = bufio.NewWriterSize(outfhs[i], os.Getpagesize())
	}

	rdr, err = chain.NewReader(file)
	if err != nil {
		closeAll()
		return nil, err
	}
	defer rdr.Close()
	rdr.Validate = false // checked in the first pass
	for {
		c, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeAll()
			return nil, errors.Wrapf(err, "read %s", file)
		}
		if err = chain.Write(writers[which[c.ID]], c); err != nil {
			closeAll()
			return nil, errors.Wrapf(err, "write batch file: %s", opt.BatchFile(which[c.ID]))
		}
	}
	if err = closeAll(); err != nil {
		return nil, errors.Wrap(err, "close batch files")
	}

	if err = m.Write(filepath.Join(opt.OutDir, FileManifest)); err != nil {
		return nil, err
	}
	return m, nil
}
