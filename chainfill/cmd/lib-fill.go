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
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/chainfill/ChainFill/chainfill/gateway"
	"github.com/chainfill/ChainFill/chainfill/job"
	"github.com/pkg/errors"
)

// FillingOptions contains the options for filling chain gaps.
type FillingOptions struct {
	// general
	NumCPUs  int  `toml:"threads"`
	Verbose  bool `toml:"-"` // show log
	Log2File bool `toml:"-"` // log file

	// which chains and gaps
	Scan chain.ScanOptions `toml:"scan"`

	// mini chains with lower scores are discarded
	ScoreThreshold int `toml:"score-threshold"`

	// external tools
	Tools gateway.Tools `toml:"tools"`

	// reading framed results of realignment from this file, instead of running the tools
	MiniChains string `toml:"mini-chains,omitempty"`

	// optional tables of sequence sizes for checking chain headers
	TSizes chain.Sizes `toml:"-"`
	QSizes chain.Sizes `toml:"-"`
}

// DefaultFillingOptions is the default FillingOptions.
var DefaultFillingOptions = FillingOptions{
	NumCPUs: 4,

	Scan:           chain.DefaultScanOptions,
	ScoreThreshold: 2000,
	Tools:          gateway.DefaultTools,
}

// CheckFillingOptions checks the options.
func CheckFillingOptions(opt *FillingOptions) error {
	if opt.NumCPUs < 1 {
		return fmt.Errorf("invalid number of threads: %d, should be >= 1", opt.NumCPUs)
	}
	if err := chain.CheckScanOptions(&opt.Scan); err != nil {
		return err
	}
	if opt.ScoreThreshold < 0 {
		return fmt.Errorf("invalid score threshold: %d, should be >= 0", opt.ScoreThreshold)
	}
	if opt.MiniChains == "" {
		if opt.Tools.TStore == "" || opt.Tools.QStore == "" {
			return fmt.Errorf("target and query sequence files needed")
		}
		if opt.Tools.Aligner == "" || opt.Tools.Chainer == "" || opt.Tools.Sorter == "" {
			return fmt.Errorf("paths of the aligner, chainer and sorter needed")
		}
	}
	return nil
}

// Logger is what the engine needs for logging. *logging.Logger satisfies it.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
}

// ChainSource provides chains one by one, returning io.EOF at the end.
// *chain.Reader is one.
type ChainSource interface {
	Read() (*chain.Chain, error)
}

// FillStats counts what happened.
type FillStats struct {
	Chains         int64 // chains read
	ChainsPatched  int64 // chains with at least one gap patched
	Gaps           int64 // eligible gaps, i.e., realignment jobs
	GapsPatched    int64
	NoCandidates   int64 // gaps without any mini chain
	BelowThreshold int64 // gaps whose best mini chain scores below the threshold
}

type realignFunc func(ctx context.Context, j *job.Job, g chain.Gap) ([]byte, error)

// Filler patches gaps of chains.
type Filler struct {
	opt *FillingOptions
	log Logger

	realign realignFunc

	// framed results, for the mini-chains mode
	results    map[string]*job.Result
	usedFrames int64

	// optional dump of framed results
	dump   io.Writer
	muDump sync.Mutex

	// jobs running at the same time
	jobTokens chan int

	// called after each chain is written
	OnChain func()

	Stats FillStats
}

// NewFiller creates a Filler. In the mini-chains mode, framed results are
// read from opt.MiniChains, or the external tools are called for every gap.
func NewFiller(opt *FillingOptions, log Logger) (*Filler, error) {
	if err := CheckFillingOptions(opt); err != nil {
		return nil, err
	}
	f := &Filler{
		opt:       opt,
		log:       log,
		jobTokens: make(chan int, opt.NumCPUs),
	}

	if opt.MiniChains != "" {
		fh, err := os.Open(opt.MiniChains)
		if err != nil {
			return nil, errors.Wrapf(err, "read mini chains")
		}
		defer fh.Close()
		f.results, err = job.ParseFramed(fh)
		if err != nil {
			return nil, errors.Wrapf(err, "read mini chains: %s", opt.MiniChains)
		}
		f.realign = f.framedResult
	} else {
		tools := opt.Tools
		f.realign = func(ctx context.Context, j *job.Job, _ chain.Gap) ([]byte, error) {
			return tools.Realign(ctx, j)
		}
	}
	return f, nil
}

// SetDump saves framed results of all jobs to w.
func (f *Filler) SetDump(w io.Writer) {
	f.dump = w
}

func (f *Filler) framedResult(_ context.Context, j *job.Job, g chain.Gap) ([]byte, error) {
	r, ok := f.results[j.Tag()]
	if !ok {
		return nil, errors.Wrapf(job.ErrInvalidFrame, "no mini chains for gap %s", j.Tag())
	}
	if err := r.Geometry.CheckGap(r.Tag, g); err != nil {
		return nil, err
	}
	atomic.AddInt64(&f.usedFrames, 1)
	return r.Data, nil
}

type filled struct {
	id uint64
	c  *chain.Chain // nil for failed ones
}

// Fill patches chains from src and writes them to w in the input order.
// It stops at the first error.
func (f *Filler) Fill(ctx context.Context, src ChainSource, w io.Writer) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var firstErr error
	var errOnce sync.Once
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	// ordered output
	ch := make(chan *filled, f.opt.NumCPUs)
	done := make(chan int)
	go func() {
		var id uint64
		buf := make(map[uint64]*filled, 128)
		var r *filled
		var ok bool
		for r = range ch {
			buf[r.id] = r
			for {
				if r, ok = buf[id]; !ok {
					break
				}
				delete(buf, id)
				id++

				if r.c == nil || ctx.Err() != nil {
					continue
				}
				if err := chain.Write(w, r.c); err != nil {
					fail(errors.Wrap(err, "write chain"))
					continue
				}
				if f.OnChain != nil {
					f.OnChain()
				}
			}
		}
		done <- 1
	}()

	var wg sync.WaitGroup
	tokens := make(chan int, f.opt.NumCPUs)
	var id uint64
	for ctx.Err() == nil {
		c, err := src.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(err)
			break
		}
		atomic.AddInt64(&f.Stats.Chains, 1)

		tokens <- 1
		wg.Add(1)
		go func(id uint64, c *chain.Chain) {
			defer func() {
				wg.Done()
				<-tokens
			}()

			if ctx.Err() != nil {
				ch <- &filled{id: id}
				return
			}
			if err := f.FillChain(ctx, c); err != nil {
				fail(err)
				ch <- &filled{id: id}
				return
			}
			ch <- &filled{id: id, c: c}
		}(id, c)
		id++
	}
	wg.Wait()
	close(ch)
	<-done

	if firstErr != nil {
		return firstErr
	}
	if err := parent.Err(); err != nil {
		return err
	}

	if f.results != nil {
		if unused := len(f.results) - int(f.usedFrames); unused > 0 && f.log != nil {
			f.log.Warningf("%d framed results do not belong to any eligible gap", unused)
		}
	}
	return nil
}

// FillChain patches the eligible gaps of a chain in place.
func (f *Filler) FillChain(ctx context.Context, c *chain.Chain) error {
	if f.opt.TSizes != nil {
		if err := f.opt.TSizes.CheckTarget(c); err != nil {
			return err
		}
	}
	if f.opt.QSizes != nil {
		if err := f.opt.QSizes.CheckQuery(c); err != nil {
			return err
		}
	}

	jobs, gaps, err := job.FromChain(c, &f.opt.Scan)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	atomic.AddInt64(&f.Stats.Gaps, int64(len(jobs)))

	// realign all gaps
	outputs := make([][]byte, len(jobs))
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	var acquired bool
	for i, j := range jobs {
		acquired = false
		select {
		case f.jobTokens <- 1:
			acquired = true
		case <-ctx.Done():
		}
		if !acquired {
			break
		}
		wg.Add(1)
		go func(i int, j *job.Job) {
			defer func() {
				wg.Done()
				<-f.jobTokens
			}()
			data, err := f.realign(ctx, j, gaps[i])
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			outputs[i] = data
		}(i, j)
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	if f.dump != nil {
		f.muDump.Lock()
		for i, j := range jobs {
			if err = job.WriteFramed(f.dump, j.Tag(), j.Geometry, outputs[i]); err != nil {
				f.muDump.Unlock()
				return errors.Wrap(err, "save mini chains")
			}
		}
		f.muDump.Unlock()
	}

	// splice the best mini chains
	s := chain.NewSplicer(c)
	var cands []*chain.Chain
	for i, j := range jobs {
		cands, err = chain.ParseChains(outputs[i])
		if err != nil {
			return errors.Wrapf(err, "mini chains of gap %s", j.Tag())
		}
		if len(cands) == 0 {
			atomic.AddInt64(&f.Stats.NoCandidates, 1)
			continue
		}
		best := chain.Best(cands, f.opt.ScoreThreshold)
		if best == nil {
			atomic.AddInt64(&f.Stats.BelowThreshold, 1)
			continue
		}
		if err = s.Add(gaps[i], best); err != nil {
			return errors.Wrapf(err, "gap %s", j.Tag())
		}
	}

	n := len(s.Patches())
	if n == 0 {
		return nil
	}
	if err = s.Apply(); err != nil {
		return err
	}
	atomic.AddInt64(&f.Stats.GapsPatched, int64(n))
	atomic.AddInt64(&f.Stats.ChainsPatched, 1)
	return nil
}
