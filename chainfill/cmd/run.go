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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chainfill/ChainFill/chainfill/batch"
	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/chainfill/ChainFill/chainfill/gateway"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// FileParams is the file of effective parameters of a run.
const FileParams = "params.toml"

// directories in the work directory.
const (
	DirSplit  = "split"
	DirFilled = "filled"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -W <work dir> <chain file> <target.2bit> <query.2bit>",
	Short: "Split, patch, and merge chains in batches",
	Long: `Split, patch, and merge chains in batches

Steps:
  1. Chains are split into N batches of random chains (-n/--parts),
     like "chainfill split", in <work dir>/split/.
  2. Batches are patched in parallel (-J/--batch-conc), like
     "chainfill fill", saved in <work dir>/filled/. Threads (-j/--threads)
     are shared by the batches.
  3. If all batches are patched, they are merged with chainMergeSort,
     like "chainfill merge". Or nothing is merged and the manifest
     (<work dir>/split/manifest.toml) shows which batches failed.

Files in the work directory:
  params.toml              effective parameters
  split/manifest.toml      batches and their status
  split/part<i>.chain      batches
  filled/part<i>.chain     patched batches

`,
	Run: func(cmd *cobra.Command, args []string) {
		applyConfig(cmd)
		opt := getOptions(cmd)

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		timeStart := time.Now()
		defer func() {
			if opt.Verbose || opt.Log2File {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		if len(args) != 3 {
			checkError(fmt.Errorf("three positional arguments needed: <chain file> <target.2bit> <query.2bit>"))
		}
		file := args[0]
		if isStdin(file) {
			checkError(fmt.Errorf("stdin is not supported"))
		}
		checkInputFile(file)

		workDir := getFlagString(cmd, "work-dir")
		if workDir == "" {
			checkError(fmt.Errorf("flag -W/--work-dir needed"))
		}
		force := getFlagBool(cmd, "force")
		parts := getFlagPositiveInt(cmd, "parts")
		seed := getSeed(cmd)
		batchConc := getFlagPositiveInt(cmd, "batch-conc")
		if batchConc > parts {
			batchConc = parts
		}
		outFile := getFlagString(cmd, "out-file")

		// ---------------------------------------------------------------

		makeOutDir(workDir, force, "work directory", opt.Verbose)
		workDir, err := filepath.Abs(workDir)
		checkError(err)

		fopt := getFillingOptions(cmd, opt, args[1], args[2])
		fopt.Tools.MergeSort = getFlagString(cmd, "merge-sort")
		checkError(fopt.Tools.Check(false, true))

		if opt.Verbose || opt.Log2File {
			log.Infof("ChainFill v%s", VERSION)
			log.Info()
			logFillingOptions(fopt)
			log.Info()
		}

		data, err := toml.Marshal(fopt)
		checkError(errors.Wrap(err, "save parameters"))
		checkError(os.WriteFile(filepath.Join(workDir, FileParams), data, 0644))

		// ---------------------------------------------------------------
		// split

		if opt.Verbose || opt.Log2File {
			log.Infof("splitting chains into %d batches ...", parts)
		}
		sopt := &batch.SplitOptions{
			Parts:  parts,
			Seed:   seed,
			OutDir: filepath.Join(workDir, DirSplit),
			Prefix: "part",
		}
		m, err := batch.Split(file, sopt)
		checkError(err)
		fileManifest := filepath.Join(sopt.OutDir, batch.FileManifest)
		if opt.Verbose || opt.Log2File {
			logSplit(m)
			log.Info()
		}

		// ---------------------------------------------------------------
		// fill

		outDir := filepath.Join(workDir, DirFilled)
		checkError(os.MkdirAll(outDir, 0755))

		if opt.Verbose || opt.Log2File {
			log.Infof("patching %d batches, %d at a time, each with %d threads ...",
				parts, batchConc, batchThreads(opt.NumCPUs, batchConc))
		}

		var pbs *mpb.Progress
		var bar *mpb.Bar
		if opt.Verbose {
			pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar = pbs.AddBar(int64(parts),
				mpb.PrependDecorators(
					decor.Name("patched batches: ", decor.WC{W: len("patched batches: "), C: decor.DindentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
					decor.EwmaETA(decor.ET_STYLE_GO, 3),
					decor.OnComplete(decor.Name(""), ". done"),
				),
			)
		}

		stats, firstErr := fillBatches(context.Background(), m, fopt, outDir, batchConc, nil, bar)
		if pbs != nil {
			if firstErr != nil {
				bar.Abort(false)
			}
			pbs.Wait()
		}

		checkError(m.Write(fileManifest))
		if firstErr != nil {
			for _, b := range m.Batches {
				if b.Status == batch.StatusFailed {
					log.Warningf("batch %d failed: %s", b.Index, b.Error)
				}
			}
			log.Warningf("nothing merged, see %s", fileManifest)
			checkError(firstErr)
		}

		if opt.Verbose || opt.Log2File {
			logFillStats(stats)
			log.Info()
		}

		// ---------------------------------------------------------------
		// merge

		files, err := m.Verify()
		checkError(err)

		if opt.Verbose || opt.Log2File {
			log.Infof("merging %d batches ...", len(files))
		}
		checkError(mergeChains(context.Background(), &fopt.Tools, files, outFile, opt.CompressionLevel))
		if opt.Verbose || opt.Log2File {
			log.Infof("patched chains saved to %s", outFile)
		}
	},
}

func batchThreads(threads, conc int) int {
	if threads/conc < 1 {
		return 1
	}
	return threads / conc
}

// fillBatches patches the batches of a manifest, at most conc ones at a time,
// into outDir, and records the status of every batch in the manifest.
// The first failure cancels the remaining batches and is returned.
// A non-nil realign replaces the external tools.
func fillBatches(ctx context.Context, m *batch.Manifest, opt *FillingOptions, outDir string,
	conc int, realign realignFunc, bar *mpb.Bar) (*FillStats, error) {
	threads := batchThreads(opt.NumCPUs, conc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stats := &FillStats{}
	var firstErr error
	var mu sync.Mutex
	var wg sync.WaitGroup
	tokens := make(chan int, conc)
	for i := range m.Batches {
		tokens <- 1
		wg.Add(1)
		go func(i int) {
			defer func() {
				wg.Done()
				<-tokens
			}()
			startTime := time.Now()

			bopt := *opt
			bopt.NumCPUs = threads
			output := filepath.Join(outDir, filepath.Base(m.Batches[i].Input))

			var s *FillStats
			var err error
			if ctx.Err() != nil {
				err = ctx.Err()
			} else {
				s, err = fillFile(ctx, &bopt, m.Batches[i].Input, output, realign)
			}

			mu.Lock()
			if err == nil {
				err = m.MarkDone(i, output)
			} else {
				m.MarkFailed(i, err)
			}
			if err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "batch %d", i)
				cancel()
			}
			if s != nil {
				addFillStats(stats, s)
			}
			mu.Unlock()

			if bar != nil {
				bar.EwmaIncrBy(1, time.Since(startTime))
			}
		}(i)
	}
	wg.Wait()
	return stats, firstErr
}

// fillFile patches chains of one file and saves them to another one.
func fillFile(ctx context.Context, opt *FillingOptions, file, outFile string, realign realignFunc) (*FillStats, error) {
	filler, err := NewFiller(opt, log)
	if err != nil {
		return nil, err
	}
	if realign != nil {
		filler.realign = realign
	}

	rdr, err := chain.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()

	outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), -1)
	if err != nil {
		return nil, err
	}
	err = filler.Fill(ctx, rdr, outfh)
	if e := closeOutStream(outfh, gw, w); err == nil {
		err = e
	}
	if err != nil {
		return nil, err
	}
	return &filler.Stats, nil
}

func addFillStats(s, x *FillStats) {
	s.Chains += x.Chains
	s.ChainsPatched += x.ChainsPatched
	s.Gaps += x.Gaps
	s.GapsPatched += x.GapsPatched
	s.NoCandidates += x.NoCandidates
	s.BelowThreshold += x.BelowThreshold
}

func init() {
	RootCmd.AddCommand(runCmd)

	addFillingFlags(runCmd)

	runCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite the work directory.`))
	runCmd.Flags().IntP("parts", "n", 10,
		formatFlagUsage(`Number of batches.`))
	runCmd.Flags().Int64P("seed", "", -1,
		formatFlagUsage(`Seed for shuffling chain IDs, a negative value for a random one.`))
	runCmd.Flags().IntP("batch-conc", "J", 2,
		formatFlagUsage(`Number of batches to patch at the same time.`))

	runCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))
	runCmd.Flags().StringP("merge-sort", "", gateway.DefaultTools.MergeSort,
		formatFlagUsage(`Path of chainMergeSort.`))

	runCmd.SetUsageTemplate(usageTemplate(""))
}
