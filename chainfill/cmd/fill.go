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
	"strings"
	"time"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/chainfill/ChainFill/chainfill/chainidx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var fillCmd = &cobra.Command{
	Use:   "fill [flags] <chain file> <target.2bit> <query.2bit>",
	Short: "Patch gaps in chains by local realignment",
	Long: `Patch gaps in chains by local realignment

How:
  1. For every chain passing the thresholds (--chain-min-*), gaps with
     target and query sizes in the ranges of --gap-min/max-size-t/q
     (both ends included) are realigned with the aligner:
        lastz target.2bit/tName[s..e] query.2bit/qName[s..e] --format=axt ...
  2. Local alignments are chained against the whole sequences and sorted:
        | axtChain -linearGap=loose stdin target.2bit query.2bit stdout
        | chainSort stdin stdout
  3. The best mini chain, scoring >= --score-threshold, replaces the gap
     with its blocks. Headers of chains (score, ranges, ID) are not changed.

Input:
  1. Chain files can be plain or gzip-compressed, "-" for stdin.
  2. Chains can also be picked by ID with --index and --chain-ids,
     where the chain file is indexed with "chainfill utils index".
  3. Framed results of realignment, e.g., from running the job list of
     "chainfill jobs" on a cluster, can be given via --mini-chains,
     then no external tools are called. Sequence files are not needed
     and can be given as "-".

Output:
  1. Chains are written in the input order. Chains without any patched
     gap are written as they are, with two exceptions: line breaks are
     normalised to "\n", and comment lines ("#") and extra blank lines
     between records are dropped. Records are always separated by one
     blank line.
  2. --save-mini-chains saves the results of all realignment jobs.

Attentions:
  1. The target strand of every chain must be "+".
  2. Coordinates in chains are 0-based, while ranges for the aligner are
     1-based, e.g., the gap [600, 650) is aligned as [601..650].
  3. Exit codes: 1 for invalid input or I/O errors, 2 for failures of
     the external tools.

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
		checkInputFile(file)

		fopt := getFillingOptions(cmd, opt, args[1], args[2])

		outFile := getFlagString(cmd, "out-file")
		dumpFile := getFlagString(cmd, "save-mini-chains")
		useIndex := getFlagBool(cmd, "index")
		ids := getFlagUint64s(cmd, "chain-ids")
		if len(ids) > 0 && !useIndex {
			checkError(fmt.Errorf("flag --index is needed for --chain-ids"))
		}

		// ---------------------------------------------------------------

		if opt.Verbose || opt.Log2File {
			log.Infof("ChainFill v%s", VERSION)
			log.Info()
			logFillingOptions(fopt)
			log.Info()
		}

		filler, err := NewFiller(fopt, log)
		checkError(err)

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)

		if dumpFile != "" {
			dumpfh, dgw, dw, err := outStream(dumpFile, strings.HasSuffix(dumpFile, ".gz"), opt.CompressionLevel)
			checkError(err)
			defer func() {
				checkError(closeOutStream(dumpfh, dgw, dw))
			}()
			filler.SetDump(dumpfh)
		}

		// source of chains
		var src ChainSource
		var total int
		if useIndex {
			rdr, err := chainidx.NewReader(file)
			checkError(errors.Wrapf(err, "read index of %s", file))
			defer rdr.Close()
			if len(ids) == 0 {
				ids = rdr.IDs()
			}
			total = len(ids)
			src = &indexedSource{rdr: rdr, ids: ids}
		} else {
			rdr, err := chain.NewReader(file)
			checkError(err)
			defer rdr.Close()
			src = rdr
		}

		// progress bar, only when the number of chains is known
		var pbs *mpb.Progress
		var bar *mpb.Bar
		if opt.Verbose && total > 0 && outFile != "-" {
			pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar = pbs.AddBar(int64(total),
				mpb.PrependDecorators(
					decor.Name("processed chains: ", decor.WC{W: len("processed chains: "), C: decor.DindentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
					decor.EwmaETA(decor.ET_STYLE_GO, 10),
					decor.OnComplete(decor.Name(""), ". done"),
				),
			)
			t := time.Now()
			filler.OnChain = func() {
				bar.EwmaIncrBy(1, time.Since(t))
				t = time.Now()
			}
		}

		err = filler.Fill(context.Background(), src, outfh)
		if pbs != nil {
			if err != nil {
				bar.Abort(false)
			}
			pbs.Wait()
		}
		checkError(err)
		checkError(closeOutStream(outfh, gw, w))

		if opt.Verbose || opt.Log2File {
			logFillStats(&filler.Stats)
		}
	},
}

// indexedSource reads chains by ID from an indexed chain file.
type indexedSource struct {
	rdr *chainidx.Reader
	ids []uint64
	i   int
}

func (s *indexedSource) Read() (*chain.Chain, error) {
	if s.i >= len(s.ids) {
		return nil, io.EOF
	}
	s.i++
	return s.rdr.Chain(s.ids[s.i-1])
}

func logFillingOptions(fopt *FillingOptions) {
	log.Infof("-------------------- [main parameters] --------------------")
	log.Infof("chains: score >= %d, target span >= %d, query span >= %d",
		fopt.Scan.ChainMinScore, fopt.Scan.ChainMinSizeT, fopt.Scan.ChainMinSizeQ)
	log.Infof("gaps: target [%d, %d], query [%d, %d]",
		fopt.Scan.GapMinSizeT, fopt.Scan.GapMaxSizeT, fopt.Scan.GapMinSizeQ, fopt.Scan.GapMaxSizeQ)
	log.Infof("mini chains: score >= %d", fopt.ScoreThreshold)
	if fopt.MiniChains != "" {
		log.Infof("framed results: %s", fopt.MiniChains)
	} else {
		log.Infof("aligner: %s %s, unmask: %v", fopt.Tools.Aligner, fopt.Tools.AlignerParams, fopt.Tools.Unmask)
		log.Infof("chainer: %s -linearGap=%s", fopt.Tools.Chainer, fopt.Tools.LinearGap)
		log.Infof("sorter: %s", fopt.Tools.Sorter)
		log.Infof("target: %s", fopt.Tools.TStore)
		log.Infof("query: %s", fopt.Tools.QStore)
	}
	log.Infof("jobs in parallel: %d", fopt.NumCPUs)
	log.Infof("-------------------- [main parameters] --------------------")
}

func logFillStats(s *FillStats) {
	log.Infof("chains: %d, patched: %d", s.Chains, s.ChainsPatched)
	log.Infof("eligible gaps: %d, patched: %d, without mini chains: %d, below the score threshold: %d",
		s.Gaps, s.GapsPatched, s.NoCandidates, s.BelowThreshold)
}

// getFillingOptions reads flags shared by fill, jobs, and run.
func getFillingOptions(cmd *cobra.Command, opt *Options, tStore, qStore string) *FillingOptions {
	fopt := DefaultFillingOptions
	fopt.NumCPUs = opt.NumCPUs
	fopt.Verbose = opt.Verbose
	fopt.Log2File = opt.Log2File

	fopt.Scan = getScanOptions(cmd)
	fopt.ScoreThreshold = getFlagNonNegativeInt(cmd, "score-threshold")

	fopt.Tools.Aligner = getFlagString(cmd, "aligner")
	fopt.Tools.Chainer = getFlagString(cmd, "chainer")
	fopt.Tools.Sorter = getFlagString(cmd, "sorter")
	fopt.Tools.AlignerParams = getFlagString(cmd, "aligner-params")
	fopt.Tools.Unmask = getFlagBool(cmd, "unmask")
	fopt.Tools.LinearGap = getFlagString(cmd, "linear-gap")
	fopt.Tools.TStore = tStore
	fopt.Tools.QStore = qStore
	fopt.Tools.WorkDir = getFlagString(cmd, "work-dir")

	if cmd.Flags().Lookup("mini-chains") != nil {
		fopt.MiniChains = getFlagString(cmd, "mini-chains")
	}
	// job scripts might be run on other machines
	checkError(fopt.Tools.Check(fopt.MiniChains == "" && cmd.Name() != "jobs", false))

	fopt.TSizes, fopt.QSizes = getSizes(cmd)

	checkError(CheckFillingOptions(&fopt))
	return &fopt
}

// addFillingFlags adds flags shared by fill, jobs, and run.
func addFillingFlags(cmd *cobra.Command) {
	d := DefaultFillingOptions

	cmd.Flags().StringP("work-dir", "W", "",
		formatFlagUsage(`Directory to run the external tools in, the current directory by default.`))

	cmd.Flags().StringP("config", "", "",
		formatFlagUsage(`A TOML file with default values of flags, e.g., 'gap-max-size-t = 50000'.`))

	addScanFlags(cmd)

	cmd.Flags().IntP("score-threshold", "s", d.ScoreThreshold,
		formatFlagUsage(`Minimum score of mini chains to insert.`))

	// -----------------------------  external tools   -----------------------------

	cmd.Flags().StringP("aligner", "", d.Tools.Aligner,
		formatFlagUsage(`Path of lastz.`))
	cmd.Flags().StringP("chainer", "", d.Tools.Chainer,
		formatFlagUsage(`Path of axtChain.`))
	cmd.Flags().StringP("sorter", "", d.Tools.Sorter,
		formatFlagUsage(`Path of chainSort.`))
	cmd.Flags().StringP("aligner-params", "", d.Tools.AlignerParams,
		formatFlagUsage(`Parameters of lastz.`))
	cmd.Flags().BoolP("unmask", "", d.Tools.Unmask,
		formatFlagUsage(`Unmask lower-case bases in the sequence files.`))
	cmd.Flags().StringP("linear-gap", "", d.Tools.LinearGap,
		formatFlagUsage(`Value of -linearGap of axtChain: loose, medium, or a file.`))

	addSizesFlags(cmd)
}

// getScanOptions reads thresholds of chains and gaps.
func getScanOptions(cmd *cobra.Command) chain.ScanOptions {
	return chain.ScanOptions{
		ChainMinScore: getFlagInt(cmd, "chain-min-score"),
		ChainMinSizeT: getFlagNonNegativeInt(cmd, "chain-min-size-t"),
		ChainMinSizeQ: getFlagNonNegativeInt(cmd, "chain-min-size-q"),
		GapMinSizeT:   getFlagNonNegativeInt(cmd, "gap-min-size-t"),
		GapMaxSizeT:   getFlagNonNegativeInt(cmd, "gap-max-size-t"),
		GapMinSizeQ:   getFlagNonNegativeInt(cmd, "gap-min-size-q"),
		GapMaxSizeQ:   getFlagNonNegativeInt(cmd, "gap-max-size-q"),
	}
}

func addScanFlags(cmd *cobra.Command) {
	d := chain.DefaultScanOptions

	cmd.Flags().IntP("chain-min-score", "", d.ChainMinScore,
		formatFlagUsage(`Only patch chains with a score >= this value.`))
	cmd.Flags().IntP("chain-min-size-t", "", d.ChainMinSizeT,
		formatFlagUsage(`Only patch chains with a target span >= this value.`))
	cmd.Flags().IntP("chain-min-size-q", "", d.ChainMinSizeQ,
		formatFlagUsage(`Only patch chains with a query span >= this value.`))

	cmd.Flags().IntP("gap-min-size-t", "", d.GapMinSizeT,
		formatFlagUsage(`Minimum target size of gaps to patch.`))
	cmd.Flags().IntP("gap-max-size-t", "", d.GapMaxSizeT,
		formatFlagUsage(`Maximum target size of gaps to patch.`))
	cmd.Flags().IntP("gap-min-size-q", "", d.GapMinSizeQ,
		formatFlagUsage(`Minimum query size of gaps to patch.`))
	cmd.Flags().IntP("gap-max-size-q", "", d.GapMaxSizeQ,
		formatFlagUsage(`Maximum query size of gaps to patch.`))
}

// getSizes reads the optional tables of sequence sizes.
func getSizes(cmd *cobra.Command) (tSizes, qSizes chain.Sizes) {
	var err error
	if file := getFlagString(cmd, "t-sizes"); file != "" {
		tSizes, err = chain.ReadSizes(file)
		checkError(err)
	}
	if file := getFlagString(cmd, "q-sizes"); file != "" {
		qSizes, err = chain.ReadSizes(file)
		checkError(err)
	}
	return
}

func addSizesFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("t-sizes", "", "",
		formatFlagUsage(`Two-column tab-delimited file of target sequence names and sizes, for checking chains.`))
	cmd.Flags().StringP("q-sizes", "", "",
		formatFlagUsage(`Two-column tab-delimited file of query sequence names and sizes, for checking chains.`))
}

func init() {
	RootCmd.AddCommand(fillCmd)

	addFillingFlags(fillCmd)

	fillCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))

	fillCmd.Flags().BoolP("index", "", false,
		formatFlagUsage(`Read chains via the index created by "chainfill utils index".`))
	fillCmd.Flags().StringSliceP("chain-ids", "", []string{},
		formatFlagUsage(`Only patch chains with these IDs, in this order. Needs --index.`))

	fillCmd.Flags().StringP("mini-chains", "", "",
		formatFlagUsage(`Read framed results of realignment from this file, instead of running the tools.`))
	fillCmd.Flags().StringP("save-mini-chains", "", "",
		formatFlagUsage(`Save framed results of all realignment jobs to this file.`))

	fillCmd.SetUsageTemplate(usageTemplate(""))
}
