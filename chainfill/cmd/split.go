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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainfill/ChainFill/chainfill/batch"
	"github.com/spf13/cobra"
)

var splitCmd = &cobra.Command{
	Use:   "split [flags] -O <out dir> <chain file>",
	Short: "Split a chain file into batches of random chains",
	Long: `Split a chain file into batches of random chains

How:
  1. Chain IDs are sorted and shuffled with a random seed (--seed),
     and then assigned to batches in turn. So the numbers of chains in
     batches differ by at most one, and long chains are spread evenly.
  2. Batch files are named as <prefix><i>.chain, i starting from 0.
     All N files are created, even if some of them are empty.
  3. A manifest file (manifest.toml) records the batches, which is
     updated by "chainfill run" and checked by "chainfill merge".

Attentions:
  1. Chain IDs must be unique.
  2. The input is read twice, so stdin is not supported.

`,
	Run: func(cmd *cobra.Command, args []string) {
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

		if len(args) != 1 {
			checkError(fmt.Errorf("one chain file needed"))
		}
		file := args[0]
		if isStdin(file) {
			checkError(fmt.Errorf("stdin is not supported"))
		}
		checkInputFile(file)

		outDir := getFlagString(cmd, "out-dir")
		if outDir == "" {
			checkError(fmt.Errorf("flag -O/--out-dir needed"))
		}
		force := getFlagBool(cmd, "force")

		sopt := &batch.SplitOptions{
			Parts:  getFlagPositiveInt(cmd, "parts"),
			Seed:   getSeed(cmd),
			OutDir: outDir,
			Prefix: getFlagString(cmd, "prefix"),
		}

		// ---------------------------------------------------------------

		makeOutDir(outDir, force, "output directory", opt.Verbose)

		m, err := batch.Split(file, sopt)
		checkError(err)

		if opt.Verbose || opt.Log2File {
			logSplit(m)
			log.Infof("batches and the manifest saved to %s", filepath.Clean(outDir))
		}
	},
}

// getSeed returns the value of --seed, or a time-based one for negative values.
func getSeed(cmd *cobra.Command) int64 {
	seed := getFlagInt64(cmd, "seed")
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return seed
}

func logSplit(m *batch.Manifest) {
	meanChains, stdChains, meanBases, stdBases := m.Balance()
	log.Infof("%d chains split into %d batches with a seed of %d", m.Chains, m.Parts, m.Seed)
	log.Infof("  chains per batch: %.1f ± %.1f", meanChains, stdChains)
	log.Infof("  target bases per batch: %.0f ± %.0f", meanBases, stdBases)
}

func init() {
	RootCmd.AddCommand(splitCmd)

	splitCmd.Flags().IntP("parts", "n", 10,
		formatFlagUsage(`Number of batches.`))
	splitCmd.Flags().Int64P("seed", "", -1,
		formatFlagUsage(`Seed for shuffling chain IDs, a negative value for a random one.`))
	splitCmd.Flags().StringP("out-dir", "O", "",
		formatFlagUsage(`Output directory.`))
	splitCmd.Flags().StringP("prefix", "", "part",
		formatFlagUsage(`Prefix of batch files.`))
	splitCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite the output directory.`))

	splitCmd.SetUsageTemplate(usageTemplate(""))
}
