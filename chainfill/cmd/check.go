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
	"io"
	"os"
	"strings"
	"time"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] <chain file>",
	Short: "Check chains and count gaps to patch",
	Long: `Check chains and count gaps to patch

Checks:
  1. The format of chain records.
  2. The target strand is "+", and blocks sum up to the spans in headers.
  3. Chain IDs are unique.
  4. Sequence names and sizes, if --t-sizes or --q-sizes is given.
  5. Chains sharing aligned bases with previous ones, i.e., having a block
     overlapping a block of another chain on both the target and the
     query. They are only counted, not treated as invalid.

It also counts the chains and gaps passing the thresholds, which are
the same as the ones of "chainfill fill".

Output (tab-delimited):
  chains, invalid, overlapping, minus, passed, gaps, eligible

Attentions:
  1. A format error stops the checking, while other problems are reported
     one by one. The exit code is 1 if any problem is found.

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
		checkInputFile(file)

		scan := getScanOptions(cmd)
		checkError(chain.CheckScanOptions(&scan))
		tSizes, qSizes := getSizes(cmd)
		outFile := getFlagString(cmd, "out-file")

		// ---------------------------------------------------------------

		rdr, err := chain.NewReader(file)
		checkError(err)
		defer rdr.Close()
		rdr.Validate = false

		var s checkStats
		ids := make(map[uint64]struct{}, 1024)
		overlaps := chain.NewOverlapIndex()
		var id uint64
		var found bool
		var c *chain.Chain
		var gaps []chain.Gap
		for {
			c, err = rdr.Read()
			if err == io.EOF {
				break
			}
			checkError(errors.Wrapf(err, "read %s", file))

			if e := checkChain(c, ids, tSizes, qSizes); e != nil {
				log.Warning(e)
				s.invalid++
				continue
			}
			s.chains++
			if id, found = overlaps.Add(c); found {
				s.overlapping++
				if opt.Verbose {
					log.Warningf("chain %d overlaps chain %d", c.ID, id)
				}
			}
			if c.QStrand == '-' {
				s.minus++
			}
			s.gaps += len(c.Blocks) - 1

			gaps, err = chain.Scan(c, &scan)
			checkError(err)
			if scan.Passes(c) {
				s.passed++
			}
			s.eligible += len(gaps)
		}

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		fmt.Fprintf(outfh, "chains\tinvalid\toverlapping\tminus\tpassed\tgaps\teligible\n")
		fmt.Fprintf(outfh, "%d\t%d\t%d\t%d\t%d\t%d\t%d\n", s.chains+s.invalid, s.invalid, s.overlapping, s.minus, s.passed, s.gaps, s.eligible)
		checkError(closeOutStream(outfh, gw, w))

		if s.invalid > 0 {
			checkError(errors.Wrapf(chain.ErrInvalidFormat, "%d invalid chains in %s", s.invalid, file))
		}
	},
}

type checkStats struct {
	chains      int // valid ones
	invalid     int
	overlapping int // chains sharing aligned bases with previous ones
	minus       int // chains on the minus strand of query
	passed      int // chains passing the thresholds
	gaps        int
	eligible    int
}

// checkChain checks one chain. ids records IDs seen so far.
func checkChain(c *chain.Chain, ids map[uint64]struct{}, tSizes, qSizes chain.Sizes) error {
	if _, ok := ids[c.ID]; ok {
		return errors.Wrapf(chain.ErrInvalidFormat, "duplicated chain ID: %d", c.ID)
	}
	ids[c.ID] = struct{}{}

	if err := c.Validate(); err != nil {
		return err
	}
	if tSizes != nil {
		if err := tSizes.CheckTarget(c); err != nil {
			return err
		}
	}
	if qSizes != nil {
		if err := qSizes.CheckQuery(c); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	utilsCmd.AddCommand(checkCmd)

	addScanFlags(checkCmd)
	addSizesFlags(checkCmd)

	checkCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout).`))

	checkCmd.SetUsageTemplate(usageTemplate(""))
}
