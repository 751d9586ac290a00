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
	"github.com/chainfill/ChainFill/chainfill/job"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [flags] <chain file> <target.2bit> <query.2bit>",
	Short: "Write realignment jobs of chain gaps as a shell script",
	Long: `Write realignment jobs of chain gaps as a shell script

Every eligible gap becomes one line of the script, which can be run
with any job scheduler:

  set -o pipefail; printf '#gap\t<chain id>:<block index>\t...\n'; \
      lastz ... | axtChain ... | chainSort stdin stdout && printf '#end\t...\n'

The concatenated outputs of all jobs can then be given to
"chainfill fill --mini-chains" to patch the chains.

Attentions:
  1. Flags for choosing chains and gaps must be the same as the ones
     used in "chainfill fill".
  2. Jobs can be run in any order, but the output of one job must not be
     interleaved with others, e.g., write to one file per job and
     concatenate them.

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

		// ---------------------------------------------------------------

		rdr, err := chain.NewReader(file)
		checkError(err)
		defer rdr.Close()

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)

		sw := job.NewScriptWriter(outfh)
		var c *chain.Chain
		var jobs []*job.Job
		var nChains, nPassed int
		for {
			c, err = rdr.Read()
			if err == io.EOF {
				break
			}
			checkError(errors.Wrapf(err, "read %s", file))
			nChains++

			if fopt.TSizes != nil {
				checkError(fopt.TSizes.CheckTarget(c))
			}
			if fopt.QSizes != nil {
				checkError(fopt.QSizes.CheckQuery(c))
			}

			jobs, _, err = job.FromChain(c, &fopt.Scan)
			checkError(err)
			if len(jobs) > 0 {
				nPassed++
			}
			for _, j := range jobs {
				checkError(sw.Write(j, fopt.Tools.Stages(j)))
			}
		}
		checkError(closeOutStream(outfh, gw, w))

		if opt.Verbose || opt.Log2File {
			log.Infof("%d jobs for gaps in %d of %d chains, saved to %s", sw.N, nPassed, nChains, outFile)
		}
	},
}

func init() {
	RootCmd.AddCommand(jobsCmd)

	addFillingFlags(jobsCmd)

	jobsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file of the job script ("-" for stdout).`))

	jobsCmd.SetUsageTemplate(usageTemplate(""))
}
