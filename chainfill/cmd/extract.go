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
	"strconv"
	"strings"
	"time"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/chainfill/ChainFill/chainfill/chainidx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract [flags] <chain file>",
	Short: "Extract chains by IDs via the index",
	Long: `Extract chains by IDs via the index

Chains are read via the index created by "chainfill utils index",
and written in the order of given IDs.

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

		ids := getFlagUint64s(cmd, "chain-ids")
		if idFile := getFlagString(cmd, "id-file"); idFile != "" {
			list, err := getListFromFile(idFile, false)
			checkError(err)
			var id uint64
			for _, s := range list {
				id, err = strconv.ParseUint(s, 10, 64)
				if err != nil {
					checkError(fmt.Errorf("invalid chain ID in %s: %s", idFile, s))
				}
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			checkError(fmt.Errorf("flag --chain-ids or --id-file needed"))
		}
		outFile := getFlagString(cmd, "out-file")

		// ---------------------------------------------------------------

		rdr, err := chainidx.NewReader(file)
		checkError(errors.Wrapf(err, "read index of %s, please run \"chainfill utils index\" first", file))
		defer rdr.Close()

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)

		var c *chain.Chain
		for _, id := range ids {
			c, err = rdr.Chain(id)
			checkError(err)
			checkError(chain.Write(outfh, c))
		}
		checkError(closeOutStream(outfh, gw, w))

		if opt.Verbose || opt.Log2File {
			log.Infof("%d chains extracted", len(ids))
		}
	},
}

func init() {
	utilsCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringSliceP("chain-ids", "", []string{},
		formatFlagUsage(`Chain IDs, multiple values can be separated by commas.`))
	extractCmd.Flags().StringP("id-file", "", "",
		formatFlagUsage(`File of chain IDs, one per line.`))
	extractCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))

	extractCmd.SetUsageTemplate(usageTemplate(""))
}
