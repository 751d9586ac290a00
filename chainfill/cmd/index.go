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
	"os"
	"sync"
	"time"

	"github.com/chainfill/ChainFill/chainfill/chainidx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [flags] <chain files...>",
	Short: "Index chain files for random access by chain ID",
	Long: `Index chain files for random access by chain ID

The index of a chain file is saved as <chain file>.cix, which records
the byte offsets and lengths of chains. It's used by "chainfill fill
--index" and "chainfill utils extract".

Attentions:
  1. Chain files must be plain text, and chain IDs must be unique.
  2. The index is outdated once the chain file is changed, and needs
     to be rebuilt.

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

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
		if len(files) == 0 {
			checkError(errors.New("no input files given"))
		}
		for _, file := range files {
			if isStdin(file) {
				checkError(errors.New("stdin is not supported"))
			}
		}

		// ---------------------------------------------------------------

		var wg sync.WaitGroup
		tokens := make(chan int, opt.NumCPUs)
		var mu sync.Mutex
		for _, file := range files {
			tokens <- 1
			wg.Add(1)
			go func(file string) {
				defer func() {
					wg.Done()
					<-tokens
				}()

				n, err := chainidx.Build(file)
				checkError(errors.Wrapf(err, "index %s", file))

				if opt.Verbose || opt.Log2File {
					mu.Lock()
					log.Infof("%d chains indexed: %s", n, chainidx.IndexFile(file))
					mu.Unlock()
				}
			}(file)
		}
		wg.Wait()
	},
}

func init() {
	utilsCmd.AddCommand(indexCmd)

	indexCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input files list (one file per line). If given, they are appended to files from CLI arguments.`))

	indexCmd.SetUsageTemplate(usageTemplate(""))
}
