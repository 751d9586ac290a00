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
	"regexp"
	"strings"
	"time"

	"github.com/chainfill/ChainFill/chainfill/batch"
	"github.com/chainfill/ChainFill/chainfill/gateway"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge [flags] [chain files...]",
	Short: "Merge patched batches of chains",
	Long: `Merge patched batches of chains

Input:
  1. A manifest file updated by "chainfill run" (--manifest). Every
     batch must be done, and the checksums of outputs must match.
  2. Or a directory containing patched chain files (-d/--dir), which
     are matched by a regular expression (-r/--pattern).
  3. Or chain files via positional parameters and/or a file list via
     the flag -X/--infile-list.

Output:
  Chains are merge-sorted with chainMergeSort. The output file must
  exist and not be empty, or it's an error.

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

		manifest := getFlagString(cmd, "manifest")
		dir := getFlagString(cmd, "dir")
		pattern := getFlagString(cmd, "pattern")
		outFile := getFlagString(cmd, "out-file")

		tools := gateway.DefaultTools
		tools.MergeSort = getFlagString(cmd, "merge-sort")
		checkError(tools.Check(false, true))

		// ---------------------------------------------------------------

		var files []string
		switch {
		case manifest != "":
			m, err := batch.ReadManifest(manifest)
			checkError(err)
			files, err = m.Verify()
			checkError(err)
			if opt.Verbose {
				log.Infof("%d batches verified in %s", len(files), manifest)
			}
		case dir != "":
			re, err := regexp.Compile(pattern)
			checkError(err)
			files, err = batch.CollectFiles(dir, re, opt.NumCPUs)
			checkError(err)
			if opt.Verbose {
				log.Infof("%d files found in %s", len(files), dir)
			}
		default:
			files = getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
		}
		if len(files) == 0 {
			checkError(fmt.Errorf("no input files given"))
		}

		checkError(mergeChains(context.Background(), &tools, files, outFile, opt.CompressionLevel))
		if opt.Verbose || opt.Log2File {
			log.Infof("%d files merged to %s", len(files), outFile)
		}
	},
}

// mergeChains merge-sorts chain files into outFile and checks the output.
func mergeChains(ctx context.Context, tools *gateway.Tools, files []string, outFile string, level int) error {
	outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), level)
	if err != nil {
		return err
	}
	cw := &batch.CountingWriter{W: outfh}
	err = batch.Merge(ctx, tools, files, cw)
	if e := closeOutStream(outfh, gw, w); err == nil {
		err = e
	}
	if err != nil {
		return err
	}
	if cw.N == 0 {
		return errors.Wrapf(batch.ErrEmptyOutput, "%d files merged to %s", len(files), outFile)
	}
	if isStdin(outFile) {
		return nil
	}
	return batch.VerifyOutput(filepath.Clean(outFile))
}

func init() {
	RootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringP("manifest", "", "",
		formatFlagUsage(`Manifest file of batches, created by "chainfill split" and updated by "chainfill run".`))
	mergeCmd.Flags().StringP("dir", "d", "",
		formatFlagUsage(`Directory containing patched chain files.`))
	mergeCmd.Flags().StringP("pattern", "r", batch.DefaultPattern.String(),
		formatFlagUsage(`Regular expression of file names to merge in -d/--dir.`))
	mergeCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input files list (one file per line). If given, they are appended to files from CLI arguments.`))

	mergeCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))
	mergeCmd.Flags().StringP("merge-sort", "", gateway.DefaultTools.MergeSort,
		formatFlagUsage(`Path of chainMergeSort.`))

	mergeCmd.SetUsageTemplate(usageTemplate(""))
}
