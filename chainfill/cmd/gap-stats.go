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
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts/sortutil"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var gapStatsCmd = &cobra.Command{
	Use:   "gap-stats [flags] <chain file>",
	Short: "Summarize sizes of gaps in chains",
	Long: `Summarize sizes of gaps in chains

It helps to choose the gap size ranges (--gap-min/max-size-t/q) for
"chainfill fill". Only chains passing the thresholds (--chain-min-*) are
counted.

Output (tab-delimited):
  side, gaps, mean, min, q25, median, q75, q90, q99, max

Histograms of log10(size+1) can be plotted into a directory (--plot-dir).

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
		outFile := getFlagString(cmd, "out-file")
		plotDir := getFlagString(cmd, "plot-dir")
		bins := getFlagPositiveInt(cmd, "bins")
		force := getFlagBool(cmd, "force")

		// ---------------------------------------------------------------

		rdr, err := chain.NewReader(file)
		checkError(err)
		defer rdr.Close()

		ts := make([]float64, 0, 1<<16)
		qs := make([]float64, 0, 1<<16)
		var c *chain.Chain
		for {
			c, err = rdr.Read()
			if err == io.EOF {
				break
			}
			checkError(errors.Wrapf(err, "read %s", file))
			if !scan.Passes(c) {
				continue
			}
			for _, b := range c.Blocks[:len(c.Blocks)-1] {
				ts = append(ts, float64(b.DT))
				qs = append(qs, float64(b.DQ))
			}
		}

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		fmt.Fprintf(outfh, "side\tgaps\tmean\tmin\tq25\tmedian\tq75\tq90\tq99\tmax\n")
		for _, side := range []struct {
			name string
			vals []float64
		}{{"target", ts}, {"query", qs}} {
			fmt.Fprintf(outfh, "%s\t%s\n", side.name, strings.Join(gapSizeStats(side.vals), "\t"))
		}
		checkError(closeOutStream(outfh, gw, w))

		if plotDir == "" {
			return
		}
		makeOutDir(plotDir, force, "plot directory", opt.Verbose)
		checkError(plotGapSizes(ts, bins, "target gaps", filepath.Join(plotDir, "target.png")))
		checkError(plotGapSizes(qs, bins, "query gaps", filepath.Join(plotDir, "query.png")))
		if opt.Verbose || opt.Log2File {
			log.Infof("histograms saved to %s", plotDir)
		}
	},
}

// gapSizeStats returns count, mean, min, quantiles, and max of sizes,
// which are sorted in place.
func gapSizeStats(vals []float64) []string {
	if len(vals) == 0 {
		return []string{"0", "NA", "NA", "NA", "NA", "NA", "NA", "NA", "NA"}
	}
	sortutil.Float64s(vals)

	s := make([]string, 0, 9)
	s = append(s, fmt.Sprintf("%d", len(vals)))
	s = append(s, fmt.Sprintf("%.2f", stat.Mean(vals, nil)))
	s = append(s, fmt.Sprintf("%.0f", vals[0]))
	for _, p := range []float64{0.25, 0.5, 0.75, 0.9, 0.99} {
		s = append(s, fmt.Sprintf("%.0f", stat.Quantile(p, stat.Empirical, vals, nil)))
	}
	s = append(s, fmt.Sprintf("%.0f", vals[len(vals)-1]))
	return s
}

func plotGapSizes(vals []float64, bins int, title string, file string) error {
	if len(vals) == 0 {
		return nil
	}
	data := make(plotter.Values, len(vals))
	for i, v := range vals {
		data[i] = math.Log10(v + 1)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "log10(gap size + 1)"
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(data, bins)
	if err != nil {
		return errors.Wrapf(err, "plot %s", title)
	}
	p.Add(h)

	return errors.Wrapf(p.Save(6*vg.Inch, 4*vg.Inch, file), "save %s", file)
}

func init() {
	utilsCmd.AddCommand(gapStatsCmd)

	addScanFlags(gapStatsCmd)

	gapStatsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout).`))
	gapStatsCmd.Flags().StringP("plot-dir", "", "",
		formatFlagUsage(`Output directory for histograms of gap sizes.`))
	gapStatsCmd.Flags().IntP("bins", "", 50,
		formatFlagUsage(`Number of bins of histograms.`))
	gapStatsCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite the plot directory.`))

	gapStatsCmd.SetUsageTemplate(usageTemplate(""))
}
