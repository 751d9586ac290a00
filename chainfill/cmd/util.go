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
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
)

// Options contains the global flags
type Options struct {
	NumCPUs int
	Verbose bool

	LogFile  string
	Log2File bool

	CompressionLevel int
}

func getOptions(cmd *cobra.Command) *Options {
	threads := getFlagNonNegativeInt(cmd, "threads")
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	sorts.MaxProcs = threads
	runtime.GOMAXPROCS(threads)

	logfile := getFlagString(cmd, "log")
	return &Options{
		NumCPUs: threads,
		Verbose: !getFlagBool(cmd, "quiet"),

		LogFile:  logfile,
		Log2File: logfile != "",

		CompressionLevel: -1,
	}
}

// makeOutDir creates an output directory, which must be empty unless force is true.
func makeOutDir(outDir string, force bool, logname string, verbose bool) {
	pwd, _ := os.Getwd()
	if outDir == "./" || outDir == "." || pwd == filepath.Clean(outDir) {
		checkError(fmt.Errorf("%s should not be current directory", logname))
	}

	existed, err := pathutil.DirExists(outDir)
	checkError(errors.Wrap(err, outDir))
	if existed {
		empty, err := pathutil.IsEmpty(outDir)
		checkError(errors.Wrap(err, outDir))
		if !empty {
			if force {
				if verbose {
					log.Infof("removing old %s: %s", logname, outDir)
				}
				checkError(os.RemoveAll(outDir))
			} else {
				checkError(fmt.Errorf("%s not empty: %s, use --force to overwrite", logname, outDir))
			}
		} else {
			checkError(os.RemoveAll(outDir))
		}
	}
	checkError(os.MkdirAll(outDir, 0777))
}

// applyConfig presets flags with values from a TOML file given by --config.
// Keys are flag names; flags given on the command line take precedence.
func applyConfig(cmd *cobra.Command) {
	file := getFlagString(cmd, "config")
	if file == "" {
		return
	}
	data, err := os.ReadFile(file)
	checkError(errors.Wrapf(err, "read config file"))

	values := make(map[string]interface{})
	err = toml.Unmarshal(data, &values)
	checkError(errors.Wrapf(err, "parse config file: %s", file))

	checkError(setFlags(cmd, values))
}

func setFlags(cmd *cobra.Command, values map[string]interface{}) error {
	for key, v := range values {
		f := cmd.Flags().Lookup(key)
		if f == nil {
			return fmt.Errorf("unknown option in config file: %s", key)
		}
		if f.Changed {
			continue
		}

		var s string
		switch x := v.(type) {
		case []interface{}:
			items := make([]string, len(x))
			for i, item := range x {
				items[i] = fmt.Sprintf("%v", item)
			}
			s = strings.Join(items, ",")
		default:
			s = fmt.Sprintf("%v", x)
		}
		if err := cmd.Flags().Set(key, s); err != nil {
			return errors.Wrapf(err, "invalid value of %s in config file", key)
		}
	}
	return nil
}
