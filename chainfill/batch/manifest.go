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

package batch

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/zeebo/wyhash"
	"gonum.org/v1/gonum/stat"
)

// FileManifest is the name of the manifest file in the output directory of split.
const FileManifest = "manifest.toml"

// ManifestVersion is the version of the manifest format.
const ManifestVersion uint8 = 1

// batch status
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrNotReady means some batches are not successfully filled.
var ErrNotReady = errors.New("batch: batches not ready for merging")

// ErrChecksum means a batch output differs from what was recorded.
var ErrChecksum = errors.New("batch: checksum mismatch")

// Manifest records the batches of a split.
type Manifest struct {
	Version uint8  `toml:"version" comment:"manifest version"`
	Input   string `toml:"input" comment:"input chain file"`
	Parts   int    `toml:"parts" comment:"number of batches"`
	Seed    int64  `toml:"seed" comment:"seed for shuffling chain IDs"`
	Chains  int    `toml:"chains" comment:"number of chains"`

	Batches []*Info `toml:"batch"`
}

// Info is the status of one batch.
type Info struct {
	Index  int    `toml:"index"`
	Input  string `toml:"input"`
	Chains int    `toml:"chains"`
	Bases  int64  `toml:"bases" comment:"sum of target spans"`

	Status   string `toml:"status"`
	Output   string `toml:"output,omitempty"`
	Records  int    `toml:"records,omitempty"`
	Checksum string `toml:"checksum,omitempty" comment:"wyhash of output records"`
	Error    string `toml:"error,omitempty"`
}

// ReadManifest reads a manifest file.
func ReadManifest(file string) (*Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest: %s", file)
	}
	m := &Manifest{}
	if err = toml.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(err, "parse manifest: %s", file)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("manifest version mismatch: %d != %d", m.Version, ManifestVersion)
	}
	if len(m.Batches) != m.Parts {
		return nil, fmt.Errorf("manifest %s: %d batches expected, %d given", file, m.Parts, len(m.Batches))
	}
	return m, nil
}

// Write writes the manifest to a file.
func (m *Manifest) Write(file string) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal manifest")
	}
	tmp := file + ".tmp"
	if err = os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "write manifest: %s", file)
	}
	return os.Rename(tmp, file)
}

// Balance returns the mean and standard deviation of batch sizes, in chains and in bases.
func (m *Manifest) Balance() (meanChains, stdChains, meanBases, stdBases float64) {
	if len(m.Batches) == 0 {
		return
	}
	chains := make([]float64, len(m.Batches))
	bases := make([]float64, len(m.Batches))
	for i, b := range m.Batches {
		chains[i] = float64(b.Chains)
		bases[i] = float64(b.Bases)
	}
	meanChains, stdChains = stat.MeanStdDev(chains, nil)
	meanBases, stdBases = stat.MeanStdDev(bases, nil)
	return
}

// MarkDone records the output of a batch and its checksum.
func (m *Manifest) MarkDone(i int, output string) error {
	b := m.Batches[i]
	n, sum, err := Checksum(output)
	if err != nil {
		b.Status = StatusFailed
		b.Error = err.Error()
		return err
	}
	b.Status = StatusDone
	b.Output = output
	b.Records = n
	b.Checksum = strconv.FormatUint(sum, 16)
	b.Error = ""
	return nil
}

// MarkFailed records the failure of a batch.
func (m *Manifest) MarkFailed(i int, e error) {
	b := m.Batches[i]
	b.Status = StatusFailed
	b.Error = e.Error()
}

// Verify checks that every batch is done, its output exists, and the checksum
// matches. It returns the output files in batch order.
func (m *Manifest) Verify() ([]string, error) {
	files := make([]string, 0, len(m.Batches))
	for _, b := range m.Batches {
		if b.Status != StatusDone {
			if b.Error != "" {
				return nil, errors.Wrapf(ErrNotReady, "batch %d is %s: %s", b.Index, b.Status, b.Error)
			}
			return nil, errors.Wrapf(ErrNotReady, "batch %d is %s", b.Index, b.Status)
		}
		ok, err := pathutil.Exists(b.Output)
		if err != nil {
			return nil, errors.Wrapf(err, "check output of batch %d", b.Index)
		}
		if !ok {
			return nil, errors.Wrapf(ErrNotReady, "output of batch %d not found: %s", b.Index, b.Output)
		}
		n, sum, err := Checksum(b.Output)
		if err != nil {
			return nil, err
		}
		if n != b.Records || strconv.FormatUint(sum, 16) != b.Checksum {
			return nil, errors.Wrapf(ErrChecksum, "batch %d: %s", b.Index, b.Output)
		}
		files = append(files, b.Output)
	}
	return files, nil
}

// Checksum returns the number of chains in a file and the sum of wyhash
// values of the records, which does not depend on the order of records.
func Checksum(file string) (int, uint64, error) {
	rdr, err := chain.NewReader(file)
	if err != nil {
		return 0, 0, err
	}
	defer rdr.Close()
	rdr.Validate = false

	var n int
	var sum uint64
	buf := make([]byte, 0, 4096)
	for {
		c, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, errors.Wrapf(err, "read %s", file)
		}
		buf = chain.AppendChain(buf[:0], c)
		sum += wyhash.Hash(buf, 1)
		n++
	}
	return n, sum, nil
}
