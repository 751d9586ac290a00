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

// Package chainidx provides an index of chain files for random access by chain ID.
//
// Index file format (big-endian):
//
//	magic number   [8]byte ".chainix"
//	versions       [8]uint8, main and minor versions, 6 bytes preserved
//	file size      uint64, size of the indexed chain file
//	records        uint64, the number of chains
//	records        records x (id uint64, offset uint64, length uint64), sorted by id
package chainidx

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chainfill/ChainFill/chainfill/chain"
	"github.com/twotwotwo/sorts"
)

var be = binary.BigEndian

// Magic number for checking file format
var Magic = [8]byte{'.', 'c', 'h', 'a', 'i', 'n', 'i', 'x'}

// IndexFileExt is the file extension of the index file.
var IndexFileExt = ".cix"

// MainVersion is use for checking compatibility
var MainVersion uint8 = 0

// MinorVersion is less important
var MinorVersion uint8 = 1

// BufferSize is size of reading and writing buffer
var BufferSize = 65536

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("chain index: invalid binary format")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("chain index: broken file")

// ErrVersionMismatch means version mismatch between files and program
var ErrVersionMismatch = errors.New("chain index: version mismatch")

// ErrOutdated means the chain file changed after indexing.
var ErrOutdated = errors.New("chain index: chain file changed after indexing")

// ErrCompressed means a compressed chain file is given, which can not be accessed randomly.
var ErrCompressed = errors.New("chain index: compressed chain files are not supported")

// ErrDuplicatedID means a chain ID appears more than once.
var ErrDuplicatedID = errors.New("chain index: duplicated chain ID")

// ErrNotFound means the chain ID is not in the index.
var ErrNotFound = errors.New("chain index: chain ID not found")

// Entry locates a chain record in the chain file.
type Entry struct {
	ID     uint64
	Offset int64
	Length int64
}

type entries []Entry

func (s entries) Len() int           { return len(s) }
func (s entries) Less(i, j int) bool { return s[i].ID < s[j].ID }
func (s entries) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// IndexFile returns the path of the index file of a chain file.
func IndexFile(file string) string {
	return filepath.Clean(file) + IndexFileExt
}

func isCompressed(file string) bool {
	f := strings.ToLower(file)
	for _, ext := range []string{".gz", ".xz", ".zst", ".bz2"} {
		if strings.HasSuffix(f, ext) {
			return true
		}
	}
	return false
}

// Build indexes a plain-text chain file and writes the index file.
// It returns the number of chains.
func Build(file string) (int, error) {
	if isCompressed(file) {
		return 0, ErrCompressed
	}
	fh, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer fh.Close()
	fi, err := fh.Stat()
	if err != nil {
		return 0, err
	}

	rdr := chain.NewReaderFromIO(fh)
	index := make(entries, 0, 1024)
	for {
		c, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%s: %w", file, err)
		}
		index = append(index, Entry{ID: c.ID, Offset: rdr.Offset, Length: rdr.Length})
	}

	sorts.Quicksort(index)
	for i := 1; i < len(index); i++ {
		if index[i].ID == index[i-1].ID {
			return 0, fmt.Errorf("%w: %d", ErrDuplicatedID, index[i].ID)
		}
	}

	return len(index), write(IndexFile(file), uint64(fi.Size()), index)
}

func write(file string, size uint64, index entries) error {
	fh, err := os.Create(file)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(fh, BufferSize)

	err = binary.Write(w, be, Magic)
	if err != nil {
		return err
	}
	err = binary.Write(w, be, [8]uint8{MainVersion, MinorVersion})
	if err != nil {
		return err
	}

	buf := make([]byte, 24)
	be.PutUint64(buf[:8], size)
	be.PutUint64(buf[8:16], uint64(len(index)))
	if _, err = w.Write(buf[:16]); err != nil {
		return err
	}

	for _, e := range index {
		be.PutUint64(buf[:8], e.ID)
		be.PutUint64(buf[8:16], uint64(e.Offset))
		be.PutUint64(buf[16:24], uint64(e.Length))
		if _, err = w.Write(buf); err != nil {
			return err
		}
	}

	if err = w.Flush(); err != nil {
		return err
	}
	return fh.Close()
}

// Reader extracts chains by ID.
type Reader struct {
	index entries
	fh    *os.File
	buf   []byte
}

// NewReader reads the index of a chain file and opens the chain file.
func NewReader(file string) (*Reader, error) {
	if isCompressed(file) {
		return nil, ErrCompressed
	}

	fhIdx, err := os.Open(IndexFile(file))
	if err != nil {
		return nil, err
	}
	defer fhIdx.Close()
	fiIdx, err := fhIdx.Stat()
	if err != nil {
		return nil, err
	}
	r := bufio.NewReaderSize(fhIdx, BufferSize)

	buf := make([]byte, 24)

	// magic number
	n, err := io.ReadFull(r, buf[:8])
	if err != nil || n < 8 {
		return nil, ErrBrokenFile
	}
	for i := 0; i < 8; i++ {
		if Magic[i] != buf[i] {
			return nil, ErrInvalidFileFormat
		}
	}

	// versions
	n, err = io.ReadFull(r, buf[:8])
	if err != nil || n < 8 {
		return nil, ErrBrokenFile
	}
	if MainVersion != buf[0] {
		return nil, ErrVersionMismatch
	}

	// file size and the number of records
	n, err = io.ReadFull(r, buf[:16])
	if err != nil || n < 16 {
		return nil, ErrBrokenFile
	}
	size := be.Uint64(buf[:8])
	nRecords := be.Uint64(buf[8:16])
	if nRecords > uint64(fiIdx.Size()-32)/24 {
		return nil, ErrBrokenFile
	}

	index := make(entries, nRecords)
	for i := range index {
		n, err = io.ReadFull(r, buf)
		if err != nil || n < 24 {
			return nil, ErrBrokenFile
		}
		index[i] = Entry{
			ID:     be.Uint64(buf[:8]),
			Offset: int64(be.Uint64(buf[8:16])),
			Length: int64(be.Uint64(buf[16:24])),
		}
	}

	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	fi, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, err
	}
	if uint64(fi.Size()) != size {
		fh.Close()
		return nil, ErrOutdated
	}

	return &Reader{index: index, fh: fh, buf: make([]byte, 0, 4096)}, nil
}

// Close closes the chain file.
func (r *Reader) Close() error {
	return r.fh.Close()
}

// Len returns the number of chains.
func (r *Reader) Len() int { return len(r.index) }

// IDs returns all chain IDs, in ascending order.
func (r *Reader) IDs() []uint64 {
	ids := make([]uint64, len(r.index))
	for i, e := range r.index {
		ids[i] = e.ID
	}
	return ids
}

// Entry returns the location of a chain.
func (r *Reader) Entry(id uint64) (Entry, bool) {
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].ID >= id })
	if i < len(r.index) && r.index[i].ID == id {
		return r.index[i], true
	}
	return Entry{}, false
}

// Raw returns the record text of a chain, without the trailing blank line.
// The returned slice is reused by following calls.
func (r *Reader) Raw(id uint64) ([]byte, error) {
	e, ok := r.Entry(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if cap(r.buf) < int(e.Length) {
		r.buf = make([]byte, e.Length)
	}
	buf := r.buf[:e.Length]
	if _, err := r.fh.ReadAt(buf, e.Offset); err != nil {
		return nil, fmt.Errorf("chain %d: %w", id, err)
	}
	return buf, nil
}

// Chain reads and parses a chain.
func (r *Reader) Chain(id uint64) (*chain.Chain, error) {
	data, err := r.Raw(id)
	if err != nil {
		return nil, err
	}
	chains, err := chain.ParseChains(data)
	if err != nil {
		return nil, err
	}
	if len(chains) != 1 || chains[0].ID != id {
		return nil, fmt.Errorf("%w: record of chain %d", ErrOutdated, id)
	}
	return chains[0], nil
}
