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

package job

import (
	"bufio"
	"strings"
)

// ScriptWriter writes a list of shell jobs, one line per gap, for external schedulers.
// Each line prints the opening sentinel, runs the realignment pipeline, and
// prints the closing sentinel only if every stage succeeded, so a failed job
// always leaves an unclosed frame behind.
type ScriptWriter struct {
	w      *bufio.Writer
	header bool
	buf    []byte

	N int // number of jobs written
}

// NewScriptWriter creates a ScriptWriter.
func NewScriptWriter(w *bufio.Writer) *ScriptWriter {
	return &ScriptWriter{w: w, buf: make([]byte, 0, 1024)}
}

// Write writes one job. stages are the argument lists of the pipeline stages.
func (sw *ScriptWriter) Write(j *Job, stages [][]string) error {
	if !sw.header {
		if _, err := sw.w.WriteString("#!/usr/bin/env bash\n"); err != nil {
			return err
		}
		sw.header = true
	}

	tag := j.Tag()
	buf := sw.buf[:0]
	buf = append(buf, "set -o pipefail; printf '"...)
	open := AppendOpen(nil, tag, j.Geometry)
	buf = appendEscaped(buf, open)
	buf = append(buf, "'; "...)
	for i, args := range stages {
		if i > 0 {
			buf = append(buf, " | "...)
		}
		for k, arg := range args {
			if k > 0 {
				buf = append(buf, ' ')
			}
			buf = append(buf, ShellQuote(arg)...)
		}
	}
	buf = append(buf, " && printf '"...)
	buf = appendEscaped(buf, AppendClose(nil, tag))
	buf = append(buf, "'\n"...)
	sw.buf = buf

	_, err := sw.w.Write(buf)
	if err == nil {
		sw.N++
	}
	return err
}

// tabs and line breaks in printf format.
func appendEscaped(buf []byte, s []byte) []byte {
	for _, b := range s {
		switch b {
		case '\t':
			buf = append(buf, '\\', 't')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '%':
			buf = append(buf, '%', '%')
		case '\'':
			buf = append(buf, '\'', '\\', '\'', '\'')
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func isSafe(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
		strings.ContainsRune("_./:=+,@%-", r)
}

// ShellQuote quotes an argument for POSIX shells if needed.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool { return !isSafe(r) }) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
