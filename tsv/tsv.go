// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tsv implements the shard parser for tab-separated ranking
// datasets. Training shards hold triples:
//
//	query <TAB> positive document <TAB> negative document
//
// and validation shards hold tuples:
//
//	query id <TAB> document id <TAB> query <TAB> document
//
// Malformed lines are skipped with a warning; they never fail the
// shard. I/O errors do.
package tsv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fairrank/shardfeed/metrics"
	"github.com/fairrank/shardfeed/recordio"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// MaxLineSize is the longest line accepted by a Reader. Longer lines
// fail the shard, since they usually indicate a corrupt or
// mislabelled file.
const MaxLineSize = 4 << 20

// maxWarnings is the number of malformed-line warnings logged per
// shard; further ones are logged at debug level only.
const maxWarnings = 10

var (
	linesRead    = metrics.NewCounter("tsv.lines")
	linesSkipped = metrics.NewCounter("tsv.skipped")
)

// Reader reads records from a single tab-separated shard. It
// implements recordio.Reader.
type Reader struct {
	path string
	kind recordio.Kind

	scan    *bufio.Scanner
	file    file.File
	line    int
	skipped int
	err     error
}

// Open opens the shard at path, which may name a local file or any
// path supported by github.com/grailbio/base/file (e.g., s3://...),
// and returns a reader of records of the provided kind.
func Open(ctx context.Context, path string, kind recordio.Kind) (*Reader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("tsv: open shard %s", path))
	}
	r := NewReader(f.Reader(ctx), path, kind)
	r.file = f
	return r, nil
}

// NewReader returns a reader of records of the provided kind from r.
// The path is used only for diagnostics.
func NewReader(r io.Reader, path string, kind recordio.Kind) *Reader {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 64<<10), MaxLineSize)
	return &Reader{path: path, kind: kind, scan: scan}
}

// Read implements recordio.Reader.
func (r *Reader) Read(ctx context.Context, out []recordio.Record) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	scope := metrics.ContextScope(ctx)
	var n int
	for n < len(out) {
		if !r.scan.Scan() {
			if err := r.scan.Err(); err != nil {
				r.err = errors.E(err, fmt.Sprintf("tsv: read shard %s after line %d", r.path, r.line))
			} else {
				r.err = recordio.EOF
			}
			return n, r.err
		}
		r.line++
		linesRead.Incr(scope, 1)
		text := strings.TrimRight(r.scan.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		rec, err := Parse(text, r.kind)
		if err != nil {
			r.skipped++
			linesSkipped.Incr(scope, 1)
			if r.skipped <= maxWarnings {
				log.Printf("warning: tsv: %s:%d: skipping malformed line: %v", r.path, r.line, err)
			} else {
				log.Debug.Printf("tsv: %s:%d: skipping malformed line: %v", r.path, r.line, err)
			}
			continue
		}
		rec.Line = r.line
		out[n] = rec
		n++
	}
	return n, nil
}

// Skipped returns the number of malformed lines skipped so far.
func (r *Reader) Skipped() int { return r.skipped }

// Path returns the path of the shard being read.
func (r *Reader) Path() string { return r.path }

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	f := r.file
	r.file = nil
	return f.Close(context.Background())
}

// Parse parses a single line into a record of the given kind.
func Parse(line string, kind recordio.Kind) (recordio.Record, error) {
	fields := strings.Split(line, "\t")
	switch kind {
	case recordio.Triple:
		if len(fields) != 3 {
			return recordio.Record{}, errors.E(errors.Invalid, fmt.Sprintf("got %d fields, want 3", len(fields)))
		}
		rec := recordio.Record{
			Kind:  recordio.Triple,
			Query: strings.TrimSpace(fields[0]),
			Pos:   strings.TrimSpace(fields[1]),
			Neg:   strings.TrimSpace(fields[2]),
		}
		if rec.Query == "" || rec.Pos == "" || rec.Neg == "" {
			return recordio.Record{}, errors.E(errors.Invalid, "empty query or document")
		}
		return rec, nil
	case recordio.Tuple:
		if len(fields) != 4 {
			return recordio.Record{}, errors.E(errors.Invalid, fmt.Sprintf("got %d fields, want 4", len(fields)))
		}
		rec := recordio.Record{
			Kind:    recordio.Tuple,
			QueryID: strings.TrimSpace(fields[0]),
			DocID:   strings.TrimSpace(fields[1]),
			Query:   strings.TrimSpace(fields[2]),
			Doc:     strings.TrimSpace(fields[3]),
		}
		if rec.QueryID == "" || rec.DocID == "" {
			return recordio.Record{}, errors.E(errors.Invalid, "empty query or document id")
		}
		if rec.Query == "" || rec.Doc == "" {
			return recordio.Record{}, errors.E(errors.Invalid, "empty query or document")
		}
		return rec, nil
	default:
		return recordio.Record{}, errors.E(errors.Invalid, fmt.Sprintf("unknown record kind %v", kind))
	}
}
