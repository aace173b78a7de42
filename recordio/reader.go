// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package recordio defines the record streams that shard parsers
// provide to feed workers, together with utilities to compose and
// consume them.
package recordio

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
)

// defaultChunksize is the default number of records read at a time
// by the utilities in this package.
const defaultChunksize = 128

// EOF is the error returned by Reader.Read when no more data is
// available. EOF is intended as a sentinel error: it signals a
// graceful end of output. If output terminates unexpectedly, a
// different error should be returned.
var EOF = errors.New("EOF")

// A Reader represents a stateful stream of records, usually the
// contents of a single shard. Each call to Read reads the next set of
// available records.
type Reader interface {
	// Read reads up to len(out) records into out, returning the number
	// of records read, or an error. When no more records are available,
	// Read returns EOF. Read may return EOF when n > 0. In this case, n
	// records were read, but no more are available.
	//
	// Read should not be called concurrently.
	Read(ctx context.Context, out []Record) (int, error)
}

type multiReader struct {
	q   []Reader
	err error
}

// MultiReader returns a Reader that's the logical concatenation of
// the provided input readers. Once every underlying Reader has
// returned EOF, Read will return EOF, too. Non-EOF errors are
// returned immediately.
func MultiReader(readers ...Reader) Reader {
	return &multiReader{q: readers}
}

func (m *multiReader) Read(ctx context.Context, out []Record) (n int, err error) {
	if m.err != nil {
		return 0, m.err
	}
	for len(m.q) > 0 {
		n, err := m.q[0].Read(ctx, out)
		switch {
		case err == EOF:
			m.q = m.q[1:]
			if n > 0 {
				return n, nil
			}
		case err != nil:
			m.err = err
			return n, err
		case n > 0:
			return n, err
		}
	}
	return 0, EOF
}

type sliceReader struct {
	records []Record
}

// SliceReader returns a Reader that reads the provided records in
// order.
func SliceReader(records []Record) Reader {
	return &sliceReader{records}
}

func (s *sliceReader) Read(ctx context.Context, out []Record) (int, error) {
	n := copy(out, s.records)
	s.records = s.records[n:]
	if len(s.records) == 0 {
		return n, EOF
	}
	return n, nil
}

// ReadAll reads all records from reader r. ReadAll is not tuned for
// performance and is intended for testing purposes.
func ReadAll(ctx context.Context, r Reader) ([]Record, error) {
	var (
		all []Record
		buf = make([]Record, defaultChunksize)
	)
	for {
		n, err := r.Read(ctx, buf)
		if err != nil && err != EOF {
			return all, err
		}
		all = append(all, buf[:n]...)
		if err == EOF {
			return all, nil
		}
	}
}

// ReadFull reads len(out) records. ReadFull reads short only on
// EOF or error.
func ReadFull(ctx context.Context, r Reader, out []Record) (n int, err error) {
	for n < len(out) {
		m, err := r.Read(ctx, out[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// An errReader is a reader that only returns errors.
type errReader struct{ Err error }

// ErrReader returns a reader that returns the provided error
// on every call to read. ErrReader panics if err is nil.
func ErrReader(err error) Reader {
	if err == nil {
		panic("nil error")
	}
	return &errReader{err}
}

func (e errReader) Read(ctx context.Context, out []Record) (int, error) {
	return 0, e.Err
}

// A ClosingReader closes the provided io.Closer when Read returns
// any error, including EOF, or when Close is called explicitly.
type ClosingReader struct {
	Reader
	io.Closer
}

// Read implements recordio.Reader.
func (c *ClosingReader) Read(ctx context.Context, out []Record) (int, error) {
	n, err := c.Reader.Read(ctx, out)
	if err != nil && c.Closer != nil {
		if cerr := c.Closer.Close(); cerr != nil && err == EOF {
			err = cerr
		}
		c.Closer = nil
	}
	return n, err
}

// Close closes the underlying closer if it has not been closed yet.
func (c *ClosingReader) Close() error {
	if c.Closer == nil {
		return nil
	}
	err := c.Closer.Close()
	c.Closer = nil
	return err
}

// EmptyReader returns an EOF.
type EmptyReader struct{}

// Read implements recordio.Reader.
func (EmptyReader) Read(ctx context.Context, out []Record) (int, error) {
	return 0, EOF
}
