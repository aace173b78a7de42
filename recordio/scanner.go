// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package recordio

import "context"

// A Scanner provides a convenient interface for pulling records one
// at a time from a Reader. Successive calls to Scan return the next
// record. Scanning stops when no more data are available or if an
// error is encountered. Scan returns true while it's safe to continue
// scanning. When scanning is complete, the user should inspect the
// scanner's error to see if scanning stopped because of an EOF or
// because another error occurred.
type Scanner struct {
	Reader Reader

	err      error
	buf      []Record
	beg, end int
}

// NewScanner returns a scanner that reads records from r.
func NewScanner(r Reader) *Scanner {
	return &Scanner{Reader: r}
}

// Scan reads the next record into *out. Scan returns true while no
// errors are encountered and there remains data to be scanned.
func (s *Scanner) Scan(ctx context.Context, out *Record) bool {
	if s.err != nil {
		return false
	}
	if s.buf == nil {
		s.buf = make([]Record, defaultChunksize)
	}
	for s.beg == s.end {
		if s.Reader == nil {
			s.err = EOF
			return false
		}
		n, err := s.Reader.Read(ctx, s.buf)
		if err != nil && err != EOF {
			s.err = err
			return false
		}
		s.beg, s.end = 0, n
		if err == EOF {
			s.Reader = nil
		}
	}
	*out = s.buf[s.beg]
	s.buf[s.beg] = Record{}
	s.beg++
	return true
}

// Err returns any error that occurred while scanning.
func (s *Scanner) Err() error {
	if s.err == EOF {
		return nil
	}
	return s.err
}
