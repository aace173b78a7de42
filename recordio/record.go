// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package recordio

import "fmt"

// Kind distinguishes the shapes of raw examples.
type Kind int

const (
	// Triple is a training example: a query with a relevant
	// (positive) and a non-relevant (negative) document.
	Triple Kind = iota
	// Tuple is a validation example: a query and one candidate
	// document, each with its identifier.
	Tuple
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case Triple:
		return "triple"
	case Tuple:
		return "tuple"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// A Record is one raw example as produced by a shard parser. Records
// are immutable once read.
type Record struct {
	Kind Kind
	// Line is the 1-based line of the shard from which the record was
	// parsed. Line is 0 for records that were not read from a file.
	Line int

	Query string

	// Pos and Neg are the positive and negative documents of a Triple.
	Pos, Neg string

	// QueryID and DocID identify the query and document of a Tuple,
	// whose text is in Doc.
	QueryID, DocID string
	Doc            string
}

// String returns a short description of the record, for logging.
func (r Record) String() string {
	switch r.Kind {
	case Tuple:
		return fmt.Sprintf("%s@%d(%s,%s)", r.Kind, r.Line, r.QueryID, r.DocID)
	default:
		return fmt.Sprintf("%s@%d", r.Kind, r.Line)
	}
}
