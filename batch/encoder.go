// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package batch

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/fairrank/shardfeed/neutrality"
	"github.com/fairrank/shardfeed/recordio"
	"github.com/grailbio/base/errors"
	"github.com/spaolacci/murmur3"
)

// An Encoder converts groups of records into batches. Encoders are
// owned by a single worker and need not be safe for concurrent use.
type Encoder interface {
	// Encode encodes the provided records, which must all be of the
	// same kind, into a single batch.
	Encode(records []recordio.Record) (*Batch, error)
	// SortKey returns the key by which records are bucketed before
	// encoding: records with close keys pad well together.
	SortKey(r recordio.Record) float64
}

// Options configures the TokenEncoder.
type Options struct {
	// VocabSize is the size of the hashed vocabulary. Token ids are in
	// [1, VocabSize); id 0 is padding.
	VocabSize int
	// MaxQueryLength and MaxDocLength truncate queries and documents.
	MaxQueryLength, MaxDocLength int
	// Seed seeds the token hash.
	Seed uint32
	// NeutralityWordsPath names the representative word list used to
	// score document neutrality. If empty, every document scores 1.
	NeutralityWordsPath string
	// NeutralityThreshold is the minimum number of representative
	// words for a document to be scored.
	NeutralityThreshold int
	// ArenaChunk is the number of token ids allocated at a time by
	// a worker's arena.
	ArenaChunk int
}

// DefaultOptions are the encoder defaults.
var DefaultOptions = Options{
	VocabSize:           1 << 18,
	MaxQueryLength:      30,
	MaxDocLength:        200,
	NeutralityThreshold: 1,
	ArenaChunk:          1 << 20,
}

// Validate checks that the options are usable.
func (o Options) Validate() error {
	switch {
	case o.VocabSize < 2:
		return errors.E(errors.Invalid, fmt.Sprintf("batch: vocabulary size %d must be at least 2", o.VocabSize))
	case o.MaxQueryLength <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("batch: max query length %d must be positive", o.MaxQueryLength))
	case o.MaxDocLength <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("batch: max document length %d must be positive", o.MaxDocLength))
	case o.NeutralityThreshold < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("batch: neutrality threshold %d must not be negative", o.NeutralityThreshold))
	case o.ArenaChunk < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("batch: arena chunk %d must not be negative", o.ArenaChunk))
	}
	return nil
}

// Tokenize splits text into lower-cased tokens of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenEncoder encodes records into hashed token id tensors, scoring
// document neutrality along the way. Each worker owns its own
// TokenEncoder, allocating from that worker's arena.
type TokenEncoder struct {
	opts   Options
	arena  *Arena
	scorer *neutrality.Scorer
}

// NewTokenEncoder returns an encoder that allocates batches from the
// provided arena. The scorer may be nil, in which case every document
// is neutral.
func NewTokenEncoder(opts Options, arena *Arena, scorer *neutrality.Scorer) *TokenEncoder {
	return &TokenEncoder{opts: opts, arena: arena, scorer: scorer}
}

// ID returns the token id of tok.
func (e *TokenEncoder) ID(tok string) int32 {
	return int32(1 + murmur3.Sum32WithSeed([]byte(tok), e.opts.Seed)%uint32(e.opts.VocabSize-1))
}

func truncate(tokens []string, max int) []string {
	if len(tokens) > max {
		return tokens[:max]
	}
	return tokens
}

// SortKey implements Encoder. Triples are keyed by the longer of
// their (truncated) documents, tuples by document length with ties
// broken by query length.
func (e *TokenEncoder) SortKey(r recordio.Record) float64 {
	switch r.Kind {
	case recordio.Triple:
		pos := len(truncate(Tokenize(r.Pos), e.opts.MaxDocLength))
		neg := len(truncate(Tokenize(r.Neg), e.opts.MaxDocLength))
		if neg > pos {
			pos = neg
		}
		return float64(pos)
	default:
		doc := len(truncate(Tokenize(r.Doc), e.opts.MaxDocLength))
		query := len(truncate(Tokenize(r.Query), e.opts.MaxQueryLength))
		return float64(doc) + float64(query)/float64(e.opts.MaxQueryLength+1)
	}
}

// Encode implements Encoder.
func (e *TokenEncoder) Encode(records []recordio.Record) (*Batch, error) {
	if len(records) == 0 {
		return nil, errors.E(errors.Invalid, "batch: encode empty record group")
	}
	kind := records[0].Kind
	for _, r := range records[1:] {
		if r.Kind != kind {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("batch: mixed record kinds %v and %v in %v", kind, r.Kind, r))
		}
	}
	if kind != recordio.Triple && kind != recordio.Tuple {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("batch: cannot encode records of kind %v", kind))
	}
	b := &Batch{Kind: kind, Lines: make([]int, len(records))}
	for i, r := range records {
		b.Lines[i] = r.Line
	}
	queries := make([][]string, len(records))
	for i, r := range records {
		queries[i] = truncate(Tokenize(r.Query), e.opts.MaxQueryLength)
	}
	b.region = e.arena.NewRegion()
	b.Query = e.tensor(b.region, queries)
	switch kind {
	case recordio.Triple:
		var pos, neg [][]string
		b.PosNeutrality, pos = e.docs(records, func(r recordio.Record) string { return r.Pos })
		b.NegNeutrality, neg = e.docs(records, func(r recordio.Record) string { return r.Neg })
		b.Pos, b.Neg = e.tensor(b.region, pos), e.tensor(b.region, neg)
	case recordio.Tuple:
		var docs [][]string
		b.DocNeutrality, docs = e.docs(records, func(r recordio.Record) string { return r.Doc })
		b.Doc = e.tensor(b.region, docs)
		b.QueryIDs = make([]string, len(records))
		b.DocIDs = make([]string, len(records))
		for i, r := range records {
			b.QueryIDs[i], b.DocIDs[i] = r.QueryID, r.DocID
		}
	}
	return b, nil
}

// docs tokenizes and scores the document selected by text from each
// record. Neutrality is scored on the full document.
func (e *TokenEncoder) docs(records []recordio.Record, text func(recordio.Record) string) ([]float32, [][]string) {
	var (
		scores = make([]float32, len(records))
		tokens = make([][]string, len(records))
	)
	for i, r := range records {
		toks := Tokenize(text(r))
		scores[i] = e.scorer.Score(toks)
		tokens[i] = truncate(toks, e.opts.MaxDocLength)
	}
	return scores, tokens
}

// tensor builds a padded tensor in region r whose width is the
// longest row, and at least 1.
func (e *TokenEncoder) tensor(r *Region, rows [][]string) *Tensor {
	cols := 1
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	t := newTensor(r, len(rows), cols)
	for i, row := range rows {
		dst := t.data[i*cols : (i+1)*cols]
		for j, tok := range row {
			dst[j] = e.ID(tok)
		}
		t.lens[i] = int32(len(row))
	}
	return t
}
