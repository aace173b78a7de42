// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package neutrality scores how balanced a document is with respect to
// a set of protected attribute groups (e.g., female and male), based
// on lists of words that represent each group.
//
// A document in which fewer than Threshold representative words
// occur is considered fully neutral (score 1). Otherwise the score is
//
//	1 - Σ_g |share_g - portion_g|
//
// clipped to [0, 1], where share_g is the fraction of representative
// word occurrences that belong to group g and portion_g is the
// group's expected portion.
package neutrality

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// DefaultPortions are the group portions used when none are given:
// an even split between the female ("f") and male ("m") groups.
var DefaultPortions = map[string]float64{"f": 0.5, "m": 0.5}

// Scorer computes document neutrality scores.
type Scorer struct {
	// Threshold is the minimum number of representative words a
	// document must contain before it can be considered non-neutral.
	Threshold int

	words    map[string]int
	groups   []string
	portions []float64
}

// New returns a scorer from a word-to-group mapping and group
// portions. Portions must be non-negative and name every group used
// by words; if portions is nil, DefaultPortions is used.
func New(words map[string]string, portions map[string]float64, threshold int) (*Scorer, error) {
	if portions == nil {
		portions = DefaultPortions
	}
	s := &Scorer{Threshold: threshold, words: make(map[string]int, len(words))}
	for g := range portions {
		s.groups = append(s.groups, g)
	}
	sort.Strings(s.groups)
	index := make(map[string]int, len(s.groups))
	for i, g := range s.groups {
		if portions[g] < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("neutrality: negative portion for group %q", g))
		}
		index[g] = i
		s.portions = append(s.portions, portions[g])
	}
	for w, g := range words {
		i, ok := index[g]
		if !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("neutrality: word %q has unknown group %q", w, g))
		}
		s.words[strings.ToLower(w)] = i
	}
	return s, nil
}

// Load reads representative words from the file at path, which may be
// any path supported by github.com/grailbio/base/file. Each line has
// the form "word<TAB>group"; blank lines and lines starting with '#'
// are ignored.
func Load(ctx context.Context, path string, portions map[string]float64, threshold int) (*Scorer, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("neutrality: open %s", path))
	}
	words, err := readWords(f.Reader(ctx))
	if cerr := f.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("neutrality: read %s", path))
	}
	return New(words, portions, threshold)
}

func readWords(r io.Reader) (map[string]string, error) {
	var (
		words = make(map[string]string)
		scan  = bufio.NewScanner(r)
		line  int
	)
	for scan.Scan() {
		line++
		text := strings.TrimSpace(scan.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 2 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("line %d: got %d fields, want 2", line, len(fields)))
		}
		words[strings.TrimSpace(fields[0])] = strings.TrimSpace(fields[1])
	}
	return words, scan.Err()
}

// NumWords returns the number of representative words known to the
// scorer.
func (s *Scorer) NumWords() int { return len(s.words) }

// Score returns the neutrality of a tokenized, lower-cased document.
func (s *Scorer) Score(tokens []string) float32 {
	if s == nil {
		return 1
	}
	var (
		counts = make([]int, len(s.groups))
		total  int
	)
	for _, tok := range tokens {
		if g, ok := s.words[tok]; ok {
			counts[g]++
			total++
		}
	}
	if total == 0 || total < s.Threshold {
		return 1
	}
	var dev float64
	for g, c := range counts {
		share := float64(c) / float64(total)
		if d := share - s.portions[g]; d < 0 {
			dev -= d
		} else {
			dev += d
		}
	}
	score := 1 - dev
	switch {
	case score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	return float32(score)
}
