// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fairness computes the FaiRR and NFaiRR fairness metrics of
// ranked retrieval results.
//
// FaiRR@k of a query is the position-discounted sum of the neutrality
// scores of its top k retrieved documents:
//
//	FaiRR@k = Σ_{i=1..k} neutrality(d_i) / log2(i+1)
//
// NFaiRR@k normalizes FaiRR@k by the ideal value attainable for the
// query, computed by ranking the query's background document set by
// decreasing neutrality. Both are averaged over queries.
package fairness

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// DefaultThresholds are the rank cutoffs at which metrics are
// usually reported.
var DefaultThresholds = []int{5, 10, 20, 50}

// Results maps query ids to ranked lists of document ids, best first.
type Results map[string][]string

// Queries returns the results' query ids in sorted order.
func (r Results) Queries() []string {
	queries := make([]string, 0, len(r))
	for q := range r {
		queries = append(queries, q)
	}
	sort.Strings(queries)
	return queries
}

// Metric computes fairness metrics from a table of document
// neutrality scores and a background document set per query.
type Metric struct {
	neutrality map[string]float64
	background map[string][]string
}

// New returns a metric from document neutrality scores and
// background results. The background documents of each query are
// deduplicated; their order is irrelevant.
func New(neutrality map[string]float64, background Results) *Metric {
	m := &Metric{neutrality: neutrality, background: make(map[string][]string, len(background))}
	for q, docs := range background {
		seen := make(map[string]bool, len(docs))
		for _, d := range docs {
			if !seen[d] {
				seen[d] = true
				m.background[q] = append(m.background[q], d)
			}
		}
	}
	return m
}

// Load returns a metric whose document neutrality scores are read
// from neutralityPath and whose background sets are read from the
// TREC run file at backgroundPath.
func Load(ctx context.Context, neutralityPath, backgroundPath string) (*Metric, error) {
	neutrality, err := ReadNeutrality(ctx, neutralityPath)
	if err != nil {
		return nil, err
	}
	background, err := ReadRunFile(ctx, backgroundPath, 0)
	if err != nil {
		return nil, err
	}
	return New(neutrality, background), nil
}

// Scores holds the metric values at each threshold, averaged over
// queries and per query.
type Scores struct {
	Thresholds []int
	// FaiRR and NFaiRR map thresholds to mean scores.
	FaiRR, NFaiRR map[int]float64
	// PerQueryFaiRR and PerQueryNFaiRR map thresholds to per-query
	// scores.
	PerQueryFaiRR, PerQueryNFaiRR map[int]map[string]float64
}

// String returns a tabular rendering of the mean scores.
func (s Scores) String() string {
	var b strings.Builder
	for _, k := range s.Thresholds {
		fmt.Fprintf(&b, "FaiRR@%d\t%.4f\tNFaiRR@%d\t%.4f\n", k, s.FaiRR[k], k, s.NFaiRR[k])
	}
	return b.String()
}

// Compute computes FaiRR and NFaiRR of the provided results at each
// threshold. Documents without a neutrality score count as fully
// neutral. Queries that have no background set are left out of
// NFaiRR. Means over no queries are 0.
func (m *Metric) Compute(results Results, thresholds []int) (Scores, error) {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	max := 0
	for _, k := range thresholds {
		if k <= 0 {
			return Scores{}, errors.E(errors.Invalid, fmt.Sprintf("fairness: threshold %d must be positive", k))
		}
		if k > max {
			max = k
		}
	}
	bias := make([]float64, max)
	for i := range bias {
		bias[i] = 1 / math.Log2(float64(i+2))
	}
	missing := make(map[string]bool)
	scores := func(docs []string) []float64 {
		s := make([]float64, len(docs))
		for i, d := range docs {
			v, ok := m.neutrality[d]
			if !ok {
				if !missing[d] {
					log.Debug.Printf("fairness: no neutrality score for document %s; using 1", d)
				}
				missing[d] = true
				v = 1
			}
			s[i] = v
		}
		return s
	}
	queries := results.Queries()
	retrieved := make(map[string][]float64, len(results))
	for _, q := range queries {
		docs := results[q]
		if len(docs) > max {
			docs = docs[:max]
		}
		retrieved[q] = scores(docs)
	}
	ideal := make(map[string][]float64, len(m.background))
	for q, docs := range m.background {
		s := scores(docs)
		sort.Sort(sort.Reverse(sort.Float64Slice(s)))
		ideal[q] = s
	}
	if len(missing) > 0 {
		log.Printf("warning: fairness: %d documents have no neutrality score; they were scored 1", len(missing))
	}

	out := Scores{
		Thresholds:     thresholds,
		FaiRR:          make(map[int]float64),
		NFaiRR:         make(map[int]float64),
		PerQueryFaiRR:  make(map[int]map[string]float64),
		PerQueryNFaiRR: make(map[int]map[string]float64),
	}
	for _, k := range thresholds {
		fairr := make(map[string]float64, len(queries))
		nfairr := make(map[string]float64, len(queries))
		for _, q := range queries {
			fairr[q] = discounted(retrieved[q], bias, k)
			background, ok := ideal[q]
			if !ok {
				log.Error.Printf("fairness: query %s is not in the background document set; skipped", q)
				continue
			}
			ifairr := discounted(background, bias, k)
			if ifairr == 0 {
				log.Error.Printf("fairness: query %s has an ideal FaiRR@%d of 0; skipped", q, k)
				continue
			}
			nfairr[q] = fairr[q] / ifairr
		}
		out.PerQueryFaiRR[k], out.FaiRR[k] = fairr, mean(fairr)
		out.PerQueryNFaiRR[k], out.NFaiRR[k] = nfairr, mean(nfairr)
	}
	return out, nil
}

func discounted(scores, bias []float64, k int) float64 {
	if len(scores) < k {
		k = len(scores)
	}
	var sum float64
	for i := 0; i < k; i++ {
		sum += scores[i] * bias[i]
	}
	return sum
}

func mean(vals map[string]float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// ReadNeutrality reads a document neutrality table from path. Each
// line has the form "docid<TAB>score".
func ReadNeutrality(ctx context.Context, path string) (map[string]float64, error) {
	neutrality := make(map[string]float64)
	err := scanFile(ctx, path, func(line int, text string) error {
		fields := strings.Split(text, "\t")
		if len(fields) < 2 {
			return errors.E(errors.Invalid, fmt.Sprintf("%s:%d: got %d fields, want 2", path, line, len(fields)))
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return errors.E(errors.Invalid, err, fmt.Sprintf("%s:%d: bad neutrality score", path, line))
		}
		neutrality[strings.TrimSpace(fields[0])] = score
		return nil
	})
	return neutrality, err
}

// ReadRunFile reads retrieval results from a TREC run file at path.
// Each line has six space- or tab-separated fields:
//
//	query-id Q0 doc-id rank score run-name
//
// Lines are assumed to be in rank order within each query. Lines with
// a different number of fields are ignored. At most cutoff documents
// are kept per query; a cutoff of 0 keeps all of them.
func ReadRunFile(ctx context.Context, path string, cutoff int) (Results, error) {
	var (
		results = make(Results)
		n       int
	)
	err := scanFile(ctx, path, func(line int, text string) error {
		fields := strings.Split(text, " ")
		if len(fields) != 6 {
			fields = strings.Split(text, "\t")
		}
		if len(fields) != 6 {
			log.Debug.Printf("%s:%d: ignoring line with %d fields", path, line, len(fields))
			return nil
		}
		q, d := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[2])
		if cutoff > 0 && len(results[q]) >= cutoff {
			return nil
		}
		results[q] = append(results[q], d)
		n++
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("fairness: %s: read %d results for %d queries", path, n, len(results))
	return results, nil
}

func scanFile(ctx context.Context, path string, fn func(line int, text string) error) (err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, fmt.Sprintf("fairness: open %s", path))
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil && cerr != nil {
			err = errors.E(cerr, fmt.Sprintf("fairness: close %s", path))
		}
	}()
	var (
		scan = bufio.NewScanner(f.Reader(ctx))
		line int
	)
	for scan.Scan() {
		line++
		text := strings.TrimSpace(scan.Text())
		if text == "" {
			continue
		}
		if err := fn(line, text); err != nil {
			return err
		}
	}
	if err := scan.Err(); err != nil {
		return errors.E(err, fmt.Sprintf("fairness: read %s", path))
	}
	return nil
}
