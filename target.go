// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package shardfeed

import (
	"context"
	"fmt"
	"io"

	"github.com/fairrank/shardfeed/batch"
	"github.com/fairrank/shardfeed/neutrality"
	"github.com/fairrank/shardfeed/recordio"
	"github.com/fairrank/shardfeed/tsv"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// A Shard is a unit of input assigned to exactly one worker.
type Shard struct {
	// Index is the shard's position in Config.ShardPaths, which is
	// also the index of its worker.
	Index int
	Path  string
}

// String returns the shard's path and index.
func (s Shard) String() string { return fmt.Sprintf("%s[%d]", s.Path, s.Index) }

// Env is the environment in which a Target builds a worker's
// production resources.
type Env struct {
	Shard Shard
	// Arena is the worker's arena. Encoders must allocate batch memory
	// from it.
	Arena  *batch.Arena
	Config Config
}

// A Source holds a worker's production resources: the reader of its
// shard and the encoder of its batches.
type Source struct {
	Reader  recordio.Reader
	Encoder batch.Encoder
	// Close, if not nil, is called when the worker is done reading.
	Close func() error
}

// A Target builds the production resources of a worker. It is
// invoked once by each worker, on the worker's goroutine, before any
// record is read. Errors returned by the target are treated as shard
// read errors.
type Target func(ctx context.Context, env Env) (Source, error)

// TrainingTarget reads training triples (query, positive document,
// negative document) from tab-separated shards and encodes them with
// a batch.TokenEncoder. Records are bucketed by the length of their
// longer document.
func TrainingTarget(ctx context.Context, env Env) (Source, error) {
	return tokenTarget(ctx, env, recordio.Triple)
}

// ValidationTarget reads validation tuples (query id, document id,
// query, document) from tab-separated shards and encodes them with a
// batch.TokenEncoder. Records are bucketed by document length, then
// query length.
func ValidationTarget(ctx context.Context, env Env) (Source, error) {
	return tokenTarget(ctx, env, recordio.Tuple)
}

func tokenTarget(ctx context.Context, env Env, kind recordio.Kind) (Source, error) {
	opts := env.Config.Encoder
	var scorer *neutrality.Scorer
	if opts.NeutralityWordsPath != "" {
		var err error
		scorer, err = neutrality.Load(ctx, opts.NeutralityWordsPath, nil, opts.NeutralityThreshold)
		if err != nil {
			return Source{}, err
		}
		log.Debug.Printf("%s: loaded %d representative words from %s",
			env.Shard, scorer.NumWords(), opts.NeutralityWordsPath)
	}
	r, err := tsv.Open(ctx, env.Shard.Path, kind)
	if err != nil {
		return Source{}, err
	}
	return Source{
		Reader:  r,
		Encoder: batch.NewTokenEncoder(opts, env.Arena, scorer),
		Close: func() error {
			if n := r.Skipped(); n > 0 {
				log.Printf("%s: skipped %d malformed lines", env.Shard, n)
			}
			return r.Close()
		},
	}, nil
}

// SourceTarget returns a target that reads each shard from the
// reader returned by open and encodes with a fresh encoder returned
// by encoder. It is useful for feeding in-memory or synthetic data.
func SourceTarget(open func(Shard) (recordio.Reader, error), encoder func(*batch.Arena) batch.Encoder) Target {
	return func(ctx context.Context, env Env) (Source, error) {
		if open == nil || encoder == nil {
			return Source{}, errors.E(errors.Invalid, "shardfeed: incomplete source target")
		}
		r, err := open(env.Shard)
		if err != nil {
			return Source{}, err
		}
		src := Source{Reader: r, Encoder: encoder(env.Arena)}
		if c, ok := r.(io.Closer); ok {
			src.Close = c.Close
		}
		return src, nil
	}
}
