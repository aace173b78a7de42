// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package shardfeed

import (
	"flag"
	"fmt"
	"strings"

	"github.com/fairrank/shardfeed/batch"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
)

// Config configures a feed.
type Config struct {
	// Name is used to label the feed in logs and status.
	Name string
	// ShardPaths lists the shards to read, one worker per shard. Paths
	// may be any path supported by github.com/grailbio/base/file.
	ShardPaths []string
	// BatchSize is the number of records in every batch but the last
	// batches of a shard.
	BatchSize int
	// ChannelCapacity is the number of items the queue between the
	// workers and the consumer can hold.
	ChannelCapacity int
	// BucketWidth is the width, in sort key units, of each of the
	// batcher's buckets.
	BucketWidth float64
	// MaxBuckets is the number of buckets. Records whose keys fall
	// beyond the last bucket are placed in it. A single bucket
	// preserves the order of each shard.
	MaxBuckets int
	// Encoder holds the options passed to the batch encoder.
	Encoder batch.Options
	// Status, if not nil, is the status group to which the feed's
	// workers report their progress.
	Status *status.Group
}

// DefaultConfig holds the default configuration values.
var DefaultConfig = Config{
	Name:            "feed",
	BatchSize:       32,
	ChannelCapacity: 16,
	BucketWidth:     10,
	MaxBuckets:      20,
	Encoder:         batch.DefaultOptions,
}

// Validate returns an error of kind errors.Invalid if the
// configuration cannot be used to start a feed.
func (c Config) Validate() error {
	switch {
	case len(c.ShardPaths) == 0:
		return errors.E(errors.Invalid, "shardfeed: no shards")
	case c.BatchSize <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("shardfeed: batch size %d must be positive", c.BatchSize))
	case c.ChannelCapacity <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("shardfeed: channel capacity %d must be positive", c.ChannelCapacity))
	case !(c.BucketWidth > 0):
		return errors.E(errors.Invalid, fmt.Sprintf("shardfeed: bucket width %v must be positive", c.BucketWidth))
	case c.MaxBuckets <= 0:
		return errors.E(errors.Invalid, fmt.Sprintf("shardfeed: number of buckets %d must be positive", c.MaxBuckets))
	}
	for i, path := range c.ShardPaths {
		if path == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("shardfeed: shard %d has an empty path", i))
		}
	}
	return c.Encoder.Validate()
}

// RegisterFlags registers the feed's configuration flags in the
// provided flag set, with the provided name prefix. The current
// values of c are used as defaults. Shard paths are not registered;
// they are usually given as arguments.
func (c *Config) RegisterFlags(fs *flag.FlagSet, prefix string) {
	fs.StringVar(&c.Name, prefix+"name", c.Name, "name of the feed, used in logs")
	fs.IntVar(&c.BatchSize, prefix+"batch-size", c.BatchSize, "number of records per batch")
	fs.IntVar(&c.ChannelCapacity, prefix+"capacity", c.ChannelCapacity, "number of batches the channel between workers and consumer can hold")
	fs.Float64Var(&c.BucketWidth, prefix+"bucket-width", c.BucketWidth, "width of each length bucket, in tokens")
	fs.IntVar(&c.MaxBuckets, prefix+"buckets", c.MaxBuckets, "number of length buckets; 1 preserves shard order")
	fs.IntVar(&c.Encoder.VocabSize, prefix+"vocab-size", c.Encoder.VocabSize, "size of the hashed token vocabulary")
	fs.IntVar(&c.Encoder.MaxQueryLength, prefix+"max-query-length", c.Encoder.MaxQueryLength, "maximum number of query tokens")
	fs.IntVar(&c.Encoder.MaxDocLength, prefix+"max-doc-length", c.Encoder.MaxDocLength, "maximum number of document tokens")
	fs.StringVar(&c.Encoder.NeutralityWordsPath, prefix+"neutrality-words", c.Encoder.NeutralityWordsPath, "path of the representative word list (word<TAB>group) used to score document neutrality")
	fs.IntVar(&c.Encoder.NeutralityThreshold, prefix+"neutrality-threshold", c.Encoder.NeutralityThreshold, "minimum number of representative words for a document to be scored")
}

// String returns a short description of the configuration.
func (c Config) String() string {
	return fmt.Sprintf("%s shards:%d batch:%d capacity:%d buckets:%dx%v [%s]",
		c.Name, len(c.ShardPaths), c.BatchSize, c.ChannelCapacity,
		c.MaxBuckets, c.BucketWidth, strings.Join(c.ShardPaths, " "))
}
