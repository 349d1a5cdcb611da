package tokforge

import (
	"context"
	"os"
	"time"

	"github.com/tokforge/tokforge/pkg/tokforge/corpus"
	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
	"github.com/tokforge/tokforge/pkg/tokforge/index"
	"github.com/tokforge/tokforge/pkg/tokforge/observability"
	"github.com/tokforge/tokforge/pkg/tokforge/split"
)

// Engine binds a corpus store to the resolved index mappings of one split
// and exposes sample assembly and injection over them.
//
// An Engine is safe for concurrent reads. Injections serialize against
// each other and against reads of the ranges they touch through the
// store's locking.
type Engine struct {
	prefix   string
	store    *corpus.Store
	cache    *index.Cache
	mappings *index.Mappings
	fp       index.Fingerprint
	bounds   split.Bounds
	cfg      engineConfig
}

// Open opens the corpus at prefix ({prefix}.bin / {prefix}.idx),
// partitions its documents into splits, and builds or loads the index
// mappings for the selected split.
//
// Sequence length and a sample count (explicit or via training shape) are
// required. When this process is not the designated builder, Open blocks
// until the builder's cache files appear or ctx is done.
func Open(ctx context.Context, prefix string, opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.seqLength <= 0 {
		return nil, &tferrors.ConfigError{
			Field:  "seq_length",
			Value:  cfg.seqLength,
			Reason: "must be positive",
		}
	}
	if cfg.extraTokens < 0 {
		return nil, &tferrors.ConfigError{
			Field:  "extra_tokens",
			Value:  cfg.extraTokens,
			Reason: "must not be negative",
		}
	}
	numSamples := cfg.numSamples
	if cfg.trainIters > 0 && cfg.batchSize > 0 {
		numSamples = cfg.trainIters * cfg.batchSize
	}
	if numSamples <= 0 {
		return nil, &tferrors.ConfigError{
			Field:  "num_samples",
			Value:  numSamples,
			Reason: "requires WithNumSamples or WithTrainingShape",
		}
	}

	store, err := openStore(prefix, cfg.writable)
	if err != nil {
		return nil, err
	}

	bounds, err := split.Partition(cfg.splits, store.DocumentCount())
	if err != nil {
		store.Close()
		return nil, err
	}
	lo, hi := bounds.Range(cfg.split)
	documents := make([]int32, 0, hi-lo)
	for d := lo; d < hi; d++ {
		documents = append(documents, int32(d))
	}

	logger := observability.EnrichLogger(cfg.logger, prefix, cfg.split.String())
	spec := index.BuildSpec{
		Name:         cfg.split.String(),
		Prefix:       prefix,
		Documents:    documents,
		Sizes:        store.Sizes(),
		NumSamples:   numSamples,
		SeqLength:    cfg.seqLength,
		Seed:         cfg.seed,
		Policy:       cfg.policy,
		AllowChopped: cfg.allowChopped,
		Logger:       logger,
	}
	fp := spec.Fingerprint()

	// Cache-hit detection for metrics only; BuildOrLoad re-checks under
	// its own synchronization.
	cacheHit := fileExists(fp.DocIdxPath(cfg.cacheDir))

	cache := index.NewCache(cfg.cacheDir, logger)
	buildCtx, span := cfg.spans.StartBuildSpan(ctx, fp.Base(), cfg.policy.String())
	start := time.Now()
	mappings, err := cache.BuildOrLoad(buildCtx, spec, index.LoadOptions{IsBuilder: cfg.builder})
	cfg.spans.EndSpanWithError(span, err)
	if err != nil {
		store.Close()
		return nil, err
	}
	cfg.metrics.RecordIndexBuild(ctx, cfg.policy.String(), cacheHit, time.Since(start))

	cfg.logger = logger
	return &Engine{
		prefix:   prefix,
		store:    store,
		cache:    cache,
		mappings: mappings,
		fp:       fp,
		bounds:   bounds,
		cfg:      cfg,
	}, nil
}

func openStore(prefix string, writable bool) (*corpus.Store, error) {
	if writable {
		return corpus.OpenWritable(prefix)
	}
	return corpus.Open(prefix)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NumSamples returns the number of addressable training samples.
func (e *Engine) NumSamples() int {
	return e.mappings.NumSamples()
}

// DocumentCount returns the number of documents in the corpus.
func (e *Engine) DocumentCount() int {
	return e.store.DocumentCount()
}

// Policy returns the packing policy the index was built with.
func (e *Engine) Policy() index.Policy {
	return e.cfg.policy
}

// Splits returns the document boundaries of the train/valid/test partition.
func (e *Engine) Splits() split.Bounds {
	return e.bounds
}

// Fingerprint returns the cache fingerprint of the resolved index.
func (e *Engine) Fingerprint() index.Fingerprint {
	return e.fp
}

// Store exposes the underlying corpus store for direct document access.
func (e *Engine) Store() *corpus.Store {
	return e.store
}

// Close releases the corpus mapping. A configured journal is caller-owned
// and stays open.
func (e *Engine) Close() error {
	return e.store.Close()
}
