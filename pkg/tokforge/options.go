package tokforge

import (
	"log/slog"

	"github.com/tokforge/tokforge/pkg/tokforge/config"
	"github.com/tokforge/tokforge/pkg/tokforge/editlog"
	"github.com/tokforge/tokforge/pkg/tokforge/index"
	"github.com/tokforge/tokforge/pkg/tokforge/observability"
	"github.com/tokforge/tokforge/pkg/tokforge/split"
)

// engineConfig holds the resolved configuration for one Engine.
type engineConfig struct {
	cacheDir     string
	seqLength    int
	extraTokens  int
	numSamples   int
	trainIters   int
	batchSize    int
	seed         int64
	policy       index.Policy
	allowChopped bool
	splits       string
	split        split.Kind
	writable     bool
	builder      bool

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	journal editlog.Journal
}

// defaultEngineConfig returns the default configuration: the full corpus as
// the train split, one extra token for the causal shift, packed policy,
// and this process designated as the cache builder.
func defaultEngineConfig() engineConfig {
	return engineConfig{
		extraTokens: 1,
		seed:        1234,
		policy:      index.Packed,
		splits:      "1",
		split:       split.Train,
		builder:     true,
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
	}
}

// Option configures an Engine at Open time.
type Option func(*engineConfig)

// WithCacheDir stores the three index cache files under dir instead of
// next to the corpus files.
func WithCacheDir(dir string) Option {
	return func(c *engineConfig) {
		c.cacheDir = dir
	}
}

// WithSeqLength sets the training sequence length (excluding extra tokens).
// Required: there is no sensible default.
func WithSeqLength(n int) Option {
	return func(c *engineConfig) {
		c.seqLength = n
	}
}

// WithNumSamples requests an explicit number of training samples.
// Mutually resolved with WithTrainingShape: when both are given, the
// training shape wins.
func WithNumSamples(n int) Option {
	return func(c *engineConfig) {
		c.numSamples = n
	}
}

// WithTrainingShape derives the sample count from a training run shape:
// numSamples = iterations * batchSize.
func WithTrainingShape(iterations, batchSize int) Option {
	return func(c *engineConfig) {
		c.trainIters = iterations
		c.batchSize = batchSize
	}
}

// WithSeed sets the seed driving every shuffle in the index build.
// Default: 1234.
func WithSeed(seed int64) Option {
	return func(c *engineConfig) {
		c.seed = seed
	}
}

// WithPolicy selects the packing policy. Default: index.Packed.
func WithPolicy(p index.Policy) Option {
	return func(c *engineConfig) {
		c.policy = p
	}
}

// WithAllowChopped permits documents longer than seqLength+extraTokens to
// be truncated under the pack_until_overflow and unpacked policies.
func WithAllowChopped() Option {
	return func(c *engineConfig) {
		c.allowChopped = true
	}
}

// WithSplits sets the train/valid/test ratio string (e.g. "969,30,1" or
// "0.8/0.1/0.1") partitioning the corpus documents. Default: "1" (all
// documents in the train split).
func WithSplits(spec string) Option {
	return func(c *engineConfig) {
		c.splits = spec
	}
}

// WithSplit selects which split this engine indexes and serves.
// Default: split.Train.
func WithSplit(k split.Kind) Option {
	return func(c *engineConfig) {
		c.split = k
	}
}

// WithExtraTokens sets how many tokens beyond seqLength each assembled
// sample carries for the causal shift. Default: 1.
func WithExtraTokens(n int) Option {
	return func(c *engineConfig) {
		c.extraTokens = n
	}
}

// WithLogger attaches a structured logger. Nil (the default) disables
// logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithMetrics attaches a metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *engineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpans attaches a span manager for tracing. Default: no-op.
func WithSpans(s observability.SpanManager) Option {
	return func(c *engineConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithJournal attaches an injection journal. Non-dry-run injections are
// appended to it and become revertible. The journal is caller-owned;
// Engine.Close does not close it.
func WithJournal(j editlog.Journal) Option {
	return func(c *engineConfig) {
		c.journal = j
	}
}

// WithBuilder marks whether this process may build missing index caches.
// Exactly one process per fingerprint should pass true; the others wait
// for the builder's files to appear. Default: true.
func WithBuilder(isBuilder bool) Option {
	return func(c *engineConfig) {
		c.builder = isBuilder
	}
}

// WithWritable opens the corpus with a writable shared mapping, enabling
// Inject and Revert.
func WithWritable() Option {
	return func(c *engineConfig) {
		c.writable = true
	}
}

// OptionsFromConfig translates a loaded configuration map into engine
// options. Recognized keys: cache_dir, seq_length, num_samples,
// train_iters, batch_size, seed, packing_policy, allow_chopped, splits,
// extra_tokens, writable, builder. Unknown keys are ignored.
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	var opts []Option
	if cfg.Has("cache_dir") {
		opts = append(opts, WithCacheDir(cfg.String("cache_dir", "")))
	}
	if cfg.Has("seq_length") {
		opts = append(opts, WithSeqLength(cfg.Int("seq_length", 0)))
	}
	if cfg.Has("num_samples") {
		opts = append(opts, WithNumSamples(cfg.Int("num_samples", 0)))
	}
	if cfg.Has("train_iters") || cfg.Has("batch_size") {
		opts = append(opts, WithTrainingShape(cfg.Int("train_iters", 0), cfg.Int("batch_size", 0)))
	}
	if cfg.Has("seed") {
		opts = append(opts, WithSeed(cfg.Int64("seed", 0)))
	}
	if cfg.Has("packing_policy") {
		p, err := index.ParsePolicy(cfg.String("packing_policy", ""))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPolicy(p))
	}
	if cfg.Bool("allow_chopped", false) {
		opts = append(opts, WithAllowChopped())
	}
	if cfg.Has("splits") {
		opts = append(opts, WithSplits(cfg.String("splits", "")))
	}
	if cfg.Has("extra_tokens") {
		opts = append(opts, WithExtraTokens(cfg.Int("extra_tokens", 1)))
	}
	if cfg.Bool("writable", false) {
		opts = append(opts, WithWritable())
	}
	if cfg.Has("builder") {
		opts = append(opts, WithBuilder(cfg.Bool("builder", true)))
	}
	return opts, nil
}
