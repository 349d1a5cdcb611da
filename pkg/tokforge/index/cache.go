package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// Cache owns loaded index mappings keyed by fingerprint. It replaces the
// process-wide filename-keyed singletons of older training stacks with an
// explicit object and a caller-supplied storage directory.
//
// Many training processes may call BuildOrLoad concurrently against the same
// fingerprint. Exactly one of them (the designated builder) computes the
// arrays and publishes them with write-temp-then-rename, so the existence of
// all three files implies they are complete. Everyone else waits for the
// files and loads them. Within one process, concurrent calls for the same
// fingerprint are collapsed by a singleflight group.
type Cache struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	loaded map[string]*Mappings

	group singleflight.Group
}

// LoadOptions controls the build-versus-wait decision of BuildOrLoad.
type LoadOptions struct {
	// IsBuilder marks this process as the one allowed to build missing
	// caches. Everyone else blocks until the builder's files appear.
	IsBuilder bool

	// PollInterval is the file-existence polling cadence for non-builders.
	// Zero means 500ms.
	PollInterval time.Duration
}

func (o LoadOptions) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return 500 * time.Millisecond
	}
	return o.PollInterval
}

// NewCache creates a cache that stores its files in dir. An empty dir places
// cache files next to the dataset prefix.
func NewCache(dir string, logger *slog.Logger) *Cache {
	return &Cache{
		dir:    dir,
		logger: logger,
		loaded: make(map[string]*Mappings),
	}
}

// Dir returns the cache's storage directory.
func (c *Cache) Dir() string {
	return c.dir
}

// BuildOrLoad returns the mappings for spec, from memory, from the cache
// files, or by building them. Loading a cached copy is the only path that
// avoids full recomputation; any fingerprint difference lands on new files.
func (c *Cache) BuildOrLoad(ctx context.Context, spec BuildSpec, opts LoadOptions) (*Mappings, error) {
	if err := spec.check(); err != nil {
		return nil, err
	}
	fp := spec.Fingerprint()
	key := fp.Key()

	c.mu.RLock()
	m, ok := c.loaded[key]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.buildOrLoadSlow(ctx, spec, fp, opts)
	})
	if err != nil {
		return nil, err
	}
	m = v.(*Mappings)

	c.mu.Lock()
	c.loaded[key] = m
	c.mu.Unlock()
	return m, nil
}

// Evict drops the in-memory copy for a fingerprint. The cache files are left
// in place.
func (c *Cache) Evict(fp Fingerprint) {
	c.mu.Lock()
	delete(c.loaded, fp.Key())
	c.mu.Unlock()
}

func (c *Cache) buildOrLoadSlow(ctx context.Context, spec BuildSpec, fp Fingerprint, opts LoadOptions) (*Mappings, error) {
	if cacheFilesExist(fp, c.dir) {
		m, err := load(fp, c.dir)
		if err == nil {
			c.log(ctx, "index cache hit", fp)
			return m, nil
		}
		if !errors.Is(err, tferrors.ErrCacheCorrupt) || !opts.IsBuilder {
			return nil, err
		}
		// Stale or damaged cache: drop it and rebuild once. A second
		// failure is surfaced.
		if c.logger != nil {
			c.logger.Warn("index cache corrupt, rebuilding",
				slog.String("fingerprint", fp.Base()),
				slog.String("error", err.Error()),
			)
		}
		removeCacheFiles(fp, c.dir)
	}

	if !opts.IsBuilder {
		if err := c.waitForFiles(ctx, fp, opts.pollInterval()); err != nil {
			return nil, err
		}
		return load(fp, c.dir)
	}

	start := time.Now()
	m, err := Build(spec)
	if err != nil {
		return nil, err
	}
	if err := m.save(fp, c.dir); err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Info("index built",
			slog.String("fingerprint", fp.Base()),
			slog.String("policy", spec.Policy.String()),
			slog.Int("num_samples", m.NumSamples()),
			slog.Int("doc_idx_len", len(m.DocIdx)),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
	}
	return m, nil
}

// waitForFiles blocks until all three cache files exist, polling with the
// configured interval. The builder publishes files atomically, so existence
// implies completeness.
func (c *Cache) waitForFiles(ctx context.Context, fp Fingerprint, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if cacheFilesExist(fp, c.dir) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Cache) log(ctx context.Context, msg string, fp Fingerprint) {
	if c.logger == nil {
		return
	}
	c.logger.DebugContext(ctx, msg, slog.String("fingerprint", fp.Base()))
}
