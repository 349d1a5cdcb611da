package index

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
)

// Fingerprint is the deterministic cache key for one index build
// configuration. Two configurations with equal fingerprints share the same
// three cached arrays; any difference forces a rebuild under new filenames.
type Fingerprint struct {
	// Prefix is the dataset path prefix the corpus was opened with.
	Prefix string
	// Name labels the split this index serves (e.g. "train").
	Name string
	// NumSamples is the requested number of training samples.
	NumSamples int
	// SeqLength is the configured sequence length (without extra tokens).
	SeqLength int
	// Seed drives every shuffle in the build.
	Seed int64
	// Policy is the packing policy.
	Policy Policy
	// AllowChopped permits oversized documents to be truncated under
	// pack_until_overflow and unpacked.
	AllowChopped bool
}

// Base renders the shared filename stem:
//
//	{prefix}_{name}_indexmap_{ns}ns_{sl}sl_{seed}s_{policy}pi[_ac]
func (f Fingerprint) Base() string {
	base := fmt.Sprintf("%s_%s_indexmap_%dns_%dsl_%ds_%spi",
		f.Prefix, f.Name, f.NumSamples, f.SeqLength, f.Seed, f.Policy)
	if f.AllowChopped {
		base += "_ac"
	}
	return base
}

// Key returns a map key for in-memory caching. The key is the filename stem
// so two fingerprints collide exactly when their cache files would.
func (f Fingerprint) Key() string {
	return f.Base()
}

// DocIdxPath returns the doc_idx cache file path. An empty dir places the
// file next to the corpus; otherwise the file lives in dir under a stem
// that stays unique per dataset prefix.
func (f Fingerprint) DocIdxPath(dir string) string {
	return f.path(dir, "doc_idx")
}

// SampleIdxPath returns the sample_idx cache file path.
func (f Fingerprint) SampleIdxPath(dir string) string {
	return f.path(dir, "sample_idx")
}

// ShuffleIdxPath returns the shuffle_idx cache file path.
func (f Fingerprint) ShuffleIdxPath(dir string) string {
	return f.path(dir, "shuffle_idx")
}

func (f Fingerprint) path(dir, array string) string {
	if dir == "" {
		return fmt.Sprintf("%s_%s.bin", f.Base(), array)
	}
	// A shared cache dir holds files for many corpora, and distinct
	// prefixes can share a basename. Hashing the full prefix into the stem
	// keeps every fingerprint on its own three files.
	h := fnv.New32a()
	h.Write([]byte(f.Prefix))
	name := fmt.Sprintf("%s_%08x_%s.bin", filepath.Base(f.Base()), h.Sum32(), array)
	return filepath.Join(dir, name)
}
