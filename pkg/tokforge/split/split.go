// Package split partitions a document corpus into train/valid/test ranges.
//
// A ratio specification is up to three non-negative numbers separated by
// commas or slashes ("969,30,1", "8/1/1", "1"). Missing fields are zero.
// Ratios are normalized to sum to 1 and applied cumulatively over the
// document count, with rounding drift folded back so the final boundary
// always equals the corpus size.
package split

import (
	"math"
	"strconv"
	"strings"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// Kind selects one of the three partitions.
type Kind int

// Partition kinds.
const (
	Train Kind = iota
	Valid
	Test
)

// String returns the partition name.
func (k Kind) String() string {
	switch k {
	case Train:
		return "train"
	case Valid:
		return "valid"
	case Test:
		return "test"
	default:
		return "unknown"
	}
}

// Bounds holds the four cumulative document boundaries [0, b1, b2, size].
type Bounds [4]int

// Range returns the half-open document range [lo, hi) for a partition.
func (b Bounds) Range(k Kind) (lo, hi int) {
	switch k {
	case Train:
		return b[0], b[1]
	case Valid:
		return b[1], b[2]
	default:
		return b[2], b[3]
	}
}

// Count returns the number of documents in a partition.
func (b Bounds) Count(k Kind) int {
	lo, hi := b.Range(k)
	return hi - lo
}

// Partition computes the train/valid/test boundaries for a corpus of size
// documents from a ratio specification.
//
// Boundaries are round(ratio*size) applied cumulatively; the drift that
// accumulates in the final boundary is subtracted from every intermediate
// boundary so the last one lands exactly on size.
func Partition(spec string, size int) (Bounds, error) {
	if size < 0 {
		return Bounds{}, &tferrors.ConfigError{Field: "size", Value: size, Reason: "must be non-negative"}
	}

	ratios, err := parseRatios(spec)
	if err != nil {
		return Bounds{}, err
	}

	sum := 0.0
	for _, r := range ratios {
		sum += r
	}
	if sum <= 0 {
		return Bounds{}, &tferrors.ConfigError{Field: "splits", Value: spec, Reason: "ratios must sum to a positive value"}
	}

	var b Bounds
	for i, r := range ratios {
		b[i+1] = b[i] + int(math.Round(r/sum*float64(size)))
	}
	diff := b[3] - size
	for i := 1; i < 4; i++ {
		b[i] -= diff
	}
	return b, nil
}

// parseRatios splits a comma- or slash-separated spec into exactly three
// non-negative floats, padding missing fields with zero.
func parseRatios(spec string) ([3]float64, error) {
	var ratios [3]float64

	sep := ","
	if !strings.Contains(spec, ",") && strings.Contains(spec, "/") {
		sep = "/"
	}
	fields := strings.Split(spec, sep)
	if len(fields) > 3 {
		return ratios, &tferrors.ConfigError{Field: "splits", Value: spec, Reason: "at most three ratio fields allowed"}
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return ratios, &tferrors.ConfigError{Field: "splits", Value: spec, Reason: "ratio field is not numeric"}
		}
		if v < 0 {
			return ratios, &tferrors.ConfigError{Field: "splits", Value: spec, Reason: "ratio field is negative"}
		}
		ratios[i] = v
	}
	return ratios, nil
}
