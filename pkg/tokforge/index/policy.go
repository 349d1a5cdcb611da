package index

import (
	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// Policy is the strategy for mapping variable-length documents onto
// fixed-length training samples.
type Policy int

// Packing policies.
const (
	// Packed concatenates documents across epoch copies and cuts a boundary
	// every sequence length, chopping documents mid-stream. Chopping is
	// inherent to this policy; the allow-chopped flag is ignored.
	Packed Policy = iota

	// PackUntilOverflow greedily accumulates whole documents into a sample
	// and rolls over to a new sample when the next document would not fit.
	PackUntilOverflow

	// Unpacked maps exactly one document to each sample.
	Unpacked
)

// String returns the policy name used in fingerprints and cache filenames.
func (p Policy) String() string {
	switch p {
	case Packed:
		return "packed"
	case PackUntilOverflow:
		return "pack_until_overflow"
	case Unpacked:
		return "unpacked"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a policy name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "packed":
		return Packed, nil
	case "pack_until_overflow":
		return PackUntilOverflow, nil
	case "unpacked":
		return Unpacked, nil
	default:
		return 0, &tferrors.ConfigError{Field: "packing", Value: s, Reason: "unknown packing policy"}
	}
}

// valid reports whether p is one of the three known policies.
func (p Policy) valid() bool {
	return p == Packed || p == PackUntilOverflow || p == Unpacked
}
