package index

import (
	"fmt"
)

// SamplePos is one sample_idx entry: a position into doc_idx plus a token
// offset into the document at that position. Sample i spans
// [SampleIdx[i], SampleIdx[i+1]] along the virtual token stream implied by
// doc_idx.
type SamplePos struct {
	// DocPos indexes into DocIdx.
	DocPos int64
	// Offset is the token offset inside the document at DocPos.
	Offset int64
}

// Mappings holds the three index arrays produced by one build.
// Once built (or loaded from cache) a Mappings value is immutable; a
// configuration change produces a new Fingerprint and a new Mappings.
type Mappings struct {
	// DocIdx is the epoch-replicated, shuffled document order.
	DocIdx []int32
	// SampleIdx has NumSamples+1 entries delimiting each sample's span.
	SampleIdx []SamplePos
	// ShuffleIdx is a permutation of [0, NumSamples) mapping logical sample
	// ordinals to physical slots in SampleIdx.
	ShuffleIdx []int64
}

// NumSamples returns the number of addressable samples.
func (m *Mappings) NumSamples() int {
	return len(m.ShuffleIdx)
}

// validate checks the cross-array invariants a freshly loaded cache must
// satisfy before it can be trusted.
func (m *Mappings) validate() error {
	if len(m.SampleIdx) == 0 {
		return fmt.Errorf("sample_idx is empty")
	}
	if len(m.ShuffleIdx) > len(m.SampleIdx)-1 {
		return fmt.Errorf("shuffle_idx has %d entries but sample_idx only delimits %d samples",
			len(m.ShuffleIdx), len(m.SampleIdx)-1)
	}
	if m.SampleIdx[0] != (SamplePos{}) {
		return fmt.Errorf("sample_idx[0] = %+v, want (0,0)", m.SampleIdx[0])
	}
	n := int64(len(m.DocIdx))
	for i, p := range m.SampleIdx {
		if p.DocPos < 0 || p.DocPos > n {
			return fmt.Errorf("sample_idx[%d].DocPos = %d outside doc_idx length %d", i, p.DocPos, n)
		}
	}
	// shuffle_idx must be a bijection on [0, len).
	seen := make([]bool, len(m.ShuffleIdx))
	for i, s := range m.ShuffleIdx {
		if s < 0 || s >= int64(len(m.ShuffleIdx)) || seen[s] {
			return fmt.Errorf("shuffle_idx[%d] = %d is not part of a permutation", i, s)
		}
		seen[s] = true
	}
	return nil
}
