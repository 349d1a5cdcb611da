package index

import (
	"log/slog"
	"math/rand"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// skipBudgetFactor bounds the skip-and-retry walks in pack_until_overflow
// and unpacked. Once a walk has skipped skipBudgetFactor*len(documents)
// candidates without closing a sample it returns ErrExhaustedCorpus instead
// of spinning forever.
const skipBudgetFactor = 8

// BuildSpec carries everything one index build depends on. All fields that
// influence the output are part of the Fingerprint; FullyMasked and Logger
// are collaborator hooks and do not key the cache.
type BuildSpec struct {
	// Name labels the split ("train", "valid", "test").
	Name string
	// Prefix is the dataset path prefix, used only for the fingerprint.
	Prefix string
	// Documents lists the document ids that participate (the split range).
	Documents []int32
	// Sizes is the full per-document token count table, indexed by doc id.
	Sizes []int32
	// NumSamples is the number of training samples to index.
	NumSamples int
	// SeqLength is the sequence length without the causal-shift extra token.
	SeqLength int
	// Seed drives all shuffles.
	Seed int64
	// Policy selects the packing strategy.
	Policy Policy
	// AllowChopped permits documents longer than SeqLength+1 to be
	// truncated. Ignored by the packed policy, which always chops.
	AllowChopped bool

	// FullyMasked reports whether a document carries no trainable signal
	// (its external label is entirely ignored). Such documents are skipped
	// by pack_until_overflow and unpacked. Nil means no document is masked.
	FullyMasked func(doc int32) bool

	// Logger receives build progress. Nil disables logging.
	Logger *slog.Logger
}

// Fingerprint derives the cache key for this spec.
func (s BuildSpec) Fingerprint() Fingerprint {
	return Fingerprint{
		Prefix:       s.Prefix,
		Name:         s.Name,
		NumSamples:   s.NumSamples,
		SeqLength:    s.SeqLength,
		Seed:         s.Seed,
		Policy:       s.Policy,
		AllowChopped: s.AllowChopped,
	}
}

func (s BuildSpec) check() error {
	if !s.Policy.valid() {
		return &tferrors.ConfigError{Field: "packing", Value: int(s.Policy), Reason: "unknown packing policy"}
	}
	if s.SeqLength <= 0 {
		return &tferrors.ConfigError{Field: "seq_length", Value: s.SeqLength, Reason: "must be positive"}
	}
	if s.NumSamples <= 0 {
		return &tferrors.ConfigError{Field: "num_samples", Value: s.NumSamples, Reason: "must be positive"}
	}
	if len(s.Documents) == 0 {
		return &tferrors.ConfigError{Field: "documents", Value: nil, Reason: "document range is empty"}
	}
	for _, d := range s.Documents {
		if int(d) >= len(s.Sizes) || d < 0 {
			return &tferrors.RangeError{Kind: "document", Index: int64(d), Limit: int64(len(s.Sizes))}
		}
	}
	return nil
}

// tokensPerEpoch sums the sizes of the participating documents.
func (s BuildSpec) tokensPerEpoch() int64 {
	var total int64
	for _, d := range s.Documents {
		total += int64(s.Sizes[d])
	}
	return total
}

// numEpochs returns the smallest epoch count whose token budget covers
// NumSamples samples of SeqLength tokens. The -1 accounts for the causal
// shift: each sample needs SeqLength+1 tokens but the last token overlaps
// the next sample's first.
func numEpochs(tokensPerEpoch int64, seqLength, numSamples int) int {
	epochs := 0
	var total int64
	for {
		epochs++
		total += tokensPerEpoch
		if (total-1)/int64(seqLength) >= int64(numSamples) {
			return epochs
		}
	}
}

// Build computes the three index arrays for spec. It is deterministic:
// identical specs produce identical arrays.
func Build(spec BuildSpec) (*Mappings, error) {
	if err := spec.check(); err != nil {
		return nil, err
	}

	tokens := spec.tokensPerEpoch()
	if tokens <= 0 {
		return nil, &tferrors.ExhaustedError{Policy: spec.Policy.String(), Skipped: 0, Budget: 0}
	}
	epochs := numEpochs(tokens, spec.SeqLength, spec.NumSamples)
	if epochs > 1 && spec.Logger != nil {
		spec.Logger.Warn("document list will be replayed across epochs",
			slog.Int("num_epochs", epochs),
			slog.String("name", spec.Name),
		)
	}

	rng := rand.New(rand.NewSource(spec.Seed))

	switch spec.Policy {
	case Packed:
		return buildPacked(spec, epochs, tokens, rng), nil
	case PackUntilOverflow:
		return buildPackUntilOverflow(spec, rng)
	case Unpacked:
		return buildUnpacked(spec, rng)
	default:
		return nil, &tferrors.ConfigError{Field: "packing", Value: int(spec.Policy), Reason: "unknown packing policy"}
	}
}

// buildPacked lays out epochs copies of the document list, shuffles the full
// concatenation once, then walks the implied token stream cutting a sample
// boundary every SeqLength tokens. Sample boundaries overlap by one token
// for the causal shift, so consecutive boundaries step SeqLength (not
// SeqLength+1) along the stream.
func buildPacked(spec BuildSpec, epochs int, tokensPerEpoch int64, rng *rand.Rand) *Mappings {
	docIdx := make([]int32, 0, epochs*len(spec.Documents))
	for e := 0; e < epochs; e++ {
		docIdx = append(docIdx, spec.Documents...)
	}
	rng.Shuffle(len(docIdx), func(i, j int) {
		docIdx[i], docIdx[j] = docIdx[j], docIdx[i]
	})

	numSamples := (int64(epochs)*tokensPerEpoch - 1) / int64(spec.SeqLength)
	sampleIdx := make([]SamplePos, numSamples+1)
	sampleIdx[0] = SamplePos{}

	var docPos, docOffset int64
	for i := int64(1); i <= numSamples; i++ {
		remaining := int64(spec.SeqLength) + 1
		for remaining != 0 {
			docLength := int64(spec.Sizes[docIdx[docPos]]) - docOffset
			remaining -= docLength
			if remaining <= 0 {
				// Step back one token so the next sample reuses the
				// boundary token as its first context token.
				docOffset += remaining + docLength - 1
				remaining = 0
			} else {
				docPos++
				docOffset = 0
			}
		}
		sampleIdx[i] = SamplePos{DocPos: docPos, Offset: docOffset}
	}

	shuffleIdx := permutation(numSamples, rng)

	return &Mappings{DocIdx: docIdx, SampleIdx: sampleIdx, ShuffleIdx: shuffleIdx}
}

// buildPackUntilOverflow visits documents in a seeded-shuffled cyclic order,
// re-shuffling on every wrap, and accumulates whole documents into the
// current sample until the next one would overflow SeqLength+1 tokens.
func buildPackUntilOverflow(spec BuildSpec, rng *rand.Rand) (*Mappings, error) {
	shuffleIdx := permutation(int64(spec.NumSamples), rng)

	order := make([]int32, len(spec.Documents))
	copy(order, spec.Documents)
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	var (
		docIdx        []int32
		sampleIdx     []SamplePos
		runningLength int64
		cursor        int
		skipped       int
	)
	budget := skipBudgetFactor * len(spec.Documents)

	for len(sampleIdx) < spec.NumSamples {
		doc := order[cursor]
		if spec.skippable(doc) {
			skipped++
			if skipped > budget {
				return nil, &tferrors.ExhaustedError{
					Policy:  spec.Policy.String(),
					Skipped: skipped,
					Budget:  budget,
				}
			}
			cursor = spec.advance(order, cursor, rng)
			continue
		}
		skipped = 0

		docLength := int64(spec.Sizes[doc])
		if runningLength == 0 {
			sampleIdx = append(sampleIdx, SamplePos{DocPos: int64(len(docIdx))})
			runningLength = docLength
		} else if runningLength+docLength > int64(spec.SeqLength)+1 {
			// Overflow: close the current sample and start a new one
			// with this document.
			runningLength = docLength
			sampleIdx = append(sampleIdx, SamplePos{DocPos: int64(len(docIdx))})
		} else {
			runningLength += docLength
		}
		docIdx = append(docIdx, doc)
		cursor = spec.advance(order, cursor, rng)
	}
	sampleIdx = append(sampleIdx, SamplePos{DocPos: int64(len(docIdx))})

	return &Mappings{DocIdx: docIdx, SampleIdx: sampleIdx, ShuffleIdx: shuffleIdx}, nil
}

// buildUnpacked walks documents cyclically, one document per sample,
// skipping oversized (when chopping is disallowed) and fully masked
// documents.
func buildUnpacked(spec BuildSpec, rng *rand.Rand) (*Mappings, error) {
	shuffleIdx := permutation(int64(spec.NumSamples), rng)

	sampleIdx := make([]SamplePos, spec.NumSamples+1)
	for i := range sampleIdx {
		sampleIdx[i] = SamplePos{DocPos: int64(i)}
	}

	var (
		docIdx  []int32
		cursor  int
		skipped int
	)
	budget := skipBudgetFactor * len(spec.Documents)

	for len(docIdx) <= spec.NumSamples {
		doc := spec.Documents[cursor]
		if spec.skippable(doc) {
			skipped++
			if skipped > budget {
				return nil, &tferrors.ExhaustedError{
					Policy:  spec.Policy.String(),
					Skipped: skipped,
					Budget:  budget,
				}
			}
			cursor = (cursor + 1) % len(spec.Documents)
			continue
		}
		skipped = 0
		docIdx = append(docIdx, doc)
		cursor = (cursor + 1) % len(spec.Documents)
	}

	return &Mappings{DocIdx: docIdx, SampleIdx: sampleIdx, ShuffleIdx: shuffleIdx}, nil
}

// skippable reports whether a document can never contribute to a sample
// under the non-packed policies: oversized while chopping is disallowed, or
// fully masked.
func (s BuildSpec) skippable(doc int32) bool {
	if !s.AllowChopped && int64(s.Sizes[doc]) > int64(s.SeqLength)+1 {
		return true
	}
	if s.FullyMasked != nil && s.FullyMasked(doc) {
		return true
	}
	return false
}

// advance moves the cyclic cursor, re-shuffling the visit order each time
// the cycle wraps.
func (s BuildSpec) advance(order []int32, cursor int, rng *rand.Rand) int {
	cursor++
	if cursor == len(order) {
		cursor = 0
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return cursor
}

// permutation returns a seeded random permutation of [0, n).
func permutation(n int64, rng *rand.Rand) []int64 {
	p := make([]int64, n)
	for i := range p {
		p[i] = int64(i)
	}
	rng.Shuffle(len(p), func(i, j int) {
		p[i], p[j] = p[j], p[i]
	})
	return p
}
