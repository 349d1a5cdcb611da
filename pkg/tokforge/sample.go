package tokforge

import (
	"context"
	"sort"
	"time"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
	"github.com/tokforge/tokforge/pkg/tokforge/index"
	"github.com/tokforge/tokforge/pkg/tokforge/tokenizer"
)

// Segment is one document's contribution to an assembled sample. Segments
// preserve document boundaries inside packed samples so callers can see
// where one document ends and the next begins.
type Segment struct {
	// Doc is the contributing document id.
	Doc int32
	// Offset is the token offset of the segment within the document.
	Offset int64
	// Tokens is the segment content, copied out of the store.
	Tokens []int32
}

// AddressOrder selects how SampleDocs reports a sample's contributing
// document ids.
type AddressOrder int

const (
	// TrainingOrder lists documents in the order they appear inside the
	// sample (the doc_idx visit order).
	TrainingOrder AddressOrder = iota

	// CorpusOrder lists the same documents sorted by document id.
	CorpusOrder
)

// span is the physical extent of one segment before its tokens are read.
type span struct {
	doc    int32
	off    int64
	length int64
}

// resolve maps a logical sample ordinal through shuffle_idx to the
// half-open sample_idx boundary pair delimiting its documents.
func (e *Engine) resolve(ordinal int64) (start, end index.SamplePos, err error) {
	n := int64(e.mappings.NumSamples())
	if ordinal < 0 || ordinal >= n {
		return start, end, &tferrors.RangeError{
			Kind:  "sample",
			Index: ordinal,
			Limit: n,
		}
	}
	physical := e.mappings.ShuffleIdx[ordinal]
	return e.mappings.SampleIdx[physical], e.mappings.SampleIdx[physical+1], nil
}

// sampleSpans resolves a sample ordinal into the physical document extents
// it covers. The walk depends on the packing policy because the index
// build records boundaries differently per policy: packed boundaries carry
// in-document offsets, pack_until_overflow boundaries delimit whole-document
// runs, and unpacked boundaries are one document each.
func (e *Engine) sampleSpans(ordinal int64) ([]span, error) {
	start, end, err := e.resolve(ordinal)
	if err != nil {
		return nil, err
	}
	docIdx := e.mappings.DocIdx

	switch e.cfg.policy {
	case index.Packed:
		// The end boundary's offset points at the token shared with the
		// next sample; the extra tokens extend past it for the causal
		// shift, clamped to the final document.
		spans := make([]span, 0, end.DocPos-start.DocPos+1)
		for pos := start.DocPos; pos <= end.DocPos; pos++ {
			doc := docIdx[pos]
			size := int64(e.store.Sizes()[doc])
			var lo, hi int64
			switch {
			case pos == start.DocPos && pos == end.DocPos:
				lo, hi = start.Offset, min64(end.Offset+int64(e.cfg.extraTokens), size)
			case pos == start.DocPos:
				lo, hi = start.Offset, size
			case pos == end.DocPos:
				lo, hi = 0, min64(end.Offset+int64(e.cfg.extraTokens), size)
			default:
				lo, hi = 0, size
			}
			if hi > lo {
				spans = append(spans, span{doc: doc, off: lo, length: hi - lo})
			}
		}
		return spans, nil

	case index.PackUntilOverflow:
		spans := make([]span, 0, end.DocPos-start.DocPos)
		for pos := start.DocPos; pos < end.DocPos; pos++ {
			doc := docIdx[pos]
			spans = append(spans, span{doc: doc, length: int64(e.store.Sizes()[doc])})
		}
		return spans, nil

	default: // index.Unpacked
		doc := docIdx[start.DocPos]
		size := int64(e.store.Sizes()[doc])
		length := min64(size, int64(e.cfg.seqLength+e.cfg.extraTokens))
		return []span{{doc: doc, length: length}}, nil
	}
}

// Sample assembles the ordered per-document token segments of one logical
// training sample.
func (e *Engine) Sample(ctx context.Context, ordinal int64) ([]Segment, error) {
	_, spanHandle := e.cfg.spans.StartAssembleSpan(ctx, ordinal)
	start := time.Now()

	segments, err := e.assemble(ordinal)
	e.cfg.spans.EndSpanWithError(spanHandle, err)
	if err != nil {
		return nil, err
	}
	e.cfg.metrics.RecordAssembly(ctx, time.Since(start), len(segments))
	return segments, nil
}

func (e *Engine) assemble(ordinal int64) ([]Segment, error) {
	spans, err := e.sampleSpans(ordinal)
	if err != nil {
		return nil, err
	}
	segments := make([]Segment, 0, len(spans))
	for _, sp := range spans {
		tokens, err := e.store.ReadDocumentRange(sp.doc, sp.off, sp.off+sp.length)
		if err != nil {
			return nil, err
		}
		segments = append(segments, Segment{Doc: sp.doc, Offset: sp.off, Tokens: tokens})
	}
	return segments, nil
}

// SampleTokens assembles a sample and concatenates its segments into one
// token sequence.
func (e *Engine) SampleTokens(ctx context.Context, ordinal int64) ([]int32, error) {
	segments, err := e.Sample(ctx, ordinal)
	if err != nil {
		return nil, err
	}
	var total int
	for _, s := range segments {
		total += len(s.Tokens)
	}
	tokens := make([]int32, 0, total)
	for _, s := range segments {
		tokens = append(tokens, s.Tokens...)
	}
	return tokens, nil
}

// SampleDocs returns the document ids contributing to a sample, either in
// the order they appear inside the sample or sorted by document id.
func (e *Engine) SampleDocs(ordinal int64, order AddressOrder) ([]int32, error) {
	spans, err := e.sampleSpans(ordinal)
	if err != nil {
		return nil, err
	}
	docs := make([]int32, len(spans))
	for i, sp := range spans {
		docs[i] = sp.doc
	}
	if order == CorpusOrder {
		sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })
	}
	return docs, nil
}

// SamplesForBatch returns the sample ordinals making up one training
// batch. The final batch of a run may be short.
func (e *Engine) SamplesForBatch(batchID int64, batchSize int) ([]int64, error) {
	if batchSize <= 0 {
		return nil, &tferrors.ConfigError{
			Field:  "batch_size",
			Value:  batchSize,
			Reason: "must be positive",
		}
	}
	n := int64(e.NumSamples())
	bs := int64(batchSize)
	lo := batchID * bs
	if batchID < 0 || lo >= n {
		return nil, &tferrors.RangeError{
			Kind:  "batch",
			Index: batchID,
			Limit: (n + bs - 1) / bs,
		}
	}
	hi := min64(lo+bs, n)
	ordinals := make([]int64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		ordinals = append(ordinals, i)
	}
	return ordinals, nil
}

// Batch assembles every sample of one training batch.
func (e *Engine) Batch(ctx context.Context, batchID int64, batchSize int) ([][]Segment, error) {
	ordinals, err := e.SamplesForBatch(batchID, batchSize)
	if err != nil {
		return nil, err
	}
	batch := make([][]Segment, 0, len(ordinals))
	for _, ord := range ordinals {
		segments, err := e.Sample(ctx, ord)
		if err != nil {
			return nil, err
		}
		batch = append(batch, segments)
	}
	return batch, nil
}

// PreviewSample assembles a sample and decodes it to text with the given
// tokenizer.
func (e *Engine) PreviewSample(ctx context.Context, ordinal int64, tok tokenizer.Tokenizer) (string, error) {
	tokens, err := e.SampleTokens(ctx, ordinal)
	if err != nil {
		return "", err
	}
	return tok.Decode(tokens)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
