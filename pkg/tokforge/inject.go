package tokforge

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tokforge/tokforge/pkg/tokforge/editlog"
	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
	"github.com/tokforge/tokforge/pkg/tokforge/observability"
	"github.com/tokforge/tokforge/pkg/tokforge/tokenizer"
)

// InjectKind selects where an injection payload lands inside a sample.
type InjectKind int

const (
	// Prepend overwrites the leading tokens of the sample's first segment.
	Prepend InjectKind = iota

	// ShuffleIn overwrites the payload at a random offset of a randomly
	// chosen segment that can hold it.
	ShuffleIn
)

// String returns the kind name used in records, journals and telemetry.
func (k InjectKind) String() string {
	switch k {
	case Prepend:
		return "prepend"
	case ShuffleIn:
		return "shuffle_in"
	default:
		return fmt.Sprintf("inject_kind(%d)", int(k))
	}
}

// InjectRequest describes one injection.
type InjectRequest struct {
	// Ordinal is the logical training-sample ordinal to target.
	Ordinal int64

	// Payload is the token sequence to write. Injections are size
	// preserving: the payload overwrites an equally long token range and
	// must fit inside the segment it targets.
	Payload []int32

	// Kind selects the placement strategy.
	Kind InjectKind

	// Rng drives the random choices of ShuffleIn. Nil seeds a generator
	// from the engine seed and the ordinal, making the placement
	// reproducible.
	Rng *rand.Rand

	// DryRun simulates the injection without touching the store.
	DryRun bool
}

// InjectionRecord reports what an injection changed (or, for a dry run,
// would change).
type InjectionRecord struct {
	// ID is a unique record id, usable with Revert when journaled.
	ID string
	// Ordinal is the targeted sample ordinal.
	Ordinal int64
	// Kind is the injection kind.
	Kind InjectKind
	// DryRun reports whether the store was left untouched.
	DryRun bool
	// CreatedAt is the record timestamp.
	CreatedAt time.Time
	// Segments lists each mutated document range with its before and
	// after content.
	Segments []editlog.Segment
}

// Inject writes (or, with DryRun, simulates writing) a payload into the
// token ranges of one training sample.
//
// The operation is all-or-nothing: every validation runs before the first
// byte is written, and a failed validation leaves the store unchanged. The
// index arrays are never touched. Non-dry-run records are appended to the
// configured journal and can be reverted by ID.
func (e *Engine) Inject(ctx context.Context, req InjectRequest) (*InjectionRecord, error) {
	_, span := e.cfg.spans.StartInjectSpan(ctx, req.Ordinal, req.Kind.String(), req.DryRun)
	start := time.Now()

	rec, err := e.inject(req)
	e.cfg.spans.EndSpanWithError(span, err)
	e.cfg.metrics.RecordInjection(ctx, req.Kind.String(), req.DryRun, time.Since(start), err)
	if err != nil {
		observability.LogInjectionError(e.cfg.logger, req.Ordinal, req.Kind.String(), err)
		return nil, err
	}
	observability.LogInjection(e.cfg.logger, rec.ID, rec.Ordinal, rec.Kind.String(), rec.DryRun, len(rec.Segments))
	return rec, nil
}

func (e *Engine) inject(req InjectRequest) (*InjectionRecord, error) {
	if len(req.Payload) == 0 {
		return nil, &tferrors.ConfigError{
			Field:  "payload",
			Reason: "must not be empty",
		}
	}

	spans, err := e.sampleSpans(req.Ordinal)
	if err != nil {
		return nil, err
	}

	target, err := placePayload(spans, req, e.cfg.seed)
	if err != nil {
		return nil, err
	}

	payloadLen := int64(len(req.Payload))
	before, err := e.store.ReadDocumentRange(target.doc, target.off, target.off+payloadLen)
	if err != nil {
		return nil, err
	}

	if !req.DryRun {
		if err := e.store.OverwriteDocumentRange(target.doc, target.off, req.Payload); err != nil {
			return nil, err
		}
	}

	rec := &InjectionRecord{
		ID:        uuid.NewString(),
		Ordinal:   req.Ordinal,
		Kind:      req.Kind,
		DryRun:    req.DryRun,
		CreatedAt: time.Now().UTC(),
		Segments: []editlog.Segment{{
			Doc:    target.doc,
			Offset: target.off,
			Before: before,
			After:  append([]int32(nil), req.Payload...),
		}},
	}

	if e.cfg.journal != nil && !req.DryRun {
		entry := editlog.Entry{
			ID:        rec.ID,
			Ordinal:   rec.Ordinal,
			Kind:      rec.Kind.String(),
			CreatedAt: rec.CreatedAt,
			Segments:  rec.Segments,
		}
		if err := e.cfg.journal.Append(entry); err != nil {
			// The store write already happened; surface the journal
			// failure with the record so the caller can still see what
			// changed.
			return rec, fmt.Errorf("journal injection %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// placePayload decides which document range an injection overwrites. An
// error here means nothing has been written yet.
func placePayload(spans []span, req InjectRequest, seed int64) (span, error) {
	payloadLen := int64(len(req.Payload))

	switch req.Kind {
	case Prepend:
		first := spans[0]
		if payloadLen > first.length {
			return span{}, &tferrors.ConfigError{
				Field:  "payload",
				Value:  payloadLen,
				Reason: fmt.Sprintf("longer than the sample's first segment (%d tokens)", first.length),
			}
		}
		return span{doc: first.doc, off: first.off, length: payloadLen}, nil

	case ShuffleIn:
		candidates := make([]span, 0, len(spans))
		for _, sp := range spans {
			if sp.length >= payloadLen {
				candidates = append(candidates, sp)
			}
		}
		if len(candidates) == 0 {
			return span{}, &tferrors.ConfigError{
				Field:  "payload",
				Value:  payloadLen,
				Reason: "longer than every segment of the sample",
			}
		}
		rng := req.Rng
		if rng == nil {
			rng = rand.New(rand.NewSource(seed + req.Ordinal))
		}
		chosen := candidates[rng.Intn(len(candidates))]
		off := chosen.off + rng.Int63n(chosen.length-payloadLen+1)
		return span{doc: chosen.doc, off: off, length: payloadLen}, nil

	default:
		return span{}, &tferrors.ConfigError{
			Field:  "injection_kind",
			Value:  int(req.Kind),
			Reason: "unknown kind",
		}
	}
}

// InjectResult pairs one InjectMany request with its outcome.
type InjectResult struct {
	Record *InjectionRecord
	Err    error
}

// InjectMany applies a batch of injections, capturing each outcome
// independently so one rejected request does not abort the rest.
func (e *Engine) InjectMany(ctx context.Context, reqs []InjectRequest) []InjectResult {
	results := make([]InjectResult, len(reqs))
	for i, req := range reqs {
		rec, err := e.Inject(ctx, req)
		results[i] = InjectResult{Record: rec, Err: err}
	}
	return results
}

// InjectionReport is an injection record together with the decoded sample
// text before and after the change.
type InjectionReport struct {
	Record *InjectionRecord
	Before string
	After  string
}

// InjectAndPreview performs an injection and decodes the targeted sample
// before and after it. For dry runs the after text is computed over an
// in-memory copy; the store is untouched.
func (e *Engine) InjectAndPreview(ctx context.Context, req InjectRequest, tok tokenizer.Tokenizer) (*InjectionReport, error) {
	beforeTokens, err := e.SampleTokens(ctx, req.Ordinal)
	if err != nil {
		return nil, err
	}
	beforeText, err := tok.Decode(beforeTokens)
	if err != nil {
		return nil, err
	}

	rec, err := e.Inject(ctx, req)
	if err != nil {
		return nil, err
	}

	var afterTokens []int32
	if req.DryRun {
		spans, err := e.sampleSpans(req.Ordinal)
		if err != nil {
			return nil, err
		}
		afterTokens = applySegments(beforeTokens, spans, rec.Segments)
	} else {
		afterTokens, err = e.SampleTokens(ctx, req.Ordinal)
		if err != nil {
			return nil, err
		}
	}
	afterText, err := tok.Decode(afterTokens)
	if err != nil {
		return nil, err
	}

	return &InjectionReport{Record: rec, Before: beforeText, After: afterText}, nil
}

// applySegments overlays recorded after-content onto an assembled token
// sequence, mapping each document range back to its position inside the
// concatenated sample.
func applySegments(tokens []int32, spans []span, segs []editlog.Segment) []int32 {
	out := append([]int32(nil), tokens...)
	for _, seg := range segs {
		var base int64
		for _, sp := range spans {
			if seg.Doc == sp.doc && seg.Offset >= sp.off && seg.Offset+int64(len(seg.After)) <= sp.off+sp.length {
				pos := base + (seg.Offset - sp.off)
				copy(out[pos:pos+int64(len(seg.After))], seg.After)
				break
			}
			base += sp.length
		}
	}
	return out
}

// Revert re-applies the before-content of a journaled injection, restoring
// the token ranges it overwrote, then removes the journal entry.
func (e *Engine) Revert(ctx context.Context, recordID string) error {
	if e.cfg.journal == nil {
		return &tferrors.ConfigError{
			Field:  "journal",
			Reason: "Revert requires a journal (WithJournal)",
		}
	}
	entry, err := e.cfg.journal.Get(recordID)
	if err != nil {
		return err
	}
	for _, seg := range entry.Segments {
		if err := e.store.OverwriteDocumentRange(seg.Doc, seg.Offset, seg.Before); err != nil {
			return err
		}
	}
	if err := e.cfg.journal.Delete(recordID); err != nil {
		return err
	}
	observability.LogRevert(e.cfg.logger, recordID, len(entry.Segments))
	return nil
}
