package tokforge_test

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokforge/tokforge/pkg/tokforge"
	"github.com/tokforge/tokforge/pkg/tokforge/editlog"
	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
	"github.com/tokforge/tokforge/pkg/tokforge/index"
	"github.com/tokforge/tokforge/pkg/tokforge/tokenizer"
)

// openWritableEngine opens the canonical four-document corpus writable
// under the unpacked policy, where each sample is one whole document.
func openWritableEngine(t *testing.T, opts ...tokforge.Option) *tokforge.Engine {
	t.Helper()
	prefix := writeTestCorpus(t, testDocs)
	base := []tokforge.Option{
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(4),
		tokforge.WithPolicy(index.Unpacked),
		tokforge.WithAllowChopped(),
		tokforge.WithWritable(),
	}
	return openEngine(t, prefix, append(base, opts...)...)
}

func TestInject_DryRunLeavesCorpusIntact(t *testing.T) {
	eng := openWritableEngine(t)
	ctx := context.Background()

	original, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)

	rec, err := eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 0,
		Payload: []int32{99, 98},
		Kind:    tokforge.Prepend,
		DryRun:  true,
	})
	require.NoError(t, err)
	assert.True(t, rec.DryRun)
	require.Len(t, rec.Segments, 1)
	assert.Equal(t, original[:2], rec.Segments[0].Before)
	assert.Equal(t, []int32{99, 98}, rec.Segments[0].After)

	after, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, original, after)
}

func TestInject_PrependVisibleInSample(t *testing.T) {
	eng := openWritableEngine(t)
	ctx := context.Background()

	original, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)

	rec, err := eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 0,
		Payload: []int32{99, 98},
		Kind:    tokforge.Prepend,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, original[:2], rec.Segments[0].Before)

	after, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int32{99, 98}, after[:2])
	assert.Equal(t, original[2:], after[2:])
}

func TestInject_ShuffleInDeterministicWithRng(t *testing.T) {
	eng := openWritableEngine(t)
	ctx := context.Background()

	rec, err := eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 1,
		Payload: []int32{77},
		Kind:    tokforge.ShuffleIn,
		Rng:     rand.New(rand.NewSource(5)),
		DryRun:  true,
	})
	require.NoError(t, err)

	rec2, err := eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 1,
		Payload: []int32{77},
		Kind:    tokforge.ShuffleIn,
		Rng:     rand.New(rand.NewSource(5)),
		DryRun:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, rec.Segments, rec2.Segments)
}

func TestInject_ShuffleInPayloadLands(t *testing.T) {
	eng := openWritableEngine(t)
	ctx := context.Background()

	_, err := eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 2,
		Payload: []int32{88},
		Kind:    tokforge.ShuffleIn,
	})
	require.NoError(t, err)

	after, err := eng.SampleTokens(ctx, 2)
	require.NoError(t, err)
	assert.Contains(t, after, int32(88))
}

func TestInject_OversizedPayloadRejected(t *testing.T) {
	eng := openWritableEngine(t)
	ctx := context.Background()

	original, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)

	payload := make([]int32, 10)
	_, err = eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 0,
		Payload: payload,
		Kind:    tokforge.Prepend,
	})
	assert.ErrorIs(t, err, tferrors.ErrInvalidConfiguration)

	_, err = eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 0,
		Payload: payload,
		Kind:    tokforge.ShuffleIn,
	})
	assert.ErrorIs(t, err, tferrors.ErrInvalidConfiguration)

	// A rejected injection writes nothing.
	after, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, original, after)
}

func TestInject_EmptyPayloadRejected(t *testing.T) {
	eng := openWritableEngine(t)

	_, err := eng.Inject(context.Background(), tokforge.InjectRequest{
		Ordinal: 0,
		Kind:    tokforge.Prepend,
	})
	assert.ErrorIs(t, err, tferrors.ErrInvalidConfiguration)
}

func TestInject_ReadOnlyStoreRejected(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(4),
		tokforge.WithPolicy(index.Unpacked),
		tokforge.WithAllowChopped(),
	)

	_, err := eng.Inject(context.Background(), tokforge.InjectRequest{
		Ordinal: 0,
		Payload: []int32{1},
		Kind:    tokforge.Prepend,
	})
	assert.ErrorIs(t, err, tferrors.ErrStorageIO)
}

func TestInject_JournalAndRevert(t *testing.T) {
	journal := editlog.NewMemoryJournal()
	eng := openWritableEngine(t, tokforge.WithJournal(journal))
	ctx := context.Background()

	original, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)

	rec, err := eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 0,
		Payload: []int32{99, 98},
		Kind:    tokforge.Prepend,
	})
	require.NoError(t, err)

	entry, err := journal.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Segments, entry.Segments)

	require.NoError(t, eng.Revert(ctx, rec.ID))

	after, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, original, after)

	// The entry is consumed by the revert.
	_, err = journal.Get(rec.ID)
	assert.ErrorIs(t, err, editlog.ErrNotFound)
}

func TestInject_SQLiteJournalRoundTrip(t *testing.T) {
	journal, err := editlog.NewSQLiteJournal(filepath.Join(t.TempDir(), "edits.db"))
	require.NoError(t, err)
	defer journal.Close()

	eng := openWritableEngine(t, tokforge.WithJournal(journal))
	ctx := context.Background()

	original, err := eng.SampleTokens(ctx, 1)
	require.NoError(t, err)

	rec, err := eng.Inject(ctx, tokforge.InjectRequest{
		Ordinal: 1,
		Payload: []int32{55, 54, 53},
		Kind:    tokforge.Prepend,
	})
	require.NoError(t, err)

	require.NoError(t, eng.Revert(ctx, rec.ID))
	after, err := eng.SampleTokens(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, original, after)
}

func TestInject_DryRunNotJournaled(t *testing.T) {
	journal := editlog.NewMemoryJournal()
	eng := openWritableEngine(t, tokforge.WithJournal(journal))

	rec, err := eng.Inject(context.Background(), tokforge.InjectRequest{
		Ordinal: 0,
		Payload: []int32{1},
		Kind:    tokforge.Prepend,
		DryRun:  true,
	})
	require.NoError(t, err)

	_, err = journal.Get(rec.ID)
	assert.ErrorIs(t, err, editlog.ErrNotFound)
}

func TestRevert_RequiresJournal(t *testing.T) {
	eng := openWritableEngine(t)

	err := eng.Revert(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, tferrors.ErrInvalidConfiguration)
}

func TestRevert_UnknownRecord(t *testing.T) {
	eng := openWritableEngine(t, tokforge.WithJournal(editlog.NewMemoryJournal()))

	err := eng.Revert(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, editlog.ErrNotFound)
}

func TestInjectMany_CapturesPerRequestErrors(t *testing.T) {
	eng := openWritableEngine(t)

	results := eng.InjectMany(context.Background(), []tokforge.InjectRequest{
		{Ordinal: 0, Payload: []int32{9}, Kind: tokforge.Prepend},
		{Ordinal: 99, Payload: []int32{9}, Kind: tokforge.Prepend},
		{Ordinal: 1, Payload: []int32{8}, Kind: tokforge.Prepend},
	})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, tferrors.ErrIndexOutOfRange)
	assert.NoError(t, results[2].Err)
}

func TestInjectAndPreview(t *testing.T) {
	words := []string{"alpha", "beta", "gamma", "delta", "omega"}
	docs := [][]int32{{0, 1, 2}, {3, 1}}
	prefix := writeTestCorpus(t, docs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(2),
		tokforge.WithPolicy(index.Unpacked),
		tokforge.WithWritable(),
	)
	vocab := tokenizer.NewVocab(words)
	ctx := context.Background()

	// Dry run: the report shows the change, the store does not.
	beforeTokens, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)

	report, err := eng.InjectAndPreview(ctx, tokforge.InjectRequest{
		Ordinal: 0,
		Payload: []int32{4},
		Kind:    tokforge.Prepend,
		DryRun:  true,
	}, vocab)
	require.NoError(t, err)

	beforeText, err := vocab.Decode(beforeTokens)
	require.NoError(t, err)
	assert.Equal(t, beforeText, report.Before)
	assert.NotEqual(t, report.Before, report.After)
	assert.Contains(t, report.After, "omega")

	unchanged, err := eng.SampleTokens(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, beforeTokens, unchanged)

	// Real run: the store reflects the after text.
	report, err = eng.InjectAndPreview(ctx, tokforge.InjectRequest{
		Ordinal: 0,
		Payload: []int32{4},
		Kind:    tokforge.Prepend,
	}, vocab)
	require.NoError(t, err)

	text, err := eng.PreviewSample(ctx, 0, vocab)
	require.NoError(t, err)
	assert.Equal(t, report.After, text)
	assert.Contains(t, text, "omega")
}
