package tokforge_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokforge/tokforge/pkg/tokforge"
	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
	"github.com/tokforge/tokforge/pkg/tokforge/index"
	"github.com/tokforge/tokforge/pkg/tokforge/tokenizer"
)

func openEngine(t *testing.T, prefix string, opts ...tokforge.Option) *tokforge.Engine {
	t.Helper()
	eng, err := tokforge.Open(context.Background(), prefix, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

// TestSample_Unpacked covers the canonical scenario: document sizes
// [3,5,2,4], sequence length 4 with one extra token, chopping allowed.
// Every sample is one whole document, truncated to 5 tokens where the
// document has exactly 5.
func TestSample_Unpacked(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(4),
		tokforge.WithPolicy(index.Unpacked),
		tokforge.WithAllowChopped(),
		tokforge.WithSeed(41),
	)

	var seen []int32
	for ord := int64(0); ord < 4; ord++ {
		segments, err := eng.Sample(context.Background(), ord)
		require.NoError(t, err)
		require.Len(t, segments, 1)

		doc := segments[0].Doc
		seen = append(seen, doc)

		want := testDocs[doc]
		if len(want) > 5 {
			want = want[:5]
		}
		assert.Equal(t, want, segments[0].Tokens, "ordinal %d", ord)
		assert.LessOrEqual(t, len(segments[0].Tokens), 5)
	}

	// One full cyclic pass over the corpus, in some shuffled order.
	assert.ElementsMatch(t, []int32{0, 1, 2, 3}, seen)
}

// TestSample_Packed verifies every packed sample carries exactly
// seq_length+1 tokens and that interior segments are whole documents.
func TestSample_Packed(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(6),
		tokforge.WithPolicy(index.Packed),
		tokforge.WithSeed(7),
	)

	require.GreaterOrEqual(t, eng.NumSamples(), 6)
	for ord := int64(0); ord < int64(eng.NumSamples()); ord++ {
		segments, err := eng.Sample(context.Background(), ord)
		require.NoError(t, err)
		require.NotEmpty(t, segments)

		var total int
		for i, seg := range segments {
			total += len(seg.Tokens)
			if i > 0 {
				assert.Zero(t, seg.Offset, "interior segment starts at the document head")
			}
		}
		assert.Equal(t, 5, total, "ordinal %d", ord)
	}
}

// TestSample_PackUntilOverflow verifies samples are whole documents whose
// sizes sum to at most seq_length+1.
func TestSample_PackUntilOverflow(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(5),
		tokforge.WithNumSamples(4),
		tokforge.WithPolicy(index.PackUntilOverflow),
		tokforge.WithSeed(3),
	)

	for ord := int64(0); ord < 4; ord++ {
		segments, err := eng.Sample(context.Background(), ord)
		require.NoError(t, err)
		require.NotEmpty(t, segments)

		var total int
		for _, seg := range segments {
			assert.Zero(t, seg.Offset)
			assert.Equal(t, testDocs[seg.Doc], seg.Tokens)
			total += len(seg.Tokens)
		}
		assert.LessOrEqual(t, total, 6, "ordinal %d", ord)
	}
}

func TestSample_OrdinalOutOfRange(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(4),
		tokforge.WithPolicy(index.Unpacked),
		tokforge.WithAllowChopped(),
	)

	_, err := eng.Sample(context.Background(), int64(eng.NumSamples()))
	assert.ErrorIs(t, err, tferrors.ErrIndexOutOfRange)

	_, err = eng.Sample(context.Background(), -1)
	assert.ErrorIs(t, err, tferrors.ErrIndexOutOfRange)
}

func TestSampleTokens_ConcatenatesSegments(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(6),
		tokforge.WithPolicy(index.Packed),
	)

	segments, err := eng.Sample(context.Background(), 0)
	require.NoError(t, err)
	tokens, err := eng.SampleTokens(context.Background(), 0)
	require.NoError(t, err)

	var want []int32
	for _, seg := range segments {
		want = append(want, seg.Tokens...)
	}
	assert.Equal(t, want, tokens)
}

func TestSampleDocs_Orders(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(5),
		tokforge.WithNumSamples(4),
		tokforge.WithPolicy(index.PackUntilOverflow),
		tokforge.WithSeed(3),
	)

	for ord := int64(0); ord < 4; ord++ {
		training, err := eng.SampleDocs(ord, tokforge.TrainingOrder)
		require.NoError(t, err)
		corpusOrder, err := eng.SampleDocs(ord, tokforge.CorpusOrder)
		require.NoError(t, err)

		assert.ElementsMatch(t, training, corpusOrder)
		assert.True(t, sort.SliceIsSorted(corpusOrder, func(i, j int) bool {
			return corpusOrder[i] < corpusOrder[j]
		}))
	}
}

func TestSamplesForBatch(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(4),
		tokforge.WithPolicy(index.Unpacked),
		tokforge.WithAllowChopped(),
	)

	ordinals, err := eng.SamplesForBatch(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, ordinals)

	// Final short batch.
	ordinals, err = eng.SamplesForBatch(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ordinals)

	_, err = eng.SamplesForBatch(2, 3)
	assert.ErrorIs(t, err, tferrors.ErrIndexOutOfRange)

	_, err = eng.SamplesForBatch(0, 0)
	assert.ErrorIs(t, err, tferrors.ErrInvalidConfiguration)
}

func TestBatch_AssemblesEverySample(t *testing.T) {
	prefix := writeTestCorpus(t, testDocs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(4),
		tokforge.WithPolicy(index.Unpacked),
		tokforge.WithAllowChopped(),
	)

	batch, err := eng.Batch(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for i, segments := range batch {
		want, err := eng.Sample(context.Background(), int64(i))
		require.NoError(t, err)
		assert.Equal(t, want, segments)
	}
}

func TestPreviewSample(t *testing.T) {
	words := []string{"alpha", "beta", "gamma", "delta"}
	docs := [][]int32{{0, 1}, {2, 3, 1}}
	prefix := writeTestCorpus(t, docs)
	eng := openEngine(t, prefix,
		tokforge.WithSeqLength(4),
		tokforge.WithNumSamples(2),
		tokforge.WithPolicy(index.Unpacked),
		tokforge.WithSeed(1),
	)

	vocab := tokenizer.NewVocab(words)
	for ord := int64(0); ord < 2; ord++ {
		text, err := eng.PreviewSample(context.Background(), ord, vocab)
		require.NoError(t, err)
		assert.Contains(t, []string{"alpha beta", "gamma delta beta"}, text)
	}
}
