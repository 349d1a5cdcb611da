package tokenizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokforge/tokforge/pkg/tokforge/tokenizer"
)

func TestVocabRoundTrip(t *testing.T) {
	v := tokenizer.NewVocab([]string{"the", "quick", "brown", "fox"})

	ids, err := v.Encode("the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2, 3}, ids)

	text, err := v.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", text)
}

func TestVocabEncode_UnknownWord(t *testing.T) {
	v := tokenizer.NewVocab([]string{"the"})

	_, err := v.Encode("the lazy dog")
	assert.ErrorContains(t, err, "not in vocabulary")
}

func TestVocabDecode_UnknownID(t *testing.T) {
	v := tokenizer.NewVocab([]string{"the"})

	_, err := v.Decode([]int32{0, 99})
	assert.ErrorContains(t, err, "token id 99")
}

func TestVocabEncode_Empty(t *testing.T) {
	v := tokenizer.NewVocab(nil)

	ids, err := v.Encode("   ")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
