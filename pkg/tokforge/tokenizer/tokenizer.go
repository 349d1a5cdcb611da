// Package tokenizer defines the encoding boundary between raw text and
// token IDs. The engine never tokenizes on its own; callers supply a
// Tokenizer when they want to inject text or render samples back as
// strings, and everything else operates on token IDs directly.
package tokenizer

import (
	"fmt"
	"strings"
)

// Tokenizer converts between text and token IDs. Implementations wrap
// whatever vocabulary the corpus was built with; the engine only relies
// on Encode and Decode being inverses for IDs the corpus contains.
type Tokenizer interface {
	// Encode converts text into a sequence of token IDs.
	Encode(text string) ([]int32, error)

	// Decode converts a sequence of token IDs back into text.
	Decode(ids []int32) (string, error)
}

// Vocab is a Tokenizer backed by a fixed word-level vocabulary. It
// splits on whitespace and maps each word to its ID. Unknown words and
// unknown IDs are errors rather than a sentinel token, which keeps
// round-trip mismatches loud in tooling and tests.
type Vocab struct {
	byWord map[string]int32
	byID   map[int32]string
}

// NewVocab builds a Vocab from an ordered word list. Word i gets ID i.
func NewVocab(words []string) *Vocab {
	v := &Vocab{
		byWord: make(map[string]int32, len(words)),
		byID:   make(map[int32]string, len(words)),
	}
	for i, w := range words {
		v.byWord[w] = int32(i)
		v.byID[int32(i)] = w
	}
	return v
}

// Encode maps each whitespace-separated word to its ID.
func (v *Vocab) Encode(text string) ([]int32, error) {
	fields := strings.Fields(text)
	ids := make([]int32, 0, len(fields))
	for _, w := range fields {
		id, ok := v.byWord[w]
		if !ok {
			return nil, fmt.Errorf("word %q not in vocabulary", w)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode maps each ID back to its word, joined by single spaces.
func (v *Vocab) Decode(ids []int32) (string, error) {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		w, ok := v.byID[id]
		if !ok {
			return "", fmt.Errorf("token id %d not in vocabulary", id)
		}
		words = append(words, w)
	}
	return strings.Join(words, " "), nil
}
