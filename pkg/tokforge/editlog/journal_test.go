package editlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journals returns a fresh instance of every Journal implementation.
func journals(t *testing.T) map[string]Journal {
	t.Helper()
	sqlite, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "edits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	memory := NewMemoryJournal()
	t.Cleanup(func() { memory.Close() })

	return map[string]Journal{"sqlite": sqlite, "memory": memory}
}

func sampleEntry(id string, at time.Time) Entry {
	return Entry{
		ID:        id,
		Ordinal:   7,
		Kind:      "prepend",
		CreatedAt: at,
		Segments: []Segment{
			{Doc: 3, Offset: 2, Before: []int32{10, 11}, After: []int32{90, 91}},
			{Doc: 5, Offset: 0, Before: []int32{1}, After: []int32{2}},
		},
	}
}

func TestJournal_AppendGetRoundTrip(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleEntry("rec-1", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
			require.NoError(t, j.Append(want))

			got, err := j.Get("rec-1")
			require.NoError(t, err)
			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Ordinal, got.Ordinal)
			assert.Equal(t, want.Kind, got.Kind)
			assert.Equal(t, want.Segments, got.Segments)
			assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
		})
	}
}

func TestJournal_GetMissing(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			_, err := j.Get("nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestJournal_DuplicateID(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			e := sampleEntry("dup", time.Now().UTC())
			require.NoError(t, j.Append(e))
			assert.ErrorIs(t, j.Append(e), ErrDuplicateID)
		})
	}
}

func TestJournal_ListOrdered(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, j.Append(sampleEntry("b", base.Add(time.Minute))))
			require.NoError(t, j.Append(sampleEntry("a", base)))

			entries, err := j.List()
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "a", entries[0].ID)
			assert.Equal(t, "b", entries[1].ID)
		})
	}
}

func TestJournal_ListEmpty(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			entries, err := j.List()
			require.NoError(t, err)
			assert.Empty(t, entries)
			assert.NotNil(t, entries)
		})
	}
}

func TestJournal_Delete(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, j.Append(sampleEntry("gone", time.Now().UTC())))
			require.NoError(t, j.Delete("gone"))
			_, err := j.Get("gone")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing entry is not an error.
			assert.NoError(t, j.Delete("gone"))
		})
	}
}

func TestJournal_ClosedOperations(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, j.Close())

			assert.ErrorIs(t, j.Append(sampleEntry("x", time.Now())), ErrJournalClosed)
			_, err := j.Get("x")
			assert.ErrorIs(t, err, ErrJournalClosed)
			_, err = j.List()
			assert.ErrorIs(t, err, ErrJournalClosed)
			assert.ErrorIs(t, j.Delete("x"), ErrJournalClosed)

			// Double close is fine.
			assert.NoError(t, j.Close())
		})
	}
}

func TestSQLiteJournal_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.db")

	j, err := NewSQLiteJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(sampleEntry("keep", time.Now().UTC())))
	require.NoError(t, j.Close())

	j, err = NewSQLiteJournal(path)
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Get("keep")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Ordinal)
}
