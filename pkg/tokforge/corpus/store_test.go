package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// writeCorpus builds a corpus from documents and returns its prefix.
func writeCorpus(t *testing.T, dtype DType, docs [][]int32) string {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "corpus")
	w, err := NewWriter(prefix, dtype)
	require.NoError(t, err)
	for _, doc := range docs {
		require.NoError(t, w.AddDocument(doc))
	}
	require.NoError(t, w.Finalize())
	return prefix
}

var testDocs = [][]int32{
	{10, 11, 12},
	{20, 21, 22, 23, 24},
	{30, 31},
	{40, 41, 42, 43},
}

func TestStore_ReadBack(t *testing.T) {
	for _, dtype := range []DType{DTypeUint16, DTypeInt32} {
		t.Run(dtype.String(), func(t *testing.T) {
			prefix := writeCorpus(t, dtype, testDocs)

			s, err := Open(prefix)
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, 4, s.DocumentCount())
			assert.Equal(t, int64(14), s.TotalTokens())
			assert.Equal(t, []int32{3, 5, 2, 4}, s.Sizes())

			for i, doc := range testDocs {
				got, err := s.ReadDocument(int32(i))
				require.NoError(t, err)
				assert.Equal(t, doc, got)

				size, err := s.DocumentSize(int32(i))
				require.NoError(t, err)
				assert.Equal(t, int32(len(doc)), size)
			}
		})
	}
}

func TestStore_ReadDocumentRange(t *testing.T) {
	prefix := writeCorpus(t, DTypeUint16, testDocs)
	s, err := Open(prefix)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ReadDocumentRange(1, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []int32{21, 22, 23}, got)

	got, err = s.ReadDocumentRange(1, 2, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_RangeErrors(t *testing.T) {
	prefix := writeCorpus(t, DTypeUint16, testDocs)
	s, err := Open(prefix)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReadDocument(4)
	assert.ErrorIs(t, err, tferrors.ErrIndexOutOfRange)

	_, err = s.ReadDocument(-1)
	assert.ErrorIs(t, err, tferrors.ErrIndexOutOfRange)

	_, err = s.ReadDocumentRange(0, 0, 4)
	assert.ErrorIs(t, err, tferrors.ErrIndexOutOfRange)

	_, err = s.ReadDocumentRange(0, -1, 2)
	assert.ErrorIs(t, err, tferrors.ErrIndexOutOfRange)
}

func TestStore_OverwriteDocumentRange(t *testing.T) {
	prefix := writeCorpus(t, DTypeUint16, testDocs)

	s, err := OpenWritable(prefix)
	require.NoError(t, err)
	require.True(t, s.Writable())

	require.NoError(t, s.OverwriteDocumentRange(1, 1, []int32{91, 92}))
	got, err := s.ReadDocument(1)
	require.NoError(t, err)
	assert.Equal(t, []int32{20, 91, 92, 23, 24}, got)

	// Neighbours untouched.
	got, err = s.ReadDocument(0)
	require.NoError(t, err)
	assert.Equal(t, testDocs[0], got)
	got, err = s.ReadDocument(2)
	require.NoError(t, err)
	assert.Equal(t, testDocs[2], got)

	require.NoError(t, s.Close())

	// Durable across a reopen.
	r, err := Open(prefix)
	require.NoError(t, err)
	defer r.Close()
	got, err = r.ReadDocument(1)
	require.NoError(t, err)
	assert.Equal(t, []int32{20, 91, 92, 23, 24}, got)
}

func TestStore_OverwriteRejections(t *testing.T) {
	prefix := writeCorpus(t, DTypeUint16, testDocs)

	ro, err := Open(prefix)
	require.NoError(t, err)
	defer ro.Close()
	err = ro.OverwriteDocumentRange(0, 0, []int32{1})
	assert.ErrorIs(t, err, tferrors.ErrStorageIO)

	s, err := OpenWritable(prefix)
	require.NoError(t, err)
	defer s.Close()

	// Past the end of the document: nothing may be written.
	err = s.OverwriteDocumentRange(2, 1, []int32{1, 2, 3})
	assert.ErrorIs(t, err, tferrors.ErrIndexOutOfRange)
	got, err := s.ReadDocument(2)
	require.NoError(t, err)
	assert.Equal(t, testDocs[2], got)

	// Token does not fit uint16: rejected before any byte changes.
	err = s.OverwriteDocumentRange(0, 0, []int32{1 << 20})
	assert.ErrorIs(t, err, tferrors.ErrInvalidConfiguration)
	got, err = s.ReadDocument(0)
	require.NoError(t, err)
	assert.Equal(t, testDocs[0], got)
}

func TestReadIdx_Corrupt(t *testing.T) {
	prefix := writeCorpus(t, DTypeUint16, testDocs)

	// Flip the magic.
	path := IdxPath(prefix)
	data := readFile(t, path)
	data[0] = 'X'
	writeFile(t, path, data)

	_, err := Open(prefix)
	assert.ErrorIs(t, err, tferrors.ErrStorageIO)
}

func TestOpen_MissingFiles(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, tferrors.ErrStorageIO)
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
