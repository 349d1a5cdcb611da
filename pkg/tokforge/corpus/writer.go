package corpus

import (
	"bufio"
	"os"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// Writer builds a new corpus pair sequentially: feed documents with
// AddDocument, then Finalize to write the .idx companion. The output is a
// valid corpus readable by Open/OpenWritable and by the upstream training
// pipeline the format comes from.
type Writer struct {
	prefix string
	dtype  DType

	f   *os.File
	buf *bufio.Writer

	sizes    []int32
	pointers []int64
	offset   int64

	finalized bool
}

// NewWriter creates a corpus writer at prefix, truncating any existing
// {prefix}.bin.
func NewWriter(prefix string, dtype DType) (*Writer, error) {
	if !dtype.valid() {
		return nil, &tferrors.ConfigError{Field: "dtype", Value: int(dtype), Reason: "unsupported token dtype"}
	}
	f, err := os.Create(BinPath(prefix))
	if err != nil {
		return nil, &tferrors.StoreError{Op: "create", Path: BinPath(prefix), Err: err}
	}
	return &Writer{
		prefix: prefix,
		dtype:  dtype,
		f:      f,
		buf:    bufio.NewWriter(f),
	}, nil
}

// AddDocument appends one document's tokens to the .bin file and records
// its size and byte pointer.
func (w *Writer) AddDocument(tokens []int32) error {
	raw, err := encodeTokens(w.dtype, tokens)
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(raw); err != nil {
		return &tferrors.StoreError{Op: "write", Path: BinPath(w.prefix), Err: err}
	}
	w.sizes = append(w.sizes, int32(len(tokens)))
	w.pointers = append(w.pointers, w.offset)
	w.offset += int64(len(raw))
	return nil
}

// Finalize flushes the token file and writes the .idx companion. The writer
// is unusable afterwards.
func (w *Writer) Finalize() error {
	if w.finalized {
		return nil
	}
	w.finalized = true

	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return &tferrors.StoreError{Op: "write", Path: BinPath(w.prefix), Err: err}
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return &tferrors.StoreError{Op: "flush", Path: BinPath(w.prefix), Err: err}
	}
	if err := w.f.Close(); err != nil {
		return &tferrors.StoreError{Op: "close", Path: BinPath(w.prefix), Err: err}
	}

	return writeIdx(IdxPath(w.prefix), &idxHeader{
		dtype:    w.dtype,
		sizes:    w.sizes,
		pointers: w.pointers,
	})
}
