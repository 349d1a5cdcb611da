// Package corpus reads and mutates Megatron-style indexed token corpora.
//
// A corpus is a pair of files located by prefix: {prefix}.bin holds the raw
// little-endian token stream and {prefix}.idx holds the per-document size
// and byte-pointer tables. The layout is the pre-existing MMapIndexedDataset
// format of the GPT-NeoX/Megatron data pipeline; this package reads and
// writes it compatibly but does not extend it.
//
// All reads are served from a memory mapping of the .bin file. A store
// opened writable additionally supports in-place overwrites of document
// token ranges, flushed with msync before they are considered durable.
package corpus

import (
	"encoding/binary"
	"fmt"
	"os"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// idxMagic is the 9-byte magic of the .idx header.
var idxMagic = [9]byte{'M', 'M', 'I', 'D', 'I', 'D', 'X', 0, 0}

const idxVersion = 1

// DType identifies the token element type stored in the .bin file, using
// the Megatron dtype code table.
type DType uint8

// Supported token dtypes. The format defines more (int8, float, ...), but
// token corpora use one of these two.
const (
	// DTypeInt32 stores each token as a little-endian int32.
	DTypeInt32 DType = 4
	// DTypeUint16 stores each token as a little-endian uint16. Used when
	// the vocabulary fits in 16 bits.
	DTypeUint16 DType = 8
)

// Size returns the element size in bytes.
func (d DType) Size() int64 {
	switch d {
	case DTypeInt32:
		return 4
	case DTypeUint16:
		return 2
	default:
		return 0
	}
}

func (d DType) valid() bool {
	return d == DTypeInt32 || d == DTypeUint16
}

// String returns the dtype name.
func (d DType) String() string {
	switch d {
	case DTypeInt32:
		return "int32"
	case DTypeUint16:
		return "uint16"
	default:
		return "unknown"
	}
}

// idxHeader is the decoded contents of a {prefix}.idx file.
type idxHeader struct {
	dtype DType
	// sizes[i] is the token count of document i.
	sizes []int32
	// pointers[i] is the byte offset of document i in the .bin file.
	pointers []int64
}

// BinPath returns the token file path for a prefix.
func BinPath(prefix string) string { return prefix + ".bin" }

// IdxPath returns the index file path for a prefix.
func IdxPath(prefix string) string { return prefix + ".idx" }

// readIdx parses a {prefix}.idx file.
func readIdx(path string) (*idxHeader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &tferrors.StoreError{Op: "open", Path: path, Err: err}
	}

	const fixed = 9 + 8 + 1 + 8 + 8
	if len(data) < fixed {
		return nil, &tferrors.StoreError{Op: "open", Path: path, Err: fmt.Errorf("truncated index header")}
	}
	if [9]byte(data[0:9]) != idxMagic {
		return nil, &tferrors.StoreError{Op: "open", Path: path, Err: fmt.Errorf("bad index magic")}
	}
	if v := binary.LittleEndian.Uint64(data[9:17]); v != idxVersion {
		return nil, &tferrors.StoreError{Op: "open", Path: path, Err: fmt.Errorf("unsupported index version %d", v)}
	}
	dtype := DType(data[17])
	if !dtype.valid() {
		return nil, &tferrors.StoreError{Op: "open", Path: path, Err: fmt.Errorf("unsupported token dtype %d", dtype)}
	}
	count := int64(binary.LittleEndian.Uint64(data[18:26]))
	docCount := int64(binary.LittleEndian.Uint64(data[26:34]))
	if count < 0 || docCount != count+1 {
		return nil, &tferrors.StoreError{Op: "open", Path: path,
			Err: fmt.Errorf("inconsistent counts: %d sequences, %d document boundaries", count, docCount)}
	}

	want := int64(fixed) + count*4 + count*8 + docCount*8
	if int64(len(data)) != want {
		return nil, &tferrors.StoreError{Op: "open", Path: path,
			Err: fmt.Errorf("index length %d, want %d for %d documents", len(data), want, count)}
	}

	h := &idxHeader{
		dtype:    dtype,
		sizes:    make([]int32, count),
		pointers: make([]int64, count),
	}
	off := int64(fixed)
	for i := range h.sizes {
		h.sizes[i] = int32(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	for i := range h.pointers {
		h.pointers[i] = int64(binary.LittleEndian.Uint64(data[off:]))
		off += 8
	}
	// The trailing document-boundary table is the identity [0, count] here
	// (one sequence per document); it is validated, not retained.
	for i := int64(0); i <= count; i++ {
		if b := int64(binary.LittleEndian.Uint64(data[off:])); b != i {
			return nil, &tferrors.StoreError{Op: "open", Path: path,
				Err: fmt.Errorf("non-identity document boundary %d at %d", b, i)}
		}
		off += 8
	}
	return h, nil
}

// writeIdx serializes an index header.
func writeIdx(path string, h *idxHeader) error {
	count := int64(len(h.sizes))
	const fixed = 9 + 8 + 1 + 8 + 8
	buf := make([]byte, fixed+count*4+count*8+(count+1)*8)

	copy(buf[0:9], idxMagic[:])
	binary.LittleEndian.PutUint64(buf[9:17], idxVersion)
	buf[17] = byte(h.dtype)
	binary.LittleEndian.PutUint64(buf[18:26], uint64(count))
	binary.LittleEndian.PutUint64(buf[26:34], uint64(count+1))

	off := int64(fixed)
	for _, s := range h.sizes {
		binary.LittleEndian.PutUint32(buf[off:], uint32(s))
		off += 4
	}
	for _, p := range h.pointers {
		binary.LittleEndian.PutUint64(buf[off:], uint64(p))
		off += 8
	}
	for i := int64(0); i <= count; i++ {
		binary.LittleEndian.PutUint64(buf[off:], uint64(i))
		off += 8
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return &tferrors.StoreError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// decodeTokens converts raw bytes into tokens.
func decodeTokens(dtype DType, raw []byte) []int32 {
	n := int64(len(raw)) / dtype.Size()
	tokens := make([]int32, n)
	switch dtype {
	case DTypeUint16:
		for i := range tokens {
			tokens[i] = int32(binary.LittleEndian.Uint16(raw[2*i:]))
		}
	case DTypeInt32:
		for i := range tokens {
			tokens[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}
	return tokens
}

// encodeTokens converts tokens into raw bytes, rejecting values that do not
// fit the target dtype.
func encodeTokens(dtype DType, tokens []int32) ([]byte, error) {
	raw := make([]byte, int64(len(tokens))*dtype.Size())
	switch dtype {
	case DTypeUint16:
		for i, t := range tokens {
			if t < 0 || t > 0xFFFF {
				return nil, &tferrors.ConfigError{Field: "tokens", Value: t, Reason: "does not fit uint16 token dtype"}
			}
			binary.LittleEndian.PutUint16(raw[2*i:], uint16(t))
		}
	case DTypeInt32:
		for i, t := range tokens {
			binary.LittleEndian.PutUint32(raw[4*i:], uint32(t))
		}
	}
	return raw, nil
}
