package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// Cache files are little-endian binary dumps with a small self-describing
// header. Element width is chosen per array from its own maximum value: 4
// bytes unless a value exceeds the int32 range, then 8.
//
// Layout:
//
//	magic    [8]byte  "TFIDX1\x00\x00"
//	width    uint8    4 or 8
//	cols     uint8    1 (flat array) or 2 (sample_idx pairs)
//	reserved [6]byte  zero
//	rows     uint64
//	data     rows*cols little-endian integers of the stated width

var arrayMagic = [8]byte{'T', 'F', 'I', 'D', 'X', '1', 0, 0}

const arrayHeaderSize = 24

func widthFor(max int64) int {
	if max > math.MaxInt32 {
		return 8
	}
	return 4
}

// writeArray persists values (cols interleaved) to path via a temporary
// file, fsync, then atomic rename. A reader that sees the file sees all of
// it, which is what the cross-process existence check relies on.
func writeArray(path string, values []int64, cols int) error {
	var max int64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	width := widthFor(max)

	buf := make([]byte, arrayHeaderSize+len(values)*width)
	copy(buf[0:8], arrayMagic[:])
	buf[8] = byte(width)
	buf[9] = byte(cols)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(len(values)/cols))

	off := arrayHeaderSize
	for _, v := range values {
		if width == 4 {
			binary.LittleEndian.PutUint32(buf[off:], uint32(v))
		} else {
			binary.LittleEndian.PutUint64(buf[off:], uint64(v))
		}
		off += width
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish cache file: %w", err)
	}
	return nil
}

// readArray loads a cache file written by writeArray, validating the header
// and the byte length against it.
func readArray(path string, wantCols int) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &tferrors.CacheError{Path: path, Reason: "unreadable", Err: err}
	}
	if len(data) < arrayHeaderSize {
		return nil, &tferrors.CacheError{Path: path, Reason: "truncated header"}
	}
	if [8]byte(data[0:8]) != arrayMagic {
		return nil, &tferrors.CacheError{Path: path, Reason: "bad magic"}
	}
	width := int(data[8])
	cols := int(data[9])
	if width != 4 && width != 8 {
		return nil, &tferrors.CacheError{Path: path, Reason: fmt.Sprintf("unsupported element width %d", width)}
	}
	if cols != wantCols {
		return nil, &tferrors.CacheError{Path: path, Reason: fmt.Sprintf("column count %d, want %d", cols, wantCols)}
	}
	rows := binary.LittleEndian.Uint64(data[16:24])
	n := int(rows) * cols
	if len(data) != arrayHeaderSize+n*width {
		return nil, &tferrors.CacheError{Path: path,
			Reason: fmt.Sprintf("length %d inconsistent with %d rows of width %d", len(data), rows, width)}
	}

	values := make([]int64, n)
	off := arrayHeaderSize
	for i := range values {
		if width == 4 {
			values[i] = int64(int32(binary.LittleEndian.Uint32(data[off:])))
		} else {
			values[i] = int64(binary.LittleEndian.Uint64(data[off:]))
		}
		off += width
	}
	return values, nil
}

// save persists the three arrays under their fingerprinted paths.
func (m *Mappings) save(fp Fingerprint, dir string) error {
	doc := make([]int64, len(m.DocIdx))
	for i, d := range m.DocIdx {
		doc[i] = int64(d)
	}
	if err := writeArray(fp.DocIdxPath(dir), doc, 1); err != nil {
		return err
	}

	sample := make([]int64, 0, 2*len(m.SampleIdx))
	for _, p := range m.SampleIdx {
		sample = append(sample, p.DocPos, p.Offset)
	}
	if err := writeArray(fp.SampleIdxPath(dir), sample, 2); err != nil {
		return err
	}

	return writeArray(fp.ShuffleIdxPath(dir), m.ShuffleIdx, 1)
}

// load reads and validates the three arrays for a fingerprint.
func load(fp Fingerprint, dir string) (*Mappings, error) {
	doc, err := readArray(fp.DocIdxPath(dir), 1)
	if err != nil {
		return nil, err
	}
	sample, err := readArray(fp.SampleIdxPath(dir), 2)
	if err != nil {
		return nil, err
	}
	shuffle, err := readArray(fp.ShuffleIdxPath(dir), 1)
	if err != nil {
		return nil, err
	}

	m := &Mappings{
		DocIdx:     make([]int32, len(doc)),
		SampleIdx:  make([]SamplePos, len(sample)/2),
		ShuffleIdx: shuffle,
	}
	for i, d := range doc {
		m.DocIdx[i] = int32(d)
	}
	for i := range m.SampleIdx {
		m.SampleIdx[i] = SamplePos{DocPos: sample[2*i], Offset: sample[2*i+1]}
	}
	if err := m.validate(); err != nil {
		return nil, &tferrors.CacheError{Path: fp.Base(), Reason: "inconsistent arrays", Err: err}
	}
	return m, nil
}

// cacheFilesExist reports whether all three cache files for fp are present.
func cacheFilesExist(fp Fingerprint, dir string) bool {
	for _, p := range []string{fp.DocIdxPath(dir), fp.SampleIdxPath(dir), fp.ShuffleIdxPath(dir)} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// removeCacheFiles deletes whatever cache files exist for fp. Used for
// corrupt-cache recovery.
func removeCacheFiles(fp Fingerprint, dir string) {
	for _, p := range []string{fp.DocIdxPath(dir), fp.SampleIdxPath(dir), fp.ShuffleIdxPath(dir)} {
		_ = os.Remove(p)
	}
}
