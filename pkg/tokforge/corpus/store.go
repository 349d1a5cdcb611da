package corpus

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"

	tferrors "github.com/tokforge/tokforge/pkg/tokforge/errors"
)

// Store is a memory-mapped token corpus. Reads are zero-copy views over the
// mapping, copied out at the API boundary so callers never alias the backing
// file. A store opened with OpenWritable additionally supports in-place
// overwrites of document token ranges.
//
// The mapping is shared by all readers. A mutation holds the store's write
// lock plus an exclusive flock on the .bin file for the duration of the
// write, so concurrent processes never interleave writes; reads of
// unrelated ranges proceed concurrently under the read lock.
type Store struct {
	prefix string
	hdr    *idxHeader

	mu       sync.RWMutex
	writable bool
	closed   bool

	// Read-only backend.
	reader *mmap.ReaderAt

	// Writable backend: a shared PROT_READ|PROT_WRITE mapping.
	file *os.File
	data []byte
}

// Open maps the corpus at prefix read-only.
func Open(prefix string) (*Store, error) {
	hdr, err := readIdx(IdxPath(prefix))
	if err != nil {
		return nil, err
	}
	reader, err := mmap.Open(BinPath(prefix))
	if err != nil {
		return nil, &tferrors.StoreError{Op: "open", Path: BinPath(prefix), Err: err}
	}
	s := &Store{prefix: prefix, hdr: hdr, reader: reader}
	if err := s.checkExtent(int64(reader.Len())); err != nil {
		reader.Close()
		return nil, err
	}
	return s, nil
}

// OpenWritable maps the corpus at prefix with a shared writable mapping.
func OpenWritable(prefix string) (*Store, error) {
	hdr, err := readIdx(IdxPath(prefix))
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(BinPath(prefix), os.O_RDWR, 0)
	if err != nil {
		return nil, &tferrors.StoreError{Op: "open", Path: BinPath(prefix), Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &tferrors.StoreError{Op: "open", Path: BinPath(prefix), Err: err}
	}
	var data []byte
	if info.Size() > 0 {
		data, err = unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, &tferrors.StoreError{Op: "mmap", Path: BinPath(prefix), Err: err}
		}
	}
	s := &Store{prefix: prefix, hdr: hdr, writable: true, file: f, data: data}
	if err := s.checkExtent(info.Size()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// checkExtent validates that every document's byte range fits the .bin file.
func (s *Store) checkExtent(binLen int64) error {
	elem := s.hdr.dtype.Size()
	for i, ptr := range s.hdr.pointers {
		end := ptr + int64(s.hdr.sizes[i])*elem
		if ptr < 0 || end > binLen {
			return &tferrors.StoreError{Op: "open", Path: BinPath(s.prefix),
				Err: fmt.Errorf("document %d spans [%d, %d) beyond file length %d", i, ptr, end, binLen)}
		}
	}
	return nil
}

// Prefix returns the path prefix the store was opened with.
func (s *Store) Prefix() string { return s.prefix }

// Writable reports whether the store supports OverwriteDocumentRange.
func (s *Store) Writable() bool { return s.writable }

// DType returns the token element type of the corpus.
func (s *Store) DType() DType { return s.hdr.dtype }

// DocumentCount returns the number of documents.
func (s *Store) DocumentCount() int {
	return len(s.hdr.sizes)
}

// Sizes returns the per-document token count table. The returned slice is
// shared and must not be modified.
func (s *Store) Sizes() []int32 {
	return s.hdr.sizes
}

// TotalTokens returns the token count of the whole corpus.
func (s *Store) TotalTokens() int64 {
	var total int64
	for _, sz := range s.hdr.sizes {
		total += int64(sz)
	}
	return total
}

// DocumentSize returns the token count of one document.
func (s *Store) DocumentSize(doc int32) (int32, error) {
	if doc < 0 || int(doc) >= len(s.hdr.sizes) {
		return 0, &tferrors.RangeError{Kind: "document", Index: int64(doc), Limit: int64(len(s.hdr.sizes))}
	}
	return s.hdr.sizes[doc], nil
}

// ReadDocument returns all tokens of a document.
func (s *Store) ReadDocument(doc int32) ([]int32, error) {
	size, err := s.DocumentSize(doc)
	if err != nil {
		return nil, err
	}
	return s.ReadDocumentRange(doc, 0, int64(size))
}

// ReadDocumentRange returns tokens [start, end) of a document.
func (s *Store) ReadDocumentRange(doc int32, start, end int64) ([]int32, error) {
	size, err := s.DocumentSize(doc)
	if err != nil {
		return nil, err
	}
	if start < 0 || end < start || end > int64(size) {
		return nil, &tferrors.RangeError{Kind: "token range", Index: end, Limit: int64(size) + 1}
	}
	if start == end {
		return []int32{}, nil
	}

	elem := s.hdr.dtype.Size()
	byteOff := s.hdr.pointers[doc] + start*elem
	byteLen := (end - start) * elem

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &tferrors.StoreError{Op: "read", Path: BinPath(s.prefix), Err: os.ErrClosed}
	}

	var raw []byte
	if s.writable {
		raw = s.data[byteOff : byteOff+byteLen]
	} else {
		raw = make([]byte, byteLen)
		if _, err := s.reader.ReadAt(raw, byteOff); err != nil {
			return nil, &tferrors.StoreError{Op: "read", Path: BinPath(s.prefix), Err: err}
		}
	}
	return decodeTokens(s.hdr.dtype, raw), nil
}

// OverwriteDocumentRange replaces tokens [start, start+len(tokens)) of a
// document in place and flushes the mapped region. The write is all or
// nothing: every failure mode is checked before the first byte changes.
func (s *Store) OverwriteDocumentRange(doc int32, start int64, tokens []int32) error {
	if !s.writable {
		return &tferrors.StoreError{Op: "write", Path: BinPath(s.prefix),
			Err: fmt.Errorf("store is read-only")}
	}
	size, err := s.DocumentSize(doc)
	if err != nil {
		return err
	}
	end := start + int64(len(tokens))
	if start < 0 || end > int64(size) {
		return &tferrors.RangeError{Kind: "token range", Index: end, Limit: int64(size) + 1}
	}
	raw, err := encodeTokens(s.hdr.dtype, tokens)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	elem := s.hdr.dtype.Size()
	byteOff := s.hdr.pointers[doc] + start*elem

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &tferrors.StoreError{Op: "write", Path: BinPath(s.prefix), Err: os.ErrClosed}
	}

	// Cross-process exclusion for the duration of the write.
	fd := int(s.file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return &tferrors.StoreError{Op: "lock", Path: BinPath(s.prefix), Err: err}
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	copy(s.data[byteOff:], raw)
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return &tferrors.StoreError{Op: "flush", Path: BinPath(s.prefix), Err: err}
	}
	return nil
}

// Flush forces the mapped region to durable storage. No-op for read-only
// stores.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writable || s.closed || len(s.data) == 0 {
		return nil
	}
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return &tferrors.StoreError{Op: "flush", Path: BinPath(s.prefix), Err: err}
	}
	return nil
}

// Close unmaps the corpus. Writable stores are flushed first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.writable {
		var first error
		if len(s.data) > 0 {
			if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
				first = &tferrors.StoreError{Op: "flush", Path: BinPath(s.prefix), Err: err}
			}
			if err := unix.Munmap(s.data); err != nil && first == nil {
				first = &tferrors.StoreError{Op: "munmap", Path: BinPath(s.prefix), Err: err}
			}
			s.data = nil
		}
		if err := s.file.Close(); err != nil && first == nil {
			first = &tferrors.StoreError{Op: "close", Path: BinPath(s.prefix), Err: err}
		}
		return first
	}

	if err := s.reader.Close(); err != nil {
		return &tferrors.StoreError{Op: "close", Path: BinPath(s.prefix), Err: err}
	}
	return nil
}
