package editlog

import (
	"sort"
	"sync"
	"time"
)

// MemoryJournal is an in-memory journal for testing.
// Data is lost when the process exits.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool
}

// NewMemoryJournal creates a new in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]Entry)}
}

// Append implements Journal.
func (m *MemoryJournal) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrJournalClosed
	}
	if _, ok := m.entries[e.ID]; ok {
		return ErrDuplicateID
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Segments = cloneSegments(e.Segments)
	m.entries[e.ID] = e
	return nil
}

// Get implements Journal.
func (m *MemoryJournal) Get(id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Entry{}, ErrJournalClosed
	}
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e.Segments = cloneSegments(e.Segments)
	return e, nil
}

// List implements Journal.
func (m *MemoryJournal) List() ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrJournalClosed
	}
	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		e.Segments = cloneSegments(e.Segments)
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// Delete implements Journal.
func (m *MemoryJournal) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrJournalClosed
	}
	delete(m.entries, id)
	return nil
}

// Close implements Journal.
func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// cloneSegments deep-copies segments so callers never share token slices
// with the journal.
func cloneSegments(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		out[i] = Segment{
			Doc:    s.Doc,
			Offset: s.Offset,
			Before: append([]int32(nil), s.Before...),
			After:  append([]int32(nil), s.After...),
		}
	}
	return out
}
