// Package editlog provides persistent journaling of corpus injections.
//
// Every non-dry-run injection can be appended to a Journal together with
// the byte-exact before and after token ranges it touched. The journal is
// what makes a persisted mutation reversible: the engine's Revert replays
// an entry's Before segments back into the corpus.
package editlog

import (
	"errors"
	"time"
)

// Segment records one mutated token range of one document.
type Segment struct {
	// Doc is the document id.
	Doc int32 `json:"doc"`
	// Offset is the token offset of the first replaced token.
	Offset int64 `json:"offset"`
	// Before holds the tokens the range contained prior to the write.
	Before []int32 `json:"before"`
	// After holds the tokens the range contains after the write.
	After []int32 `json:"after"`
}

// Entry is one journaled injection.
type Entry struct {
	// ID is the injection record id (a UUID).
	ID string
	// Ordinal is the logical training-sample ordinal that was targeted.
	Ordinal int64
	// Kind is the injection kind name ("prepend", "shuffle_in").
	Kind string
	// CreatedAt is when the entry was appended.
	CreatedAt time.Time
	// Segments are the document ranges the injection wrote.
	Segments []Segment
}

// Journal persists injection entries.
// Implementations must be safe for concurrent use.
type Journal interface {
	// Append stores an entry. Appending an existing ID fails.
	Append(e Entry) error

	// Get retrieves an entry by ID.
	// Returns ErrNotFound if the entry doesn't exist.
	Get(id string) (Entry, error)

	// List returns all entries ordered by creation time.
	// Returns an empty slice (not an error) when the journal is empty.
	List() ([]Entry, error)

	// Delete removes an entry. Returns nil if the entry doesn't exist.
	Delete(id string) error

	// Close releases any resources.
	Close() error
}

// Sentinel errors for journal operations.
var (
	// ErrNotFound indicates an entry doesn't exist.
	ErrNotFound = errors.New("journal entry not found")

	// ErrDuplicateID indicates an entry with the same ID already exists.
	ErrDuplicateID = errors.New("journal entry ID already exists")

	// ErrJournalClosed indicates the journal has been closed.
	ErrJournalClosed = errors.New("journal closed")
)
