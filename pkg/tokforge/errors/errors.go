// Package errors defines the error taxonomy shared across the tokforge engine.
//
// Five classes cover every failure the engine surfaces:
//   - InvalidConfiguration: bad ratio strings, unknown packing policies,
//     non-positive sequence lengths, oversized injection payloads.
//   - IndexOutOfRange: sample or document ordinals beyond bounds.
//   - ExhaustedCorpus: a packing walk where every candidate document is
//     skippable and no sample can ever close.
//   - CacheCorrupt: an index cache file exists but fails validation.
//   - StorageIO: a read or write against the corpus store failed.
//
// Each class has a sentinel for errors.Is checks and a typed wrapper that
// carries context and unwraps to the sentinel.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrInvalidConfiguration indicates a caller-supplied setting is unusable.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrIndexOutOfRange indicates an ordinal beyond the addressable range.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrExhaustedCorpus indicates a packing walk that can never close a sample.
	ErrExhaustedCorpus = errors.New("corpus exhausted: every document is skippable")

	// ErrCacheCorrupt indicates an index cache file that fails validation.
	ErrCacheCorrupt = errors.New("index cache corrupt")

	// ErrStorageIO indicates a failed read or write against the corpus store.
	ErrStorageIO = errors.New("corpus storage I/O failure")
)

// ConfigError reports an unusable configuration value.
type ConfigError struct {
	// Field is the configuration field at fault (e.g. "splits", "packing").
	Field string
	// Value is the offending value, rendered for the message.
	Value any
	// Reason explains why the value was rejected.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidConfiguration for errors.Is support.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// RangeError reports an out-of-bounds ordinal.
type RangeError struct {
	// Kind names what was being addressed ("sample", "document", "token range").
	Kind string
	// Index is the requested ordinal.
	Index int64
	// Limit is the exclusive upper bound that was violated.
	Limit int64
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0, %d)", e.Kind, e.Index, e.Limit)
}

// Unwrap returns ErrIndexOutOfRange for errors.Is support.
func (e *RangeError) Unwrap() error {
	return ErrIndexOutOfRange
}

// ExhaustedError reports a packing walk that exceeded its skip budget.
type ExhaustedError struct {
	// Policy is the packing policy that was running.
	Policy string
	// Skipped is the number of documents skipped before giving up.
	Skipped int
	// Budget is the skip budget that was exceeded.
	Budget int
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s packing skipped %d documents (budget %d) without closing a sample",
		e.Policy, e.Skipped, e.Budget)
}

// Unwrap returns ErrExhaustedCorpus for errors.Is support.
func (e *ExhaustedError) Unwrap() error {
	return ErrExhaustedCorpus
}

// CacheError reports a cache file that exists but cannot be trusted.
type CacheError struct {
	// Path is the offending cache file.
	Path string
	// Reason explains what failed validation.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache file %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("cache file %s: %s", e.Path, e.Reason)
}

// Unwrap returns ErrCacheCorrupt for errors.Is support.
func (e *CacheError) Unwrap() error {
	return ErrCacheCorrupt
}

// StoreError reports a failed corpus store operation.
type StoreError struct {
	// Op is the operation that failed ("open", "read", "write", "flush").
	Op string
	// Path is the backing file, if known.
	Path string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("corpus %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("corpus %s: %v", e.Op, e.Err)
}

// Unwrap returns the chain ErrStorageIO plus the underlying error.
func (e *StoreError) Unwrap() error {
	return ErrStorageIO
}

// Cause returns the underlying error from the storage layer.
func (e *StoreError) Cause() error {
	return e.Err
}
