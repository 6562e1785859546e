package types

import (
	"errors"
	"fmt"
)

// Error kinds the storage core distinguishes, per the error-handling design:
// validation failures, index-level conditions, corruption, resource
// exhaustion, I/O, and lock poisoning. Connection handlers translate these
// into wire status codes; the core itself never imports an RPC package.
var (
	ErrValidation    = errors.New("validation")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrCorruption    = errors.New("corruption")
	ErrResource      = errors.New("resource exhausted")
	ErrIO            = errors.New("io")
	ErrLockPoisoned  = errors.New("lock poisoned")
)

// StatusCode is the caller-facing classification of an error, mirroring the
// gRPC-style codes named in the external-interfaces design without this
// package importing any RPC library.
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusInvalidArgument
	StatusNotFound
	StatusAlreadyExists
	StatusResourceExhausted
	StatusInternal
	StatusUnavailable
)

// Code classifies err into a StatusCode by matching it against the sentinel
// errors above via errors.Is.
func Code(err error) StatusCode {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrValidation):
		return StatusInvalidArgument
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return StatusAlreadyExists
	case errors.Is(err, ErrResource):
		return StatusResourceExhausted
	case errors.Is(err, ErrLockPoisoned):
		return StatusUnavailable
	case errors.Is(err, ErrCorruption), errors.Is(err, ErrIO):
		return StatusInternal
	default:
		return StatusInternal
	}
}

// CorruptionError reports a specific structural inconsistency detected
// while reading a page, superblock, or WAL record.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string { return "corruption: " + e.Reason }
func (e *CorruptionError) Unwrap() error { return ErrCorruption }

// PageOutOfBoundsError reports an access to a page id beyond the file's
// current extent.
type PageOutOfBoundsError struct {
	PageID uint64
	Total  uint64
}

func (e *PageOutOfBoundsError) Error() string {
	return fmt.Sprintf("page %d out of bounds (total %d)", e.PageID, e.Total)
}
func (e *PageOutOfBoundsError) Unwrap() error { return ErrValidation }
