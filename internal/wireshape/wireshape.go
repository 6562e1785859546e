// Package wireshape defines the plain Go structs a connection handler
// would frame onto the wire: the request/response payloads the storage
// core exposes, stripped of any particular wire encoding. It has no
// network code of its own — it exists to give the core's request/
// response boundary a concrete, importable shape.
package wireshape

import (
	"errors"

	"github.com/nainya/triplestore/internal/query"
	"github.com/nainya/triplestore/internal/types"
)

// Status is a coarse, transport-independent outcome code.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusNotFound
	StatusResourceExhausted
	StatusInternal
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case StatusInternal:
		return "INTERNAL"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// StatusFromError classifies err the way the storage core's error kinds
// are meant to surface at a connection boundary.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusOK
	}
	switch {
	case errors.Is(err, types.ErrValidation):
		return StatusInvalidArgument
	case errors.Is(err, types.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, types.ErrResource):
		return StatusResourceExhausted
	case errors.Is(err, types.ErrLockPoisoned):
		return StatusUnavailable
	default:
		return StatusInternal
	}
}

// TripleInput is one triple to write, as carried on a TripleUpdate
// request; HLC is optional, the server assigns one when zero.
type TripleInput struct {
	Entity    types.EntityID
	Attribute types.AttributeID
	Value     types.Value
	HLC       *types.HlcTimestamp
}

// TripleUpdateRequest is the request payload for writing one or more
// triples in a single transaction.
type TripleUpdateRequest struct {
	RequestID *uint32
	Triples   []TripleInput
}

// TripleUpdateResponse carries the post-commit record for each written
// triple, in input order, plus the overall status.
type TripleUpdateResponse struct {
	RequestID *uint32
	Status    Status
	Records   []types.TripleRecord
}

// QueryRequest is the request payload for a pattern-matching query.
type QueryRequest struct {
	RequestID *uint32
	Query     *query.Query
}

// QueryResponse carries the column names (from Query.FindVars) and rows
// of tagged values the matcher produced.
type QueryResponse struct {
	RequestID *uint32
	Status    Status
	Result    *query.Result
}

// SubscribeChangesRequest starts a change feed, optionally backfilling
// from SinceHLC via changes_since.
type SubscribeChangesRequest struct {
	RequestID *uint32
	SinceHLC  *types.HlcTimestamp
}

// SubscriptionUpdate is one streamed message on a change feed: either a
// batch of change records in commit order, or a Lagged signal telling
// the subscriber it missed commits and must backfill.
type SubscriptionUpdate struct {
	Lagged       bool
	Notification *types.ChangeNotification
}
