// Package faultinjector provides deterministic crash-point injection
// for exercising recovery logic in tests: "kill the process mid-commit,
// after the WAL write, before fsync" becomes a named Point an Injector
// can be told to fail or crash at, with every other point a no-op.
package faultinjector

import (
	"errors"
	"fmt"
)

// Point names a crash point along the commit path a test may want to
// fail at.
type Point string

const (
	PointAfterWALAppend   Point = "after_wal_append"
	PointBeforeWALSync    Point = "before_wal_sync"
	PointAfterWALSync     Point = "after_wal_sync"
	PointBeforeIndexApply Point = "before_index_apply"
	PointAfterIndexApply  Point = "after_index_apply"
	PointBeforeCheckpoint Point = "before_checkpoint"
	PointAfterCheckpoint  Point = "after_checkpoint"
)

// ErrCrash is the sentinel wrapped by a CrashError, distinguishing an
// injected fault from a real I/O error.
var ErrCrash = errors.New("injected crash")

// CrashError reports that Trigger fired an injected fault at Point.
type CrashError struct {
	Point Point
}

func (e *CrashError) Error() string { return fmt.Sprintf("faultinjector: crash at %s", e.Point) }
func (e *CrashError) Unwrap() error  { return ErrCrash }

// Injector holds a fixed set of armed crash points. Zero value is an
// Injector that never fires.
type Injector struct {
	armed map[Point]bool
	fired map[Point]int
}

// New returns an Injector with no points armed.
func New() *Injector {
	return &Injector{armed: make(map[Point]bool), fired: make(map[Point]int)}
}

// Arm arms the given point: the next Trigger call for it returns a
// *CrashError. Arming is one-shot; Trigger disarms the point after it
// fires once, so a retried operation that reaches the same point again
// succeeds (modeling "the process is restarted and recovery runs").
func (i *Injector) Arm(p Point) *Injector {
	i.armed[p] = true
	return i
}

// Disarm clears an armed point without triggering it.
func (i *Injector) Disarm(p Point) {
	delete(i.armed, p)
}

// Trigger reports whether point p is armed. If it is, the point is
// disarmed and a *CrashError is returned; callers along the commit path
// should treat a non-nil return exactly like an unrecoverable I/O error
// that aborts the in-flight operation before its next durability step.
func (i *Injector) Trigger(p Point) error {
	if !i.armed[p] {
		return nil
	}
	delete(i.armed, p)
	i.fired[p]++
	return &CrashError{Point: p}
}

// FireCount returns how many times point p has fired across this
// Injector's lifetime.
func (i *Injector) FireCount(p Point) int {
	return i.fired[p]
}

// IsCrash reports whether err originated from a triggered Injector.
func IsCrash(err error) bool {
	return errors.Is(err, ErrCrash)
}
