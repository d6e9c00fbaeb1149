// Package store provides the 2-D float32 backing array shared by pipeline
// stages, with one axis for time and one for spatial units. Two
// implementations exist: an in-memory buffer and an on-disk flat array. The
// streaming pipeline is written against the Store interface, so the
// in-memory and out-of-core modes share all transform logic.
//
// Stores are owned by one writer at a time; ownership transfers are
// sequential (close, then reopen). None of the methods are safe for
// concurrent writes.
package store

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-prf/internal/chunk"
)

// Common errors
var (
	ErrMissingStore  = errors.New("backing store not found")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrClosed        = errors.New("store is closed")
)

// Axis selects the chunking direction for reads and writes.
type Axis int

const (
	// AxisTime chunks by time point (rows). A chunk covering r holds
	// r.Len() full volumes in time-major order.
	AxisTime Axis = iota
	// AxisUnit chunks by spatial unit (columns). A chunk covering r holds
	// the full time series of r.Len() units, still time-major.
	AxisUnit
)

func (a Axis) String() string {
	if a == AxisTime {
		return "time"
	}
	return "unit"
}

// Store is a 2-D float32 array of shape (time, unit).
type Store interface {
	// Shape returns the number of time points and units.
	Shape() (nTime, nUnit int)

	// Read returns the chunk covering r along the given axis, time-major:
	// for AxisUnit the result has r.Len() columns over all time points,
	// for AxisTime it has r.Len() complete rows.
	Read(axis Axis, r chunk.Range) ([]float32, error)

	// Write stores a chunk previously laid out by Read at the same range.
	Write(axis Axis, r chunk.Range, data []float32) error

	// Derive creates a sibling store of the given shape for derived data.
	// On-disk stores place the sibling alongside the source under the
	// "<base>_masked" naming convention.
	Derive(nTime, nUnit int) (Store, error)

	Close() error
}

// checkRange validates a chunk range and buffer length against the store
// shape, returning the chunk width (values per index along the axis).
func checkRange(axis Axis, r chunk.Range, nTime, nUnit, dataLen int) (int, error) {
	limit := nUnit
	width := nTime
	if axis == AxisTime {
		limit = nTime
		width = nUnit
	}
	if r.Start < 0 || r.End > limit || r.Empty() {
		return 0, fmt.Errorf("%w: range %s outside %s axis of length %d", ErrShapeMismatch, r, axis, limit)
	}
	if dataLen >= 0 && dataLen != r.Len()*width {
		return 0, fmt.Errorf("%w: chunk %s on %s axis needs %d values, got %d",
			ErrShapeMismatch, r, axis, r.Len()*width, dataLen)
	}
	return width, nil
}
