package store

import (
	"fmt"

	"github.com/robert-malhotra/go-prf/internal/chunk"
)

// MemStore is an in-memory Store, used when the working set fits in RAM and
// by tests. Data is time-major: element (t, u) lives at t*nUnit+u.
type MemStore struct {
	nTime  int
	nUnit  int
	data   []float32
	closed bool
}

// NewMem creates a zero-filled in-memory store.
func NewMem(nTime, nUnit int) *MemStore {
	return &MemStore{
		nTime: nTime,
		nUnit: nUnit,
		data:  make([]float32, nTime*nUnit),
	}
}

// NewMemFrom creates an in-memory store wrapping existing time-major data.
// The store takes ownership of the slice.
func NewMemFrom(nTime, nUnit int, data []float32) (*MemStore, error) {
	if len(data) != nTime*nUnit {
		return nil, fmt.Errorf("%w: %d values for shape (%d, %d)", ErrShapeMismatch, len(data), nTime, nUnit)
	}
	return &MemStore{nTime: nTime, nUnit: nUnit, data: data}, nil
}

// Shape returns the number of time points and units.
func (m *MemStore) Shape() (int, int) {
	return m.nTime, m.nUnit
}

// Read returns a copy of the chunk covering r along the given axis.
func (m *MemStore) Read(axis Axis, r chunk.Range) ([]float32, error) {
	if m.closed {
		return nil, ErrClosed
	}
	width, err := checkRange(axis, r, m.nTime, m.nUnit, -1)
	if err != nil {
		return nil, err
	}
	out := make([]float32, r.Len()*width)
	if axis == AxisTime {
		copy(out, m.data[r.Start*m.nUnit:r.End*m.nUnit])
		return out, nil
	}
	w := r.Len()
	for t := 0; t < m.nTime; t++ {
		copy(out[t*w:(t+1)*w], m.data[t*m.nUnit+r.Start:t*m.nUnit+r.End])
	}
	return out, nil
}

// Write stores a chunk at range r along the given axis.
func (m *MemStore) Write(axis Axis, r chunk.Range, data []float32) error {
	if m.closed {
		return ErrClosed
	}
	if _, err := checkRange(axis, r, m.nTime, m.nUnit, len(data)); err != nil {
		return err
	}
	if axis == AxisTime {
		copy(m.data[r.Start*m.nUnit:r.End*m.nUnit], data)
		return nil
	}
	w := r.Len()
	for t := 0; t < m.nTime; t++ {
		copy(m.data[t*m.nUnit+r.Start:t*m.nUnit+r.End], data[t*w:(t+1)*w])
	}
	return nil
}

// Derive creates a new zero-filled in-memory store of the given shape.
func (m *MemStore) Derive(nTime, nUnit int) (Store, error) {
	if m.closed {
		return nil, ErrClosed
	}
	return NewMem(nTime, nUnit), nil
}

// Close marks the store closed. Further reads and writes fail.
func (m *MemStore) Close() error {
	m.closed = true
	return nil
}
