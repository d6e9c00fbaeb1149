package fit

import (
	"fmt"

	"github.com/robert-malhotra/go-prf/internal/chunk"
	"github.com/robert-malhotra/go-prf/internal/store"
	"github.com/robert-malhotra/go-prf/internal/stream"
	"github.com/robert-malhotra/go-prf/internal/transform"
)

// GridSource delivers candidate model time courses to fit workers. The two
// implementations (fully resident, disk-streamed) are numerically
// equivalent; Candidate must be safe for concurrent calls.
type GridSource interface {
	// Grid returns the coordinate axes; candidate indices follow the grid's
	// enumeration order.
	Grid() Grid
	// NumConditions returns the number of stimulus conditions.
	NumConditions() int
	// NumTimepoints returns the length of one condition's time course.
	NumTimepoints() int
	// Candidate copies candidate i's time courses into dst,
	// condition-major: dst[c*NumTimepoints()+t]. dst has length
	// NumConditions()*NumTimepoints().
	Candidate(i int, dst []float32) error
}

// MemSource keeps all candidate time courses resident in memory,
// candidate-major then condition-major.
type MemSource struct {
	grid  Grid
	nCond int
	nTime int
	data  []float32
}

// NewMemSource wraps existing candidate data. data holds
// grid.NumCandidates() blocks of nCond*nTime values in enumeration order.
func NewMemSource(grid Grid, nCond, nTime int, data []float32) (*MemSource, error) {
	want := grid.NumCandidates() * nCond * nTime
	if len(data) != want {
		return nil, fmt.Errorf("%w: %d model values, expected %d", store.ErrShapeMismatch, len(data), want)
	}
	return &MemSource{grid: grid, nCond: nCond, nTime: nTime, data: data}, nil
}

// Grid returns the coordinate axes.
func (m *MemSource) Grid() Grid { return m.grid }

// NumConditions returns the stimulus condition count.
func (m *MemSource) NumConditions() int { return m.nCond }

// NumTimepoints returns the per-condition time course length.
func (m *MemSource) NumTimepoints() int { return m.nTime }

// Candidate copies candidate i into dst.
func (m *MemSource) Candidate(i int, dst []float32) error {
	per := m.nCond * m.nTime
	if i < 0 || i >= m.grid.NumCandidates() {
		return fmt.Errorf("candidate %d outside grid of %d", i, m.grid.NumCandidates())
	}
	copy(dst, m.data[i*per:(i+1)*per])
	return nil
}

// SmoothTemporal applies the same temporal smoothing to every candidate's
// per-condition time courses that the functional data receives.
func (m *MemSource) SmoothTemporal(sd float64) error {
	fn := transform.SmoothTemporal(m.nTime, m.nCond, sd)
	per := m.nCond * m.nTime
	one := chunk.Range{Start: 0, End: 1}
	for i := 0; i < m.grid.NumCandidates(); i++ {
		if _, err := fn(m.data[i*per:(i+1)*per], one); err != nil {
			return err
		}
	}
	return nil
}

// StoreSource streams candidate time courses from a backing store of shape
// (nCond*nTime, numCandidates): one column per candidate, conditions
// concatenated along the time axis. This is the out-of-core variant for
// model grids that exceed memory.
type StoreSource struct {
	grid  Grid
	nCond int
	nTime int
	st    store.Store

	// streaming knobs for SmoothTemporal
	stride   int
	capacity int
}

// NewStoreSource validates the store shape against the grid.
func NewStoreSource(grid Grid, nCond int, st store.Store, stride, capacity int) (*StoreSource, error) {
	rows, cols := st.Shape()
	if cols != grid.NumCandidates() {
		return nil, fmt.Errorf("%w: store has %d candidates, grid has %d",
			store.ErrShapeMismatch, cols, grid.NumCandidates())
	}
	if nCond < 1 || rows%nCond != 0 {
		return nil, fmt.Errorf("%w: %d rows not divisible into %d conditions",
			store.ErrShapeMismatch, rows, nCond)
	}
	return &StoreSource{
		grid:     grid,
		nCond:    nCond,
		nTime:    rows / nCond,
		st:       st,
		stride:   stride,
		capacity: capacity,
	}, nil
}

// Grid returns the coordinate axes.
func (s *StoreSource) Grid() Grid { return s.grid }

// NumConditions returns the stimulus condition count.
func (s *StoreSource) NumConditions() int { return s.nCond }

// NumTimepoints returns the per-condition time course length.
func (s *StoreSource) NumTimepoints() int { return s.nTime }

// Candidate reads candidate i's column from the store. A single-unit
// unit-axis chunk is already condition-major.
func (s *StoreSource) Candidate(i int, dst []float32) error {
	col, err := s.st.Read(store.AxisUnit, chunk.Range{Start: i, End: i + 1})
	if err != nil {
		return fmt.Errorf("streaming candidate %d: %w", i, err)
	}
	copy(dst, col)
	return nil
}

// SmoothTemporal runs the temporal smoothing transform over the model store
// in place, streaming candidate-axis chunks.
func (s *StoreSource) SmoothTemporal(sd float64) error {
	plan := chunk.Plan(s.grid.NumCandidates(), s.stride)
	_, err := stream.Run(s.st, s.st, store.AxisUnit, plan, s.capacity,
		transform.SmoothTemporal(s.nTime, s.nCond, sd))
	return err
}
