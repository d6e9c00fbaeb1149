// Package fit performs the parallel grid search: every candidate model in a
// discretized parameter grid is scored against every included unit, sharded
// across workers, and the per-unit winners are reassembled deterministically.
package fit

import "errors"

// ErrWorkerFailure is returned when a fit worker terminates without
// delivering its shard result. It aborts the whole run; there is no retry
// and no timeout-based recovery.
var ErrWorkerFailure = errors.New("fit worker failed")

// Grid is the discretized search space: the candidate set is the full
// cartesian product of the three coordinate axes. Axes are immutable for
// the run and shared read-only across workers.
//
// Enumeration order is part of the contract: candidate index
// i = ((ix*len(Y))+iy)*len(Size) + is, i.e. x varies slowest and size
// fastest. Ties on R2 are broken in favor of the lower candidate index.
type Grid struct {
	X    []float32
	Y    []float32
	Size []float32
}

// NewGrid builds a grid whose axes span the given ranges inclusively with
// the given counts.
func NewGrid(xMin, xMax float64, nX int, yMin, yMax float64, nY int, sizeMin, sizeMax float64, nSize int) Grid {
	return Grid{
		X:    Linspace(xMin, xMax, nX),
		Y:    Linspace(yMin, yMax, nY),
		Size: Linspace(sizeMin, sizeMax, nSize),
	}
}

// NumCandidates returns the size of the cartesian product.
func (g Grid) NumCandidates() int {
	return len(g.X) * len(g.Y) * len(g.Size)
}

// At decodes a candidate index into its coordinates.
func (g Grid) At(i int) (x, y, size float32) {
	nS := len(g.Size)
	nY := len(g.Y)
	is := i % nS
	iy := (i / nS) % nY
	ix := i / (nS * nY)
	return g.X[ix], g.Y[iy], g.Size[is]
}

// Index encodes axis positions into a candidate index.
func (g Grid) Index(ix, iy, is int) int {
	return (ix*len(g.Y)+iy)*len(g.Size) + is
}

// Linspace returns n values spanning [min, max] inclusive of both
// endpoints. n == 1 yields just min.
func Linspace(min, max float64, n int) []float32 {
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	if n == 1 {
		out[0] = float32(min)
		return out
	}
	step := (max - min) / float64(n-1)
	for i := range out {
		out[i] = float32(min + float64(i)*step)
	}
	out[n-1] = float32(max)
	return out
}
