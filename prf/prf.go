package prf

import (
	"github.com/robert-malhotra/go-prf/internal/fit"
	"github.com/robert-malhotra/go-prf/internal/store"
)

// Store is a 2-D float32 backing array of shape (time, unit). The in-memory
// and on-disk implementations are interchangeable; the pipeline produces
// numerically equivalent results over either.
type Store = store.Store

// NewMemStore creates a zero-filled in-memory store.
func NewMemStore(nTime, nUnit int) Store {
	return store.NewMem(nTime, nUnit)
}

// NewMemStoreFrom creates an in-memory store over existing time-major data.
func NewMemStoreFrom(nTime, nUnit int, data []float32) (Store, error) {
	return store.NewMemFrom(nTime, nUnit, data)
}

// CreateStore creates an on-disk store file of the given shape.
func CreateStore(path string, nTime, nUnit int) (Store, error) {
	return store.Create(path, nTime, nUnit)
}

// OpenStore opens an existing on-disk store for reading and writing.
func OpenStore(path string) (Store, error) {
	return store.OpenRW(path)
}

// Grid is the discretized model search space; see fit.Grid for the
// enumeration-order contract.
type Grid = fit.Grid

// NewGrid builds a grid spanning the given ranges inclusively.
func NewGrid(xMin, xMax float64, nX int, yMin, yMax float64, nY int, sizeMin, sizeMax float64, nSize int) Grid {
	return fit.NewGrid(xMin, xMax, nX, yMin, yMax, nY, sizeMin, sizeMax, nSize)
}

// GridSource delivers candidate model time courses to fit workers.
type GridSource = fit.GridSource

// NewMemGridSource wraps fully resident candidate time courses
// (candidate-major, then condition-major).
func NewMemGridSource(grid Grid, nCond, nTime int, data []float32) (GridSource, error) {
	return fit.NewMemSource(grid, nCond, nTime, data)
}

// NewStoreGridSource streams candidate time courses from a store of shape
// (nCond*nTime, numCandidates).
func NewStoreGridSource(grid Grid, nCond int, st Store, stride, capacity int) (GridSource, error) {
	return fit.NewStoreSource(grid, nCond, st, stride, capacity)
}

// FitResult is the winning candidate for one included unit.
type FitResult = fit.Result

// ScoreFunc evaluates one candidate against one unit time series.
type ScoreFunc = fit.ScoreFunc

// LeastSquares is the default scoring function: a per-condition linear
// model solved by least squares, scored by R².
var LeastSquares ScoreFunc = fit.LeastSquares
