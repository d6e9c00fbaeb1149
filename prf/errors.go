// Package prf fits population-receptive-field models to volumetric
// time-series data: a streaming preprocessing pipeline over disk-backed or
// in-memory arrays, a two-stage voxel selection, and a parallel grid search
// over candidate spatial-response models.
package prf

import (
	"github.com/robert-malhotra/go-prf/internal/fit"
	"github.com/robert-malhotra/go-prf/internal/store"
)

// Common errors
var (
	// ErrMissingStore indicates an expected backing store file is absent.
	ErrMissingStore = store.ErrMissingStore
	// ErrShapeMismatch indicates axis lengths inconsistent between stages.
	// It is detected eagerly, before any stage launches.
	ErrShapeMismatch = store.ErrShapeMismatch
	// ErrWorkerFailure indicates a fit worker terminated without a result.
	// It is fatal for the whole run; there is no retry.
	ErrWorkerFailure = fit.ErrWorkerFailure
	// ErrClosed indicates use of a closed store.
	ErrClosed = store.ErrClosed
)
