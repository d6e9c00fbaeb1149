package prf

import (
	"fmt"
)

// Config is the immutable per-run configuration. All smoothing extents are
// in data units (volumes for temporal, voxels for spatial); conversion from
// SI units is the caller's concern.
type Config struct {
	// Shape holds the spatial dimensions of the input volume.
	Shape [3]int
	// Mask is the externally supplied spatial mask in linear unit order;
	// its length must equal the product of Shape. It is fixed for the run.
	Mask []bool
	// Affine is the spatial metadata copied from the input mask, passed
	// through to exported volumes.
	Affine [4][4]float64
	// NumConditions is the number of stimulus conditions.
	NumConditions int
	// Detrend enables linear trend removal.
	Detrend bool
	// SdSmoothTemporal is the temporal Gaussian SD in volumes; zero
	// disables temporal smoothing.
	SdSmoothTemporal float64
	// SdSmoothSpatial is the spatial Gaussian SD in voxels; zero disables
	// spatial smoothing.
	SdSmoothSpatial float64
	// Parallelism is the fit worker count.
	Parallelism int
}

func (c Config) validate() error {
	n := c.Shape[0] * c.Shape[1] * c.Shape[2]
	if n <= 0 {
		return fmt.Errorf("%w: spatial shape %v", ErrShapeMismatch, c.Shape)
	}
	if len(c.Mask) != n {
		return fmt.Errorf("%w: mask of length %d for shape %v (%d units)",
			ErrShapeMismatch, len(c.Mask), c.Shape, n)
	}
	if c.NumConditions < 1 {
		return fmt.Errorf("at least one stimulus condition required, got %d", c.NumConditions)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	return nil
}
