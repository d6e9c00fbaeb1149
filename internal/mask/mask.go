// Package mask maintains the two-stage voxel selection chain. Three
// coordinate spaces exist at once: "full" (every unit of the volume),
// "masked" (units passing the externally supplied spatial mask) and
// "included" (masked units that also pass the variance mask). Every gather
// or scatter names the pair of spaces it bridges.
//
// All operations take unit-major data: each unit's `per` values are
// contiguous (per = 1 for scalar maps, the condition count for parameter
// estimates, the time-point count for series).
package mask

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/robert-malhotra/go-prf/internal/store"
)

// VarianceEpsilon is the variance threshold below which a unit is treated
// as signal-free and excluded from model fitting (in data units).
const VarianceEpsilon = 1e-4

// Selector holds the spatial mask and, once computed, the variance mask.
// The spatial mask is fixed for the whole run; the variance mask is derived
// exactly once from the preprocessed masked time series.
type Selector struct {
	spatial   []bool
	variance  []bool
	nMasked   int
	nIncluded int
}

// New creates a selector from the externally supplied spatial mask. The
// mask's length is the full unit count; its order is the linear unit index.
func New(spatial []bool) *Selector {
	s := &Selector{spatial: spatial}
	for _, keep := range spatial {
		if keep {
			s.nMasked++
		}
	}
	return s
}

// FullCount returns the total unit count.
func (s *Selector) FullCount() int { return len(s.spatial) }

// MaskedCount returns the number of units passing the spatial mask.
func (s *Selector) MaskedCount() int { return s.nMasked }

// IncludedCount returns the number of units passing both masks. Valid after
// the variance mask has been computed or set.
func (s *Selector) IncludedCount() int { return s.nIncluded }

// SpatialMask returns the spatial mask (full domain). Callers must not
// modify it.
func (s *Selector) SpatialMask() []bool { return s.spatial }

// VarianceMask returns the variance mask (masked domain), or nil if it has
// not been computed. Callers must not modify it.
func (s *Selector) VarianceMask() []bool { return s.variance }

// ApplySpatialMask gathers full-domain data into the masked domain.
func (s *Selector) ApplySpatialMask(full []float32, per int) ([]float32, error) {
	if len(full) != len(s.spatial)*per {
		return nil, fmt.Errorf("%w: %d values for %d full units (per=%d)",
			store.ErrShapeMismatch, len(full), len(s.spatial), per)
	}
	out := make([]float32, 0, s.nMasked*per)
	for u, keep := range s.spatial {
		if keep {
			out = append(out, full[u*per:(u+1)*per]...)
		}
	}
	return out, nil
}

// ComputeVarianceMask derives the variance mask from masked-domain time
// series (unit-major, nTime values per unit): a unit is included iff its
// population variance over time is strictly greater than epsilon. The mask
// is retained for subsequent gathers and scatters.
func (s *Selector) ComputeVarianceMask(masked []float32, nTime int, epsilon float64) ([]bool, error) {
	if len(masked) != s.nMasked*nTime {
		return nil, fmt.Errorf("%w: %d values for %d masked units over %d time points",
			store.ErrShapeMismatch, len(masked), s.nMasked, nTime)
	}
	vm := make([]bool, s.nMasked)
	series := make([]float64, nTime)
	included := 0
	for u := 0; u < s.nMasked; u++ {
		for t := 0; t < nTime; t++ {
			// Variance is taken on float32 precision, matching what the
			// scoring function will see.
			series[t] = float64(masked[u*nTime+t])
		}
		if stat.PopVariance(series, nil) > epsilon {
			vm[u] = true
			included++
		}
	}
	s.variance = vm
	s.nIncluded = included
	return vm, nil
}

// SetVarianceMask installs an externally computed variance mask (masked
// domain).
func (s *Selector) SetVarianceMask(vm []bool) error {
	if len(vm) != s.nMasked {
		return fmt.Errorf("%w: variance mask of length %d for %d masked units",
			store.ErrShapeMismatch, len(vm), s.nMasked)
	}
	s.variance = vm
	s.nIncluded = 0
	for _, keep := range vm {
		if keep {
			s.nIncluded++
		}
	}
	return nil
}

// GatherIncluded gathers masked-domain data into the included domain.
func (s *Selector) GatherIncluded(masked []float32, per int) ([]float32, error) {
	if s.variance == nil {
		return nil, fmt.Errorf("variance mask not computed")
	}
	if len(masked) != s.nMasked*per {
		return nil, fmt.Errorf("%w: %d values for %d masked units (per=%d)",
			store.ErrShapeMismatch, len(masked), s.nMasked, per)
	}
	out := make([]float32, 0, s.nIncluded*per)
	for u, keep := range s.variance {
		if keep {
			out = append(out, masked[u*per:(u+1)*per]...)
		}
	}
	return out, nil
}

// ScatterIncluded expands included-domain results back to the full domain
// through both masks, zero-filling every excluded position. This is the
// inverse of ApplySpatialMask followed by GatherIncluded at included
// positions.
func (s *Selector) ScatterIncluded(included []float32, per int) ([]float32, error) {
	if s.variance == nil {
		return nil, fmt.Errorf("variance mask not computed")
	}
	if len(included) != s.nIncluded*per {
		return nil, fmt.Errorf("%w: %d values for %d included units (per=%d)",
			store.ErrShapeMismatch, len(included), s.nIncluded, per)
	}

	// Stage one: included -> masked, zero elsewhere.
	maskedOut := make([]float32, s.nMasked*per)
	src := 0
	for u, keep := range s.variance {
		if keep {
			copy(maskedOut[u*per:(u+1)*per], included[src:src+per])
			src += per
		}
	}

	// Stage two: masked -> full, zero elsewhere.
	full := make([]float32, len(s.spatial)*per)
	m := 0
	for u, keep := range s.spatial {
		if keep {
			copy(full[u*per:(u+1)*per], maskedOut[m*per:(m+1)*per])
			m++
		}
	}
	return full, nil
}
