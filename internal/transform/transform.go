// Package transform provides the pure chunk transforms run by the streaming
// stages: linear trend removal, temporal and spatial Gaussian smoothing, and
// z-score normalization. Each constructor returns a stream.TransformFunc
// bound to the shape information it needs; the functions mutate their chunk
// in place and return it.
package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/robert-malhotra/go-prf/internal/chunk"
	"github.com/robert-malhotra/go-prf/internal/stream"
)

// Detrend removes the per-unit linear trend (slope and intercept) from
// unit-axis chunks of nTime rows. Units with no temporal structure are left
// at zero.
func Detrend(nTime int) stream.TransformFunc {
	return func(data []float32, r chunk.Range) ([]float32, error) {
		w := r.Len()
		if len(data) != nTime*w {
			return nil, fmt.Errorf("detrend: chunk %s has %d values, expected %d", r, len(data), nTime*w)
		}
		ts := make([]float64, nTime)
		ys := make([]float64, nTime)
		for i := range ts {
			ts[i] = float64(i)
		}
		for u := 0; u < w; u++ {
			for t := 0; t < nTime; t++ {
				ys[t] = float64(data[t*w+u])
			}
			alpha, beta := stat.LinearRegression(ts, ys, nil, false)
			for t := 0; t < nTime; t++ {
				data[t*w+u] = float32(ys[t] - (alpha + beta*ts[t]))
			}
		}
		return data, nil
	}
}

// SmoothTemporal applies a Gaussian kernel of the given standard deviation
// (in volumes) along the time axis of unit-axis chunks. The chunk has
// segments*nTime rows; each nTime-long segment is smoothed independently,
// which lets the same transform serve functional data (segments == 1) and
// condition-concatenated model time courses. Edges use nearest padding. A
// non-positive sd is the identity.
func SmoothTemporal(nTime, segments int, sd float64) stream.TransformFunc {
	kernel := gaussKernel(sd)
	return func(data []float32, r chunk.Range) ([]float32, error) {
		w := r.Len()
		if len(data) != segments*nTime*w {
			return nil, fmt.Errorf("temporal smoothing: chunk %s has %d values, expected %d",
				r, len(data), segments*nTime*w)
		}
		if len(kernel) == 1 {
			return data, nil
		}
		series := make([]float64, nTime)
		for s := 0; s < segments; s++ {
			base := s * nTime * w
			for u := 0; u < w; u++ {
				for t := 0; t < nTime; t++ {
					series[t] = float64(data[base+t*w+u])
				}
				smoothed := convolveNearest(series, kernel)
				for t := 0; t < nTime; t++ {
					data[base+t*w+u] = float32(smoothed[t])
				}
			}
		}
		return data, nil
	}
}

// SmoothSpatial applies a separable 3-D Gaussian of the given standard
// deviation (in voxels) to each volume of a time-axis chunk. Every row is
// reshaped to the spatial grid, smoothed along each axis with nearest
// padding, and flattened back. A non-positive sd is the identity.
func SmoothSpatial(shape [3]int, sd float64) stream.TransformFunc {
	kernel := gaussKernel(sd)
	nUnit := shape[0] * shape[1] * shape[2]
	return func(data []float32, r chunk.Range) ([]float32, error) {
		nVol := r.Len()
		if len(data) != nVol*nUnit {
			return nil, fmt.Errorf("spatial smoothing: chunk %s has %d values, expected %d",
				r, len(data), nVol*nUnit)
		}
		if len(kernel) == 1 {
			return data, nil
		}
		vol := make([]float64, nUnit)
		for v := 0; v < nVol; v++ {
			row := data[v*nUnit : (v+1)*nUnit]
			for i, x := range row {
				vol[i] = float64(x)
			}
			smoothVolume(vol, shape, kernel)
			for i, x := range vol {
				row[i] = float32(x)
			}
		}
		return data, nil
	}
}

// Normalize de-means each unit's time series and converts it to z-scores.
// Units with zero standard deviation are set to all-zero intensity, which is
// what later excludes them through the variance mask.
func Normalize(nTime int) stream.TransformFunc {
	return func(data []float32, r chunk.Range) ([]float32, error) {
		w := r.Len()
		if len(data) != nTime*w {
			return nil, fmt.Errorf("normalize: chunk %s has %d values, expected %d", r, len(data), nTime*w)
		}
		series := make([]float64, nTime)
		for u := 0; u < w; u++ {
			for t := 0; t < nTime; t++ {
				series[t] = float64(data[t*w+u])
			}
			mean := stat.Mean(series, nil)
			sd := stat.PopStdDev(series, nil)
			if sd > 0 {
				for t := 0; t < nTime; t++ {
					data[t*w+u] = float32((series[t] - mean) / sd)
				}
			} else {
				for t := 0; t < nTime; t++ {
					data[t*w+u] = 0
				}
			}
		}
		return data, nil
	}
}

// gaussKernel builds a normalized discrete Gaussian truncated at 4 standard
// deviations. A non-positive sd yields the single-tap identity kernel.
func gaussKernel(sd float64) []float64 {
	if sd <= 0 {
		return []float64{1}
	}
	radius := int(4*sd + 0.5)
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-0.5 * d * d / (sd * sd))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// convolveNearest convolves a series with a centered kernel, clamping
// out-of-range taps to the nearest edge sample.
func convolveNearest(series, kernel []float64) []float64 {
	n := len(series)
	radius := len(kernel) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		for k, kv := range kernel {
			j := i + k - radius
			if j < 0 {
				j = 0
			} else if j >= n {
				j = n - 1
			}
			acc += kv * series[j]
		}
		out[i] = acc
	}
	return out
}

// smoothVolume smooths a flattened (x, y, z) volume along each axis in turn.
func smoothVolume(vol []float64, shape [3]int, kernel []float64) {
	nx, ny, nz := shape[0], shape[1], shape[2]
	idx := func(x, y, z int) int { return (x*ny+y)*nz + z }

	line := make([]float64, nx)
	for y := 0; y < ny; y++ {
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				line[x] = vol[idx(x, y, z)]
			}
			for x, v := range convolveNearest(line, kernel) {
				vol[idx(x, y, z)] = v
			}
		}
	}
	line = make([]float64, ny)
	for x := 0; x < nx; x++ {
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				line[y] = vol[idx(x, y, z)]
			}
			for y, v := range convolveNearest(line, kernel) {
				vol[idx(x, y, z)] = v
			}
		}
	}
	line = make([]float64, nz)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				line[z] = vol[idx(x, y, z)]
			}
			for z, v := range convolveNearest(line, kernel) {
				vol[idx(x, y, z)] = v
			}
		}
	}
}
