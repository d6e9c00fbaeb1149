package prf

import (
	"math"

	"github.com/robert-malhotra/go-prf/internal/fit"
	"github.com/robert-malhotra/go-prf/internal/mask"
)

// Outcome holds the full-spatial-shape result maps. Every map has one value
// per unit of the original volume, zero at units excluded by either mask.
type Outcome struct {
	Shape [3]int

	X            []float32
	Y            []float32
	Size         []float32
	R2           []float32
	PolarAngle   []float32
	Eccentricity []float32
	// PE holds one full map per stimulus condition.
	PE [][]float32

	MaskedCount   int
	IncludedCount int
}

// scatter expands per-unit winners into full-volume maps through the
// two-stage selector and derives the polar angle and eccentricity maps.
func (p *Pipeline) scatter(sel *mask.Selector, results []fit.Result, nCond int) (*Outcome, error) {
	n := len(results)
	xs := make([]float32, n)
	ys := make([]float32, n)
	sizes := make([]float32, n)
	r2s := make([]float32, n)
	polar := make([]float32, n)
	ecc := make([]float32, n)
	pes := make([][]float32, nCond)
	for c := range pes {
		pes[c] = make([]float32, n)
	}

	for i, res := range results {
		xs[i] = res.X
		ys[i] = res.Y
		sizes[i] = res.Size
		r2s[i] = res.R2
		x, y := float64(res.X), float64(res.Y)
		polar[i] = float32(math.Atan2(y, x))
		ecc[i] = float32(math.Sqrt(x*x + y*y))
		for c := 0; c < nCond; c++ {
			pes[c][i] = res.PE[c]
		}
	}

	out := &Outcome{
		Shape:         p.cfg.Shape,
		PE:            make([][]float32, nCond),
		MaskedCount:   sel.MaskedCount(),
		IncludedCount: sel.IncludedCount(),
	}
	var err error
	if out.X, err = sel.ScatterIncluded(xs, 1); err != nil {
		return nil, err
	}
	if out.Y, err = sel.ScatterIncluded(ys, 1); err != nil {
		return nil, err
	}
	if out.Size, err = sel.ScatterIncluded(sizes, 1); err != nil {
		return nil, err
	}
	if out.R2, err = sel.ScatterIncluded(r2s, 1); err != nil {
		return nil, err
	}
	if out.PolarAngle, err = sel.ScatterIncluded(polar, 1); err != nil {
		return nil, err
	}
	if out.Eccentricity, err = sel.ScatterIncluded(ecc, 1); err != nil {
		return nil, err
	}
	for c := 0; c < nCond; c++ {
		if out.PE[c], err = sel.ScatterIncluded(pes[c], 1); err != nil {
			return nil, err
		}
	}
	return out, nil
}
