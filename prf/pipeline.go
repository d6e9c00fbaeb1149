package prf

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-prf/internal/chunk"
	"github.com/robert-malhotra/go-prf/internal/fit"
	"github.com/robert-malhotra/go-prf/internal/mask"
	"github.com/robert-malhotra/go-prf/internal/store"
	"github.com/robert-malhotra/go-prf/internal/stream"
	"github.com/robert-malhotra/go-prf/internal/transform"
)

// Pipeline runs one analysis: streaming preprocessing over the functional
// store, two-stage voxel selection, parallel grid search, and scatter of
// the winners back into full spatial layout.
type Pipeline struct {
	cfg Config
	opt *options
	log *logrus.Entry
}

// New validates the configuration and builds a pipeline.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}
	return &Pipeline{
		cfg: cfg,
		opt: opt,
		log: opt.log.WithField("run", uuid.NewString()[:8]),
	}, nil
}

// temporalSmoother is implemented by grid sources whose candidate time
// courses can be smoothed in place.
type temporalSmoother interface {
	SmoothTemporal(sd float64) error
}

// Run executes the full analysis over the functional data store and the
// candidate model grid. data is modified in place by the preprocessing
// stages and a masked sibling store is created next to it; ownership of
// both stays with the pipeline until Run returns.
//
// The same Run serves both execution modes: pass in-memory stores and grid
// sources when everything fits in RAM, file-backed ones when it does not.
func (p *Pipeline) Run(data Store, models GridSource) (*Outcome, error) {
	nTime, nUnit := data.Shape()
	if err := p.checkShapes(nTime, nUnit, models); err != nil {
		return nil, err
	}
	sel := mask.New(p.cfg.Mask)
	p.log.WithFields(logrus.Fields{
		"timepoints": nTime,
		"units":      nUnit,
		"masked":     sel.MaskedCount(),
		"candidates": models.Grid().NumCandidates(),
	}).Info("starting analysis")

	// Model time courses receive the same temporal smoothing as the data.
	if p.cfg.SdSmoothTemporal > 0 {
		if ts, ok := models.(temporalSmoother); ok {
			if err := ts.SmoothTemporal(p.cfg.SdSmoothTemporal); err != nil {
				return nil, fmt.Errorf("smoothing model time courses: %w", err)
			}
			p.log.Info("model time courses smoothed")
		}
	}

	if p.cfg.Detrend {
		plan := chunk.Plan(nUnit, p.opt.unitStride)
		res, err := stream.Run(data, data, store.AxisUnit, plan, p.opt.capacity, transform.Detrend(nTime))
		if err != nil {
			return nil, fmt.Errorf("detrend stage: %w", err)
		}
		p.log.WithField("chunks", res.Chunks).Info("linear trend removed")
	}

	if p.cfg.SdSmoothSpatial > 0 {
		plan := chunk.Plan(nTime, p.opt.volumeStride)
		res, err := stream.Run(data, data, store.AxisTime, plan, p.opt.capacity,
			transform.SmoothSpatial(p.cfg.Shape, p.cfg.SdSmoothSpatial))
		if err != nil {
			return nil, fmt.Errorf("spatial smoothing stage: %w", err)
		}
		p.log.WithField("chunks", res.Chunks).Info("spatially smoothed")
	}

	masked, err := p.applyMask(data, sel, nTime)
	if err != nil {
		return nil, fmt.Errorf("mask stage: %w", err)
	}
	defer masked.Close()
	p.log.WithField("masked", sel.MaskedCount()).Info("spatial mask applied")

	if p.cfg.SdSmoothTemporal > 0 {
		plan := chunk.Plan(sel.MaskedCount(), p.opt.unitStride)
		res, err := stream.Run(masked, masked, store.AxisUnit, plan, p.opt.capacity,
			transform.SmoothTemporal(nTime, 1, p.cfg.SdSmoothTemporal))
		if err != nil {
			return nil, fmt.Errorf("temporal smoothing stage: %w", err)
		}
		p.log.WithField("chunks", res.Chunks).Info("temporally smoothed")
	}

	series, err := p.loadUnitMajor(masked)
	if err != nil {
		return nil, fmt.Errorf("loading masked series: %w", err)
	}
	if _, err := sel.ComputeVarianceMask(series, nTime, p.opt.epsilon); err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"included": sel.IncludedCount(),
		"excluded": sel.MaskedCount() - sel.IncludedCount(),
	}).Info("variance mask computed")

	// De-mean and z-score in place, then narrow to the included set.
	normalize := transform.Normalize(nTime)
	one := chunk.Range{Start: 0, End: 1}
	for u := 0; u < sel.MaskedCount(); u++ {
		if _, err := normalize(series[u*nTime:(u+1)*nTime], one); err != nil {
			return nil, fmt.Errorf("normalizing unit %d: %w", u, err)
		}
	}
	included, err := sel.GatherIncluded(series, nTime)
	if err != nil {
		return nil, err
	}

	shards := chunk.Shards(sel.IncludedCount(), p.cfg.Parallelism)
	p.log.WithField("workers", p.cfg.Parallelism).Info("dispatching grid search")
	results, err := fit.Dispatch(shards, models, included, nTime, p.opt.score)
	if err != nil {
		return nil, err
	}
	p.log.WithField("fitted", len(results)).Info("grid search finished")

	return p.scatter(sel, results, models.NumConditions())
}

func (p *Pipeline) checkShapes(nTime, nUnit int, models GridSource) error {
	if nUnit != len(p.cfg.Mask) {
		return fmt.Errorf("%w: store has %d units, mask has %d", ErrShapeMismatch, nUnit, len(p.cfg.Mask))
	}
	if models.NumTimepoints() != nTime {
		return fmt.Errorf("%w: models have %d time points, data has %d",
			ErrShapeMismatch, models.NumTimepoints(), nTime)
	}
	if models.NumConditions() != p.cfg.NumConditions {
		return fmt.Errorf("%w: models have %d conditions, config has %d",
			ErrShapeMismatch, models.NumConditions(), p.cfg.NumConditions)
	}
	return nil
}

// applyMask streams the full store into its masked sibling, dropping
// excluded columns. The read side runs in the background; gathering and
// writing happen on the calling side of the bounded channel.
func (p *Pipeline) applyMask(src Store, sel *mask.Selector, nTime int) (Store, error) {
	dst, err := src.Derive(nTime, sel.MaskedCount())
	if err != nil {
		return nil, err
	}
	spatial := sel.SpatialMask()

	type piece struct {
		r    chunk.Range
		data []float32
	}
	ch := stream.NewChannel[piece](p.opt.capacity)
	plan := chunk.Plan(len(spatial), p.opt.unitStride)

	go func() {
		for _, r := range plan {
			data, err := src.Read(store.AxisUnit, r)
			if err != nil {
				ch.Fail(fmt.Errorf("reading chunk %s: %w", r, err))
				return
			}
			if !ch.Send(piece{r: r, data: data}) {
				return
			}
		}
		ch.Close()
	}()

	mPos := 0
	for {
		pc, ok := ch.Receive()
		if !ok {
			if err := ch.Err(); err != nil {
				dst.Close()
				return nil, err
			}
			return dst, nil
		}
		w := pc.r.Len()
		kept := 0
		for u := pc.r.Start; u < pc.r.End; u++ {
			if spatial[u] {
				kept++
			}
		}
		if kept == 0 {
			continue
		}
		out := make([]float32, nTime*kept)
		for t := 0; t < nTime; t++ {
			j := 0
			for u := pc.r.Start; u < pc.r.End; u++ {
				if spatial[u] {
					out[t*kept+j] = pc.data[t*w+(u-pc.r.Start)]
					j++
				}
			}
		}
		if err := dst.Write(store.AxisUnit, chunk.Range{Start: mPos, End: mPos + kept}, out); err != nil {
			ch.Cancel()
			dst.Close()
			return nil, fmt.Errorf("writing masked chunk at %d: %w", mPos, err)
		}
		mPos += kept
	}
}

// loadUnitMajor reads the masked store into a unit-major slice (each unit's
// time series contiguous), the layout the scoring function consumes.
func (p *Pipeline) loadUnitMajor(st Store) ([]float32, error) {
	nTime, nUnit := st.Shape()
	out := make([]float32, nTime*nUnit)
	for _, r := range chunk.Plan(nUnit, p.opt.unitStride) {
		data, err := st.Read(store.AxisUnit, r)
		if err != nil {
			return nil, err
		}
		w := r.Len()
		for t := 0; t < nTime; t++ {
			for j := 0; j < w; j++ {
				out[(r.Start+j)*nTime+t] = data[t*w+j]
			}
		}
	}
	return out, nil
}
