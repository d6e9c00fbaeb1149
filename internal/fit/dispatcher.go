package fit

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/robert-malhotra/go-prf/internal/chunk"
	"github.com/robert-malhotra/go-prf/internal/store"
)

// Result holds the winning candidate for one included unit: its grid
// coordinates, the maximized R², and one parameter estimate per stimulus
// condition.
type Result struct {
	X    float32
	Y    float32
	Size float32
	R2   float32
	PE   []float32
}

// Dispatch fits every unit in series against the full model grid, one
// worker per non-empty shard. series is included-domain and unit-major
// (nTime values per unit); shards partition its unit axis.
//
// Workers deliver (shard index, results) on a multi-producer/single-consumer
// channel; the dispatcher drains one message per non-empty shard and
// reassembles by shard index, so the output order is deterministic no matter
// in which order workers finish. Results come back in original unit order.
//
// Any worker error is fatal for the whole dispatch: the remaining workers
// are joined, the partial results are discarded and ErrWorkerFailure is
// returned. The join is unconditional and has no timeout.
func Dispatch(shards []chunk.Range, src GridSource, series []float32, nTime int, score ScoreFunc) ([]Result, error) {
	if src.NumTimepoints() != nTime {
		return nil, fmt.Errorf("%w: model time courses have %d time points, data has %d",
			store.ErrShapeMismatch, src.NumTimepoints(), nTime)
	}
	total := 0
	for _, sh := range shards {
		if sh.Start != total {
			return nil, fmt.Errorf("%w: shards do not partition the included axis at %s", store.ErrShapeMismatch, sh)
		}
		total = sh.End
	}
	if len(series) != total*nTime {
		return nil, fmt.Errorf("%w: %d series values for %d included units", store.ErrShapeMismatch, len(series), total)
	}

	type shardOut struct {
		index   int
		results []Result
	}

	results := make([]Result, total)
	out := make(chan shardOut, len(shards))
	var g errgroup.Group
	for i, sh := range shards {
		if sh.Empty() {
			// A shard emptied by the variance mask is legal and simply
			// contributes no results.
			continue
		}
		i, sh := i, sh
		g.Go(func() error {
			res, err := fitShard(sh, src, series, nTime, score)
			if err != nil {
				return fmt.Errorf("%w: shard %d %s: %v", ErrWorkerFailure, i, sh, err)
			}
			out <- shardOut{index: i, results: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(out)

	// Reassemble by shard index, not arrival order.
	for so := range out {
		copy(results[shards[so.index].Start:shards[so.index].End], so.results)
	}
	return results, nil
}

// fitShard scores every grid candidate against every unit of one shard,
// keeping the maximizing candidate per unit. A candidate replaces the
// incumbent only on strictly greater score, so ties go to the lower
// candidate index in the grid's enumeration order.
func fitShard(sh chunk.Range, src GridSource, series []float32, nTime int, score ScoreFunc) ([]Result, error) {
	grid := src.Grid()
	nCand := grid.NumCandidates()
	if nCand == 0 {
		return nil, fmt.Errorf("model grid is empty")
	}
	nCond := src.NumConditions()
	candidate := make([]float32, nCond*nTime)

	results := make([]Result, sh.Len())
	best := make([]int, sh.Len())
	bestScore := make([]float64, sh.Len())
	bestPE := make([][]float32, sh.Len())
	for i := range bestScore {
		best[i] = -1
		bestScore[i] = math.Inf(-1)
	}

	for c := 0; c < nCand; c++ {
		if err := src.Candidate(c, candidate); err != nil {
			return nil, err
		}
		for i := 0; i < sh.Len(); i++ {
			u := sh.Start + i
			r2, pe, err := score(candidate, nCond, nTime, series[u*nTime:(u+1)*nTime])
			if err != nil {
				return nil, fmt.Errorf("unit %d candidate %d: %w", u, c, err)
			}
			if r2 > bestScore[i] {
				bestScore[i] = r2
				best[i] = c
				bestPE[i] = pe
			}
		}
	}

	for i := range results {
		x, y, size := grid.At(best[i])
		results[i] = Result{
			X:    x,
			Y:    y,
			Size: size,
			R2:   float32(bestScore[i]),
			PE:   bestPE[i],
		}
	}
	return results, nil
}
