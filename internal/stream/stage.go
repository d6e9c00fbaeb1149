package stream

import (
	"fmt"

	"github.com/robert-malhotra/go-prf/internal/chunk"
	"github.com/robert-malhotra/go-prf/internal/store"
)

// TransformFunc applies a pure transform to one chunk. The chunk covers r
// along the stage's axis and is laid out as documented by store.Store.Read.
// The returned slice must have the same length; it may be the input slice
// mutated in place.
type TransformFunc func(data []float32, r chunk.Range) ([]float32, error)

// Result reports what a completed stage did.
type Result struct {
	Chunks int
	Values int
}

// Run streams src through fn into dst, chunk by chunk along the given axis.
// A background goroutine reads successive plan ranges and sends them on a
// bounded channel while the caller transforms and writes the previous chunk,
// overlapping read latency with compute. dst may equal src for in-place
// transforms.
//
// Any read, transform or write error aborts the stage; both goroutines
// observe the abort and release the channel without deadlock. There is no
// mid-stage cancellation beyond that and no partial-chunk retry.
func Run(src, dst store.Store, axis store.Axis, plan []chunk.Range, capacity int, fn TransformFunc) (Result, error) {
	srcTime, srcUnit := src.Shape()
	dstTime, dstUnit := dst.Shape()
	if srcTime != dstTime || srcUnit != dstUnit {
		return Result{}, fmt.Errorf("%w: source (%d,%d) vs destination (%d,%d)",
			store.ErrShapeMismatch, srcTime, srcUnit, dstTime, dstUnit)
	}

	type piece struct {
		r    chunk.Range
		data []float32
	}
	ch := NewChannel[piece](capacity)

	go func() {
		for _, r := range plan {
			data, err := src.Read(axis, r)
			if err != nil {
				ch.Fail(fmt.Errorf("reading chunk %s: %w", r, err))
				return
			}
			if !ch.Send(piece{r: r, data: data}) {
				// Consumer aborted; it owns the error.
				return
			}
		}
		ch.Close()
	}()

	var res Result
	for {
		p, ok := ch.Receive()
		if !ok {
			return res, ch.Err()
		}
		out, err := fn(p.data, p.r)
		if err != nil {
			ch.Cancel()
			return res, fmt.Errorf("transforming chunk %s: %w", p.r, err)
		}
		if err := dst.Write(axis, p.r, out); err != nil {
			ch.Cancel()
			return res, fmt.Errorf("writing chunk %s: %w", p.r, err)
		}
		res.Chunks++
		res.Values += len(out)
	}
}
