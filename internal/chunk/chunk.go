// Package chunk partitions array axes into contiguous half-open index
// ranges, both for streaming transforms (fixed stride, final partial range)
// and for parallel dispatch (near-equal shards).
package chunk

import "fmt"

// Range is a half-open index interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices covered by the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Empty reports whether the range covers no indices.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// String formats the range for log and error messages.
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Plan partitions [0, n) into consecutive ranges of the given stride, with
// the final range clipped to n. The ranges are contiguous, non-overlapping
// and cover exactly [0, n). For n == 0 the plan is empty; for stride >= n
// the plan is a single range.
//
// stride must be positive.
func Plan(n, stride int) []Range {
	if stride <= 0 {
		panic(fmt.Sprintf("chunk: non-positive stride %d", stride))
	}
	if n <= 0 {
		return nil
	}
	plan := make([]Range, 0, (n+stride-1)/stride)
	for start := 0; start < n; start += stride {
		end := start + stride
		if end > n {
			end = n
		}
		plan = append(plan, Range{Start: start, End: end})
	}
	return plan
}

// Shards partitions [0, n) into exactly p contiguous ranges with sizes as
// equal as integer division allows: no two shard sizes differ by more than
// one, and the remainder goes to the leading shards. If p > n the trailing
// p-n shards are empty, which is legal.
//
// p must be at least 1.
func Shards(n, p int) []Range {
	if p < 1 {
		panic(fmt.Sprintf("chunk: shard count %d < 1", p))
	}
	if n < 0 {
		n = 0
	}
	base := n / p
	rem := n % p
	shards := make([]Range, p)
	start := 0
	for i := range shards {
		size := base
		if i < rem {
			size++
		}
		shards[i] = Range{Start: start, End: start + size}
		start += size
	}
	return shards
}
