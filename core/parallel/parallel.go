// Package parallel splits index ranges across CPU-bound workers.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Range is a half-open index interval [Start, End).
type Range struct {
	Start, End int
}

// Len returns the number of indices in r.
func (r Range) Len() int { return r.End - r.Start }

// Chunks partitions [0, items) into at most workers contiguous ranges of
// near-equal size. workers <= 0 means one per CPU.
func Chunks(items, workers int) []Range {
	if items <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}
	size := (items + workers - 1) / workers
	out := make([]Range, 0, workers)
	for start := 0; start < items; start += size {
		end := start + size
		if end > items {
			end = items
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}

// ForEach calls fn once per index in [0, items). Below threshold the calls
// run inline; above it each chunk gets its own goroutine. The first error
// is returned after every chunk has finished, and a chunk stops at its own
// first error.
func ForEach(items, threshold int, fn func(i int) error) error {
	if items <= 0 {
		return nil
	}
	if items <= threshold {
		return runRange(Range{End: items}, fn)
	}
	var g errgroup.Group
	for _, r := range Chunks(items, 0) {
		r := r
		g.Go(func() error { return runRange(r, fn) })
	}
	return g.Wait()
}

func runRange(r Range, fn func(i int) error) error {
	for i := r.Start; i < r.End; i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}
