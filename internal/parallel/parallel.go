// Package parallel partitions row-independent batch work across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config bounds how a batch is split.
type Config struct {
	Workers int // Goroutines to use; fewer than 2 runs inline.
	MinRows int // Smallest range handed to one goroutine.
}

// DefaultConfig uses one goroutine per CPU.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU(), MinRows: 16}
}

// Sequential returns a config that never spawns goroutines.
func Sequential() Config {
	return Config{Workers: 1}
}

// Range is the half-open row interval [Lo, Hi).
type Range struct {
	Lo, Hi int
}

// Len returns the number of rows in r.
func (r Range) Len() int {
	return r.Hi - r.Lo
}

// Split partitions [0, n) into at most cfg.Workers contiguous ranges of
// near-equal size, none shorter than cfg.MinRows unless n itself is. It
// returns nil for n <= 0.
func Split(n int, cfg Config) []Range {
	if n <= 0 {
		return nil
	}
	parts := min(cfg.Workers, n/max(cfg.MinRows, 1))
	if parts < 1 {
		parts = 1
	}

	size := (n + parts - 1) / parts
	ranges := make([]Range, 0, parts)
	for lo := 0; lo < n; lo += size {
		ranges = append(ranges, Range{Lo: lo, Hi: min(lo+size, n)})
	}
	return ranges
}

// Rows calls f once for every range of Split(n, cfg) and returns when all
// calls are done. Ranges run concurrently when there is more than one; f
// must only write state owned by the rows of its range.
func Rows(n int, cfg Config, f func(r Range)) {
	ranges := Split(n, cfg)
	if len(ranges) <= 1 {
		for _, r := range ranges {
			f(r)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(ranges))
	for _, r := range ranges {
		go func(r Range) {
			defer wg.Done()
			f(r)
		}(r)
	}
	wg.Wait()
}
