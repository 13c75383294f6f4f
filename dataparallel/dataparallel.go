// Package dataparallel defines the abstract data-parallel accelerator
// contract (IsAvailable / ScanEquals / Sum) and a goroutine worker-pool
// implementation of it. The core storage engine never depends on a
// concrete backend — only on the Backend interface — so a future
// accelerator (a real GPU backend, SIMD kernels, ...) can be dropped in
// without touching table.Table.
package dataparallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Backend is the abstract data-parallel accelerator contract. All three
// methods are purely arithmetic and side-effect-free; ScanEquals and Sum
// must agree exactly with ScanEqualsCPU and SumCPU for every input,
// regardless of whether the implementation actually runs in parallel.
type Backend interface {
	// IsAvailable reports whether this backend can currently accelerate
	// work. It must be side-effect-free and fast; table.Table calls it on
	// every scanEquals/sumColumnHybrid dispatch decision.
	IsAvailable() bool

	// ScanEquals returns, for every index i where values[i] == needle,
	// rowIDs[i] — in ascending index order, matching ScanEqualsCPU
	// exactly. len(values) must equal len(rowIDs).
	ScanEquals(values, rowIDs []uint32, needle uint32) []uint32

	// Sum returns the exact 64-bit unsigned sum of values.
	Sum(values []uint32) uint64
}

// ScanEqualsCPU is the sequential reference implementation of
// Backend.ScanEquals. Every Backend, including WorkerBackend, must
// produce output identical to this function.
func ScanEqualsCPU(values, rowIDs []uint32, needle uint32) []uint32 {
	out := make([]uint32, 0, len(values)/8+1)
	for i, v := range values {
		if v == needle {
			out = append(out, rowIDs[i])
		}
	}
	return out
}

// SumCPU is the sequential reference implementation of Backend.Sum.
func SumCPU(values []uint32) uint64 {
	var acc uint64
	for _, v := range values {
		acc += uint64(v)
	}
	return acc
}

// NoopBackend is the backend to use when no accelerator is available.
// IsAvailable always returns false, so table.Table never dispatches
// work to it; its ScanEquals/Sum are present only so it satisfies
// Backend and remains safe to call directly in tests.
type NoopBackend struct{}

func (NoopBackend) IsAvailable() bool { return false }

func (NoopBackend) ScanEquals(values, rowIDs []uint32, needle uint32) []uint32 {
	return ScanEqualsCPU(values, rowIDs, needle)
}

func (NoopBackend) Sum(values []uint32) uint64 {
	return SumCPU(values)
}

// WorkerBackend accelerates ScanEquals/Sum by partitioning the input
// across a fixed pool of goroutines, grounded on the
// golang.org/x/sync/errgroup fan-out hupe1980/vecgo's caching store uses
// to refresh a batch of cache entries concurrently.
type WorkerBackend struct {
	workers int
}

// NewWorkerBackend builds a WorkerBackend with the given goroutine
// count. workers <= 0 selects runtime.GOMAXPROCS(0).
func NewWorkerBackend(workers int) *WorkerBackend {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &WorkerBackend{workers: workers}
}

// IsAvailable always returns true: a goroutine pool has no external
// dependency that could make it unavailable.
func (b *WorkerBackend) IsAvailable() bool { return true }

type chunk struct{ start, end int }

func partition(n, workers int) []chunk {
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	chunks := make([]chunk, 0, workers)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, chunk{start, end})
	}
	return chunks
}

// ScanEquals fans the scan out across b.workers goroutines, one
// contiguous chunk each, then concatenates the per-chunk matches in
// chunk order. Because chunks are contiguous and processed in ascending
// index order within each chunk, the concatenation is exactly the
// ascending-index order ScanEqualsCPU produces.
func (b *WorkerBackend) ScanEquals(values, rowIDs []uint32, needle uint32) []uint32 {
	chunks := partition(len(values), b.workers)
	if chunks == nil {
		return nil
	}

	partials := make([][]uint32, len(chunks))
	var g errgroup.Group
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			var out []uint32
			for j := c.start; j < c.end; j++ {
				if values[j] == needle {
					out = append(out, rowIDs[j])
				}
			}
			partials[i] = out
			return nil
		})
	}
	_ = g.Wait() // no chunk goroutine can return a non-nil error

	total := 0
	for _, p := range partials {
		total += len(p)
	}
	merged := make([]uint32, 0, total)
	for _, p := range partials {
		merged = append(merged, p...)
	}
	return merged
}

// Sum fans the reduction out across b.workers goroutines and combines
// the per-chunk partial sums in a final 64-bit accumulator.
func (b *WorkerBackend) Sum(values []uint32) uint64 {
	chunks := partition(len(values), b.workers)
	if chunks == nil {
		return 0
	}

	partials := make([]uint64, len(chunks))
	var g errgroup.Group
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			var acc uint64
			for j := c.start; j < c.end; j++ {
				acc += uint64(values[j])
			}
			partials[i] = acc
			return nil
		})
	}
	_ = g.Wait()

	var total uint64
	for _, p := range partials {
		total += p
	}
	return total
}
