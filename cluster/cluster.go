// Package cluster models the fixed pool of parallel workers a SlabGrid is
// distributed across. It simulates the "distributed-memory, message
// passing" model of spec.md §5 in a single process: each rank's work runs on
// its own goroutine, point-to-point neighbor traffic (halo exchange) moves
// over channels, and every collective (barrier, all-reduce) blocks until
// every rank has contributed, exactly as the blocking-operation list in §5
// requires.
//
// Grounded on the shared-mutable-owned-region, explicitly-guarded-access
// discipline of other_examples/bc50b9e2_pthm-soup__systems-particle_resource.go.go's
// particle-to-grid deposit field, since the teacher repo (a single-process
// GUI application) has no multi-worker concurrency of its own to imitate.
package cluster

import (
	"fmt"
	"sync"
)

// World is a fixed pool of Size() workers.
type World struct {
	size int
}

// New returns a World of the given size. A size less than 1 is treated as 1
// (the trivial single-worker case every package test degenerates to).
func New(size int) *World {
	if size < 1 {
		size = 1
	}
	return &World{size: size}
}

// Size returns the number of ranks in the world.
func (w *World) Size() int { return w.size }

// Decompose splits n cells as evenly as possible across Size() ranks,
// returning each rank's local count and starting offset, with any remainder
// distributed to the lowest-numbered ranks first.
func (w *World) Decompose(n int) (localNx, start []int) {
	localNx = make([]int, w.size)
	start = make([]int, w.size)
	base := n / w.size
	rem := n % w.size
	offset := 0
	for r := 0; r < w.size; r++ {
		c := base
		if r < rem {
			c++
		}
		localNx[r] = c
		start[r] = offset
		offset += c
	}
	return localNx, start
}

// RunOnAllRanks launches fn once per rank concurrently and blocks until
// every rank has returned — the collective synchronization point spec.md §5
// requires of FFT, halo exchange, and normalize(). Per §7's propagation
// policy, an error from any rank is a collective abort: RunOnAllRanks
// returns the first non-nil error once every rank has finished (so no
// goroutine is left blocked mid-collective).
func (w *World) RunOnAllRanks(fn func(rank int) error) error {
	errs := make([]error, w.size)
	var wg sync.WaitGroup
	wg.Add(w.size)
	for r := 0; r < w.size; r++ {
		go func(r int) {
			defer wg.Done()
			errs[r] = fn(r)
		}(r)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Halo is the minimal interface cluster.Exchange needs from a distributed
// grid to perform a halo exchange; grid.Grid implements it.
type Halo interface {
	RightBoundary() []float64
	LeftBoundary() []float64
	SetGhosts(left, right []float64) error
}

// Exchange performs the periodic halo exchange of §4.3 across all ranks:
// the rightmost planes of rank r become the left ghost of rank r+1 (mod
// Size()), and symmetrically for the right, wrapping P-1 to 0. It is a
// single collective call — every rank's exchange completes before Exchange
// returns, or the first encountered error is returned and the rest of the
// ranks still complete their local send before the function returns (no
// goroutine leak).
func (w *World) Exchange(halos []Halo) error {
	n := len(halos)
	if n != w.size {
		return fmt.Errorf("cluster: Exchange given %d halos for a world of size %d", n, w.size)
	}
	rightOut := make([]chan []float64, n)
	leftOut := make([]chan []float64, n)
	for i := range rightOut {
		rightOut[i] = make(chan []float64, 1)
		leftOut[i] = make(chan []float64, 1)
	}
	return w.RunOnAllRanks(func(r int) error {
		h := halos[r]
		rightOut[r] <- h.RightBoundary()
		leftOut[r] <- h.LeftBoundary()
		leftNeighbor := mod(r-1, n)
		rightNeighbor := mod(r+1, n)
		incomingLeft := <-rightOut[leftNeighbor]
		incomingRight := <-leftOut[rightNeighbor]
		return h.SetGhosts(incomingLeft, incomingRight)
	})
}

// HaloAccumulator is the interface a scatter's post-deposit flush needs:
// take (and zero) whatever spilled into this rank's ghost planes, and
// accumulate a neighbor's spillover into this rank's owned boundary.
// grid.Grid implements it.
type HaloAccumulator interface {
	TakeGhosts() (left, right []float64)
	AddToLeftBoundary(data []float64) error
	AddToRightBoundary(data []float64) error
}

// ExchangeAccumulate flushes particle-scatter deposits that spilled into
// ghost planes back to the neighboring rank whose owned cells they actually
// belong to: rank r's left-ghost spillover is added into rank r-1's
// rightmost owned planes, and rank r's right-ghost spillover into rank r+1's
// leftmost owned planes (the periodic mirror of Exchange's copy direction).
// Required after any scatter whose kernel support can cross a rank
// boundary, before the next collective (FFT) reads owned data.
func (w *World) ExchangeAccumulate(halos []HaloAccumulator) error {
	n := len(halos)
	if n != w.size {
		return fmt.Errorf("cluster: ExchangeAccumulate given %d halos for a world of size %d", n, w.size)
	}
	leftSpill := make([]chan []float64, n)
	rightSpill := make([]chan []float64, n)
	for i := range leftSpill {
		leftSpill[i] = make(chan []float64, 1)
		rightSpill[i] = make(chan []float64, 1)
	}
	return w.RunOnAllRanks(func(r int) error {
		h := halos[r]
		left, right := h.TakeGhosts()
		leftSpill[r] <- left
		rightSpill[r] <- right
		leftNeighbor := mod(r-1, n)
		rightNeighbor := mod(r+1, n)
		fromRight := <-leftSpill[rightNeighbor]
		fromLeft := <-rightSpill[leftNeighbor]
		if err := h.AddToRightBoundary(fromRight); err != nil {
			return err
		}
		return h.AddToLeftBoundary(fromLeft)
	})
}

func mod(i, n int) int {
	r := i % n
	if r < 0 {
		r += n
	}
	return r
}

// AllReduceSumFloat64 sums per-rank slices element-wise (all slices must
// have equal length) and returns the shared result every rank would observe
// after an all-reduce — the collective step behind Binning.Normalize().
func AllReduceSumFloat64(perRank [][]float64) ([]float64, error) {
	if len(perRank) == 0 {
		return nil, nil
	}
	n := len(perRank[0])
	sum := make([]float64, n)
	for _, local := range perRank {
		if len(local) != n {
			return nil, fmt.Errorf("cluster: AllReduceSumFloat64 given mismatched lengths %d and %d", n, len(local))
		}
		for i, v := range local {
			sum[i] += v
		}
	}
	return sum, nil
}

// AllReduceSumComplex sums per-rank complex slices element-wise, the
// complex-valued analogue of AllReduceSumFloat64. No estimator in this
// module calls it; the polyspectrum tuple reduction uses
// AllReduceSumFloat64.
func AllReduceSumComplex(perRank [][]complex128) ([]complex128, error) {
	if len(perRank) == 0 {
		return nil, nil
	}
	n := len(perRank[0])
	sum := make([]complex128, n)
	for _, local := range perRank {
		if len(local) != n {
			return nil, fmt.Errorf("cluster: AllReduceSumComplex given mismatched lengths %d and %d", n, len(local))
		}
		for i, v := range local {
			sum[i] += v
		}
	}
	return sum, nil
}
