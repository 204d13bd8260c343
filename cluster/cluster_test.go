package cluster_test

import (
	"errors"
	"testing"

	"github.com/cosmicflow/polyspectra/cluster"
	"github.com/cosmicflow/polyspectra/grid"
)

func TestDecomposeCoversAllCells(t *testing.T) {
	w := cluster.New(3)
	localNx, start := w.Decompose(10)
	total := 0
	for r, n := range localNx {
		if start[r] != total {
			t.Fatalf("rank %d start=%d, want %d", r, start[r], total)
		}
		total += n
	}
	if total != 10 {
		t.Fatalf("total=%d want 10", total)
	}
}

func TestRunOnAllRanksPropagatesFirstError(t *testing.T) {
	w := cluster.New(4)
	sentinel := errors.New("boom")
	err := w.RunOnAllRanks(func(r int) error {
		if r == 2 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v want sentinel", err)
	}
}

func buildRing(t *testing.T, n, size int) []*grid.Grid {
	t.Helper()
	w := cluster.New(size)
	localNx, start := w.Decompose(n)
	grids := make([]*grid.Grid, size)
	for r := 0; r < size; r++ {
		g, err := grid.New(2, n, localNx[r], start[r], 1, 1)
		if err != nil {
			t.Fatal(err)
		}
		for x := 0; x < localNx[r]; x++ {
			for y := 0; y < n; y++ {
				g.SetReal([]int{x, y}, float64(start[r]+x))
			}
		}
		grids[r] = g
	}
	return grids
}

func TestExchangeIsPeriodicAndCorrect(t *testing.T) {
	const n, size = 8, 4
	w := cluster.New(size)
	grids := buildRing(t, n, size)
	halos := make([]cluster.Halo, size)
	for i, g := range grids {
		halos[i] = g
	}
	if err := w.Exchange(halos); err != nil {
		t.Fatal(err)
	}
	for r, g := range grids {
		leftNeighborGlobalX := mod(g.LocalXStart-1, n)
		got := g.GetReal([]int{-1, 0})
		if got != float64(leftNeighborGlobalX) {
			t.Fatalf("rank %d left ghost = %v want %v", r, got, leftNeighborGlobalX)
		}
		rightNeighborGlobalX := mod(g.LocalXStart+g.LocalNx, n)
		got = g.GetReal([]int{g.LocalNx, 0})
		if got != float64(rightNeighborGlobalX) {
			t.Fatalf("rank %d right ghost = %v want %v", r, got, rightNeighborGlobalX)
		}
	}
}

func mod(i, n int) int {
	r := i % n
	if r < 0 {
		r += n
	}
	return r
}

func TestAllReduceSumFloat64(t *testing.T) {
	out, err := cluster.AllReduceSumFloat64([][]float64{{1, 2}, {3, 4}, {5, 6}})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{9, 12}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("got %v want %v", out, want)
		}
	}
}

func TestAllReduceSumFloat64MismatchedLengths(t *testing.T) {
	if _, err := cluster.AllReduceSumFloat64([][]float64{{1, 2}, {3}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestExchangeAccumulateFoldsSpilloverIntoNeighborOwnedCells(t *testing.T) {
	const n, size = 8, 2
	w := cluster.New(size)
	grids := buildRing(t, n, size)
	// Simulate a particle scatter that spilled one unit into rank 0's
	// right ghost (belongs to rank 1's leftmost owned plane) and one unit
	// into rank 1's left ghost (belongs to rank 0's rightmost owned plane).
	grids[0].AddReal([]int{n / size, 0}, 1) // rank0's right ghost plane
	grids[1].AddReal([]int{-1, 0}, 1) // rank1's left ghost plane

	before0 := grids[0].GetReal([]int{grids[0].LocalNx - 1, 0})
	before1 := grids[1].GetReal([]int{0, 0})

	halos := make([]cluster.HaloAccumulator, size)
	for i, g := range grids {
		halos[i] = g
	}
	if err := w.ExchangeAccumulate(halos); err != nil {
		t.Fatal(err)
	}

	if got := grids[0].GetReal([]int{grids[0].LocalNx - 1, 0}); got != before0+1 {
		t.Fatalf("rank0 rightmost owned plane = %v want %v", got, before0+1)
	}
	if got := grids[1].GetReal([]int{0, 0}); got != before1+1 {
		t.Fatalf("rank1 leftmost owned plane = %v want %v", got, before1+1)
	}
	// ghosts must be zeroed after the flush.
	if got := grids[0].GetReal([]int{n / size, 0}); got != 0 {
		t.Fatalf("rank0 right ghost not zeroed: %v", got)
	}
}
