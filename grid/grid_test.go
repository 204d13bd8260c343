package grid_test

import (
	"math"
	"testing"

	"github.com/cosmicflow/polyspectra/grid"
)

func TestNewValidatesParameters(t *testing.T) {
	if _, err := grid.New(3, 7, 4, 0, 1, 1); err == nil {
		t.Fatal("expected error for odd N")
	}
	if _, err := grid.New(1, 8, 4, 0, 1, 1); err == nil {
		t.Fatal("expected error for Dim < 2")
	}
}

func TestRealAddressingOwnedAndGhost(t *testing.T) {
	g, err := grid.New(3, 8, 8, 0, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	coord := []int{3, 1, 5}
	g.SetReal(coord, 42)
	if got := g.GetReal(coord); got != 42 {
		t.Fatalf("got %v want 42", got)
	}
	// Ghost plane addressing must not panic and must be independently
	// addressable from owned planes.
	ghostCoord := []int{-1, 1, 5}
	g.SetReal(ghostCoord, 7)
	if got := g.GetReal(ghostCoord); got != 7 {
		t.Fatalf("ghost got %v want 7", got)
	}
	if got := g.GetReal(coord); got != 42 {
		t.Fatalf("owned cell clobbered by ghost write: got %v", got)
	}
}

func TestAddRealAccumulates(t *testing.T) {
	g, _ := grid.New(2, 8, 8, 0, 1, 1)
	coord := []int{2, 2}
	g.AddReal(coord, 1)
	g.AddReal(coord, 2)
	if got := g.GetReal(coord); got != 3 {
		t.Fatalf("got %v want 3", got)
	}
}

func TestTransverseWrapsModulo(t *testing.T) {
	g, _ := grid.New(2, 8, 8, 0, 1, 1)
	g.SetReal([]int{0, 0}, 9)
	if got := g.GetReal([]int{0, 8}); got != 9 {
		t.Fatalf("expected wrap to equal cell (0,0), got %v", got)
	}
}

func TestForEachOwnedRealVisitsExactlyOwnedCells(t *testing.T) {
	g, _ := grid.New(2, 4, 4, 0, 1, 1)
	count := 0
	g.ForEachOwnedReal(func(coord []int) {
		count++
		if coord[0] < 0 || coord[0] >= g.LocalNx {
			t.Fatalf("visited non-owned coordinate %v", coord)
		}
	})
	if want := g.LocalNx * g.N; count != want {
		t.Fatalf("visited %d cells, want %d", count, want)
	}
}

func TestSetGhostsPopulatesBoundaryCells(t *testing.T) {
	g, _ := grid.New(2, 4, 2, 0, 1, 1)
	g.FillReal(1)
	left := []float64{9, 9, 9, 9}   // one ghost plane, N=4 transverse cells
	right := []float64{8, 8, 8, 8}
	if err := g.SetGhosts(left, right); err != nil {
		t.Fatal(err)
	}
	if got := g.GetReal([]int{-1, 0}); got != 9 {
		t.Fatalf("left ghost got %v want 9", got)
	}
	if got := g.GetReal([]int{2, 0}); got != 8 {
		t.Fatalf("right ghost got %v want 8", got)
	}
	if err := g.SetGhosts([]float64{1}, right); err == nil {
		t.Fatal("expected length-mismatch error")
	}
}

func TestCloneIsDeepCopy(t *testing.T) {
	g, _ := grid.New(2, 4, 4, 0, 1, 1)
	g.SetReal([]int{0, 0}, 5)
	c := g.Clone()
	c.SetReal([]int{0, 0}, 99)
	if got := g.GetReal([]int{0, 0}); got != 5 {
		t.Fatalf("clone mutation leaked into original: got %v", got)
	}
}

func TestWavevectorFoldsNonLastAxis(t *testing.T) {
	g, _ := grid.New(3, 8, 8, 0, 0, 0)
	g.TransitionToFourier()
	k, norm := g.WavevectorAndNorm([]int{6, 0, 0})
	// j=6 on axis 0, N=8 -> j' = 6-8 = -2
	want := 2 * math.Pi * (-2.0) / 8.0
	if math.Abs(k[0]-want) > 1e-12 {
		t.Fatalf("k[0]=%v want %v", k[0], want)
	}
	if norm <= 0 {
		t.Fatalf("expected positive norm, got %v", norm)
	}
}

func TestWavevectorDCIsZero(t *testing.T) {
	g, _ := grid.New(3, 8, 8, 0, 0, 0)
	g.TransitionToFourier()
	_, norm := g.WavevectorAndNorm([]int{0, 0, 0})
	if norm != 0 {
		t.Fatalf("DC norm = %v, want 0", norm)
	}
}
