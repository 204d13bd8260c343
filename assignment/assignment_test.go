package assignment_test

import (
	"math"
	"testing"

	"github.com/cosmicflow/polyspectra/assignment"
	"github.com/cosmicflow/polyspectra/cluster"
	"github.com/cosmicflow/polyspectra/fft"
	"github.com/cosmicflow/polyspectra/grid"
	"github.com/cosmicflow/polyspectra/particle"
)

func TestParseRejectsUnknownKernel(t *testing.T) {
	if _, err := assignment.Parse("BOGUS"); err != assignment.ErrUnknownKernel {
		t.Fatalf("got %v want ErrUnknownKernel", err)
	}
	for _, name := range []string{"NGP", "CIC", "TSC", "PCS"} {
		if _, err := assignment.Parse(name); err != nil {
			t.Fatalf("Parse(%s) = %v", name, err)
		}
	}
}

func TestGhostWidthMatchesSpecSupportRadii(t *testing.T) {
	cases := []struct {
		k    assignment.Kernel
		want int
	}{
		{assignment.NGP, 0},
		{assignment.CIC, 1},
		{assignment.TSC, 2},
		{assignment.PCS, 2},
	}
	for _, c := range cases {
		if got := c.k.GhostWidth(); got != c.want {
			t.Fatalf("%s.GhostWidth() = %d want %d", c.k, got, c.want)
		}
	}
}

// TestScatterSingleParticleNGPConservesMass reproduces test vector 1: a single
// particle under NGP deposits its full weight into exactly one cell.
func TestScatterSingleParticleNGPConservesMass(t *testing.T) {
	const n = 16
	g, err := grid.New(3, n, n, 0, assignment.NGP.GhostWidth(), assignment.NGP.GhostWidth())
	if err != nil {
		t.Fatal(err)
	}
	stream, err := particle.New(3, []particle.Particle{
		{Position: []float64{0, 0, 0}, Velocity: []float64{0, 0, 0}},
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := assignment.Scatter(g, stream, assignment.NGP); err != nil {
		t.Fatal(err)
	}
	total := g.SumReal()
	if math.Abs(total-1) > 1e-12 {
		t.Fatalf("total mass = %v want 1", total)
	}
	if got := g.GetReal([]int{0, 0, 0}); math.Abs(got-1) > 1e-12 {
		t.Fatalf("cell (0,0,0) = %v want 1", got)
	}
}

// TestScatterCICConservesMassOffCenter checks CIC spreads unit weight across
// its 2^d neighboring cells while still summing to the particle's weight.
func TestScatterCICConservesMassOffCenter(t *testing.T) {
	const n = 8
	g, err := grid.New(2, n, n, 0, assignment.CIC.GhostWidth(), assignment.CIC.GhostWidth())
	if err != nil {
		t.Fatal(err)
	}
	stream, err := particle.New(2, []particle.Particle{
		{Position: []float64{0.3 / n, 0.6 / n}, Velocity: []float64{0, 0}},
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := assignment.Scatter(g, stream, assignment.CIC); err != nil {
		t.Fatal(err)
	}
	total := g.SumReal()
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("total mass = %v want 1", total)
	}
}

// TestScatterWrapsAtPeriodicBoundaryTransverseAxis checks a particle near x=1 deposits
// into cell N-1 and cell 0 under CIC (periodic wrap on the transverse axis,
// ghost-plane spillover on the partitioned axis handled separately by
// ExchangeScatterSpillover).
func TestScatterWrapsAtPeriodicBoundaryTransverseAxis(t *testing.T) {
	const n = 8
	g, err := grid.New(2, n, n, 0, assignment.CIC.GhostWidth(), assignment.CIC.GhostWidth())
	if err != nil {
		t.Fatal(err)
	}
	stream, err := particle.New(2, []particle.Particle{
		{Position: []float64{0.1, 0.999}, Velocity: []float64{0, 0}},
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := assignment.Scatter(g, stream, assignment.CIC); err != nil {
		t.Fatal(err)
	}
	total := g.SumReal()
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("total mass = %v want 1 (wrap must not lose mass)", total)
	}
}

func TestExchangeScatterSpilloverConservesTotalMass(t *testing.T) {
	const n, size = 8, 2
	world := cluster.New(size)
	localNx, start := world.Decompose(n)
	grids := make([]*grid.Grid, size)
	ghost := assignment.CIC.GhostWidth()
	for r := 0; r < size; r++ {
		g, err := grid.New(2, n, localNx[r], start[r], ghost, ghost)
		if err != nil {
			t.Fatal(err)
		}
		grids[r] = g
	}
	// A particle sitting just inside rank 0's upper edge, under CIC,
	// spills three quarters of its weight into rank 1's first owned plane.
	x := (float64(localNx[0]) - 0.25) / n
	stream, err := particle.New(2, []particle.Particle{
		{Position: []float64{x, 0.5}, Velocity: []float64{0, 0}},
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := assignment.Scatter(grids[0], stream, assignment.CIC); err != nil {
		t.Fatal(err)
	}
	if err := assignment.ExchangeScatterSpillover(world, grids); err != nil {
		t.Fatal(err)
	}
	total := 0.0
	for _, g := range grids {
		total += g.SumReal()
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("total mass across ranks = %v want 1", total)
	}
}

// TestDeconvolveLeavesDCModeUnscaled checks that a uniform field
// (whose only nonzero Fourier mode is k=0, where every window equals 1) is
// unaffected by deconvolution — the simplest observable check on the
// round-off guard and the overall plumbing.
func TestDeconvolveLeavesDCModeUnscaled(t *testing.T) {
	const dim, n = 2, 8
	g, err := grid.New(dim, n, n, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	g.FillReal(2.0)
	world := cluster.New(1)
	if err := fft.Forward(world, []*grid.Grid{g}); err != nil {
		t.Fatal(err)
	}
	dc := g.GetFourier([]int{0, 0})
	if err := assignment.Deconvolve(g, assignment.NGP); err != nil {
		t.Fatal(err)
	}
	got := g.GetFourier([]int{0, 0})
	if cmplxAbs(got-dc) > 1e-9 {
		t.Fatalf("DC mode changed by deconvolution: %v -> %v", dc, got)
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
