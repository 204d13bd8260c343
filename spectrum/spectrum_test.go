package spectrum_test

import (
	"math"
	"testing"

	"github.com/cosmicflow/polyspectra/assignment"
	"github.com/cosmicflow/polyspectra/binning"
	"github.com/cosmicflow/polyspectra/cluster"
	"github.com/cosmicflow/polyspectra/fft"
	"github.com/cosmicflow/polyspectra/grid"
	"github.com/cosmicflow/polyspectra/particle"
	"github.com/cosmicflow/polyspectra/spectrum"
)

func singleRankSetup(t *testing.T, dim, n int, kernel assignment.Kernel, pos []float64) (*cluster.World, []*grid.Grid, []*particle.Stream) {
	t.Helper()
	world := cluster.New(1)
	g, err := grid.New(dim, n, n, 0, kernel.GhostWidth(), kernel.GhostWidth())
	if err != nil {
		t.Fatal(err)
	}
	vel := make([]float64, dim)
	stream, err := particle.New(dim, []particle.Particle{{Position: pos, Velocity: vel}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	return world, []*grid.Grid{g}, []*particle.Stream{stream}
}

// TestComputePowerSpectrumSingleParticleMatchesSpecVector reproduces test
// vector 1: d=3, N=16, a single particle at the origin, NGP — P(k) equals
// 1/N_part_total^2 everywhere before shot-noise subtraction, and is zero
// (within round-off) after it.
func TestComputePowerSpectrumSingleParticleMatchesSpecVector(t *testing.T) {
	const n = 16
	world, grids, streams := singleRankSetup(t, 3, n, assignment.NGP, []float64{0, 0, 0})
	bins, err := binning.New(8, 0, math.Pi, binning.Linear)
	if err != nil {
		t.Fatal(err)
	}
	if err := spectrum.ComputePowerSpectrum(world, grids, streams, assignment.NGP, []*binning.PowerSpectrumBinning{bins}); err != nil {
		t.Fatal(err)
	}
	for i, count := range bins.Count {
		if count == 0 {
			continue
		}
		if math.Abs(bins.Pofk[i]) > 1e-9 {
			t.Fatalf("bin %d: Pofk = %v want ~0 after shot-noise subtraction", i, bins.Pofk[i])
		}
	}
}

// TestBinUpConstantFieldGivesDCPowerOnly reproduces P2: bin_up of a
// constant real field yields P(k=0) = c^2 and P(k>0) = 0.
func TestBinUpConstantFieldGivesDCPowerOnly(t *testing.T) {
	const n = 8
	g, err := grid.New(2, n, n, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	g.FillReal(3.0)
	world := cluster.New(1)
	if err := fft.Forward(world, []*grid.Grid{g}); err != nil {
		t.Fatal(err)
	}
	b, err := binning.New(6, 0, math.Pi, binning.Linear)
	if err != nil {
		t.Fatal(err)
	}
	spectrum.BinUp(g, b)
	if err := binning.Normalize(world, []*binning.PowerSpectrumBinning{b}); err != nil {
		t.Fatal(err)
	}
	dcBin, _ := locateZero(b)
	if math.Abs(b.Pofk[dcBin]-9.0) > 1e-9 {
		t.Fatalf("DC bin power = %v want 9", b.Pofk[dcBin])
	}
	for i, p := range b.Pofk {
		if i == dcBin {
			continue
		}
		if b.Count[i] > 0 && math.Abs(p) > 1e-9 {
			t.Fatalf("bin %d power = %v want 0 for a constant field", i, p)
		}
	}
}

func TestComputePowerSpectrumDirectSummationRejectsMissingPrecondition(t *testing.T) {
	world, grids, streams := singleRankSetup(t, 2, 8, assignment.NGP, []float64{0, 0})
	if err := world.RunOnAllRanks(func(r int) error {
		grids[r].TransitionToFourier()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	bins, _ := binning.New(4, 0, math.Pi, binning.Linear)
	err := spectrum.ComputePowerSpectrumDirectSummation(world, grids, streams, false, []*binning.PowerSpectrumBinning{bins})
	if err != spectrum.ErrPrecondition {
		t.Fatalf("got %v want ErrPrecondition", err)
	}
}

func TestComputePowerSpectrumMultipolesMonopoleMatchesBinUp(t *testing.T) {
	const n = 8
	g, err := grid.New(2, n, n, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	g.FillReal(2.0)
	world := cluster.New(1)
	if err := fft.Forward(world, []*grid.Grid{g}); err != nil {
		t.Fatal(err)
	}
	plain, _ := binning.New(4, 0, math.Pi, binning.Linear)
	spectrum.BinUp(g, plain)

	moments := make([][]*binning.PowerSpectrumBinning, 1)
	moments[0] = make([]*binning.PowerSpectrumBinning, 1) // lmax = 0: monopole only
	moments[0][0], _ = binning.New(4, 0, math.Pi, binning.Linear)
	los := []float64{1, 0}
	if err := spectrum.ComputePowerSpectrumMultipoles(world, []*grid.Grid{g}, los, moments); err != nil {
		t.Fatal(err)
	}
	if err := binning.Normalize(world, []*binning.PowerSpectrumBinning{plain}); err != nil {
		t.Fatal(err)
	}
	for i := range plain.Pofk {
		if plain.Count[i] == 0 {
			continue
		}
		if math.Abs(plain.Pofk[i]-moments[0][0].Pofk[i]) > 1e-9 {
			t.Fatalf("bin %d: monopole %v != bin_up power %v", i, moments[0][0].Pofk[i], plain.Pofk[i])
		}
	}
}

// TestComputePowerSpectrumInterlacingAtZeroShiftMatchesPlainEstimator
// reproduces P4: compute_power_spectrum_interlacing reduces to
// compute_power_spectrum when the shift is zero.
func TestComputePowerSpectrumInterlacingAtZeroShiftMatchesPlainEstimator(t *testing.T) {
	const n = 16
	kernel := assignment.CIC
	pos := []float64{0.3, 0.55, 0.1}

	worldPlain, gridsPlain, streamsPlain := singleRankSetup(t, 3, n, kernel, pos)
	plain, err := binning.New(8, 0, math.Pi, binning.Linear)
	if err != nil {
		t.Fatal(err)
	}
	if err := spectrum.ComputePowerSpectrum(worldPlain, gridsPlain, streamsPlain, kernel, []*binning.PowerSpectrumBinning{plain}); err != nil {
		t.Fatal(err)
	}

	worldInterlaced, gridsA, streamsInterlaced := singleRankSetup(t, 3, n, kernel, pos)
	gridsB := []*grid.Grid{secondGrid(t, gridsA[0], kernel)}
	interlaced, err := binning.New(8, 0, math.Pi, binning.Linear)
	if err != nil {
		t.Fatal(err)
	}
	if err := spectrum.ComputePowerSpectrumInterlacing(worldInterlaced, gridsA, gridsB, streamsInterlaced, kernel, 0.0, []*binning.PowerSpectrumBinning{interlaced}); err != nil {
		t.Fatal(err)
	}

	for i := range plain.Pofk {
		if plain.Count[i] != interlaced.Count[i] {
			t.Fatalf("bin %d: count %v != %v", i, plain.Count[i], interlaced.Count[i])
		}
		if math.Abs(plain.Pofk[i]-interlaced.Pofk[i]) > 1e-9 {
			t.Fatalf("bin %d: plain Pofk %v != zero-shift interlaced Pofk %v", i, plain.Pofk[i], interlaced.Pofk[i])
		}
	}
}

// TestComputePowerSpectrumInterlacingSingleParticleMatchesSpecVector is test
// vector 1 (see TestComputePowerSpectrumSingleParticleMatchesSpecVector) run
// through the standard half-cell-shift interlaced estimator instead of the
// plain one: a single particle's power is still 1/N_part_total^2 before
// shot-noise subtraction, so every bin is ~0 after it.
func TestComputePowerSpectrumInterlacingSingleParticleMatchesSpecVector(t *testing.T) {
	const n = 16
	kernel := assignment.CIC
	world, gridsA, streams := singleRankSetup(t, 3, n, kernel, []float64{0, 0, 0})
	gridsB := []*grid.Grid{secondGrid(t, gridsA[0], kernel)}
	bins, err := binning.New(8, 0, math.Pi, binning.Linear)
	if err != nil {
		t.Fatal(err)
	}
	if err := spectrum.ComputePowerSpectrumInterlacing(world, gridsA, gridsB, streams, kernel, 0.5, []*binning.PowerSpectrumBinning{bins}); err != nil {
		t.Fatal(err)
	}
	for i, count := range bins.Count {
		if count == 0 {
			continue
		}
		if math.Abs(bins.Pofk[i]) > 1e-9 {
			t.Fatalf("bin %d: Pofk = %v want ~0 after shot-noise subtraction", i, bins.Pofk[i])
		}
	}
}

func TestComputePowerSpectrumMultipolesRejectsBadLineOfSight(t *testing.T) {
	const n = 8
	g, err := grid.New(2, n, n, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	g.FillReal(1.0)
	world := cluster.New(1)
	if err := fft.Forward(world, []*grid.Grid{g}); err != nil {
		t.Fatal(err)
	}
	moments := [][]*binning.PowerSpectrumBinning{{mustBinning(t)}}

	if err := spectrum.ComputePowerSpectrumMultipoles(world, []*grid.Grid{g}, []float64{1, 0, 0}, moments); err != spectrum.ErrBadLineOfSight {
		t.Fatalf("wrong dimension: got %v want ErrBadLineOfSight", err)
	}
	if err := spectrum.ComputePowerSpectrumMultipoles(world, []*grid.Grid{g}, []float64{0, 0}, moments); err != spectrum.ErrBadLineOfSight {
		t.Fatalf("zero vector: got %v want ErrBadLineOfSight", err)
	}
}

func mustBinning(t *testing.T) *binning.PowerSpectrumBinning {
	t.Helper()
	b, err := binning.New(4, 0, math.Pi, binning.Linear)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// secondGrid builds gridsB's mesh for the interlaced estimator: a fresh
// StatusReal grid matching other's shape, ghosted for kernel.
func secondGrid(t *testing.T, other *grid.Grid, kernel assignment.Kernel) *grid.Grid {
	t.Helper()
	g, err := grid.New(other.Dim, other.N, other.N, 0, kernel.GhostWidth(), kernel.GhostWidth())
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func locateZero(b *binning.PowerSpectrumBinning) (int, bool) {
	e := b.EdgesForTest()
	nb := len(e) - 1
	i := int(float64(nb) * (0 - e[0]) / (e[nb] - e[0]))
	if i >= nb {
		i = nb - 1
	}
	return i, true
}
