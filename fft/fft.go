// Package fft drives the forward and inverse real-to-complex transform of a
// grid.Grid. Since the pack carries no distributed FFT library (and none
// would be idiomatic to fabricate), each transform is itself a cluster
// collective: owned real (or Fourier) data is all-gathered into one global
// array, transformed axis by axis with gonum's FFT routines exactly as the
// teacher's convolution.go does row-then-column, and the result is
// scattered back to each rank's owned range.
package fft

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/cosmicflow/polyspectra/cluster"
	"github.com/cosmicflow/polyspectra/grid"
)

// ErrStateMismatch aliases grid.ErrStateMismatch for callers that only
// import fft.
var ErrStateMismatch = grid.ErrStateMismatch

// Forward executes a distributed real-to-complex FFT over every rank's
// grid. Every grid must be StatusReal and share the same Dim/N. On success
// every grid transitions to StatusFourier (I2) with sum_real = N^d *
// amplitude(k=0) preserved on the owner of k=0 (I3, rank 0).
func Forward(world *cluster.World, grids []*grid.Grid) error {
	if err := checkGrids(world, grids, grid.StatusReal); err != nil {
		return err
	}
	g0 := grids[0]
	global, err := gatherGlobalReal(g0, grids)
	if err != nil {
		return err
	}
	spectrum := realToComplexND(global, g0.Dim, g0.N)
	return world.RunOnAllRanks(func(r int) error {
		g := grids[r]
		g.TransitionToFourier()
		g.SetOwnedFourier(sliceOwnedFourier(spectrum, g))
		return nil
	})
}

// Inverse executes the conjugate-normalized inverse transform, so that
// Forward followed by Inverse (or vice versa) is the identity up to
// cell-count-scaled round-off (P1).
func Inverse(world *cluster.World, grids []*grid.Grid) error {
	if err := checkGrids(world, grids, grid.StatusFourier); err != nil {
		return err
	}
	g0 := grids[0]
	global, err := gatherGlobalFourier(g0, grids)
	if err != nil {
		return err
	}
	real := complexToRealND(global, g0.Dim, g0.N)
	return world.RunOnAllRanks(func(r int) error {
		g := grids[r]
		g.SetOwnedReal(sliceOwnedReal(real, g))
		g.TransitionToReal()
		return nil
	})
}

func checkGrids(world *cluster.World, grids []*grid.Grid, want grid.Status) error {
	if len(grids) != world.Size() {
		return fmt.Errorf("fft: %d grids given for a world of size %d", len(grids), world.Size())
	}
	for i, g := range grids {
		if g.Status() != want {
			return fmt.Errorf("%w: grid %d is %s, need %s", ErrStateMismatch, i, g.Status(), want)
		}
		if g.Dim != grids[0].Dim || g.N != grids[0].N {
			return errors.New("fft: grids disagree on dimension or size")
		}
	}
	return nil
}

// gatherGlobalReal concatenates every rank's owned real planes, in rank
// (and therefore global-x) order, into one flat N^Dim buffer.
func gatherGlobalReal(shape *grid.Grid, grids []*grid.Grid) ([]float64, error) {
	ps := shape.PlaneSize()
	out := make([]float64, shape.N*ps)
	for _, g := range grids {
		owned := g.OwnedReal()
		copy(out[g.LocalXStart*ps:(g.LocalXStart+g.LocalNx)*ps], owned)
	}
	return out, nil
}

func sliceOwnedFourier(global []complex128, g *grid.Grid) []complex128 {
	fps := g.FourierPlaneSize()
	start := g.LocalXStart * fps
	return append([]complex128(nil), global[start:start+g.LocalNx*fps]...)
}

func gatherGlobalFourier(shape *grid.Grid, grids []*grid.Grid) ([]complex128, error) {
	fps := shape.FourierPlaneSize()
	out := make([]complex128, shape.N*fps)
	for _, g := range grids {
		owned := g.OwnedFourier()
		copy(out[g.LocalXStart*fps:(g.LocalXStart+g.LocalNx)*fps], owned)
	}
	return out, nil
}

func sliceOwnedReal(global []float64, g *grid.Grid) []float64 {
	ps := g.PlaneSize()
	start := g.LocalXStart * ps
	return append([]float64(nil), global[start:start+g.LocalNx*ps]...)
}

// realToComplexND transforms a real N^dim array into its Hermitian-packed
// spectrum: a real-to-complex FFT (gonum's fourier.FFT) along the last axis,
// then a complex-to-complex FFT (fourier.CmplxFFT) along every other axis —
// the teacher's convolution.go fft2InPlace row/column loop generalized from
// 2 to dim axes. gonum's transforms are raw/unnormalized (a round trip
// scales by n per axis transformed); §4.2 requires sum_real = N^d *
// amplitude(k=0), i.e. the forward transform itself must carry the 1/N^d
// normalization, so it is divided out once here and the inverse below
// applies no further scaling.
func realToComplexND(data []float64, dim, n int) []complex128 {
	packed := n/2 + 1
	outerCount := ipow(n, dim-1) // number of "rows" of length n along the last axis
	complexBuf := make([]complex128, outerCount*packed)

	lastFFT := fourier.NewFFT(n)
	row := make([]float64, n)
	for r := 0; r < outerCount; r++ {
		copy(row, data[r*n:(r+1)*n])
		coeffs := lastFFT.Coefficients(nil, row)
		copy(complexBuf[r*packed:(r+1)*packed], coeffs)
	}

	// Now complexBuf has shape [n]*(dim-1) x packed, row-major, with the
	// transformed axis last. Run a complex-to-complex FFT over each of the
	// remaining dim-1 axes in turn.
	for axis := 0; axis < dim-1; axis++ {
		transformAxisComplex(complexBuf, dim-1, n, packed, axis, true)
	}

	scale := complex(1.0/float64(ipow(n, dim)), 0)
	for i := range complexBuf {
		complexBuf[i] *= scale
	}
	return complexBuf
}

// complexToRealND is the conjugate-normalized inverse of realToComplexND: it
// applies gonum's raw (unnormalized) inverse transforms with no additional
// division, since realToComplexND already folded the full 1/N^d factor into
// the forward direction.
func complexToRealND(spectrum []complex128, dim, n int) []float64 {
	packed := n/2 + 1
	buf := append([]complex128(nil), spectrum...)
	for axis := dim - 2; axis >= 0; axis-- {
		transformAxisComplex(buf, dim-1, n, packed, axis, false)
	}

	outerCount := ipow(n, dim-1)
	out := make([]float64, outerCount*n)
	lastFFT := fourier.NewFFT(n)
	coeffs := make([]complex128, packed)
	for r := 0; r < outerCount; r++ {
		copy(coeffs, buf[r*packed:(r+1)*packed])
		seq := lastFFT.Sequence(nil, coeffs)
		copy(out[r*n:(r+1)*n], seq)
	}
	return out
}

// transformAxisComplex runs a 1D complex FFT (forward or inverse) along
// `axis` of a (leadingDims x packed) row-major buffer, where leadingDims is
// `leading` copies of extent n (axis in [0,leading)) and the trailing axis
// has extent `packed` and is never transformed here.
func transformAxisComplex(buf []complex128, leading, n, packed int, axis int, forward bool) {
	dims := make([]int, leading+1)
	for i := 0; i < leading; i++ {
		dims[i] = n
	}
	dims[leading] = packed
	strides := make([]int, leading+1)
	acc := 1
	for i := leading; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}

	t := fourier.NewCmplxFFT(n)
	line := make([]complex128, n)
	total := len(buf)
	axisStride := strides[axis]
	axisExtent := dims[axis]

	// Walk every combination of the other axes' indices; a flat offset
	// starts a line iff its own index along `axis` is 0.
	for start := 0; start < total; start++ {
		if (start/axisStride)%axisExtent != 0 {
			continue
		}
		for i := 0; i < axisExtent; i++ {
			line[i] = buf[start+i*axisStride]
		}
		if forward {
			t.Coefficients(line, line)
		} else {
			t.Sequence(line, line)
		}
		for i := 0; i < axisExtent; i++ {
			buf[start+i*axisStride] = line[i]
		}
	}
}

func ipow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}
