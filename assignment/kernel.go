// Package assignment implements the density-assignment pipeline: scattering
// a particle.Stream onto a grid.Grid with a chosen mass-assignment kernel,
// and deconvolving that kernel's window from a grid already in the Fourier
// view. Grounded on convolution.go's padding-aware, kernel-as-a-named-type
// treatment of a discrete convolution, generalized here from one fixed
// stencil to the four assignment kernels of §4.4.
package assignment

import (
	"errors"
	"math"

	"github.com/cosmicflow/polyspectra/cluster"
	"github.com/cosmicflow/polyspectra/grid"
	"github.com/cosmicflow/polyspectra/particle"
)

// Kernel is a mass-assignment scheme name.
type Kernel string

const (
	NGP Kernel = "NGP"
	CIC Kernel = "CIC"
	TSC Kernel = "TSC"
	PCS Kernel = "PCS"
)

// ErrUnknownKernel is returned by Parse for any name other than the four
// recognized kernels (spec EUnknownKernel).
var ErrUnknownKernel = errors.New("assignment: unknown kernel")

// Parse validates a kernel name, the string form accepted at configuration
// boundaries.
func Parse(name string) (Kernel, error) {
	switch Kernel(name) {
	case NGP, CIC, TSC, PCS:
		return Kernel(name), nil
	default:
		return "", ErrUnknownKernel
	}
}

// Support is the kernel's support radius s in cell units (§4.4).
func (k Kernel) Support() float64 {
	switch k {
	case NGP:
		return 0
	case CIC:
		return 1
	case TSC:
		return 1.5
	case PCS:
		return 2
	default:
		return 0
	}
}

// GhostWidth is ceil(s), the ghost-slab width each side needs to support a
// scatter or deconvolution with this kernel (§4.4).
func (k Kernel) GhostWidth() int {
	return int(math.Ceil(k.Support()))
}

// cellWeight returns the list of (cell offset from floor(gc), weight) pairs
// a single coordinate gc (a particle position already multiplied by N)
// contributes to, for this kernel.
func (k Kernel) cellWeight(gc float64) []struct {
	cell   int
	weight float64
} {
	type cw = struct {
		cell   int
		weight float64
	}
	switch k {
	case NGP:
		c := int(math.Floor(gc + 0.5))
		return []cw{{c, 1}}
	case CIC:
		c0 := int(math.Floor(gc))
		frac := gc - float64(c0)
		return []cw{
			{c0, 1 - frac},
			{c0 + 1, frac},
		}
	case TSC:
		center := int(math.Floor(gc + 0.5))
		d := gc - float64(center)
		return []cw{
			{center - 1, 0.5 * (0.5 - d) * (0.5 - d)},
			{center, 0.75 - d*d},
			{center + 1, 0.5 * (0.5 + d) * (0.5 + d)},
		}
	case PCS:
		c0 := int(math.Floor(gc))
		t := gc - float64(c0)
		return []cw{
			{c0 - 1, cubicBSpline0(t)},
			{c0, cubicBSpline1(t)},
			{c0 + 1, cubicBSpline2(t)},
			{c0 + 2, cubicBSpline3(t)},
		}
	default:
		return nil
	}
}

func cubicBSpline0(t float64) float64 { return (1 - t) * (1 - t) * (1 - t) / 6 }
func cubicBSpline1(t float64) float64 { return (3*t*t*t - 6*t*t + 4) / 6 }
func cubicBSpline2(t float64) float64 { return (-3*t*t*t + 3*t*t + 3*t + 1) / 6 }
func cubicBSpline3(t float64) float64 { return t * t * t / 6 }

// windowFactor is sinc(y) = sin(y)/y with the removable singularity at 0
// handled, raised to the given exponent; one factor of §4.4's
// Ŵ(k) = prod sinc^(s+1)(k_j/(2N)).
//
// grid.WavevectorAndNorm already reports components normalized as
// 2*pi*j'/N, i.e. 1/N times §3's literal k_j = 2*pi*j'; §4.4's argument
// k_j/(2N) therefore equals half of the normalized component this package
// receives.
func windowFactor(kComponent float64, exponent float64) float64 {
	y := kComponent / 2
	var s float64
	if math.Abs(y) < 1e-12 {
		s = 1
	} else {
		s = math.Sin(y) / y
	}
	return math.Pow(s, exponent)
}

// Scatter deposits stream's local particles onto g (which must be in
// StatusReal) with weight 1/NTotal per particle, spread over the kernel's
// support via AddReal. Coordinates landing in a ghost plane are written
// there; the caller must follow Scatter on every rank with a
// cluster.ExchangeAccumulate call (passing each rank's Grid) before the next
// collective reads owned data, so that spillover is folded into the
// neighboring rank's owned cells rather than left stranded in a ghost plane
// a copy-based exchange would silently discard (§4.3, §5 atomic-accumulate
// requirement).
func Scatter(g *grid.Grid, stream *particle.Stream, k Kernel) error {
	if g.Status() != grid.StatusReal {
		return grid.ErrStateMismatch
	}
	if stream.NTotal <= 0 {
		return errors.New("assignment: stream NTotal must be positive")
	}
	w := 1.0 / float64(stream.NTotal)
	ghost := k.GhostWidth()
	for _, p := range stream.Local {
		axisCells := make([][]struct {
			cell   int
			weight float64
		}, g.Dim)
		for a := 0; a < g.Dim; a++ {
			gc := p.Position[a] * float64(g.N)
			axisCells[a] = k.cellWeight(gc)
		}
		depositND(g, axisCells, 0, make([]int, g.Dim), 1, w, ghost)
	}
	return nil
}

func depositND(g *grid.Grid, axisCells [][]struct {
	cell   int
	weight float64
}, axis int, coord []int, weight, particleWeight float64, ghost int) {
	if axis == g.Dim {
		g.AddReal(coord, particleWeight*weight)
		return
	}
	for _, cw := range axisCells[axis] {
		c := cw.cell
		if axis == 0 {
			// axis 0 is the partitioned axis: translate the global cell
			// index into this rank's local coordinate and skip whatever
			// falls outside the ghost range entirely (another rank owns
			// it and will deposit its own copy of this particle).
			local := c - g.LocalXStart
			if local < -ghost || local >= g.LocalNx+ghost {
				continue
			}
			coord[0] = local
		} else {
			coord[axis] = c
		}
		depositND(g, axisCells, axis+1, coord, weight*cw.weight, particleWeight, ghost)
	}
}

// Deconvolve divides every owned Fourier cell of g (which must be in
// StatusFourier) by the kernel's window Ŵ(k), skipping cells where
// |Ŵ(k)| falls below the round-off threshold eps rather than amplifying
// noise there (§4.4).
func Deconvolve(g *grid.Grid, k Kernel) error {
	if g.Status() != grid.StatusFourier {
		return grid.ErrStateMismatch
	}
	const eps = 1e-12
	exponent := k.Support() + 1
	g.ForEachOwnedFourier(func(idx []int) {
		kvec, _ := g.WavevectorAndNorm(idx)
		window := 1.0
		for _, kc := range kvec {
			window *= windowFactor(kc, exponent)
		}
		if math.Abs(window) < eps {
			return
		}
		g.SetFourier(idx, g.GetFourier(idx)/complex(window, 0))
	})
	return nil
}

// ExchangeScatterSpillover is the collective step Scatter's doc comment
// requires: it flushes every rank's ghost-plane deposits into the owning
// neighbor's boundary cells. Call it once after every rank has scattered,
// before the next collective.
func ExchangeScatterSpillover(world *cluster.World, grids []*grid.Grid) error {
	halos := make([]cluster.HaloAccumulator, len(grids))
	for i, g := range grids {
		halos[i] = g
	}
	return world.ExchangeAccumulate(halos)
}
