// Package polyspectrum implements the multi-grid isotropic n-point
// estimator of §4.7: per-bin shell fields F_i/N_i built in Fourier space
// and inverse-FFT'd to real space, an ordered-tuple sum over real-space
// cells re-using those fields across every tuple, the reduced bispectrum
// division for the n=3 case, and symmetry fill across non-canonical tuple
// orderings. Grounded on convolution.go's Fourier-domain masking followed
// by an inverse FFT — the same per-shell masking step is simply run once
// per bin here instead of once for a single PSF.
package polyspectrum

import (
	"math"
	"sort"

	"github.com/cosmicflow/polyspectra/binning"
	"github.com/cosmicflow/polyspectra/cluster"
	"github.com/cosmicflow/polyspectra/fft"
	"github.com/cosmicflow/polyspectra/grid"
)

// ShellFields holds one bin's real-space F_i(x) and N_i(x) fields for a
// single rank's owned cells.
type ShellFields struct {
	F *grid.Grid
	N *grid.Grid
}

// BuildShellFields constructs, inverse-FFTs, and statistically accumulates
// the §4.7 step-1 shell fields for every bin of bins (one entry per rank,
// in rank order, matching delta): F_i is delta masked to zero outside
// shell i, N_i is the shell's {0,1} indicator, both inverse-FFT'd to real
// space. <k>_i and the in-shell power <|delta|^2>_i (bins[r].Pofk1D)
// accumulate as a byproduct and are already all-reduce normalized when
// this returns.
func BuildShellFields(world *cluster.World, delta []*grid.Grid, bins []*binning.PolyspectrumBinning) ([][]ShellFields, error) {
	nb := bins[0].NBins
	fGrids := make([][]*grid.Grid, len(delta))
	nGrids := make([][]*grid.Grid, len(delta))

	if err := world.RunOnAllRanks(func(r int) error {
		d := delta[r]
		bins[r].Reset()
		fGrids[r] = make([]*grid.Grid, nb)
		nGrids[r] = make([]*grid.Grid, nb)
		for i := 0; i < nb; i++ {
			fGrids[r][i] = d.Clone()
			nGrids[r][i] = d.Clone()
		}
		d.ForEachOwnedFourier(func(idx []int) {
			_, norm := d.WavevectorAndNorm(idx)
			amp := d.GetFourier(idx)
			power := real(amp)*real(amp) + imag(amp)*imag(amp)
			shell, ok := bins[r].Locate1D(norm)
			for bi := 0; bi < nb; bi++ {
				if ok && bi == shell {
					fGrids[r][bi].SetFourier(idx, amp)
					nGrids[r][bi].SetFourier(idx, complex(1, 0))
				} else {
					fGrids[r][bi].SetFourier(idx, 0)
					nGrids[r][bi].SetFourier(idx, 0)
				}
			}
			if ok {
				bins[r].AddShellStat(shell, norm, power, 1)
			}
		})
		return nil
	}); err != nil {
		return nil, err
	}
	if err := binning.NormalizePolyspectrum(world, bins); err != nil {
		return nil, err
	}

	for i := 0; i < nb; i++ {
		perRankF := make([]*grid.Grid, len(delta))
		perRankN := make([]*grid.Grid, len(delta))
		for r := range delta {
			perRankF[r] = fGrids[r][i]
			perRankN[r] = nGrids[r][i]
		}
		if err := fft.Inverse(world, perRankF); err != nil {
			return nil, err
		}
		if err := fft.Inverse(world, perRankN); err != nil {
			return nil, err
		}
	}

	shells := make([][]ShellFields, len(delta))
	for r := range delta {
		shells[r] = make([]ShellFields, nb)
		for i := 0; i < nb; i++ {
			shells[r][i] = ShellFields{F: fGrids[r][i], N: nGrids[r][i]}
		}
	}
	return shells, nil
}

// ComputePolyspectrum runs §4.7 in full: builds the shell fields, sums
// every admissible ordered tuple over real-space cells, all-reduces,
// divides F/N (clamping N<0 from round-off to 0), applies the reduced
// bispectrum division for arity 3, and fills every non-canonical tuple
// ordering by symmetry. bins must share NBins/Arity/Scale/range and have
// one entry per rank, matching delta.
func ComputePolyspectrum(world *cluster.World, delta []*grid.Grid, bins []*binning.PolyspectrumBinning) error {
	dim := delta[0].Dim
	n := delta[0].N
	arity := bins[0].Arity
	nb := bins[0].NBins

	shells, err := BuildShellFields(world, delta, bins)
	if err != nil {
		return err
	}

	tuples := enumerateTuples(nb, arity, bins[0])
	localF := make([][]float64, len(delta))
	localN := make([][]float64, len(delta))
	normFactor := math.Pow(1/(2*math.Pi*float64(n)), float64(dim))

	if err := world.RunOnAllRanks(func(r int) error {
		localF[r] = make([]float64, len(tuples))
		localN[r] = make([]float64, len(tuples))
		for ti, tup := range tuples {
			var fSum, nSum float64
			shells[r][tup[0]].F.ForEachOwnedReal(func(coord []int) {
				fProd, nProd := 1.0, 1.0
				for _, bi := range tup {
					fProd *= shells[r][bi].F.GetReal(coord)
					nProd *= shells[r][bi].N.GetReal(coord)
				}
				fSum += fProd
				nSum += nProd
			})
			localF[r][ti] = fSum * normFactor
			localN[r][ti] = nSum * normFactor
		}
		return nil
	}); err != nil {
		return err
	}

	redF, err := cluster.AllReduceSumFloat64(localF)
	if err != nil {
		return err
	}
	redN, err := cluster.AllReduceSumFloat64(localN)
	if err != nil {
		return err
	}

	for ti, tup := range tuples {
		nVal := redN[ti]
		if nVal < 0 {
			nVal = 0
		}
		var p float64
		if nVal > 0 {
			p = redF[ti] / nVal
		}
		if arity == 3 {
			p1, p2, p3 := bins[0].Pofk1D[tup[0]], bins[0].Pofk1D[tup[1]], bins[0].Pofk1D[tup[2]]
			denom := p1*p2 + p2*p3 + p3*p1
			if denom != 0 {
				p /= denom
			}
		}
		for _, b := range bins {
			b.SetTuple(tup, p)
		}
	}

	for _, b := range bins {
		symmetrize(b, nb, arity)
	}
	return nil
}

// enumerateTuples returns every non-decreasing tuple (i1<=...<=in) of
// length arity over [0,nb) satisfying §4.7's triangle-inequality
// generalization: sum of the first arity-1 bins' k >= the last bin's k
// minus arity*Delta_k/2.
func enumerateTuples(nb, arity int, b *binning.PolyspectrumBinning) [][]int {
	var out [][]int
	tup := make([]int, arity)
	var rec func(pos, minIdx int)
	rec = func(pos, minIdx int) {
		if pos == arity {
			last := tup[arity-1]
			sum := 0.0
			for a := 0; a < arity-1; a++ {
				sum += b.KBin[tup[a]]
			}
			threshold := b.KBin[last] - float64(arity)*b.BinWidth(last)/2
			if sum >= threshold {
				out = append(out, append([]int(nil), tup...))
			}
			return
		}
		for i := minIdx; i < nb; i++ {
			tup[pos] = i
			rec(pos+1, i)
		}
	}
	rec(0, 0)
	return out
}

// symmetrize fills every tuple ordering (not just the canonical
// non-decreasing one) by copying its sorted tuple's value (§4.7 step 4).
func symmetrize(b *binning.PolyspectrumBinning, nb, arity int) {
	idx := make([]int, arity)
	var rec func(pos int)
	rec = func(pos int) {
		if pos == arity {
			canonical := append([]int(nil), idx...)
			sort.Ints(canonical)
			ci := b.Index(canonical)
			ii := b.Index(idx)
			b.P123[ii] = b.P123[ci]
			b.Computed[ii] = b.Computed[ci]
			return
		}
		for i := 0; i < nb; i++ {
			idx[pos] = i
			rec(pos + 1)
		}
	}
	rec(0)
}
