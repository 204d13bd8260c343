// Package spectrum implements the power-spectrum estimator: bin_up's
// Hermitian-aware mode counting, the scatter->FFT->deconvolve->bin pipeline
// for compute_power_spectrum, its interlaced and direct-summation variants,
// and grid- and particle-based multipole projection. Grounded on
// convolution.go's spectral-domain multiply-then-invert structure — this
// package's scatter->FFT->deconvolve->bin chain is the same pipeline shape
// applied to mode-counting statistics instead of a single PSF convolution.
package spectrum

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/cosmicflow/polyspectra/assignment"
	"github.com/cosmicflow/polyspectra/binning"
	"github.com/cosmicflow/polyspectra/cluster"
	"github.com/cosmicflow/polyspectra/fft"
	"github.com/cosmicflow/polyspectra/grid"
	"github.com/cosmicflow/polyspectra/particle"
)

// ErrPrecondition is returned by ComputePowerSpectrumDirectSummation when
// the caller has not guaranteed every rank holds every particle.
var ErrPrecondition = errors.New("spectrum: direct summation requires every rank to hold every particle")

// ErrBadLineOfSight is returned by ComputePowerSpectrumMultipoles when los
// is the wrong dimension or has zero length (spec EBadLineOfSight).
var ErrBadLineOfSight = errors.New("spectrum: line-of-sight vector is zero-length or has the wrong dimension")

// packedWeight is bin_up's Hermitian-conjugate-pair reconstruction weight:
// 2 for interior planes of the packed axis, 1 for the DC/Nyquist planes.
func packedWeight(lastIdx, n int) float64 {
	if lastIdx > 0 && lastIdx < n/2 {
		return 2
	}
	return 1
}

// BinUp iterates g's owned Fourier cells and accumulates |delta(k)|^2 into
// b at the bin of |k|, weighted per packedWeight (§4.6).
func BinUp(g *grid.Grid, b *binning.PowerSpectrumBinning) {
	g.ForEachOwnedFourier(func(idx []int) {
		_, norm := g.WavevectorAndNorm(idx)
		amp := g.GetFourier(idx)
		power := real(amp)*real(amp) + imag(amp)*imag(amp)
		b.Add(norm, power, packedWeight(idx[g.Dim-1], g.N))
	})
}

// ComputePowerSpectrum runs the full §4.6 pipeline across every rank:
// scatter, flush scatter spillover, forward FFT, deconvolve, bin_up,
// all-reduce normalize, and shot-noise subtraction. bins must have one
// entry per rank, already constructed with the desired binning shape.
func ComputePowerSpectrum(world *cluster.World, grids []*grid.Grid, streams []*particle.Stream, kernel assignment.Kernel, bins []*binning.PowerSpectrumBinning) error {
	if err := world.RunOnAllRanks(func(r int) error {
		return assignment.Scatter(grids[r], streams[r], kernel)
	}); err != nil {
		return err
	}
	if err := assignment.ExchangeScatterSpillover(world, grids); err != nil {
		return err
	}
	if err := fft.Forward(world, grids); err != nil {
		return err
	}
	if err := world.RunOnAllRanks(func(r int) error {
		if err := assignment.Deconvolve(grids[r], kernel); err != nil {
			return err
		}
		bins[r].Reset()
		BinUp(grids[r], bins[r])
		return nil
	}); err != nil {
		return err
	}
	if err := binning.Normalize(world, bins); err != nil {
		return err
	}
	nTotal := streams[0].NTotal
	for _, b := range bins {
		b.SubtractShotNoise(nTotal)
	}
	return nil
}

// ComputePowerSpectrumInterlacing performs two scatters — gridsB's particles
// shifted by shiftFraction/N on every axis (the standard choice is 0.5, a
// half-cell shift) — combines their spectra with the corresponding phase
// correction, deconvolves once, and bins (§4.6). gridsA and gridsB must
// each have one StatusReal grid per rank, matching partition. At
// shiftFraction 0 this reduces to ComputePowerSpectrum (§8 P4): gridsB sees
// the same unshifted particles as gridsA, the phase correction is the
// identity, and the 0.5*(ga+gb) combination collapses to ga.
func ComputePowerSpectrumInterlacing(world *cluster.World, gridsA, gridsB []*grid.Grid, streams []*particle.Stream, kernel assignment.Kernel, shiftFraction float64, bins []*binning.PowerSpectrumBinning) error {
	dim := gridsA[0].Dim
	n := gridsA[0].N
	shift := make([]float64, dim)
	for a := range shift {
		shift[a] = shiftFraction / float64(n)
	}
	shiftedStreams := make([]*particle.Stream, len(streams))
	for i, s := range streams {
		shiftedStreams[i] = s.Shifted(shift)
	}
	if err := world.RunOnAllRanks(func(r int) error {
		if err := assignment.Scatter(gridsA[r], streams[r], kernel); err != nil {
			return err
		}
		return assignment.Scatter(gridsB[r], shiftedStreams[r], kernel)
	}); err != nil {
		return err
	}
	if err := assignment.ExchangeScatterSpillover(world, gridsA); err != nil {
		return err
	}
	if err := assignment.ExchangeScatterSpillover(world, gridsB); err != nil {
		return err
	}
	if err := fft.Forward(world, gridsA); err != nil {
		return err
	}
	if err := fft.Forward(world, gridsB); err != nil {
		return err
	}
	combined := make([]*grid.Grid, len(gridsA))
	if err := world.RunOnAllRanks(func(r int) error {
		ga, gb := gridsA[r], gridsB[r]
		c := ga.Clone()
		c.ForEachOwnedFourier(func(idx []int) {
			k, _ := ga.WavevectorAndNorm(idx)
			sum := 0.0
			for _, kc := range k {
				sum += kc
			}
			// k as reported by WavevectorAndNorm already carries §3's 1/N
			// factor, so the physical phase e^{i(sum k_j)*shiftFraction/N}
			// reduces to e^{i(sum k)*shiftFraction} in these units.
			phase := sum * shiftFraction
			factor := cmplx.Exp(complex(0, phase))
			v := 0.5 * (ga.GetFourier(idx) + factor*gb.GetFourier(idx))
			c.SetFourier(idx, v)
		})
		if err := assignment.Deconvolve(c, kernel); err != nil {
			return err
		}
		bins[r].Reset()
		BinUp(c, bins[r])
		combined[r] = c
		return nil
	}); err != nil {
		return err
	}
	if err := binning.Normalize(world, bins); err != nil {
		return err
	}
	for _, b := range bins {
		b.SubtractShotNoise(streams[0].NTotal)
	}
	return nil
}

// ComputePowerSpectrumDirectSummation evaluates delta(k) by direct
// particle summation instead of a mesh assignment. allRanksHaveAllParticles
// must be true, loudly (§4.6): the result is meaningless if any rank's
// stream is only a partition of the global particle set, so this function
// refuses to run rather than silently produce a partial sum.
func ComputePowerSpectrumDirectSummation(world *cluster.World, grids []*grid.Grid, streams []*particle.Stream, allRanksHaveAllParticles bool, bins []*binning.PowerSpectrumBinning) error {
	if !allRanksHaveAllParticles {
		return ErrPrecondition
	}
	if err := world.RunOnAllRanks(func(r int) error {
		g := grids[r]
		if g.Status() != grid.StatusFourier {
			return grid.ErrStateMismatch
		}
		nPart := streams[r].NTotal
		bins[r].Reset()
		g.ForEachOwnedFourier(func(idx []int) {
			k, norm := g.WavevectorAndNorm(idx)
			var sum complex128
			for _, p := range streams[r].Local {
				// k is in grid units (2*pi*j'/N) while positions are in
				// box units [0,1), so the phase carries a factor of N.
				var dot float64
				for a := 0; a < g.Dim; a++ {
					dot += k[a] * p.Position[a] * float64(g.N)
				}
				sum += cmplx.Exp(complex(0, -dot))
			}
			delta := sum / complex(float64(nPart), 0)
			if norm < 1e-12 {
				delta -= 1
			}
			power := real(delta)*real(delta) + imag(delta)*imag(delta)
			bins[r].Add(norm, power, packedWeight(idx[g.Dim-1], g.N))
		})
		return nil
	}); err != nil {
		return err
	}
	if err := binning.Normalize(world, bins); err != nil {
		return err
	}
	for _, b := range bins {
		b.SubtractShotNoise(streams[0].NTotal)
	}
	return nil
}

// ComputePowerSpectrumMultipoles accumulates <|delta|^2 mu^m> per k-bin
// (§4.6 step 1, using the same packed-axis weighting as BinUp), all-reduce
// normalizes each moment across ranks, then projects the moments to
// Legendre multipoles P_ell in place. perRankMoments[r][m] must be a
// distinct PowerSpectrumBinning instance per rank r and moment order m
// (0..lmax); after this call every perRankMoments[r][l].Pofk holds P_l(k),
// identical across ranks.
func ComputePowerSpectrumMultipoles(world *cluster.World, grids []*grid.Grid, los []float64, perRankMoments [][]*binning.PowerSpectrumBinning) error {
	if len(los) != grids[0].Dim {
		return ErrBadLineOfSight
	}
	var losNormSq float64
	for _, c := range los {
		losNormSq += c * c
	}
	if losNormSq == 0 {
		return ErrBadLineOfSight
	}
	lmax := len(perRankMoments[0]) - 1
	if err := world.RunOnAllRanks(func(r int) error {
		g := grids[r]
		for _, mb := range perRankMoments[r] {
			mb.Reset()
		}
		g.ForEachOwnedFourier(func(idx []int) {
			k, norm := g.WavevectorAndNorm(idx)
			amp := g.GetFourier(idx)
			power := real(amp)*real(amp) + imag(amp)*imag(amp)
			w := packedWeight(idx[g.Dim-1], g.N)
			mu := 0.0
			if norm > 1e-12 {
				var dot float64
				for a := range k {
					dot += k[a] * los[a]
				}
				mu = dot / norm
			}
			for m := 0; m <= lmax; m++ {
				perRankMoments[r][m].Add(norm, power*math.Pow(mu, float64(m)), w)
			}
		})
		return nil
	}); err != nil {
		return err
	}
	for m := 0; m <= lmax; m++ {
		col := make([]*binning.PowerSpectrumBinning, len(perRankMoments))
		for r := range perRankMoments {
			col[r] = perRankMoments[r][m]
		}
		if err := binning.Normalize(world, col); err != nil {
			return err
		}
	}
	for _, moments := range perRankMoments {
		projectLegendre(moments)
	}
	return nil
}

// projectLegendre overwrites moments[l].Pofk in place with P_l(k), per
// §4.6 step 3: P_l = sum_{m=0}^{floor(l/2)} c_{l,m} * moment[l-2m].
func projectLegendre(moments []*binning.PowerSpectrumBinning) {
	lmax := len(moments) - 1
	nb := moments[0].NBins
	projected := make([][]float64, lmax+1)
	for l := range projected {
		projected[l] = make([]float64, nb)
	}
	for bi := 0; bi < nb; bi++ {
		raw := make([]float64, lmax+1)
		for m := 0; m <= lmax; m++ {
			raw[m] = moments[m].Pofk[bi]
		}
		for l := 0; l <= lmax; l++ {
			var sum float64
			for m := 0; m <= l/2; m++ {
				sum += legendreProjectionCoeff(l, m) * raw[l-2*m]
			}
			projected[l][bi] = sum
		}
	}
	for l := 0; l <= lmax; l++ {
		copy(moments[l].Pofk, projected[l])
	}
}

// legendreProjectionCoeff is c_{l,m} = (-1)^m * C(l,m) * C(2l-2m,l) / 2^l.
func legendreProjectionCoeff(l, m int) float64 {
	sign := 1.0
	if m%2 == 1 {
		sign = -1.0
	}
	return sign * combin.Binomial(l, m) * combin.Binomial(2*l-2*m, l) / math.Pow(2, float64(l))
}

// ComputeParticleMultipoles implements the particle-based multipole
// estimator (§4.6): for each coordinate axis (or only axis 0, if
// averageAxes is false — Open Question §9.1), shift every particle along
// that axis by its own velocity component times kappa, scatter, FFT,
// deconvolve, compute grid multipoles against that axis as the
// line-of-sight, then average the per-axis results and subtract shot noise
// from the monopole. grids must be a fresh StatusReal set per rank for
// scratch use; streams is left unmodified.
func ComputeParticleMultipoles(world *cluster.World, grids []*grid.Grid, streams []*particle.Stream, kernel assignment.Kernel, kappa float64, lmax int, averageAxes bool, newBinning func() (*binning.PowerSpectrumBinning, error)) ([]*binning.PowerSpectrumBinning, error) {
	dim := grids[0].Dim
	axes := []int{0}
	if averageAxes {
		axes = make([]int, dim)
		for a := range axes {
			axes[a] = a
		}
	}

	accum := make([]*binning.PowerSpectrumBinning, lmax+1)
	for m := range accum {
		b, err := newBinning()
		if err != nil {
			return nil, err
		}
		accum[m] = b
	}

	for _, axis := range axes {
		shiftedStreams := make([]*particle.Stream, len(streams))
		for r, s := range streams {
			shiftedStreams[r] = s.ShiftedByVelocity(axis, kappa)
		}
		if err := world.RunOnAllRanks(func(r int) error {
			grids[r].FillReal(0)
			grids[r].TransitionToReal()
			return assignment.Scatter(grids[r], shiftedStreams[r], kernel)
		}); err != nil {
			return nil, err
		}
		if err := assignment.ExchangeScatterSpillover(world, grids); err != nil {
			return nil, err
		}
		if err := fft.Forward(world, grids); err != nil {
			return nil, err
		}
		if err := world.RunOnAllRanks(func(r int) error {
			return assignment.Deconvolve(grids[r], kernel)
		}); err != nil {
			return nil, err
		}
		los := make([]float64, dim)
		los[axis] = 1
		perRankMoments := make([][]*binning.PowerSpectrumBinning, len(grids))
		for r := range perRankMoments {
			perRankMoments[r] = make([]*binning.PowerSpectrumBinning, lmax+1)
			for m := range perRankMoments[r] {
				b, err := newBinning()
				if err != nil {
					return nil, err
				}
				perRankMoments[r][m] = b
			}
		}
		if err := ComputePowerSpectrumMultipoles(world, grids, los, perRankMoments); err != nil {
			return nil, err
		}
		for l := range accum {
			floatsAddInto(accum[l].Pofk, perRankMoments[0][l].Pofk)
			copy(accum[l].KBin, perRankMoments[0][l].KBin)
		}
	}

	naxes := float64(len(axes))
	for l := range accum {
		for i := range accum[l].Pofk {
			accum[l].Pofk[i] /= naxes
		}
	}
	accum[0].SubtractShotNoise(streams[0].NTotal)
	return accum, nil
}

func floatsAddInto(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}
