// Package binning implements the radial accumulators that every spectrum
// and polyspectrum estimator bins its Fourier-mode samples into: linear or
// logarithmic k-shells, accumulated per worker and reduced to a shared
// result by an all-reduce over the owning cluster.World. Grounded on
// ellipseFuncs.go's Linspace for bin-edge construction, generalized here to
// an optional log-spaced variant.
package binning

import (
	"errors"
	"math"

	"github.com/cosmicflow/polyspectra/cluster"
	"gonum.org/v1/gonum/floats"
)

// Scale selects a binning's locator: k directly, or log(k).
type Scale int

const (
	Linear Scale = iota
	Log
)

// ErrBadBinning is returned by New for an invalid bin count or range
// (spec EBadBinning).
var ErrBadBinning = errors.New("binning: invalid bin configuration")

// edges returns the nb+1 locator-space edges spanning [lo, hi] under scale,
// generalizing ellipseFuncs.go's Linspace to an optional log axis.
func edges(nb int, lo, hi float64, scale Scale) ([]float64, error) {
	if nb < 1 || lo < 0 || hi <= lo {
		return nil, ErrBadBinning
	}
	a, b := lo, hi
	if scale == Log {
		if lo == 0 {
			return nil, ErrBadBinning
		}
		a, b = math.Log(lo), math.Log(hi)
	}
	return linspace(a, b, nb+1), nil
}

func linspace(start, end float64, n int) []float64 {
	if n <= 1 {
		return []float64{start}
	}
	step := (end - start) / float64(n-1)
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = start + float64(i)*step
	}
	return x
}

func locate(k float64, edgeList []float64, scale Scale) (int, bool) {
	v := k
	if scale == Log {
		if k <= 0 {
			return 0, false
		}
		v = math.Log(k)
	}
	if v < edgeList[0] || v > edgeList[len(edgeList)-1] {
		return 0, false
	}
	nb := len(edgeList) - 1
	i := int(float64(nb) * (v - edgeList[0]) / (edgeList[nb] - edgeList[0]))
	if i >= nb {
		i = nb - 1
	}
	if i < 0 {
		i = 0
	}
	return i, true
}

func midpoint(i int, edgeList []float64, scale Scale) float64 {
	m := 0.5 * (edgeList[i] + edgeList[i+1])
	if scale == Log {
		return math.Exp(m)
	}
	return m
}

// PowerSpectrumBinning is the §4.5 accumulator for P(k): nb linear-or-log
// shells over [kmin, kmax], each tracking a weighted mean k, weighted mean
// power, and total weight until Normalize folds every worker's partial sums
// together.
type PowerSpectrumBinning struct {
	NBins       int
	Scale       Scale
	edges       []float64
	KBin        []float64
	Pofk        []float64
	Count       []float64
	sumK        []float64
	sumP        []float64
}

// New constructs a zeroed PowerSpectrumBinning over nb bins spanning
// [kmin, kmax].
func New(nb int, kmin, kmax float64, scale Scale) (*PowerSpectrumBinning, error) {
	e, err := edges(nb, kmin, kmax, scale)
	if err != nil {
		return nil, err
	}
	b := &PowerSpectrumBinning{
		NBins: nb,
		Scale: scale,
		edges: e,
		KBin:  make([]float64, nb),
		Pofk:  make([]float64, nb),
		Count: make([]float64, nb),
		sumK:  make([]float64, nb),
		sumP:  make([]float64, nb),
	}
	b.Reset()
	return b, nil
}

// Add locates the bin for k and, if in range, accumulates the
// weight-scaled value and k into that bin's running sums (§4.5 add()).
func (b *PowerSpectrumBinning) Add(k, value, weight float64) {
	i, ok := locate(k, b.edges, b.Scale)
	if !ok {
		return
	}
	b.sumK[i] += weight * k
	b.sumP[i] += weight * value
	b.Count[i] += weight
}

// Reset zeroes Pofk, Count and the running sums, and sets each KBin entry
// to its bin's midpoint (§4.5 reset()).
func (b *PowerSpectrumBinning) Reset() {
	for i := 0; i < b.NBins; i++ {
		b.sumK[i] = 0
		b.sumP[i] = 0
		b.Count[i] = 0
		b.KBin[i] = midpoint(i, b.edges, b.Scale)
		b.Pofk[i] = 0
	}
}

// Normalize is the collective step of §4.5: every rank's partial
// PowerSpectrumBinning (one per entry of perRank, ordered by rank) is
// all-reduced field-by-field, and every rank's KBin/Pofk is overwritten in
// place with the shared result — Count>0 bins get the count-weighted mean,
// Count==0 bins keep their locator-space midpoint and zero power.
func Normalize(world *cluster.World, perRank []*PowerSpectrumBinning) error {
	sumK := make([][]float64, len(perRank))
	sumP := make([][]float64, len(perRank))
	count := make([][]float64, len(perRank))
	for i, l := range perRank {
		sumK[i], sumP[i], count[i] = l.sumK, l.sumP, l.Count
	}
	redK, err := cluster.AllReduceSumFloat64(sumK)
	if err != nil {
		return err
	}
	redP, err := cluster.AllReduceSumFloat64(sumP)
	if err != nil {
		return err
	}
	redC, err := cluster.AllReduceSumFloat64(count)
	if err != nil {
		return err
	}
	for _, b := range perRank {
		for i := 0; i < b.NBins; i++ {
			b.Count[i] = redC[i]
			if redC[i] > 0 {
				b.KBin[i] = redK[i] / redC[i]
				b.Pofk[i] = redP[i] / redC[i]
			} else {
				b.KBin[i] = midpoint(i, b.edges, b.Scale)
				b.Pofk[i] = 0
			}
		}
	}
	return nil
}

// SubtractShotNoise subtracts 1/nPartTotal from every bin's power, the
// final step of compute_power_spectrum (§4.3).
func (b *PowerSpectrumBinning) SubtractShotNoise(nPartTotal int) {
	shot := 1.0 / float64(nPartTotal)
	floats.AddConst(-shot, b.Pofk)
}

// EdgesForTest exposes the internal bin edges for white-box testing only.
func (b *PowerSpectrumBinning) EdgesForTest() []float64 { return append([]float64(nil), b.edges...) }
