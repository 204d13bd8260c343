package binning

import (
	"math"

	"github.com/cosmicflow/polyspectra/cluster"
)

// PolyspectrumBinning is the §4.5 n-point generalization of
// PowerSpectrumBinning: a flat tensor of shape NBins^Arity indexed in
// mixed radix (ik_1*NBins^(Arity-1) + ... + ik_n), alongside the same
// KBin/Count bookkeeping per individual k-bin. Arity==3 is exactly
// BispectrumBinning.
//
// Computed resolves Open Question §9.2: the engine marks a tuple computed
// here instead of relying on a zero-valued P123 entry, since a genuine
// zero-power tuple is a valid outcome, not a "not yet visited" marker.
type PolyspectrumBinning struct {
	NBins int
	Arity int
	Scale Scale
	edges []float64
	KBin  []float64
	// Pofk1D is the in-shell power <|delta|^2>_i computed alongside the
	// shell fields (§4.7 step 1), independent of the tuple tensor below.
	Pofk1D   []float64
	Count1D  []float64
	sumK     []float64
	sumP1D   []float64
	P123     []float64
	N123     []float64
	Computed []bool
}

// NewPolyspectrum constructs a zeroed PolyspectrumBinning of the given
// arity (3 for the bispectrum, n for the n-point generalization).
func NewPolyspectrum(arity, nb int, kmin, kmax float64, scale Scale) (*PolyspectrumBinning, error) {
	if arity < 2 {
		return nil, ErrBadBinning
	}
	e, err := edges(nb, kmin, kmax, scale)
	if err != nil {
		return nil, err
	}
	size := ipow(nb, arity)
	b := &PolyspectrumBinning{
		NBins:    nb,
		Arity:    arity,
		Scale:    scale,
		edges:    e,
		KBin:     make([]float64, nb),
		Pofk1D:   make([]float64, nb),
		Count1D:  make([]float64, nb),
		sumK:     make([]float64, nb),
		sumP1D:   make([]float64, nb),
		P123:     make([]float64, size),
		N123:     make([]float64, size),
		Computed: make([]bool, size),
	}
	b.Reset()
	return b, nil
}

func ipow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

// Index flattens a tuple of per-axis bin indices into P123/N123/Computed's
// mixed-radix offset.
func (b *PolyspectrumBinning) Index(ik []int) int {
	idx := 0
	for _, v := range ik {
		idx = idx*b.NBins + v
	}
	return idx
}

// Locate1D finds the single-k bin index for a wavevector magnitude,
// sharing the same edges every axis of the tuple tensor uses.
func (b *PolyspectrumBinning) Locate1D(k float64) (int, bool) {
	return locate(k, b.edges, b.Scale)
}

// BinWidth returns bin i's width in k-space (not locator space), the
// Delta-k the polyspectrum tuple filter's triangle-inequality
// generalization test needs.
func (b *PolyspectrumBinning) BinWidth(i int) float64 {
	lo, hi := b.edges[i], b.edges[i+1]
	if b.Scale == Log {
		return math.Exp(hi) - math.Exp(lo)
	}
	return hi - lo
}

// AddShellStat accumulates the per-bin k-mean bookkeeping shared by every
// axis of the tuple (the same add() role PowerSpectrumBinning.Add plays for
// a single bin).
func (b *PolyspectrumBinning) AddShellStat(i int, k, power, weight float64) {
	b.sumK[i] += weight * k
	b.sumP1D[i] += weight * power
	b.Count1D[i] += weight
}

// AddTuple accumulates a single ordered tuple's polyspectrum sample.
func (b *PolyspectrumBinning) AddTuple(ik []int, value, weight float64) {
	idx := b.Index(ik)
	b.P123[idx] += weight * value
	b.N123[idx] += weight
	b.Computed[idx] = true
}

// SetTuple writes an already-finalized polyspectrum value for the given
// ordered tuple directly, marking it computed — used once the engine has
// already all-reduced and divided F/N itself rather than relying on
// AddTuple+Normalize's running-mean accumulation.
func (b *PolyspectrumBinning) SetTuple(ik []int, value float64) {
	b.P123[b.Index(ik)] = value
	b.Computed[b.Index(ik)] = true
}

// Reset zeroes every accumulator and reinitializes KBin to bin midpoints.
func (b *PolyspectrumBinning) Reset() {
	for i := 0; i < b.NBins; i++ {
		b.sumK[i] = 0
		b.sumP1D[i] = 0
		b.Count1D[i] = 0
		b.KBin[i] = midpoint(i, b.edges, b.Scale)
		b.Pofk1D[i] = 0
	}
	for i := range b.P123 {
		b.P123[i] = 0
		b.N123[i] = 0
		b.Computed[i] = false
	}
}

// NormalizePolyspectrum all-reduces every rank's partial sums and divides KBin by
// Count1D and P123 by N123 where N123 > 0, matching
// PowerSpectrumBinning.Normalize's semantics for the n-ary tensor. Tuples
// with N123==0 are left at zero and Computed is OR-reduced across ranks so
// a tuple computed by any single rank is marked computed everywhere.
func NormalizePolyspectrum(world *cluster.World, perRank []*PolyspectrumBinning) error {
	sumK := make([][]float64, len(perRank))
	sumP1D := make([][]float64, len(perRank))
	count1D := make([][]float64, len(perRank))
	p123 := make([][]float64, len(perRank))
	n123 := make([][]float64, len(perRank))
	for i, l := range perRank {
		sumK[i], count1D[i] = l.sumK, l.Count1D
		sumP1D[i] = l.sumP1D
		p123[i], n123[i] = l.P123, l.N123
	}
	redK, err := cluster.AllReduceSumFloat64(sumK)
	if err != nil {
		return err
	}
	redP1D, err := cluster.AllReduceSumFloat64(sumP1D)
	if err != nil {
		return err
	}
	redC1D, err := cluster.AllReduceSumFloat64(count1D)
	if err != nil {
		return err
	}
	redP, err := cluster.AllReduceSumFloat64(p123)
	if err != nil {
		return err
	}
	redN, err := cluster.AllReduceSumFloat64(n123)
	if err != nil {
		return err
	}
	computed := make([]bool, len(redN))
	for _, l := range perRank {
		for i, c := range l.Computed {
			computed[i] = computed[i] || c
		}
	}
	for _, b := range perRank {
		for i := 0; i < b.NBins; i++ {
			b.Count1D[i] = redC1D[i]
			if redC1D[i] > 0 {
				b.KBin[i] = redK[i] / redC1D[i]
				b.Pofk1D[i] = redP1D[i] / redC1D[i]
			} else {
				b.KBin[i] = midpoint(i, b.edges, b.Scale)
				b.Pofk1D[i] = 0
			}
		}
		for i := range b.P123 {
			b.N123[i] = redN[i]
			b.Computed[i] = computed[i]
			if redN[i] > 0 {
				b.P123[i] = redP[i] / redN[i]
			} else {
				b.P123[i] = 0
			}
		}
	}
	return nil
}
