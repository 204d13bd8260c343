package grid

import "math"

// WavevectorAndNorm returns the wavevector components and its Euclidean
// norm for the owned Fourier index idx (local x-coordinate, as accepted by
// GetFourier). Components follow §3: along a non-last axis j' folds
// [N/2+1,N) back to negative frequencies; along the last (packed) axis j
// runs over [0,N/2] directly. Values are reported in grid units, resolving
// the apparent §3/§6 mismatch in favor of §6's explicit output contract (see
// DESIGN.md): k_j = 2*pi*j'/N.
func (g *Grid) WavevectorAndNorm(idx []int) (k []float64, norm float64) {
	k = make([]float64, g.Dim)
	sumSq := 0.0
	for a := 0; a < g.Dim; a++ {
		var j int
		if a == 0 {
			j = g.LocalXStart + idx[0]
		} else {
			j = idx[a]
		}
		var jp int
		if a == g.Dim-1 {
			jp = j
		} else {
			if j <= g.N/2 {
				jp = j
			} else {
				jp = j - g.N
			}
		}
		kv := 2 * math.Pi * float64(jp) / float64(g.N)
		k[a] = kv
		sumSq += kv * kv
	}
	return k, math.Sqrt(sumSq)
}
