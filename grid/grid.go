// Package grid implements the slab-decomposed periodic scalar field: a
// real/Fourier dual-view mesh partitioned across workers along its first
// axis, with ghost planes for assignment-kernel support and the halo
// exchange that keeps them current.
package grid

import (
	"errors"
	"fmt"
)

// Status is the two-state lifecycle of a Grid.
type Status int

const (
	// StatusReal is the initial state: the owned+ghost real buffer is valid.
	StatusReal Status = iota
	// StatusFourier is reached by a forward transform: the owned Fourier
	// buffer is valid.
	StatusFourier
)

func (s Status) String() string {
	if s == StatusReal {
		return "REAL"
	}
	return "FOURIER"
}

// ErrStateMismatch is returned when an operation requires the grid to be in
// a state it is not currently in (spec EStateMismatch).
var ErrStateMismatch = errors.New("grid: operation invalid for current state")

// Grid is a periodic scalar field discretized on N^Dim cells and
// partitioned across workers by contiguous ranges of the first axis. A
// single Grid instance represents exactly one worker's local share: owned
// planes LocalXStart..LocalXStart+LocalNx-1 of the global axis, plus
// GhostLeft/GhostRight replicated neighbor planes for stencil access.
//
// Mixing grids of different Dim is undefined; a Grid always operates at the
// dimension it was constructed with.
type Grid struct {
	Dim                   int
	N                     int
	LocalNx               int
	LocalXStart           int
	GhostLeft, GhostRight int

	status Status

	real    []float64
	fourier []complex128
}

// New constructs a zero-initialized real-space Grid for a worker owning
// LocalNx planes of an N^Dim mesh starting at LocalXStart, with the given
// ghost-slab widths on each side of the owned range (I1).
func New(dim, n, localNx, localXStart, ghostLeft, ghostRight int) (*Grid, error) {
	if dim < 2 {
		return nil, fmt.Errorf("grid: dimension must be >= 2, got %d", dim)
	}
	if n < 2 || n%2 != 0 {
		return nil, fmt.Errorf("grid: N must be a positive even integer, got %d", n)
	}
	if localNx <= 0 || localNx > n {
		return nil, fmt.Errorf("grid: local_nx out of range: %d", localNx)
	}
	if ghostLeft < 0 || ghostRight < 0 {
		return nil, fmt.Errorf("grid: negative ghost width")
	}
	g := &Grid{
		Dim:         dim,
		N:           n,
		LocalNx:     localNx,
		LocalXStart: localXStart,
		GhostLeft:   ghostLeft,
		GhostRight:  ghostRight,
		status:      StatusReal,
	}
	g.real = make([]float64, g.realPlanes()*g.planeSize())
	return g, nil
}

// Status reports whether the real or the Fourier view is currently valid.
func (g *Grid) Status() Status { return g.status }

// realPlanes is the number of real planes this worker materializes (I1).
func (g *Grid) realPlanes() int { return g.GhostLeft + g.LocalNx + g.GhostRight }

// planeSize is N^(Dim-1), the number of cells in one transverse plane.
func (g *Grid) planeSize() int { return ipow(g.N, g.Dim-1) }

// packedLast is N/2+1, the Hermitian-packed extent of the last axis in the
// Fourier view.
func (g *Grid) packedLast() int { return g.N/2 + 1 }

// fourierPlaneSize is N^(Dim-2) * (N/2+1), the number of complex cells per
// owned x-plane in the Fourier view.
func (g *Grid) fourierPlaneSize() int {
	if g.Dim == 2 {
		return g.packedLast()
	}
	return ipow(g.N, g.Dim-2) * g.packedLast()
}

func ipow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

func mod(i, n int) int {
	r := i % n
	if r < 0 {
		r += n
	}
	return r
}

// transverseIndex maps coord[1:] (each taken modulo N, since transverse axes
// are never partitioned and therefore need no ghost discipline) to a
// row-major flat offset within one plane.
func (g *Grid) transverseIndex(coord []int) int {
	idx := 0
	for _, c := range coord[1:] {
		idx = idx*g.N + mod(c, g.N)
	}
	return idx
}

// realPlaneOffset maps coord[0] (which may be negative or >= LocalNx, i.e. a
// ghost plane) to the plane's position in the real buffer.
func (g *Grid) realPlaneOffset(x0 int) (int, error) {
	p := x0 + g.GhostLeft
	if p < 0 || p >= g.realPlanes() {
		return 0, fmt.Errorf("grid: x=%d outside ghost range [-%d,%d)", x0, g.GhostLeft, g.LocalNx+g.GhostRight)
	}
	return p, nil
}

// GetReal returns the real-view cell at coord (Dim entries; coord[0] may
// address a ghost plane, coord[1:] are read modulo N).
func (g *Grid) GetReal(coord []int) float64 {
	if g.status != StatusReal {
		panic(ErrStateMismatch)
	}
	p, err := g.realPlaneOffset(coord[0])
	if err != nil {
		panic(err)
	}
	return g.real[p*g.planeSize()+g.transverseIndex(coord)]
}

// SetReal writes the real-view cell at coord.
func (g *Grid) SetReal(coord []int, v float64) {
	if g.status != StatusReal {
		panic(ErrStateMismatch)
	}
	p, err := g.realPlaneOffset(coord[0])
	if err != nil {
		panic(err)
	}
	g.real[p*g.planeSize()+g.transverseIndex(coord)] = v
}

// AddReal accumulates v into the real-view cell at coord. Particle scatter
// uses this instead of Get-then-Set so that multiple deposits into the same
// cell compose correctly (spec §5: duplicate writes to a cell are expected).
func (g *Grid) AddReal(coord []int, v float64) {
	if g.status != StatusReal {
		panic(ErrStateMismatch)
	}
	p, err := g.realPlaneOffset(coord[0])
	if err != nil {
		panic(err)
	}
	g.real[p*g.planeSize()+g.transverseIndex(coord)] += v
}

// FillReal bulk-sets every real cell (owned and ghost) to v.
func (g *Grid) FillReal(v float64) {
	for i := range g.real {
		g.real[i] = v
	}
}

// fourierIndexFlat maps an owned Fourier index (idx[0] in [0,LocalNx), the
// rest addressing the packed axis convention of §3) to a flat offset.
func (g *Grid) fourierIndexFlat(idx []int) (int, error) {
	if idx[0] < 0 || idx[0] >= g.LocalNx {
		return 0, fmt.Errorf("grid: fourier x-index %d outside owned range [0,%d)", idx[0], g.LocalNx)
	}
	last := idx[g.Dim-1]
	if last < 0 || last > g.N/2 {
		return 0, fmt.Errorf("grid: packed-axis index %d outside [0,%d]", last, g.N/2)
	}
	flat := 0
	for a := 1; a < g.Dim-1; a++ {
		flat = flat*g.N + mod(idx[a], g.N)
	}
	flat = flat*g.packedLast() + last
	return idx[0]*g.fourierPlaneSize() + flat, nil
}

// GetFourier returns the Fourier-view amplitude at idx.
func (g *Grid) GetFourier(idx []int) complex128 {
	if g.status != StatusFourier {
		panic(ErrStateMismatch)
	}
	flat, err := g.fourierIndexFlat(idx)
	if err != nil {
		panic(err)
	}
	return g.fourier[flat]
}

// SetFourier writes the Fourier-view amplitude at idx.
func (g *Grid) SetFourier(idx []int, v complex128) {
	if g.status != StatusFourier {
		panic(ErrStateMismatch)
	}
	flat, err := g.fourierIndexFlat(idx)
	if err != nil {
		panic(err)
	}
	g.fourier[flat] = v
}

// FillFourier bulk-sets every owned Fourier cell to v.
func (g *Grid) FillFourier(v complex128) {
	for i := range g.fourier {
		g.fourier[i] = v
	}
}

// ForEachOwnedReal visits every owned (non-ghost) real cell exactly once,
// row-major, calling fn with a fresh coordinate slice whose coord[0] is in
// local (not global) coordinates as GetReal/SetReal expect.
func (g *Grid) ForEachOwnedReal(fn func(coord []int)) {
	coord := make([]int, g.Dim)
	for x := 0; x < g.LocalNx; x++ {
		coord[0] = x
		g.walkTransverse(coord, 1, func() {
			fn(append([]int(nil), coord...))
		})
	}
}

// ForEachOwnedFourier visits every owned Fourier cell exactly once, with
// idx[0] in local (not global) coordinates as GetFourier/SetFourier expect.
func (g *Grid) ForEachOwnedFourier(fn func(idx []int)) {
	idx := make([]int, g.Dim)
	for x := 0; x < g.LocalNx; x++ {
		idx[0] = x
		g.walkFourierTransverse(idx, 1, fn)
	}
}

func (g *Grid) walkTransverse(coord []int, axis int, leaf func()) {
	if axis == g.Dim {
		leaf()
		return
	}
	for v := 0; v < g.N; v++ {
		coord[axis] = v
		g.walkTransverse(coord, axis+1, leaf)
	}
}

func (g *Grid) walkFourierTransverse(idx []int, axis int, fn func(idx []int)) {
	if axis == g.Dim-1 {
		for last := 0; last <= g.N/2; last++ {
			idx[g.Dim-1] = last
			fn(append([]int(nil), idx...))
		}
		return
	}
	for v := 0; v < g.N; v++ {
		idx[axis] = v
		g.walkFourierTransverse(idx, axis+1, fn)
	}
}

// Clone returns a deep copy of owned and ghost data; the result shares no
// mutable storage with g.
func (g *Grid) Clone() *Grid {
	c := *g
	c.real = append([]float64(nil), g.real...)
	c.fourier = append([]complex128(nil), g.fourier...)
	return &c
}

// TransitionToFourier allocates the Fourier buffer and flips the state; only
// the fft package, which owns the REAL->FOURIER transition, calls this.
func (g *Grid) TransitionToFourier() {
	g.fourier = make([]complex128, g.LocalNx*g.fourierPlaneSize())
	g.status = StatusFourier
}

// TransitionToReal flips the state back after an inverse transform; the fft
// package repopulates g.real via SetOwnedReal before calling this.
func (g *Grid) TransitionToReal() {
	g.status = StatusReal
}

// PlaneSize is N^(Dim-1), the cell count of one transverse plane.
func (g *Grid) PlaneSize() int { return g.planeSize() }

// PackedLast is N/2+1, the Hermitian-packed extent of the last axis.
func (g *Grid) PackedLast() int { return g.packedLast() }

// FourierPlaneSize is N^(Dim-2)*(N/2+1), the complex cell count per owned
// x-plane in the Fourier view.
func (g *Grid) FourierPlaneSize() int { return g.fourierPlaneSize() }

// OwnedReal returns a flat, row-major copy of only the owned (non-ghost)
// real cells: LocalNx planes of PlaneSize() cells each.
func (g *Grid) OwnedReal() []float64 {
	ps := g.planeSize()
	out := make([]float64, g.LocalNx*ps)
	copy(out, g.real[g.GhostLeft*ps:(g.GhostLeft+g.LocalNx)*ps])
	return out
}

// SetOwnedReal overwrites the owned (non-ghost) real cells from a flat,
// row-major buffer of length LocalNx*PlaneSize().
func (g *Grid) SetOwnedReal(data []float64) {
	ps := g.planeSize()
	copy(g.real[g.GhostLeft*ps:(g.GhostLeft+g.LocalNx)*ps], data)
}

// OwnedFourier returns a copy of the full owned Fourier buffer.
func (g *Grid) OwnedFourier() []complex128 {
	return append([]complex128(nil), g.fourier...)
}

// SetOwnedFourier overwrites the Fourier buffer from data, which must have
// length LocalNx*FourierPlaneSize().
func (g *Grid) SetOwnedFourier(data []complex128) {
	copy(g.fourier, data)
}

// RightBoundary returns the rightmost GhostLeft owned planes — what a
// right-neighbor worker's left ghost is populated from (§4.3).
func (g *Grid) RightBoundary() []float64 {
	ps := g.planeSize()
	start := (g.GhostLeft + g.LocalNx - g.GhostLeft) * ps
	return append([]float64(nil), g.real[start:(g.GhostLeft+g.LocalNx)*ps]...)
}

// LeftBoundary returns the leftmost GhostRight owned planes — what a
// left-neighbor worker's right ghost is populated from (§4.3).
func (g *Grid) LeftBoundary() []float64 {
	ps := g.planeSize()
	start := g.GhostLeft * ps
	end := start + g.GhostRight*ps
	return append([]float64(nil), g.real[start:end]...)
}

// TakeGhosts returns this worker's current left and right ghost-plane
// contents and zeroes them in place. Particle scatter (§4.4) can deposit
// into ghost planes when a particle's support spills past the owned edge;
// those deposits belong to the neighboring rank's owned cells, so they must
// be flushed out and accumulated there rather than left to be silently
// overwritten by the next copy-based halo exchange.
func (g *Grid) TakeGhosts() (left, right []float64) {
	ps := g.planeSize()
	leftEnd := g.GhostLeft * ps
	rightStart := (g.GhostLeft + g.LocalNx) * ps
	left = append([]float64(nil), g.real[:leftEnd]...)
	right = append([]float64(nil), g.real[rightStart:]...)
	for i := 0; i < leftEnd; i++ {
		g.real[i] = 0
	}
	for i := rightStart; i < len(g.real); i++ {
		g.real[i] = 0
	}
	return left, right
}

// AddToRightBoundary accumulates data into this worker's rightmost
// GhostLeft owned planes — the mirror of RightBoundary, but additive. Used
// to fold a right-neighbor's spilled left-ghost scatter deposit back into
// the owned cells it actually belongs to.
func (g *Grid) AddToRightBoundary(data []float64) error {
	ps := g.planeSize()
	if len(data) != g.GhostLeft*ps {
		return fmt.Errorf("grid: AddToRightBoundary payload has %d cells, want %d", len(data), g.GhostLeft*ps)
	}
	start := g.LocalNx * ps
	for i, v := range data {
		g.real[start+i] += v
	}
	return nil
}

// AddToLeftBoundary accumulates data into this worker's leftmost
// GhostRight owned planes — the mirror of LeftBoundary, but additive. Used
// to fold a left-neighbor's spilled right-ghost scatter deposit back into
// the owned cells it actually belongs to.
func (g *Grid) AddToLeftBoundary(data []float64) error {
	ps := g.planeSize()
	if len(data) != g.GhostRight*ps {
		return fmt.Errorf("grid: AddToLeftBoundary payload has %d cells, want %d", len(data), g.GhostRight*ps)
	}
	start := g.GhostLeft * ps
	for i, v := range data {
		g.real[start+i] += v
	}
	return nil
}

// SetGhosts overwrites this worker's left ghost (from its left neighbor's
// RightBoundary) and right ghost (from its right neighbor's LeftBoundary).
// It implements cluster.Halo.
func (g *Grid) SetGhosts(left, right []float64) error {
	ps := g.planeSize()
	if len(left) != g.GhostLeft*ps {
		return fmt.Errorf("grid: left ghost payload has %d cells, want %d", len(left), g.GhostLeft*ps)
	}
	if len(right) != g.GhostRight*ps {
		return fmt.Errorf("grid: right ghost payload has %d cells, want %d", len(right), g.GhostRight*ps)
	}
	copy(g.real[0:g.GhostLeft*ps], left)
	copy(g.real[(g.GhostLeft+g.LocalNx)*ps:], right)
	return nil
}

// SumReal sums every owned real cell; tests use it to check mass
// conservation.
func (g *Grid) SumReal() float64 {
	s := 0.0
	g.ForEachOwnedReal(func(coord []int) {
		s += g.GetReal(coord)
	})
	return s
}
