// Package particle defines the typed particle stream the core consumes:
// box-normalized positions and velocities, plus the globally known total
// count shot-noise normalization needs. Grounded on main.go's
// OccultationEvent.PathSamplePoints [][3]float64 convention (a plain
// coordinate-array particle record), generalized here to dimension d.
package particle

import "fmt"

// Particle is one (position, velocity) sample in box-normalized coordinates
// Position[i] in [0,1).
type Particle struct {
	Position []float64
	Velocity []float64
}

// Stream is one worker's local subset of the global particle set, together
// with the globally known total count used for shot-noise normalization
// (spec §6: each worker provides its own local subset plus N_part_total).
type Stream struct {
	Dim   int
	Local []Particle
	// NTotal is the globally known particle count across every worker; it
	// may exceed len(Local).
	NTotal int
}

// New constructs a Stream, validating that every particle has the declared
// dimension.
func New(dim int, local []Particle, nTotal int) (*Stream, error) {
	for i, p := range local {
		if len(p.Position) != dim || len(p.Velocity) != dim {
			return nil, fmt.Errorf("particle: particle %d has wrong dimension, want %d", i, dim)
		}
	}
	return &Stream{Dim: dim, Local: local, NTotal: nTotal}, nil
}

// Shifted returns a new Stream whose positions are each translated by delta
// and wrapped periodically into [0,1). Used by the interlaced power
// spectrum (shift +1/(2N) on every axis) and the particle-based multipole
// routine (shift by a velocity-derived displacement along one axis).
func (s *Stream) Shifted(delta []float64) *Stream {
	out := make([]Particle, len(s.Local))
	for i, p := range s.Local {
		pos := make([]float64, s.Dim)
		for a := 0; a < s.Dim; a++ {
			pos[a] = wrap(p.Position[a] + delta[a])
		}
		out[i] = Particle{Position: pos, Velocity: p.Velocity}
	}
	return &Stream{Dim: s.Dim, Local: out, NTotal: s.NTotal}
}

// ShiftedByVelocity returns a new Stream with every particle's position
// along axis displaced by its own velocity[axis]*kappa and wrapped
// periodically — the per-particle redshift-space displacement the
// particle-based multipole estimator applies one axis at a time (kappa is
// the caller-supplied velocity-to-displacement conversion factor).
func (s *Stream) ShiftedByVelocity(axis int, kappa float64) *Stream {
	out := make([]Particle, len(s.Local))
	for i, p := range s.Local {
		pos := append([]float64(nil), p.Position...)
		pos[axis] = wrap(pos[axis] + p.Velocity[axis]*kappa)
		out[i] = Particle{Position: pos, Velocity: p.Velocity}
	}
	return &Stream{Dim: s.Dim, Local: out, NTotal: s.NTotal}
}

func wrap(x float64) float64 {
	x -= float64(int(x))
	if x < 0 {
		x += 1
	}
	return x
}
