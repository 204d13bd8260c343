// Package config reads a run's grid size, box length, assignment kernel,
// binning parameters, and cluster world size from a JSON5 parameter file.
// Grounded on jsonProcessing.go's validateJsonFileAndFillEvent: read a
// leaf value with getLeafValue, default it if absent, type-assert it if
// present, and report a human message alongside a bool on failure — the
// same field-by-field style, generalized from an occultation event's
// geometry fields to a distributed-grid run's parameters.
package config

import (
	"errors"
	"fmt"

	json "github.com/KevinWang15/go-json5"

	"github.com/cosmicflow/polyspectra/assignment"
	"github.com/cosmicflow/polyspectra/binning"
)

// ErrInvalid is returned by Load/Validate when the parameter file is
// malformed or a required field is missing or of the wrong type; the
// accompanying message names the offending field, matching
// validateJsonFileAndFillEvent's (msg string, ok bool) convention folded
// into a single error.
var ErrInvalid = errors.New("config: invalid parameter file")

// RunParameters is the full set of values a demo driver needs to stand up
// a cluster.World, a grid.Grid per rank, and the estimators that run on
// it.
type RunParameters struct {
	Dim         int
	GridSize    int
	BoxLength   float64
	ClusterSize int
	Kernel      assignment.Kernel
	NBins       int
	KMin        float64
	KMax        float64
	Scale       binning.Scale
	// PolyspectrumArity is 0 when only a power spectrum was requested.
	PolyspectrumArity int
}

func getLeafValue(jsonTable map[string]interface{}, path ...string) (interface{}, bool) {
	var cur interface{} = jsonTable
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Load parses data as JSON5 and fills a RunParameters, applying the same
// default-if-missing / type-check-if-present rules as jsonProcessing.go's
// validateJsonFileAndFillEvent.
func Load(data []byte) (RunParameters, error) {
	var table map[string]interface{}
	if err := json.Unmarshal(data, &table); err != nil {
		return RunParameters{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return fromTable(table)
}

func fromTable(table map[string]interface{}) (RunParameters, error) {
	var p RunParameters

	dim, ok := getLeafValue(table, "dim")
	if !ok {
		p.Dim = 3 // default to a 3D run if missing
	} else {
		v, ok := dim.(float64)
		if !ok {
			return p, fmt.Errorf("%w: dim: is not a float64", ErrInvalid)
		}
		p.Dim = int(v)
	}

	n, ok := getLeafValue(table, "grid_size")
	if !ok {
		return p, fmt.Errorf("%w: grid_size: not found", ErrInvalid)
	}
	nv, ok := n.(float64)
	if !ok {
		return p, fmt.Errorf("%w: grid_size: is not a float64", ErrInvalid)
	}
	p.GridSize = int(nv)

	box, ok := getLeafValue(table, "box_length")
	if !ok {
		p.BoxLength = 1.0 // default to the unit box spec.md's grid units already assume
	} else {
		v, ok := box.(float64)
		if !ok {
			return p, fmt.Errorf("%w: box_length: is not a float64", ErrInvalid)
		}
		p.BoxLength = v
	}

	cluster, ok := getLeafValue(table, "cluster_size")
	if !ok {
		p.ClusterSize = 1 // default to a single simulated worker
	} else {
		v, ok := cluster.(float64)
		if !ok {
			return p, fmt.Errorf("%w: cluster_size: is not a float64", ErrInvalid)
		}
		p.ClusterSize = int(v)
	}

	kernelName, ok := getLeafValue(table, "kernel")
	if !ok {
		return p, fmt.Errorf("%w: kernel: not found", ErrInvalid)
	}
	kn, ok := kernelName.(string)
	if !ok {
		return p, fmt.Errorf("%w: kernel: is not a string", ErrInvalid)
	}
	k, err := assignment.Parse(kn)
	if err != nil {
		return p, fmt.Errorf("%w: kernel: %v", ErrInvalid, err)
	}
	p.Kernel = k

	nb, ok := getLeafValue(table, "binning", "n_bins")
	if !ok {
		return p, fmt.Errorf("%w: binning.n_bins: not found", ErrInvalid)
	}
	nbv, ok := nb.(float64)
	if !ok {
		return p, fmt.Errorf("%w: binning.n_bins: is not a float64", ErrInvalid)
	}
	p.NBins = int(nbv)

	kmin, ok := getLeafValue(table, "binning", "k_min")
	if !ok {
		p.KMin = 0.0 // default to a shell starting at the origin
	} else {
		v, ok := kmin.(float64)
		if !ok {
			return p, fmt.Errorf("%w: binning.k_min: is not a float64", ErrInvalid)
		}
		p.KMin = v
	}

	kmax, ok := getLeafValue(table, "binning", "k_max")
	if !ok {
		return p, fmt.Errorf("%w: binning.k_max: not found", ErrInvalid)
	}
	kmaxv, ok := kmax.(float64)
	if !ok {
		return p, fmt.Errorf("%w: binning.k_max: is not a float64", ErrInvalid)
	}
	p.KMax = kmaxv

	scaleName, ok := getLeafValue(table, "binning", "scale")
	if !ok {
		p.Scale = binning.Linear // default to linear binning
	} else {
		sv, ok := scaleName.(string)
		if !ok {
			return p, fmt.Errorf("%w: binning.scale: is not a string", ErrInvalid)
		}
		switch sv {
		case "lin", "linear":
			p.Scale = binning.Linear
		case "log":
			p.Scale = binning.Log
		default:
			return p, fmt.Errorf("%w: binning.scale: unrecognized value %q", ErrInvalid, sv)
		}
	}

	arity, ok := getLeafValue(table, "polyspectrum", "arity")
	if ok {
		av, ok := arity.(float64)
		if !ok {
			return p, fmt.Errorf("%w: polyspectrum.arity: is not a float64", ErrInvalid)
		}
		p.PolyspectrumArity = int(av)
	}

	return p, nil
}

// Validate checks the cross-field constraints spec.md §7 assigns to
// EBadBinning (0 <= KMin < KMax, NBins >= 1) that a single leaf lookup
// cannot catch.
func (p RunParameters) Validate() error {
	if p.GridSize < 1 {
		return fmt.Errorf("%w: grid_size must be positive", ErrInvalid)
	}
	if p.Dim < 1 {
		return fmt.Errorf("%w: dim must be positive", ErrInvalid)
	}
	if p.ClusterSize < 1 {
		return fmt.Errorf("%w: cluster_size must be positive", ErrInvalid)
	}
	if p.NBins < 1 {
		return fmt.Errorf("%w: binning.n_bins must be >= 1", ErrInvalid)
	}
	if p.KMin < 0 || p.KMin >= p.KMax {
		return fmt.Errorf("%w: binning.k_min/k_max out of order", ErrInvalid)
	}
	if p.PolyspectrumArity != 0 && p.PolyspectrumArity < 2 {
		return fmt.Errorf("%w: polyspectrum.arity must be >= 2 when given", ErrInvalid)
	}
	return nil
}
