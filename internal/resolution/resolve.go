package resolution

import (
	"fmt"
	"math"
)

// snapEpsilon absorbs float noise such as 703.9999999 so that floor and ceil
// do not land on the wrong multiple.
const snapEpsilon = 1e-9

// Resolve computes the target dimensions for src under c.
//
// The long side is first scaled to MaxRes. In PrioritizeMin mode the result is
// then scaled up uniformly until neither side is below MinRes. Finally each
// side is snapped to a multiple of MultipleOf according to c.Rounding.
func Resolve(src Dimensions, c Constraints) (Dimensions, error) {
	if err := c.Validate(); err != nil {
		return Dimensions{}, err
	}
	if !src.Valid() {
		return Dimensions{}, fmt.Errorf("%w: %s", ErrDegenerateInput, src)
	}

	w, h := scale(src, c)
	return Dimensions{
		Width:  roundToMultiple(w, c.MultipleOf, c.Rounding),
		Height: roundToMultiple(h, c.MultipleOf, c.Rounding),
	}, nil
}

// scale returns the unrounded target size.
func scale(src Dimensions, c Constraints) (float64, float64) {
	aspect := float64(src.Width) / float64(src.Height)
	maxRes := float64(c.MaxRes)

	var w, h float64
	if aspect >= 1 {
		w = maxRes
		h = w / aspect
	} else {
		h = maxRes
		w = h * aspect
	}

	if c.Mode == PrioritizeMin {
		minRes := float64(c.MinRes)
		factor := math.Max(1, math.Max(minRes/w, minRes/h))
		w *= factor
		h *= factor
	}
	return w, h
}

// roundToMultiple snaps v to a multiple of m, never returning less than m.
func roundToMultiple(v float64, m int, policy RoundingPolicy) int {
	q := v / float64(m)
	if r := math.Round(q); math.Abs(q-r) < snapEpsilon {
		q = r
	}

	switch policy {
	case RoundHalfUp:
		q = math.Floor(q + 0.5)
	case RoundFloor:
		q = math.Floor(q)
	case RoundCeil:
		q = math.Ceil(q)
	default:
		q = math.RoundToEven(q)
	}

	out := int(q) * m
	if out < m {
		return m
	}
	return out
}
