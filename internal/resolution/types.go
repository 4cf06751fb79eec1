// Package resolution computes target image dimensions that satisfy a
// minimum/maximum resolution window, optionally snapped to a multiple.
//
// Everything in this package is a pure function over value types, so it is
// safe to call concurrently with no synchronization.
package resolution

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConstraint is returned when the constraint window itself is unusable.
	ErrInvalidConstraint = errors.New("invalid resolution constraint")
	// ErrDegenerateInput is returned for sources with a zero or negative side.
	ErrDegenerateInput = errors.New("degenerate source dimensions")
)

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive.
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// ConstraintMode selects which bound wins when an extreme aspect ratio makes
// both impossible to satisfy at once.
type ConstraintMode string

const (
	// PrioritizeMin upscales until no side is below MinRes, even if the long
	// side then exceeds MaxRes.
	PrioritizeMin ConstraintMode = "prioritize_min"
	// PrioritizeMaxStrict never exceeds MaxRes and accepts a short side below MinRes.
	PrioritizeMaxStrict ConstraintMode = "prioritize_max_strict"
)

// ParseConstraintMode accepts the canonical names as well as the labels shown
// by node-based hosts ("Prioritize Min Resolution", "Prioritize Max Resolution (Strict)").
func ParseConstraintMode(s string) (ConstraintMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PrioritizeMin), "min", "prioritize min resolution":
		return PrioritizeMin, nil
	case string(PrioritizeMaxStrict), "max", "max_strict", "prioritize max resolution (strict)":
		return PrioritizeMaxStrict, nil
	default:
		return "", fmt.Errorf("%w: unknown constraint mode %q", ErrInvalidConstraint, s)
	}
}

// RoundingPolicy decides how a scaled side is snapped to a multiple.
type RoundingPolicy string

const (
	RoundHalfEven RoundingPolicy = "half_even"
	RoundHalfUp   RoundingPolicy = "half_up"
	RoundFloor    RoundingPolicy = "floor"
	RoundCeil     RoundingPolicy = "ceil"
)

// ParseRoundingPolicy parses a policy name; empty selects RoundHalfEven.
func ParseRoundingPolicy(s string) (RoundingPolicy, error) {
	switch p := RoundingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return RoundHalfEven, nil
	case RoundHalfEven, RoundHalfUp, RoundFloor, RoundCeil:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown rounding policy %q", ErrInvalidConstraint, s)
	}
}

// Constraints bounds the resolved dimensions.
type Constraints struct {
	Mode       ConstraintMode `json:"constraint_mode"`
	Rounding   RoundingPolicy `json:"rounding,omitempty"`
	MinRes     int            `json:"min_res"`
	MaxRes     int            `json:"max_res"`
	MultipleOf int            `json:"multiple_of"`
}

// Validate checks the constraint window. An empty Rounding is accepted and
// treated as RoundHalfEven.
func (c Constraints) Validate() error {
	if c.MinRes < 1 {
		return fmt.Errorf("%w: min_res (%d) must be at least 1", ErrInvalidConstraint, c.MinRes)
	}
	if c.MaxRes < 1 {
		return fmt.Errorf("%w: max_res (%d) must be at least 1", ErrInvalidConstraint, c.MaxRes)
	}
	if c.MaxRes < c.MinRes {
		return fmt.Errorf("%w: max_res (%d) must be greater than or equal to min_res (%d)",
			ErrInvalidConstraint, c.MaxRes, c.MinRes)
	}
	if c.MultipleOf < 1 {
		return fmt.Errorf("%w: multiple_of (%d) must be at least 1", ErrInvalidConstraint, c.MultipleOf)
	}
	switch c.Mode {
	case PrioritizeMin, PrioritizeMaxStrict:
	default:
		return fmt.Errorf("%w: unknown constraint mode %q", ErrInvalidConstraint, c.Mode)
	}
	if _, err := ParseRoundingPolicy(string(c.Rounding)); err != nil {
		return err
	}
	return nil
}
