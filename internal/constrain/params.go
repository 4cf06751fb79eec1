// Package constrain turns the resolution and transform primitives into the
// single operation exposed to hosts: resolve a target size for an image and
// optionally bring the image to that size.
package constrain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/timkrebs/constrain-resolution/internal/resolution"
	"github.com/timkrebs/constrain-resolution/internal/transform"
)

// ErrInvalidParams is returned for parameters that are not resolution
// constraints themselves: resize mode, crop position and tolerance.
var ErrInvalidParams = errors.New("invalid parameters")

// ResizeMode selects what happens to the pixels once a target is resolved.
type ResizeMode string

const (
	// ResizeNone returns the input untouched next to the resolved size.
	ResizeNone ResizeMode = "none"
	// ResizeStretch scales straight to the target, accepting distortion.
	ResizeStretch ResizeMode = "stretch"
	// ResizeCrop scales to cover the target and crops the overshoot.
	ResizeCrop ResizeMode = "crop"
	// ResizeAuto stretches when the deviation is within tolerance and crops otherwise.
	ResizeAuto ResizeMode = "auto"
)

// ParseResizeMode parses a resize mode; empty selects ResizeAuto.
func ParseResizeMode(s string) (ResizeMode, error) {
	switch m := ResizeMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ResizeAuto, nil
	case ResizeNone, ResizeStretch, ResizeCrop, ResizeAuto:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown resize mode %q", ErrInvalidParams, s)
	}
}

// Params are the inputs of one constrain call.
type Params struct {
	Mode         resolution.ConstraintMode `json:"constraint_mode"`
	MinRes       int                       `json:"min_res"`
	MaxRes       int                       `json:"max_res"`
	MultipleOf   int                       `json:"multiple_of"`
	Rounding     resolution.RoundingPolicy `json:"rounding,omitempty"`
	Resize       ResizeMode                `json:"resize_mode,omitempty"`
	CropPosition transform.CropPosition    `json:"crop_position,omitempty"`
	// Tolerance is the accepted aspect deviation in percent.
	Tolerance float64 `json:"tolerance"`
}

// DefaultParams mirrors the defaults a host shows before the user edits anything.
func DefaultParams() Params {
	return Params{
		Mode:         resolution.PrioritizeMin,
		MinRes:       704,
		MaxRes:       1280,
		MultipleOf:   8,
		Rounding:     resolution.RoundHalfEven,
		Resize:       ResizeAuto,
		CropPosition: transform.CropCenter,
		Tolerance:    resolution.DefaultTolerance,
	}
}

// Normalize parses every enumerated field into its canonical value and
// validates the result. Display names such as
// "Prioritize Max Resolution (Strict)" are accepted for the mode.
func (p Params) Normalize() (Params, error) {
	var err error
	if p.Mode, err = resolution.ParseConstraintMode(string(p.Mode)); err != nil {
		return Params{}, err
	}
	if p.Rounding, err = resolution.ParseRoundingPolicy(string(p.Rounding)); err != nil {
		return Params{}, err
	}
	if p.Resize, err = ParseResizeMode(string(p.Resize)); err != nil {
		return Params{}, err
	}
	if p.CropPosition, err = transform.ParseCropPosition(string(p.CropPosition)); err != nil {
		return Params{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if p.Tolerance < 0 || math.IsNaN(p.Tolerance) || math.IsInf(p.Tolerance, 0) {
		return Params{}, fmt.Errorf("%w: tolerance (%g) must be a non-negative percentage", ErrInvalidParams, p.Tolerance)
	}
	if err := p.Constraints().Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate reports whether p can be normalized.
func (p Params) Validate() error {
	_, err := p.Normalize()
	return err
}

// Constraints extracts the resolution constraints.
func (p Params) Constraints() resolution.Constraints {
	return resolution.Constraints{
		Mode:       p.Mode,
		Rounding:   p.Rounding,
		MinRes:     p.MinRes,
		MaxRes:     p.MaxRes,
		MultipleOf: p.MultipleOf,
	}
}
