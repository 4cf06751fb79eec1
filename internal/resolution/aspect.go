package resolution

import (
	"fmt"
	"math"
)

// DefaultTolerance is the aspect deviation, in percent, above which a
// resolution is reported as distorting the source ratio.
const DefaultTolerance = 1.0

// AspectRatio returns width/height rounded to four decimals, or 0 when the
// height is zero.
func AspectRatio(d Dimensions) float64 {
	if d.Height == 0 {
		return 0
	}
	return math.Round(float64(d.Width)/float64(d.Height)*1e4) / 1e4
}

// Deviation returns how far the ratio of dst strays from the ratio of src, as
// a percentage of the source ratio. Exact ratios are used, not the rounded
// values from AspectRatio.
func Deviation(src, dst Dimensions) float64 {
	if !src.Valid() || dst.Height == 0 {
		return 0
	}
	orig := float64(src.Width) / float64(src.Height)
	final := float64(dst.Width) / float64(dst.Height)
	return math.Abs(final-orig) / orig * 100
}

// Analysis is a resolved target together with the observations a caller
// usually surfaces next to it.
type Analysis struct {
	Source              Dimensions `json:"source"`
	Target              Dimensions `json:"target"`
	AspectRatio         float64    `json:"aspect_ratio"`
	OriginalAspectRatio float64    `json:"original_aspect_ratio"`
	Deviation           float64    `json:"deviation"`
	DeviationExceeded   bool       `json:"deviation_exceeded"`
	// ExceedsMax is set when a side of Target is above MaxRes, in either
	// mode. PrioritizeMin scaling up to MinRes causes it, and so does
	// rounding past a MaxRes that is not a multiple of MultipleOf.
	ExceedsMax bool `json:"exceeds_max"`
	// BelowMin is set when a side of Target is under MinRes: a short side
	// left there by PrioritizeMaxStrict, or one rounded down below it.
	BelowMin bool `json:"below_min"`
}

// Analyze resolves src under c and measures the aspect deviation against
// tolerance (percent).
func Analyze(src Dimensions, c Constraints, tolerance float64) (Analysis, error) {
	if tolerance < 0 || math.IsNaN(tolerance) {
		return Analysis{}, fmt.Errorf("%w: tolerance (%g) must not be negative", ErrInvalidConstraint, tolerance)
	}

	target, err := Resolve(src, c)
	if err != nil {
		return Analysis{}, err
	}

	dev := Deviation(src, target)
	return Analysis{
		Source:              src,
		Target:              target,
		AspectRatio:         AspectRatio(target),
		OriginalAspectRatio: AspectRatio(src),
		Deviation:           dev,
		DeviationExceeded:   dev > tolerance,
		ExceedsMax:          target.Width > c.MaxRes || target.Height > c.MaxRes,
		BelowMin:            target.Width < c.MinRes || target.Height < c.MinRes,
	}, nil
}
