// Package transform resizes and crops images to resolved target dimensions.
//
// Both batched float buffers (imagebuf.Buffer) and Go images are supported;
// the crop geometry and the resize-then-crop planning are shared between them.
package transform

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

var (
	// ErrInvalidTarget is returned for a target with a non-positive side.
	ErrInvalidTarget = errors.New("invalid target dimensions")
	// ErrTargetExceedsSource is returned when a crop target is larger than its source.
	ErrTargetExceedsSource = errors.New("crop target exceeds source")
	// ErrInvalidCropPosition is returned for an unknown anchor.
	ErrInvalidCropPosition = errors.New("invalid crop position")
)

// CropPosition anchors the retained window when trimming excess pixels.
type CropPosition string

const (
	CropCenter CropPosition = "center"
	CropTop    CropPosition = "top"
	CropBottom CropPosition = "bottom"
	CropLeft   CropPosition = "left"
	CropRight  CropPosition = "right"
)

// ParseCropPosition parses an anchor name; empty selects CropCenter.
func ParseCropPosition(s string) (CropPosition, error) {
	switch p := CropPosition(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CropCenter, nil
	case CropCenter, CropTop, CropBottom, CropLeft, CropRight:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCropPosition, s)
	}
}

// CropOffsets returns the top-left corner of the target window inside src.
func CropOffsets(src, target resolution.Dimensions, pos CropPosition) (image.Point, error) {
	if !target.Valid() {
		return image.Point{}, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	dx := src.Width - target.Width
	dy := src.Height - target.Height
	if dx < 0 || dy < 0 {
		return image.Point{}, fmt.Errorf("%w: cannot crop %s out of %s", ErrTargetExceedsSource, target, src)
	}

	var x, y int
	switch pos {
	case CropCenter, "":
		x, y = dx/2, dy/2
	case CropTop:
		x, y = dx/2, 0
	case CropBottom:
		x, y = dx/2, dy
	case CropLeft:
		x, y = 0, dy/2
	case CropRight:
		x, y = dx, dy/2
	default:
		return image.Point{}, fmt.Errorf("%w: %q", ErrInvalidCropPosition, pos)
	}
	return image.Pt(clamp(x, 0, dx), clamp(y, 0, dy)), nil
}

// PlanResize returns the size src must be scaled to so that it keeps its own
// aspect ratio and covers target on both axes. The limiting axis matches the
// target exactly; the other one overshoots and is left for a crop.
func PlanResize(src, target resolution.Dimensions) (resolution.Dimensions, error) {
	if !src.Valid() {
		return resolution.Dimensions{}, fmt.Errorf("%w: %s", resolution.ErrDegenerateInput, src)
	}
	if !target.Valid() {
		return resolution.Dimensions{}, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}

	srcAspect := float64(src.Width) / float64(src.Height)
	targetAspect := float64(target.Width) / float64(target.Height)

	plan := target
	switch {
	case srcAspect > targetAspect:
		// Wider than the target: height limits, width overshoots.
		plan.Width = max(target.Width, ceil(float64(target.Height)*srcAspect))
	case srcAspect < targetAspect:
		plan.Height = max(target.Height, ceil(float64(target.Width)/srcAspect))
	}
	return plan, nil
}

// ceil rounds up, ignoring float noise just above an integer.
func ceil(v float64) int {
	return int(math.Ceil(v - 1e-9))
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
