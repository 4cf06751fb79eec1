package transform

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

// ResizeImage scales img to exactly target using bilinear filtering.
func ResizeImage(img image.Image, target resolution.Dimensions) (*image.NRGBA, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	if dimensionsOf(img) == target {
		return imaging.Clone(img), nil
	}
	return imaging.Resize(img, target.Width, target.Height, imaging.Linear), nil
}

// CropImage cuts the target window out of img at pos.
func CropImage(img image.Image, target resolution.Dimensions, pos CropPosition) (*image.NRGBA, error) {
	bounds := img.Bounds()
	off, err := CropOffsets(dimensionsOf(img), target, pos)
	if err != nil {
		return nil, err
	}
	origin := bounds.Min.Add(off)
	return imaging.Crop(img, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(target.Width, target.Height))}), nil
}

// FitImage scales img to cover target and crops the overshoot at pos.
func FitImage(img image.Image, target resolution.Dimensions, pos CropPosition) (*image.NRGBA, error) {
	plan, err := PlanResize(dimensionsOf(img), target)
	if err != nil {
		return nil, err
	}
	resized, err := ResizeImage(img, plan)
	if err != nil {
		return nil, err
	}
	return CropImage(resized, target, pos)
}

func dimensionsOf(img image.Image) resolution.Dimensions {
	b := img.Bounds()
	return resolution.Dimensions{Width: b.Dx(), Height: b.Dy()}
}
