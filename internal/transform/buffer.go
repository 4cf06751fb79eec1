package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/timkrebs/constrain-resolution/internal/imagebuf"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

// Resize scales every frame of buf to target with bilinear interpolation.
// Frames are interpolated at 16 bits per channel. Colour is interpolated
// unpremultiplied, so fully transparent pixels keep their colour values.
// A buffer that already has the target size is returned as a copy.
func Resize(buf *imagebuf.Buffer, target resolution.Dimensions) (*imagebuf.Buffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	if buf.Dimensions() == target {
		return buf.Clone(), nil
	}

	out, err := imagebuf.New(buf.Batch, target.Height, target.Width, buf.Channels)
	if err != nil {
		return nil, err
	}
	dst := image.NewNRGBA64(image.Rect(0, 0, target.Width, target.Height))
	var alpha *image.Gray16
	if buf.Channels == 2 || buf.Channels == 4 {
		alpha = image.NewGray16(dst.Bounds())
	}
	for n := 0; n < buf.Batch; n++ {
		src, err := buf.Frame(n)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", n, err)
		}
		if alpha == nil {
			xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		} else {
			scaleStraight(dst, alpha, src)
		}
		if err := out.SetFrame(n, dst); err != nil {
			return nil, fmt.Errorf("failed to write frame %d: %w", n, err)
		}
	}
	return out, nil
}

// scaleStraight scales the colour and alpha planes of src separately and
// joins them in dst.
func scaleStraight(dst *image.NRGBA64, alpha *image.Gray16, src image.Image) {
	xdraw.BiLinear.Scale(dst, dst.Bounds(), opaqueView{src}, src.Bounds(), xdraw.Src, nil)
	xdraw.BiLinear.Scale(alpha, alpha.Bounds(), alphaView{src}, src.Bounds(), xdraw.Src, nil)
	// Both images start at the origin, so pixel i sits at 8i in dst and 2i in alpha.
	for i := 0; i < len(alpha.Pix)/2; i++ {
		dst.Pix[i*8+6] = alpha.Pix[i*2]
		dst.Pix[i*8+7] = alpha.Pix[i*2+1]
	}
}

// opaqueView reads the colour of src with alpha forced to opaque.
type opaqueView struct{ src image.Image }

func (v opaqueView) ColorModel() color.Model { return color.NRGBA64Model }
func (v opaqueView) Bounds() image.Rectangle { return v.src.Bounds() }
func (v opaqueView) At(x, y int) color.Color {
	c := color.NRGBA64Model.Convert(v.src.At(x, y)).(color.NRGBA64)
	c.A = math.MaxUint16
	return c
}

// alphaView reads the alpha of src as gray.
type alphaView struct{ src image.Image }

func (v alphaView) ColorModel() color.Model { return color.Gray16Model }
func (v alphaView) Bounds() image.Rectangle { return v.src.Bounds() }
func (v alphaView) At(x, y int) color.Color {
	return color.Gray16{Y: color.NRGBA64Model.Convert(v.src.At(x, y)).(color.NRGBA64).A}
}

// Crop trims every frame of buf to target, keeping the window anchored at pos.
// No resampling happens; values are copied verbatim.
func Crop(buf *imagebuf.Buffer, target resolution.Dimensions, pos CropPosition) (*imagebuf.Buffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	off, err := CropOffsets(buf.Dimensions(), target, pos)
	if err != nil {
		return nil, err
	}
	if buf.Dimensions() == target {
		return buf.Clone(), nil
	}

	out, err := imagebuf.New(buf.Batch, target.Height, target.Width, buf.Channels)
	if err != nil {
		return nil, err
	}
	row := target.Width * buf.Channels
	for n := 0; n < buf.Batch; n++ {
		for y := 0; y < target.Height; y++ {
			s := buf.Offset(n, off.X, off.Y+y)
			d := out.Offset(n, 0, y)
			copy(out.Data[d:d+row], buf.Data[s:s+row])
		}
	}
	return out, nil
}

// Fit scales buf to cover target without distorting it, then crops the
// overshooting axis at pos.
func Fit(buf *imagebuf.Buffer, target resolution.Dimensions, pos CropPosition) (*imagebuf.Buffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	plan, err := PlanResize(buf.Dimensions(), target)
	if err != nil {
		return nil, err
	}
	resized, err := Resize(buf, plan)
	if err != nil {
		return nil, err
	}
	return Crop(resized, target, pos)
}
