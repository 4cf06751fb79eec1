package imagebuf

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Frame returns a read-only image.Image view over frame n. Channel counts map
// to gray (1), gray+alpha (2), RGB (3) and RGBA (4); missing alpha is opaque.
func (b *Buffer) Frame(n int) (image.Image, error) {
	if err := b.checkFrame(n); err != nil {
		return nil, err
	}
	return frame{b: b, n: n}, nil
}

// Image materializes frame n as a 16-bit image, e.g. for encoding.
func (b *Buffer) Image(n int) (*image.NRGBA64, error) {
	if err := b.checkFrame(n); err != nil {
		return nil, err
	}
	f := frame{b: b, n: n}
	dst := image.NewNRGBA64(f.Bounds())
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			dst.SetNRGBA64(x, y, f.NRGBA64At(x, y))
		}
	}
	return dst, nil
}

// SetFrame overwrites frame n with the pixels of img, which must match the
// buffer's width and height.
func (b *Buffer) SetFrame(n int, img image.Image) error {
	if err := b.checkFrame(n); err != nil {
		return err
	}
	bounds := img.Bounds()
	if bounds.Dx() != b.Width || bounds.Dy() != b.Height {
		return fmt.Errorf("%w: frame is %dx%d, buffer is %dx%d",
			ErrInvalidShape, bounds.Dx(), bounds.Dy(), b.Width, b.Height)
	}

	nrgba64, fast := img.(*image.NRGBA64)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			var c color.NRGBA64
			if fast {
				c = nrgba64.NRGBA64At(bounds.Min.X+x, bounds.Min.Y+y)
			} else {
				c = color.NRGBA64Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			}
			b.store(b.Offset(n, x, y), c)
		}
	}
	return nil
}

func (b *Buffer) checkFrame(n int) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if n < 0 || n >= b.Batch {
		return fmt.Errorf("%w: frame %d out of range [0, %d)", ErrInvalidShape, n, b.Batch)
	}
	if b.Channels > 4 {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannels, b.Channels)
	}
	return nil
}

func (b *Buffer) store(off int, c color.NRGBA64) {
	px := b.Data[off : off+b.Channels]
	switch b.Channels {
	case 1:
		px[0] = from16(luma(c))
	case 2:
		px[0] = from16(luma(c))
		px[1] = from16(c.A)
	case 3:
		px[0], px[1], px[2] = from16(c.R), from16(c.G), from16(c.B)
	case 4:
		px[0], px[1], px[2], px[3] = from16(c.R), from16(c.G), from16(c.B), from16(c.A)
	}
}

type frame struct {
	b *Buffer
	n int
}

func (f frame) ColorModel() color.Model { return color.NRGBA64Model }

func (f frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.b.Width, f.b.Height) }

func (f frame) At(x, y int) color.Color { return f.NRGBA64At(x, y) }

func (f frame) RGBA64At(x, y int) color.RGBA64 {
	r, g, b, a := f.NRGBA64At(x, y).RGBA()
	return color.RGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: uint16(a)}
}

func (f frame) NRGBA64At(x, y int) color.NRGBA64 {
	if !(image.Point{X: x, Y: y}.In(f.Bounds())) {
		return color.NRGBA64{}
	}
	off := f.b.Offset(f.n, x, y)
	px := f.b.Data[off : off+f.b.Channels]
	switch f.b.Channels {
	case 1:
		v := to16(px[0])
		return color.NRGBA64{R: v, G: v, B: v, A: math.MaxUint16}
	case 2:
		v := to16(px[0])
		return color.NRGBA64{R: v, G: v, B: v, A: to16(px[1])}
	case 3:
		return color.NRGBA64{R: to16(px[0]), G: to16(px[1]), B: to16(px[2]), A: math.MaxUint16}
	default:
		return color.NRGBA64{R: to16(px[0]), G: to16(px[1]), B: to16(px[2]), A: to16(px[3])}
	}
}

// to16 clamps v into [0, 1] and scales it to 16 bits.
func to16(v float32) uint16 {
	switch {
	case v != v || v <= 0:
		return 0
	case v >= 1:
		return math.MaxUint16
	}
	return uint16(math.Round(float64(v) * math.MaxUint16))
}

func from16(v uint16) float32 {
	return float32(v) / math.MaxUint16
}

// luma uses the same weights as color.Gray16Model.
func luma(c color.NRGBA64) uint16 {
	y := (19595*uint32(c.R) + 38470*uint32(c.G) + 7471*uint32(c.B) + 1<<15) >> 16
	return uint16(y)
}
