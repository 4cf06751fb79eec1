// Package imagebuf holds batched float pixel buffers in
// [batch, height, width, channels] layout, the shape node-based hosts hand
// images around in.
package imagebuf

import (
	"errors"
	"fmt"
	"image"

	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

var (
	// ErrInvalidShape is returned when a buffer's shape and data disagree.
	ErrInvalidShape = errors.New("invalid buffer shape")
	// ErrUnsupportedChannels is returned when a frame cannot be viewed as an image.
	ErrUnsupportedChannels = errors.New("unsupported channel count")
)

// Buffer is a batch of equally sized frames stored row-major as
// Data[((n*Height+y)*Width+x)*Channels+c]. Values are nominally in [0, 1].
type Buffer struct {
	Data     []float32
	Batch    int
	Height   int
	Width    int
	Channels int
}

// New allocates a zeroed buffer.
func New(batch, height, width, channels int) (*Buffer, error) {
	if batch < 1 || height < 1 || width < 1 || channels < 1 {
		return nil, fmt.Errorf("%w: [%d, %d, %d, %d]", ErrInvalidShape, batch, height, width, channels)
	}
	return &Buffer{
		Data:     make([]float32, batch*height*width*channels),
		Batch:    batch,
		Height:   height,
		Width:    width,
		Channels: channels,
	}, nil
}

// Validate checks that every axis is positive and Data has exactly the
// number of elements the shape implies.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidShape)
	}
	if b.Batch < 1 || b.Height < 1 || b.Width < 1 || b.Channels < 1 {
		return fmt.Errorf("%w: %v", ErrInvalidShape, b.Shape())
	}
	if want := b.Batch * b.FrameLen(); len(b.Data) != want {
		return fmt.Errorf("%w: %v needs %d values, have %d", ErrInvalidShape, b.Shape(), want, len(b.Data))
	}
	return nil
}

// Shape returns [batch, height, width, channels].
func (b *Buffer) Shape() []int {
	return []int{b.Batch, b.Height, b.Width, b.Channels}
}

// Dimensions returns the spatial size of one frame.
func (b *Buffer) Dimensions() resolution.Dimensions {
	return resolution.Dimensions{Width: b.Width, Height: b.Height}
}

// FrameLen is the number of values in one frame.
func (b *Buffer) FrameLen() int {
	return b.Height * b.Width * b.Channels
}

// Offset returns the index of channel 0 of pixel (x, y) in frame n.
func (b *Buffer) Offset(n, x, y int) int {
	return ((n*b.Height+y)*b.Width + x) * b.Channels
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := *b
	out.Data = make([]float32, len(b.Data))
	copy(out.Data, b.Data)
	return &out
}

// FromImage builds a single-frame buffer from img.
func FromImage(img image.Image, channels int) (*Buffer, error) {
	return FromImages([]image.Image{img}, channels)
}

// FromImages stacks equally sized images into one buffer.
func FromImages(imgs []image.Image, channels int) (*Buffer, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("%w: no images", ErrInvalidShape)
	}
	if channels < 1 || channels > 4 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChannels, channels)
	}

	bounds := imgs[0].Bounds()
	buf, err := New(len(imgs), bounds.Dy(), bounds.Dx(), channels)
	if err != nil {
		return nil, err
	}
	for n, img := range imgs {
		if err := buf.SetFrame(n, img); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
