package imagebuf

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

func TestNew(t *testing.T) {
	buf, err := New(2, 3, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 3}, buf.Shape())
	assert.Len(t, buf.Data, 2*3*4*3)
	assert.Equal(t, resolution.Dimensions{Width: 4, Height: 3}, buf.Dimensions())
	assert.NoError(t, buf.Validate())

	_, err = New(1, 0, 4, 3)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestValidate(t *testing.T) {
	var nilBuf *Buffer
	assert.ErrorIs(t, nilBuf.Validate(), ErrInvalidShape)

	short := &Buffer{Batch: 1, Height: 2, Width: 2, Channels: 3, Data: make([]float32, 11)}
	assert.ErrorIs(t, short.Validate(), ErrInvalidShape)
}

func TestOffset(t *testing.T) {
	buf, err := New(2, 3, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, buf.Offset(0, 0, 0))
	assert.Equal(t, 3, buf.Offset(0, 1, 0))
	assert.Equal(t, 12, buf.Offset(0, 0, 1))
	assert.Equal(t, buf.FrameLen(), buf.Offset(1, 0, 0))
}

func TestClone_IsIndependent(t *testing.T) {
	buf, err := New(1, 2, 2, 1)
	require.NoError(t, err)
	buf.Data[0] = 0.5

	clone := buf.Clone()
	clone.Data[0] = 1
	assert.Equal(t, float32(0.5), buf.Data[0])
	assert.Equal(t, buf.Shape(), clone.Shape())
}

func TestFrame_RGB(t *testing.T) {
	buf, err := New(1, 1, 2, 3)
	require.NoError(t, err)
	copy(buf.Data, []float32{1, 0, 0, 0, 0.5, 1})

	img, err := buf.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())

	c := color.NRGBA64Model.Convert(img.At(0, 0)).(color.NRGBA64)
	assert.Equal(t, color.NRGBA64{R: 0xffff, A: 0xffff}, c)

	c = color.NRGBA64Model.Convert(img.At(1, 0)).(color.NRGBA64)
	assert.Equal(t, uint16(0x8000), c.G)
	assert.Equal(t, uint16(0xffff), c.B)

	// Outside the frame is transparent black.
	assert.Equal(t, color.NRGBA64{}, img.At(5, 5))
}

func TestFrame_ClampsOutOfRange(t *testing.T) {
	buf, err := New(1, 1, 1, 1)
	require.NoError(t, err)
	buf.Data[0] = 1.7

	img, err := buf.Image(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xffff), img.NRGBA64At(0, 0).R)

	buf.Data[0] = -3
	img, err = buf.Image(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), img.NRGBA64At(0, 0).R)
}

func TestFrame_Errors(t *testing.T) {
	buf, err := New(1, 2, 2, 5)
	require.NoError(t, err)
	_, err = buf.Frame(0)
	assert.ErrorIs(t, err, ErrUnsupportedChannels)

	buf, err = New(1, 2, 2, 3)
	require.NoError(t, err)
	_, err = buf.Frame(1)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestFromImage_RoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 100), G: uint8(y * 200), B: 50, A: 255})
		}
	}

	buf, err := FromImage(src, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 3}, buf.Shape())

	off := buf.Offset(0, 2, 1)
	assert.InDelta(t, 200.0/255, buf.Data[off], 1e-4)
	assert.InDelta(t, 200.0/255, buf.Data[off+1], 1e-4)
	assert.InDelta(t, 50.0/255, buf.Data[off+2], 1e-4)

	out, err := buf.Image(0)
	require.NoError(t, err)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			want := color.NRGBA64Model.Convert(src.At(x, y)).(color.NRGBA64)
			assert.Equal(t, want, out.NRGBA64At(x, y))
		}
	}
}

func TestFromImage_GrayscaleAndAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 128, G: 128, B: 128, A: 64})

	gray, err := FromImage(src, 1)
	require.NoError(t, err)
	assert.InDelta(t, 128.0/255, gray.Data[0], 1e-4)

	grayAlpha, err := FromImage(src, 2)
	require.NoError(t, err)
	assert.InDelta(t, 128.0/255, grayAlpha.Data[0], 1e-4)
	assert.InDelta(t, 64.0/255, grayAlpha.Data[1], 1e-4)
}

func TestFromImages_SizeMismatch(t *testing.T) {
	a := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	b := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	_, err := FromImages([]image.Image{a, b}, 3)
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = FromImages(nil, 3)
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = FromImages([]image.Image{a}, 7)
	assert.ErrorIs(t, err, ErrUnsupportedChannels)
}

func TestFromImage_HonoursBoundsOrigin(t *testing.T) {
	src := image.NewNRGBA64(image.Rect(10, 20, 12, 21))
	src.SetNRGBA64(11, 20, color.NRGBA64{R: 0xffff, A: 0xffff})

	buf, err := FromImage(src, 4)
	require.NoError(t, err)
	off := buf.Offset(0, 1, 0)
	assert.Equal(t, float32(1), buf.Data[off])
	assert.Equal(t, float32(1), buf.Data[off+3])
}
