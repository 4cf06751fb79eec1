package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timkrebs/constrain-resolution/internal/imagebuf"
)

// ramp returns a single-channel buffer whose values are their own index.
func ramp(t *testing.T, batch, height, width int) *imagebuf.Buffer {
	t.Helper()
	buf, err := imagebuf.New(batch, height, width, 1)
	require.NoError(t, err)
	for i := range buf.Data {
		buf.Data[i] = float32(i)
	}
	return buf
}

func TestCrop(t *testing.T) {
	buf := ramp(t, 1, 3, 4)

	tests := []struct {
		pos  CropPosition
		want []float32
	}{
		{CropCenter, []float32{1, 2, 5, 6}},
		{CropRight, []float32{2, 3, 6, 7}},
		{CropBottom, []float32{5, 6, 9, 10}},
		{CropLeft, []float32{0, 1, 4, 5}},
		{CropTop, []float32{1, 2, 5, 6}},
	}

	for _, tt := range tests {
		t.Run(string(tt.pos), func(t *testing.T) {
			out, err := Crop(buf, dims(2, 2), tt.pos)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 2, 2, 1}, out.Shape())
			assert.Equal(t, tt.want, out.Data)
		})
	}
}

func TestCrop_Batch(t *testing.T) {
	buf := ramp(t, 2, 2, 2)
	out, err := Crop(buf, dims(1, 1), CropTop)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 4}, out.Data)
}

func TestCrop_NoExcessClones(t *testing.T) {
	buf := ramp(t, 1, 2, 2)
	out, err := Crop(buf, dims(2, 2), CropCenter)
	require.NoError(t, err)
	assert.Equal(t, buf.Data, out.Data)

	out.Data[0] = 42
	assert.Equal(t, float32(0), buf.Data[0])
}

func TestCrop_TooLarge(t *testing.T) {
	_, err := Crop(ramp(t, 1, 2, 2), dims(3, 2), CropCenter)
	assert.ErrorIs(t, err, ErrTargetExceedsSource)
}

func TestResize_Uniform(t *testing.T) {
	buf, err := imagebuf.New(2, 4, 4, 3)
	require.NoError(t, err)
	for i := range buf.Data {
		buf.Data[i] = 0.5
	}

	out, err := Resize(buf, dims(8, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 8, 3}, out.Shape())
	for _, v := range out.Data {
		assert.InDelta(t, 0.5, v, 1e-3)
	}
}

func TestResize_KeepsColourUnderZeroAlpha(t *testing.T) {
	buf, err := imagebuf.New(1, 1, 2, 4)
	require.NoError(t, err)
	copy(buf.Data, []float32{1, 0, 0, 0, 1, 0, 0, 1})

	out, err := Resize(buf, dims(4, 1))
	require.NoError(t, err)
	for x := 0; x < 4; x++ {
		px := out.Data[x*4 : x*4+4]
		assert.InDelta(t, 1, px[0], 1e-3, "red at x=%d", x)
		assert.InDelta(t, 0, px[1], 1e-3, "green at x=%d", x)
	}
	assert.Less(t, out.Data[3], out.Data[15])
}

func TestResize_SameSize(t *testing.T) {
	buf := ramp(t, 1, 2, 3)
	out, err := Resize(buf, buf.Dimensions())
	require.NoError(t, err)
	assert.Equal(t, buf.Data, out.Data)
	assert.NotSame(t, buf, out)
}

func TestResize_Errors(t *testing.T) {
	_, err := Resize(&imagebuf.Buffer{}, dims(2, 2))
	assert.ErrorIs(t, err, imagebuf.ErrInvalidShape)

	_, err = Resize(ramp(t, 1, 2, 2), dims(0, 2))
	assert.ErrorIs(t, err, ErrInvalidTarget)

	wide, err := imagebuf.New(1, 2, 2, 6)
	require.NoError(t, err)
	_, err = Resize(wide, dims(4, 4))
	assert.ErrorIs(t, err, imagebuf.ErrUnsupportedChannels)
}

func TestFit_ExactTarget(t *testing.T) {
	buf, err := imagebuf.New(1, 100, 300, 3)
	require.NoError(t, err)

	out, err := Fit(buf, dims(64, 64), CropCenter)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 64, 64, 3}, out.Shape())
}

func TestFit_CropOnlyWhenLimitingAxisMatches(t *testing.T) {
	buf := ramp(t, 1, 2, 4)
	for i := range buf.Data {
		buf.Data[i] /= 10
	}

	out, err := Fit(buf, dims(2, 2), CropCenter)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.5, 0.6}, out.Data)
}
