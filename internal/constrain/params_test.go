package constrain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timkrebs/constrain-resolution/internal/resolution"
	"github.com/timkrebs/constrain-resolution/internal/transform"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, resolution.Constraints{
		Mode:       resolution.PrioritizeMin,
		Rounding:   resolution.RoundHalfEven,
		MinRes:     704,
		MaxRes:     1280,
		MultipleOf: 8,
	}, p.Constraints())
}

func TestNormalize_AcceptsDisplayNamesAndBlanks(t *testing.T) {
	p := Params{
		Mode:       "Prioritize Max Resolution (Strict)",
		MinRes:     64,
		MaxRes:     512,
		MultipleOf: 16,
		Resize:     " CROP ",
	}

	got, err := p.Normalize()
	require.NoError(t, err)
	assert.Equal(t, resolution.PrioritizeMaxStrict, got.Mode)
	assert.Equal(t, resolution.RoundHalfEven, got.Rounding)
	assert.Equal(t, ResizeCrop, got.Resize)
	assert.Equal(t, transform.CropCenter, got.CropPosition)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		want   error
	}{
		{"max below min", func(p *Params) { p.MaxRes = 500 }, resolution.ErrInvalidConstraint},
		{"zero multiple", func(p *Params) { p.MultipleOf = 0 }, resolution.ErrInvalidConstraint},
		{"unknown mode", func(p *Params) { p.Mode = "widest" }, resolution.ErrInvalidConstraint},
		{"unknown rounding", func(p *Params) { p.Rounding = "banker" }, resolution.ErrInvalidConstraint},
		{"unknown resize", func(p *Params) { p.Resize = "squash" }, ErrInvalidParams},
		{"unknown crop", func(p *Params) { p.CropPosition = "corner" }, ErrInvalidParams},
		{"negative tolerance", func(p *Params) { p.Tolerance = -0.5 }, ErrInvalidParams},
		{"nan tolerance", func(p *Params) { p.Tolerance = math.NaN() }, ErrInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), tt.want)
		})
	}
}

func TestParams_JSON(t *testing.T) {
	var p Params
	err := json.Unmarshal([]byte(`{
		"constraint_mode": "prioritize_max_strict",
		"min_res": 256,
		"max_res": 1024,
		"multiple_of": 64,
		"resize_mode": "stretch",
		"crop_position": "top",
		"tolerance": 2.5
	}`), &p)
	require.NoError(t, err)
	assert.Equal(t, resolution.PrioritizeMaxStrict, p.Mode)
	assert.Equal(t, ResizeStretch, p.Resize)
	assert.Equal(t, transform.CropTop, p.CropPosition)
	assert.Equal(t, 2.5, p.Tolerance)
	assert.NoError(t, p.Validate())
}
