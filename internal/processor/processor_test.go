package processor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/metrics"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

// createTestImage creates a gradient image
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

// encodeTestImage encodes a test image to bytes
func encodeTestImage(t *testing.T, img image.Image, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	default:
		t.Fatalf("unsupported format: %s", format)
	}
	if err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return buf.Bytes()
}

func newTestProcessor(maxPixels int) *Processor {
	return New(constrain.New(slog.New(slog.NewTextHandler(io.Discard, nil))), maxPixels)
}

// smallParams keeps test images small
func smallParams() constrain.Params {
	p := constrain.DefaultParams()
	p.MinRes, p.MaxRes, p.MultipleOf = 32, 64, 8
	return p
}

func decodeResult(t *testing.T, result *ProcessResult) image.Image {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("result does not decode: %v", err)
	}
	return img
}

func TestProcessor_Process_JPEG(t *testing.T) {
	p := newTestProcessor(0)
	data := encodeTestImage(t, createTestImage(128, 64), "jpeg")

	result, err := p.Process(bytes.NewReader(data), "image/jpeg", smallParams())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.ContentType != "image/jpeg" || result.Ext != ".jpeg" {
		t.Errorf("ContentType/Ext = %q/%q, want image/jpeg/.jpeg", result.ContentType, result.Ext)
	}
	if result.Width != 64 || result.Height != 32 {
		t.Errorf("size = %dx%d, want 64x32", result.Width, result.Height)
	}
	if b := decodeResult(t, result).Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("decoded size = %dx%d, want 64x32", b.Dx(), b.Dy())
	}
	if result.Plan.Strategy != constrain.StrategyResize {
		t.Errorf("Strategy = %q, want resize", result.Plan.Strategy)
	}
}

func TestProcessor_Process_PNGKeepsFormat(t *testing.T) {
	p := newTestProcessor(0)
	data := encodeTestImage(t, createTestImage(50, 100), "png")

	// The sniffed format wins over a wrong content type.
	result, err := p.Process(bytes.NewReader(data), "image/jpeg", smallParams())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", result.ContentType)
	}
	if result.Width != 32 || result.Height != 64 {
		t.Errorf("size = %dx%d, want 32x64", result.Width, result.Height)
	}
}

func TestProcessor_Process_CropsOnDeviation(t *testing.T) {
	p := newTestProcessor(0)
	data := encodeTestImage(t, createTestImage(300, 10), "png")

	params := smallParams()
	params.Mode = resolution.PrioritizeMaxStrict
	params.MultipleOf = 16
	result, err := p.Process(bytes.NewReader(data), "image/png", params)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	// 64x2.13 is clamped to one multiple: 64x16.
	if result.Width != 64 || result.Height != 16 {
		t.Errorf("size = %dx%d, want 64x16", result.Width, result.Height)
	}
	if result.Plan.Strategy != constrain.StrategyResizeCrop {
		t.Errorf("Strategy = %q, want resize_crop", result.Plan.Strategy)
	}
}

func TestProcessor_Process_Passthrough(t *testing.T) {
	p := newTestProcessor(0)
	data := encodeTestImage(t, createTestImage(100, 40), "png")

	params := smallParams()
	params.Resize = constrain.ResizeNone
	result, err := p.Process(bytes.NewReader(data), "image/png", params)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Width != 100 || result.Height != 40 {
		t.Errorf("passthrough size = %dx%d, want 100x40", result.Width, result.Height)
	}
	// 64x25.6 is scaled up to reach min_res on the short side.
	if got := result.Plan.Target; got != (resolution.Dimensions{Width: 80, Height: 32}) {
		t.Errorf("Target = %v, want 80x32", got)
	}
}

func TestProcessor_Process_Errors(t *testing.T) {
	p := newTestProcessor(100)

	_, err := p.Process(bytes.NewReader([]byte("not an image")), "image/jpeg", smallParams())
	if !errors.Is(err, ErrDecode) {
		t.Errorf("invalid data error = %v, want ErrDecode", err)
	}

	data := encodeTestImage(t, createTestImage(20, 20), "png")
	_, err = p.Process(bytes.NewReader(data), "image/png", smallParams())
	if !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("oversized error = %v, want ErrImageTooLarge", err)
	}

	params := smallParams()
	params.MaxRes = 16
	_, err = newTestProcessor(0).Process(bytes.NewReader(data), "image/png", params)
	if !errors.Is(err, resolution.ErrInvalidConstraint) {
		t.Errorf("bad params error = %v, want ErrInvalidConstraint", err)
	}
}

func TestProcessor_Process_RejectsOversizedOutput(t *testing.T) {
	p := newTestProcessor(1_000_000)
	// 300,000 source pixels, but the short side is scaled up to 704.
	data := encodeTestImage(t, createTestImage(3000, 100), "png")

	_, err := p.Process(bytes.NewReader(data), "image/png", constrain.DefaultParams())
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("error = %v, want ErrImageTooLarge", err)
	}
}

func TestProcessor_CheckPlan(t *testing.T) {
	plan := &constrain.Plan{
		Analysis:     resolution.Analysis{Target: resolution.Dimensions{Width: 100, Height: 100}},
		Intermediate: resolution.Dimensions{Width: 400, Height: 100},
	}

	if err := newTestProcessor(0).checkPlan(plan); err != nil {
		t.Errorf("disabled guard error = %v", err)
	}
	if err := newTestProcessor(40_000).checkPlan(plan); err != nil {
		t.Errorf("at limit error = %v", err)
	}
	if err := newTestProcessor(39_999).checkPlan(plan); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("intermediate over limit error = %v, want ErrImageTooLarge", err)
	}
}

func TestProcessor_RecordsMetrics(t *testing.T) {
	p := newTestProcessor(0)
	m := metrics.NewConstrainMetrics(prometheus.NewRegistry(), "test")
	p.SetMetrics(m)

	data := encodeTestImage(t, createTestImage(128, 64), "jpeg")
	if _, err := p.Process(bytes.NewReader(data), "image/jpeg", smallParams()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("prioritize_min", "resize")); got != 1 {
		t.Errorf("resolutions_total = %v, want 1", got)
	}
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		sniffed, contentType string
		want                 imaging.Format
	}{
		{"jpeg", "", imaging.JPEG},
		{"png", "image/jpeg", imaging.PNG},
		{"gif", "", imaging.GIF},
		{"", "image/png", imaging.PNG},
		{"webp", "image/gif", imaging.GIF},
		{"", "", imaging.JPEG},
	}
	for _, tt := range tests {
		if got := outputFormat(tt.sniffed, tt.contentType); got != tt.want {
			t.Errorf("outputFormat(%q, %q) = %v, want %v", tt.sniffed, tt.contentType, got, tt.want)
		}
	}
}

func BenchmarkProcessor_Process(b *testing.B) {
	p := newTestProcessor(0)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, createTestImage(1920, 1080), nil); err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Process(bytes.NewReader(data), "image/jpeg", constrain.DefaultParams()); err != nil {
			b.Fatal(err)
		}
	}
}
