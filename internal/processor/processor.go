package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/metrics"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

var (
	// ErrDecode is returned when the upload is not a supported image
	ErrDecode = errors.New("failed to decode image")
	// ErrImageTooLarge is returned when the source or the resolved output
	// would exceed the pixel limit
	ErrImageTooLarge = errors.New("image exceeds pixel limit")
)

// Processor decodes uploads, constrains them and re-encodes the result
type Processor struct {
	node      *constrain.Node
	metrics   *metrics.ConstrainMetrics
	maxPixels int
}

// New creates a processor. maxPixels bounds both the decoded source and the
// resolved output; maxPixels <= 0 disables the guard.
func New(node *constrain.Node, maxPixels int) *Processor {
	return &Processor{node: node, maxPixels: maxPixels}
}

// SetMetrics injects metrics collectors into the processor
func (p *Processor) SetMetrics(m *metrics.ConstrainMetrics) {
	p.metrics = m
}

// ProcessResult contains the encoded image and what was done to it
type ProcessResult struct {
	Plan        *constrain.Plan
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
}

// Process constrains the image read from reader. The output keeps the input
// format; contentType is only a fallback when the format cannot be sniffed.
func (p *Processor) Process(reader io.Reader, contentType string, params constrain.Params) (*ProcessResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if p.maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(p.maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d > %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, p.maxPixels)
	}

	// Orientation is applied so the resolved size matches what viewers display.
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	start := time.Now()
	b := img.Bounds()
	plan, err := p.node.Plan(resolution.Dimensions{Width: b.Dx(), Height: b.Dy()}, params)
	if err != nil {
		return nil, err
	}
	if err := p.checkPlan(plan); err != nil {
		return nil, err
	}
	res, err := p.node.ApplyImage(img, plan)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.TransformDuration.WithLabelValues(string(res.Plan.Strategy)).Observe(time.Since(start).Seconds())
		p.metrics.ObserveResolution(string(res.Plan.Params.Mode), string(res.Plan.Strategy), res.Plan.Deviation, res.Plan.DeviationExceeded)
	}

	outFormat := outputFormat(format, contentType)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, res.Image, outFormat, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", outFormat, err)
	}

	bounds := res.Image.Bounds()
	return &ProcessResult{
		Plan:        res.Plan,
		Data:        buf.Bytes(),
		ContentType: "image/" + strings.ToLower(outFormat.String()),
		Ext:         "." + strings.ToLower(outFormat.String()),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// checkPlan rejects plans whose output, or the scaled image cropped to it,
// would exceed the pixel limit.
func (p *Processor) checkPlan(plan *constrain.Plan) error {
	if p.maxPixels <= 0 {
		return nil
	}
	for _, d := range []resolution.Dimensions{plan.Target, plan.Intermediate} {
		if int64(d.Width)*int64(d.Height) > int64(p.maxPixels) {
			return fmt.Errorf("%w: %s resolved to %s > %d pixels", ErrImageTooLarge, plan.Source, d, p.maxPixels)
		}
	}
	return nil
}

// outputFormat picks the encoder for a sniffed format name
func outputFormat(sniffed, contentType string) imaging.Format {
	if f, err := imaging.FormatFromExtension(sniffed); err == nil {
		switch f {
		case imaging.JPEG, imaging.PNG, imaging.GIF:
			return f
		}
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "png"):
		return imaging.PNG
	case strings.Contains(ct, "gif"):
		return imaging.GIF
	default:
		return imaging.JPEG
	}
}
