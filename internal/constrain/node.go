package constrain

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/timkrebs/constrain-resolution/internal/imagebuf"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
	"github.com/timkrebs/constrain-resolution/internal/transform"
)

// Strategy is the pixel operation chosen for a plan.
type Strategy string

const (
	StrategyPassthrough Strategy = "passthrough"
	StrategyResize      Strategy = "resize"
	StrategyResizeCrop  Strategy = "resize_crop"
)

// Plan is a resolved target plus the operation that will produce it.
type Plan struct {
	resolution.Analysis
	Strategy Strategy `json:"strategy"`
	// Intermediate is the size scaled to before cropping; it equals Target
	// unless Strategy is StrategyResizeCrop.
	Intermediate resolution.Dimensions `json:"intermediate"`
	Params       Params                `json:"params"`
}

// Result is what a host receives for a buffer.
type Result struct {
	Image               *imagebuf.Buffer
	Original            *imagebuf.Buffer
	Width               int
	Height              int
	AspectRatio         float64
	OriginalAspectRatio float64
	Plan                *Plan
}

// ImageResult is what a host receives for a decoded image.
type ImageResult struct {
	Image               image.Image
	Original            image.Image
	Width               int
	Height              int
	AspectRatio         float64
	OriginalAspectRatio float64
	Plan                *Plan
}

// Node runs constrain calls.
type Node struct {
	logger *slog.Logger
}

// New creates a Node. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{logger: logger}
}

// Plan resolves the target for src under params and picks a strategy.
func (n *Node) Plan(src resolution.Dimensions, params Params) (*Plan, error) {
	params, err := params.Normalize()
	if err != nil {
		return nil, err
	}

	analysis, err := resolution.Analyze(src, params.Constraints(), params.Tolerance)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Analysis:     analysis,
		Intermediate: analysis.Target,
		Params:       params,
	}
	switch params.Resize {
	case ResizeNone:
		plan.Strategy = StrategyPassthrough
	case ResizeStretch:
		plan.Strategy = StrategyResize
	case ResizeCrop:
		plan.Strategy = StrategyResizeCrop
	default:
		plan.Strategy = StrategyResize
		if analysis.DeviationExceeded {
			plan.Strategy = StrategyResizeCrop
		}
	}
	if plan.Strategy == StrategyResizeCrop {
		if plan.Intermediate, err = transform.PlanResize(src, analysis.Target); err != nil {
			return nil, err
		}
	}

	if analysis.DeviationExceeded {
		n.logger.Warn("aspect ratio deviation exceeds tolerance",
			"source", src.String(),
			"target", analysis.Target.String(),
			"deviation_pct", fmt.Sprintf("%.2f", analysis.Deviation),
			"tolerance_pct", params.Tolerance,
			"strategy", plan.Strategy,
		)
	}
	if analysis.ExceedsMax || analysis.BelowMin {
		n.logger.Debug("constraint window could not be honoured on both sides",
			"target", analysis.Target.String(),
			"exceeds_max", analysis.ExceedsMax,
			"below_min", analysis.BelowMin,
		)
	}
	n.logger.Debug("resolved dimensions",
		"source", src.String(),
		"target", analysis.Target.String(),
		"mode", params.Mode,
		"strategy", plan.Strategy,
	)
	return plan, nil
}

// Process constrains every frame of buf.
func (n *Node) Process(buf *imagebuf.Buffer, params Params) (*Result, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	plan, err := n.Plan(buf.Dimensions(), params)
	if err != nil {
		return nil, err
	}

	out := buf
	switch plan.Strategy {
	case StrategyResize:
		out, err = transform.Resize(buf, plan.Target)
	case StrategyResizeCrop:
		out, err = transform.Fit(buf, plan.Target, plan.Params.CropPosition)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s to buffer: %w", plan.Strategy, err)
	}

	return &Result{
		Image:               out,
		Original:            buf,
		Width:               plan.Target.Width,
		Height:              plan.Target.Height,
		AspectRatio:         plan.AspectRatio,
		OriginalAspectRatio: plan.OriginalAspectRatio,
		Plan:                plan,
	}, nil
}

// ProcessImage constrains a decoded image.
func (n *Node) ProcessImage(img image.Image, params Params) (*ImageResult, error) {
	b := img.Bounds()
	plan, err := n.Plan(resolution.Dimensions{Width: b.Dx(), Height: b.Dy()}, params)
	if err != nil {
		return nil, err
	}
	return n.ApplyImage(img, plan)
}

// ApplyImage runs a plan made by Plan for img's size. Callers that bound
// output size check plan.Target and plan.Intermediate before calling it.
func (n *Node) ApplyImage(img image.Image, plan *Plan) (*ImageResult, error) {
	b := img.Bounds()
	if src := (resolution.Dimensions{Width: b.Dx(), Height: b.Dy()}); src != plan.Source {
		return nil, fmt.Errorf("%w: plan made for %s, image is %s", ErrInvalidParams, plan.Source, src)
	}

	var err error
	out := img
	switch plan.Strategy {
	case StrategyResize:
		out, err = transform.ResizeImage(img, plan.Target)
	case StrategyResizeCrop:
		out, err = transform.FitImage(img, plan.Target, plan.Params.CropPosition)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s to image: %w", plan.Strategy, err)
	}

	return &ImageResult{
		Image:               out,
		Original:            img,
		Width:               plan.Target.Width,
		Height:              plan.Target.Height,
		AspectRatio:         plan.AspectRatio,
		OriginalAspectRatio: plan.OriginalAspectRatio,
		Plan:                plan,
	}, nil
}
