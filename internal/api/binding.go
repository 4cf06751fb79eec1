package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
	"github.com/timkrebs/constrain-resolution/internal/transform"
)

// ErrBadRequest marks request bodies that could not be decoded or validated
var ErrBadRequest = errors.New("bad request")

var validate = validator.New(validator.WithRequiredStructEnabled())

// paramsRequest is the wire form of constrain.Params. Omitted fields fall back
// to the server defaults.
type paramsRequest struct {
	Mode         *string  `json:"constraint_mode" validate:"omitempty,min=1"`
	MinRes       *int     `json:"min_res" validate:"omitempty,gte=1"`
	MaxRes       *int     `json:"max_res" validate:"omitempty,gte=1"`
	MultipleOf   *int     `json:"multiple_of" validate:"omitempty,gte=1"`
	Rounding     *string  `json:"rounding" validate:"omitempty,oneof=half_even half_up floor ceil"`
	Resize       *string  `json:"resize_mode" validate:"omitempty,oneof=none stretch crop auto"`
	CropPosition *string  `json:"crop_position" validate:"omitempty,oneof=center top bottom left right"`
	Tolerance    *float64 `json:"tolerance" validate:"omitempty,gte=0,lte=100"`
}

// merge overlays the request onto defaults and normalizes the result
func (p paramsRequest) merge(defaults constrain.Params) (constrain.Params, error) {
	out := defaults
	if p.Mode != nil {
		out.Mode = resolution.ConstraintMode(*p.Mode)
	}
	if p.MinRes != nil {
		out.MinRes = *p.MinRes
	}
	if p.MaxRes != nil {
		out.MaxRes = *p.MaxRes
	}
	if p.MultipleOf != nil {
		out.MultipleOf = *p.MultipleOf
	}
	if p.Rounding != nil {
		out.Rounding = resolution.RoundingPolicy(*p.Rounding)
	}
	if p.Resize != nil {
		out.Resize = constrain.ResizeMode(*p.Resize)
	}
	if p.CropPosition != nil {
		out.CropPosition = transform.CropPosition(*p.CropPosition)
	}
	if p.Tolerance != nil {
		out.Tolerance = *p.Tolerance
	}
	return out.Normalize()
}

// resolveRequest is the body of POST /resolve
type resolveRequest struct {
	Width  int `json:"width" validate:"required,gte=1"`
	Height int `json:"height" validate:"required,gte=1"`
	paramsRequest
}

// resolveResponse is the answer to POST /resolve
type resolveResponse struct {
	resolution.Analysis
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Upscaled bool `json:"upscaled"`
}

func newResolveResponse(a resolution.Analysis) resolveResponse {
	return resolveResponse{
		Analysis: a,
		Width:    a.Target.Width,
		Height:   a.Target.Height,
		Upscaled: a.Target.Width > a.Source.Width || a.Target.Height > a.Source.Height,
	}
}

// bindJSON decodes a JSON body into v and validates it
func bindJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body is empty", ErrBadRequest)
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", ErrBadRequest)
		}
		return fmt.Errorf("%w: invalid JSON: %v", ErrBadRequest, err)
	}
	return validateStruct(v)
}

// bindParams decodes an optional JSON params form value
func bindParams(raw string, defaults constrain.Params) (constrain.Params, error) {
	var req paramsRequest
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return constrain.Params{}, fmt.Errorf("%w: invalid params JSON: %v", ErrBadRequest, err)
		}
		if err := validateStruct(&req); err != nil {
			return constrain.Params{}, err
		}
	}
	return req.merge(defaults)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", jsonName(fe), validationMessage(fe)))
	}
	return fmt.Errorf("%w: %s", ErrBadRequest, strings.Join(msgs, "; "))
}

// jsonName maps a struct field back to its JSON key
func jsonName(fe validator.FieldError) string {
	switch fe.Field() {
	case "Mode":
		return "constraint_mode"
	case "MinRes":
		return "min_res"
	case "MaxRes":
		return "max_res"
	case "MultipleOf":
		return "multiple_of"
	case "Resize":
		return "resize_mode"
	case "CropPosition":
		return "crop_position"
	default:
		return strings.ToLower(fe.Field())
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "min":
		return "must not be empty"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}
