package resolution

import (
	"errors"
	"fmt"
	"slices"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid resolution")

// ValidationError names the first field of a CustomResolution that failed
// its range or enumeration check.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Is reports ErrValidation as the error kind.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Result is the outcome of Validate. A zero Field means the resolution
// passed; Warnings carry soft findings that never fail validation.
type Result struct {
	Field    string
	Value    any
	Reason   string
	Warnings []string
}

// OK reports whether no constraint was violated.
func (r Result) OK() bool {
	return r.Field == ""
}

// Err converts a failed result into a *ValidationError.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Field: r.Field, Value: r.Value, Reason: r.Reason}
}

// Validate checks every field of r against its inclusive range or enumeration
// and returns the first violation. It does not apply defaults.
func Validate(r CustomResolution) Result {
	var res Result

	switch {
	case r.Width < MinWidth || r.Width > MaxWidth:
		return fail(res, "width", r.Width, fmt.Sprintf("must be between %d and %d", MinWidth, MaxWidth))
	case r.Height < MinHeight || r.Height > MaxHeight:
		return fail(res, "height", r.Height, fmt.Sprintf("must be between %d and %d", MinHeight, MaxHeight))
	case r.RefreshRate < MinRefresh || r.RefreshRate > MaxRefresh:
		return fail(res, "refresh_rate", r.RefreshRate, fmt.Sprintf("must be between %d and %d Hz", MinRefresh, MaxRefresh))
	case !slices.Contains(ColorDepths, r.ColorDepth):
		return fail(res, "color_depth", r.ColorDepth, "must be one of 8, 16, 24 or 32")
	case !slices.Contains(TimingStandards, r.TimingStandard):
		return fail(res, "timing_standard", r.TimingStandard, "unknown timing standard")
	case !slices.Contains(ScalingModes, r.Scaling):
		return fail(res, "scaling", r.Scaling, "unknown scaling mode")
	}

	if r.TimingStandard == TimingCVTRB && (r.Width%2 != 0 || r.Height%2 != 0) {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("CVT-RB prefers even dimensions, got %dx%d", r.Width, r.Height))
	}
	if r.Width%8 != 0 && r.TimingStandard != TimingManual {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("width %d is not a multiple of 8 and will be rounded for timing generation", r.Width))
	}
	return res
}

func fail(res Result, field string, value any, reason string) Result {
	res.Field = field
	res.Value = value
	res.Reason = reason
	return res
}
