// Package resolution models custom display modes, validates them and
// generates CVT, CVT-RB and GTF timings for them.
package resolution

import "fmt"

// TimingStandard selects the formula used to derive blanking and sync figures.
type TimingStandard string

// Timing standards
const (
	TimingAutomatic TimingStandard = "Automatic"
	TimingCVT       TimingStandard = "CVT"
	TimingCVTRB     TimingStandard = "CVT-RB"
	TimingGTF       TimingStandard = "GTF"
	TimingManual    TimingStandard = "Manual"
)

// Scaling describes how a lower resolution is presented on the panel.
type Scaling string

// Scaling modes
const (
	ScalingNone        Scaling = "No scaling"
	ScalingAspectRatio Scaling = "Aspect ratio"
	ScalingFullScreen  Scaling = "Full-screen"
	ScalingCenter      Scaling = "Center"
)

// Limits for custom resolutions (inclusive)
const (
	MinWidth   = 640
	MaxWidth   = 7680
	MinHeight  = 480
	MaxHeight  = 4320
	MinRefresh = 24
	MaxRefresh = 240

	DefaultRefresh    = 60
	DefaultColorDepth = 32
)

// ColorDepths lists the accepted bits per pixel values.
var ColorDepths = []int{8, 16, 24, 32}

// TimingStandards lists the accepted timing standards.
var TimingStandards = []TimingStandard{TimingAutomatic, TimingCVT, TimingCVTRB, TimingGTF, TimingManual}

// ScalingModes lists the accepted scaling modes.
var ScalingModes = []Scaling{ScalingNone, ScalingAspectRatio, ScalingFullScreen, ScalingCenter}

// CustomResolution is a requested display mode. Values are never mutated
// after construction; derive a new value instead.
type CustomResolution struct {
	Width          int            `json:"width" yaml:"width"`
	Height         int            `json:"height" yaml:"height"`
	RefreshRate    int            `json:"refresh_rate" yaml:"refresh_rate"`
	ColorDepth     int            `json:"color_depth" yaml:"color_depth"`
	TimingStandard TimingStandard `json:"timing_standard" yaml:"timing_standard"`
	Scaling        Scaling        `json:"scaling" yaml:"scaling"`
	Name           string         `json:"name,omitempty" yaml:"name,omitempty"`
}

// New fills unset optional fields with their defaults and validates the
// result. Width and height have no defaults.
func New(r CustomResolution) (CustomResolution, error) {
	r = r.withDefaults()
	if err := Validate(r).Err(); err != nil {
		return CustomResolution{}, err
	}
	return r, nil
}

// MustNew is New for literals known to be valid.
func MustNew(width, height, refresh int) CustomResolution {
	r, err := New(CustomResolution{Width: width, Height: height, RefreshRate: refresh})
	if err != nil {
		panic(err)
	}
	return r
}

func (r CustomResolution) withDefaults() CustomResolution {
	if r.RefreshRate == 0 {
		r.RefreshRate = DefaultRefresh
	}
	if r.ColorDepth == 0 {
		r.ColorDepth = DefaultColorDepth
	}
	if r.TimingStandard == "" {
		r.TimingStandard = TimingAutomatic
	}
	if r.Scaling == "" {
		r.Scaling = ScalingNone
	}
	if r.Name == "" {
		r.Name = DefaultName(r.Width, r.Height, r.RefreshRate)
	}
	return r
}

// DefaultName returns the generated name for a mode, e.g. "1920x1080@60Hz".
func DefaultName(width, height, refresh int) string {
	return fmt.Sprintf("%dx%d@%dHz", width, height, refresh)
}

// Key identifies the mode by its width, height and refresh rate.
type Key struct {
	Width       int
	Height      int
	RefreshRate int
}

func (k Key) String() string {
	return DefaultName(k.Width, k.Height, k.RefreshRate)
}

// Key returns the width/height/refresh triple of r.
func (r CustomResolution) Key() Key {
	return Key{Width: r.Width, Height: r.Height, RefreshRate: r.RefreshRate}
}

// String returns the mode name.
func (r CustomResolution) String() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Key().String()
}

// AspectRatio returns a short aspect label ("16:9", "4:3", ...) or the
// reduced fraction when the mode is not one of the common ratios.
func (r CustomResolution) AspectRatio() string {
	return AspectRatio(r.Width, r.Height)
}

// AspectRatio reduces width:height, mapping 8:5 to the conventional 16:10.
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	g := gcd(width, height)
	w, h := width/g, height/g
	switch {
	case w == 8 && h == 5:
		return "16:10"
	case w == 64 && h == 27:
		return "21:9"
	}
	return fmt.Sprintf("%d:%d", w, h)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
