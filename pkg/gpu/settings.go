// Package gpu exposes GPU settings and telemetry through a cached facade.
package gpu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// PowerMode is the driver power management mode.
type PowerMode string

// Power modes
const (
	PowerOptimal        PowerMode = "Optimal Power"
	PowerBalanced       PowerMode = "Balanced"
	PowerMaxPerformance PowerMode = "Prefer Maximum Performance"
)

// TextureFiltering is the texture filtering quality preset.
type TextureFiltering string

// Texture filtering presets
const (
	TextureQuality     TextureFiltering = "Quality"
	TextureBalanced    TextureFiltering = "Balanced"
	TexturePerformance TextureFiltering = "Performance"
	TextureHighQuality TextureFiltering = "High Quality"
)

// VerticalSync is the vertical sync mode.
type VerticalSync string

// Vertical sync modes
const (
	VSyncOff      VerticalSync = "Off"
	VSyncOn       VerticalSync = "On"
	VSyncAdaptive VerticalSync = "Adaptive"
	VSyncFast     VerticalSync = "Fast"
)

// Accepted values per setting
var (
	PowerModes        = []PowerMode{PowerOptimal, PowerBalanced, PowerMaxPerformance}
	TextureFilterings = []TextureFiltering{TextureQuality, TextureBalanced, TexturePerformance, TextureHighQuality}
	VerticalSyncModes = []VerticalSync{VSyncOff, VSyncOn, VSyncAdaptive, VSyncFast}
)

const (
	errUnknownSetting = "unknown setting"
	errNotEnumerated  = "not a recognized value"
)

// patchKeys are the JSON keys a Patch accepts, matched exactly.
var patchKeys = []string{"power_mode", "texture_filtering", "vertical_sync"}

func (p PowerMode) Valid() bool        { return contains(PowerModes, p) }
func (t TextureFiltering) Valid() bool { return contains(TextureFilterings, t) }
func (v VerticalSync) Valid() bool     { return contains(VerticalSyncModes, v) }

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// ErrInvalidSetting is matched by every *InvalidSettingError.
var ErrInvalidSetting = errors.New("invalid setting")

// InvalidSettingError names the rejected setting and value.
type InvalidSettingError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("invalid setting %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidSettingError) Is(target error) bool {
	return target == ErrInvalidSetting
}

// Mutable is the subset of settings the facade can change.
type Mutable struct {
	PowerMode        PowerMode        `json:"power_mode" yaml:"power_mode"`
	TextureFiltering TextureFiltering `json:"texture_filtering" yaml:"texture_filtering"`
	VerticalSync     VerticalSync     `json:"vertical_sync" yaml:"vertical_sync"`
}

// DefaultMutable is what a GPU reports before any setting was changed.
var DefaultMutable = Mutable{
	PowerMode:        PowerOptimal,
	TextureFiltering: TextureQuality,
	VerticalSync:     VSyncOff,
}

// Telemetry is read-only GPU state.
type Telemetry struct {
	Name             string  `json:"name"`
	DriverVersion    string  `json:"driver_version"`
	GraphicsClockMHz int     `json:"gpu_clock"`
	MemoryClockMHz   int     `json:"memory_clock"`
	TemperatureC     int     `json:"temperature"`
	UtilizationPct   int     `json:"utilization"`
	PowerDrawW       float64 `json:"power_usage"`
	FanSpeedPct      int     `json:"fan_speed"`
}

// Settings is a snapshot of the mutable settings plus fresh telemetry.
type Settings struct {
	Mutable
	Telemetry
	GPU    int       `json:"gpu_index"`
	Source string    `json:"source"`
	ReadAt time.Time `json:"read_at"`
}

// Patch is a partial settings update. Nil fields are left unchanged.
type Patch struct {
	PowerMode        *PowerMode        `json:"power_mode,omitempty" yaml:"power_mode,omitempty"`
	TextureFiltering *TextureFiltering `json:"texture_filtering,omitempty" yaml:"texture_filtering,omitempty"`
	VerticalSync     *VerticalSync     `json:"vertical_sync,omitempty" yaml:"vertical_sync,omitempty"`
}

// AIPatch is the preset applied by Facade.OptimizeForAI.
func AIPatch() Patch {
	p, t, v := PowerMaxPerformance, TexturePerformance, VSyncOff
	return Patch{PowerMode: &p, TextureFiltering: &t, VerticalSync: &v}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.PowerMode == nil && p.TextureFiltering == nil && p.VerticalSync == nil
}

// Validate checks every set field and returns the first invalid one.
func (p Patch) Validate() error {
	if p.PowerMode != nil && !p.PowerMode.Valid() {
		return &InvalidSettingError{Field: "power_mode", Value: *p.PowerMode, Reason: errNotEnumerated}
	}
	if p.TextureFiltering != nil && !p.TextureFiltering.Valid() {
		return &InvalidSettingError{Field: "texture_filtering", Value: *p.TextureFiltering, Reason: errNotEnumerated}
	}
	if p.VerticalSync != nil && !p.VerticalSync.Valid() {
		return &InvalidSettingError{Field: "vertical_sync", Value: *p.VerticalSync, Reason: errNotEnumerated}
	}
	return nil
}

// Apply returns m with the patch applied. It does not validate.
func (p Patch) Apply(m Mutable) Mutable {
	if p.PowerMode != nil {
		m.PowerMode = *p.PowerMode
	}
	if p.TextureFiltering != nil {
		m.TextureFiltering = *p.TextureFiltering
	}
	if p.VerticalSync != nil {
		m.VerticalSync = *p.VerticalSync
	}
	return m
}

// DecodePatch reads a JSON object into a validated Patch. Keys must match
// exactly; unknown keys are rejected with an *InvalidSettingError.
func DecodePatch(r io.Reader) (Patch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Patch{}, fmt.Errorf("failed to read settings patch: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Patch{}, fmt.Errorf("failed to decode settings patch: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !contains(patchKeys, k) {
			return Patch{}, &InvalidSettingError{Field: k, Value: string(raw[k]), Reason: errUnknownSetting}
		}
	}

	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("failed to decode settings patch: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// ParsePatch is DecodePatch over a byte slice.
func ParsePatch(data []byte) (Patch, error) {
	return DecodePatch(bytes.NewReader(data))
}
