package edid

import (
	"bytes"
	"fmt"

	"github.com/mscrnt/gpuctl/pkg/edid/parser"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// OverrideConfig describes the EDID to present for one display.
type OverrideConfig struct {
	DisplayIndex int                           `json:"display_index" yaml:"display_index"`
	Resolutions  []resolution.CustomResolution `json:"resolutions,omitempty" yaml:"resolutions,omitempty"`
	Forced       *resolution.CustomResolution  `json:"forced,omitempty" yaml:"forced,omitempty"`
	Raw          []byte                        `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// Validate checks the display index and every resolution in the config.
func (c OverrideConfig) Validate() error {
	if c.DisplayIndex < 0 {
		return &resolution.ValidationError{Field: "display_index", Value: c.DisplayIndex, Reason: "must not be negative"}
	}
	for _, r := range c.Resolutions {
		if err := resolution.Validate(r).Err(); err != nil {
			return fmt.Errorf("supplemental resolution %s: %w", r, err)
		}
	}
	if c.Forced != nil {
		if err := resolution.Validate(*c.Forced).Err(); err != nil {
			return fmt.Errorf("forced resolution: %w", err)
		}
	}
	return nil
}

// Override is the result of BuildOverride.
type Override struct {
	Data []byte
	// Skipped lists supplemental resolutions that no free standard timing
	// slot could represent.
	Skipped []resolution.CustomResolution
}

// BuildOverride produces the EDID bytes to present instead of original.
// Raw bytes in the config win outright. Otherwise the forced resolution
// replaces the preferred detailed timing, supplemental resolutions fill free
// standard timing slots, and the base block checksum is recomputed.
// Extension blocks of the original are carried over unchanged.
func BuildOverride(original *parser.Info, cfg OverrideConfig) (*Override, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(cfg.Raw) > 0 {
		if _, err := parser.Parse(cfg.Raw); err != nil {
			return nil, fmt.Errorf("raw override: %w", err)
		}
		return &Override{Data: bytes.Clone(cfg.Raw)}, nil
	}

	src := Sample()
	if original != nil && len(original.Raw) >= parser.BlockSize {
		src = original.Raw
	}
	data := bytes.Clone(src)
	base := data[:parser.BlockSize]

	if cfg.Forced != nil {
		if err := forceTiming(base, *cfg.Forced); err != nil {
			return nil, err
		}
	}

	out := &Override{}
	for _, r := range cfg.Resolutions {
		if !addStandardTiming(base, r) {
			out.Skipped = append(out.Skipped, r)
		}
	}

	base[parser.OffsetChecksum] = parser.Checksum(base)
	out.Data = data
	return out, nil
}

func forceTiming(base []byte, r resolution.CustomResolution) error {
	t, err := resolution.GenerateTiming(r)
	if err != nil {
		return err
	}
	if !t.FitsDetailedTiming() {
		return fmt.Errorf("forced resolution %s: pixel clock %.2f MHz exceeds a detailed timing descriptor", r, t.PixelClockMHz())
	}

	first := base[parser.OffsetDescriptors : parser.OffsetDescriptors+parser.DescriptorSize]
	var widthMM, heightMM int
	if first[0] != 0 || first[1] != 0 {
		prev := parser.DecodeDetailedTiming(first)
		widthMM, heightMM = prev.HImageMM, prev.VImageMM
	} else {
		widthMM, heightMM = int(base[parser.OffsetWidthCM])*10, int(base[parser.OffsetHeightCM])*10
	}

	d, err := parser.EncodeDetailedTiming(DetailedTimingFrom(t, widthMM, heightMM))
	if err != nil {
		return fmt.Errorf("forced resolution %s: %w", r, err)
	}
	copy(first, d)
	return nil
}

// addStandardTiming writes r into the first unused standard timing slot.
// It reports false when r cannot be encoded or every slot is taken. A mode
// already listed counts as added.
func addStandardTiming(base []byte, r resolution.CustomResolution) bool {
	b0, b1, err := parser.EncodeStandardTiming(r.Width, r.Height, r.RefreshRate)
	if err != nil {
		return false
	}
	free := -1
	for i := 0; i < parser.StandardCount; i++ {
		off := parser.OffsetStandard + 2*i
		if base[off] == b0 && base[off+1] == b1 {
			return true
		}
		unused := base[off] == 0x00 || (base[off] == 0x01 && base[off+1] == 0x01)
		if unused && free < 0 {
			free = off
		}
	}
	if free < 0 {
		return false
	}
	base[free] = b0
	base[free+1] = b1
	return true
}
