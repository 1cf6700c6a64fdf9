package edid

import (
	"fmt"
	"math"

	"github.com/mscrnt/gpuctl/pkg/edid/parser"
)

// CTA-861 extension constants
const (
	ctaTag          = 0x02
	ctaBasicAudio   = 0x40
	ctaExtendedTag  = 0x07
	ctaHDRStaticTag = 0x06
)

// Summary is a human-oriented digest of an EDID.
type Summary struct {
	Manufacturer        string   `json:"manufacturer"`
	ProductCode         string   `json:"product_code"`
	SerialNumber        string   `json:"serial_number"`
	MonitorName         string   `json:"monitor_name,omitempty"`
	ManufactureDate     string   `json:"manufacture_date"`
	Version             string   `json:"version"`
	PreferredResolution string   `json:"preferred_resolution,omitempty"`
	MaxResolution       string   `json:"max_resolution,omitempty"`
	ColorDepth          string   `json:"color_depth"`
	Interface           string   `json:"interface,omitempty"`
	ScreenSize          string   `json:"screen_size,omitempty"`
	DPMS                []string `json:"dpms,omitempty"`
	Audio               bool     `json:"audio"`
	HDR                 bool     `json:"hdr"`
	Extensions          int      `json:"extensions"`
	Valid               bool     `json:"valid"`
}

// Summarize builds a Summary from a parsed EDID.
func Summarize(info *parser.Info) Summary {
	s := Summary{
		Manufacturer:    info.Manufacturer,
		ProductCode:     fmt.Sprintf("0x%04X", info.ProductCode),
		SerialNumber:    fmt.Sprintf("%d", info.SerialNumber),
		MonitorName:     info.MonitorName,
		ManufactureDate: fmt.Sprintf("Week %d, %d", info.Week, info.Year),
		Version:         info.VersionString(),
		Extensions:      info.Extensions,
		Valid:           info.Valid,
	}
	if info.MonitorSerial != "" {
		s.SerialNumber = info.MonitorSerial
	}

	if d, ok := info.Preferred(); ok {
		s.PreferredResolution = fmt.Sprintf("%dx%d@%.0fHz", d.HActive, d.VActive, d.RefreshHz())
	}
	if m, ok := info.MaxMode(); ok {
		s.MaxResolution = m.String() + "Hz"
	}

	switch {
	case !info.Input.Digital:
		s.ColorDepth = "analog"
	case info.Input.BitDepth > 0:
		s.ColorDepth = fmt.Sprintf("%d bits per color", info.Input.BitDepth)
	default:
		s.ColorDepth = "undefined"
	}
	s.Interface = info.Input.Interface

	if info.ScreenWidthCM > 0 && info.ScreenHeightCM > 0 {
		diag := math.Hypot(float64(info.ScreenWidthCM), float64(info.ScreenHeightCM)) / 2.54
		s.ScreenSize = fmt.Sprintf("%dx%d cm (%.1f\")", info.ScreenWidthCM, info.ScreenHeightCM, diag)
	}

	if info.Features.DPMSStandby {
		s.DPMS = append(s.DPMS, "standby")
	}
	if info.Features.DPMSSuspend {
		s.DPMS = append(s.DPMS, "suspend")
	}
	if info.Features.DPMSActiveOff {
		s.DPMS = append(s.DPMS, "active-off")
	}

	for _, block := range info.ExtensionBlocks {
		audio, hdr := ctaCapabilities(block)
		s.Audio = s.Audio || audio
		s.HDR = s.HDR || hdr
	}
	return s
}

// ctaCapabilities scans a CTA-861 extension for basic audio support and an
// HDR static metadata data block.
func ctaCapabilities(block []byte) (audio, hdr bool) {
	if len(block) < parser.BlockSize || block[0] != ctaTag || block[1] < 3 {
		return false, false
	}
	audio = block[3]&ctaBasicAudio != 0

	end := int(block[2])
	if end < 4 || end > parser.BlockSize-1 {
		return audio, false
	}
	for i := 4; i < end; {
		tag := block[i] >> 5
		length := int(block[i] & 0x1F)
		if tag == ctaExtendedTag && length > 0 && i+1 < end && block[i+1] == ctaHDRStaticTag {
			hdr = true
		}
		i += 1 + length
	}
	return audio, hdr
}
