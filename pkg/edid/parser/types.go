package parser

import "fmt"

// Header holds the vendor and version block (bytes 8-19)
type Header struct {
	Manufacturer string `json:"manufacturer"`
	ProductCode  uint16 `json:"product_code"`
	SerialNumber uint32 `json:"serial_number"`
	Week         int    `json:"week"`
	Year         int    `json:"year"`
	Version      int    `json:"version"`
	Revision     int    `json:"revision"`
}

// VersionString returns "major.minor", e.g. "1.4".
func (h Header) VersionString() string {
	return fmt.Sprintf("%d.%d", h.Version, h.Revision)
}

// SyncType is the sync signal definition of a detailed timing (byte 17 bits 4-3)
type SyncType int

const (
	SyncAnalogComposite SyncType = iota
	SyncBipolarAnalogComposite
	SyncDigitalComposite
	SyncDigitalSeparate
)

func (s SyncType) String() string {
	switch s {
	case SyncAnalogComposite:
		return "analog composite"
	case SyncBipolarAnalogComposite:
		return "bipolar analog composite"
	case SyncDigitalComposite:
		return "digital composite"
	case SyncDigitalSeparate:
		return "digital separate"
	}
	return "unknown"
}

// DetailedTiming is one 18-byte detailed timing descriptor
type DetailedTiming struct {
	PixelClockKHz int      `json:"pixel_clock_khz"`
	HActive       int      `json:"h_active"`
	HBlank        int      `json:"h_blank"`
	VActive       int      `json:"v_active"`
	VBlank        int      `json:"v_blank"`
	HSyncOffset   int      `json:"h_sync_offset"`
	HSyncWidth    int      `json:"h_sync_width"`
	VSyncOffset   int      `json:"v_sync_offset"`
	VSyncWidth    int      `json:"v_sync_width"`
	HImageMM      int      `json:"h_image_mm"`
	VImageMM      int      `json:"v_image_mm"`
	HBorder       int      `json:"h_border"`
	VBorder       int      `json:"v_border"`
	Interlaced    bool     `json:"interlaced"`
	SyncType      SyncType `json:"sync_type"`
	HSyncPositive bool     `json:"h_sync_positive"`
	VSyncPositive bool     `json:"v_sync_positive"`
}

// HTotal returns active plus blanking pixels.
func (d DetailedTiming) HTotal() int { return d.HActive + d.HBlank }

// VTotal returns active plus blanking lines.
func (d DetailedTiming) VTotal() int { return d.VActive + d.VBlank }

// RefreshHz derives the vertical refresh from the clock and totals.
func (d DetailedTiming) RefreshHz() float64 {
	total := d.HTotal() * d.VTotal()
	if total == 0 {
		return 0
	}
	return float64(d.PixelClockKHz) * 1000 / float64(total)
}

// StandardTiming is one 2-byte standard timing entry (bytes 38-53)
type StandardTiming struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	RefreshRate int    `json:"refresh_rate"`
	Aspect      string `json:"aspect"`
}

// Mode is a resolution the display advertises
type Mode struct {
	Width       int  `json:"width"`
	Height      int  `json:"height"`
	RefreshRate int  `json:"refresh_rate"`
	Interlaced  bool `json:"interlaced,omitempty"`
}

func (m Mode) String() string {
	s := fmt.Sprintf("%dx%d@%d", m.Width, m.Height, m.RefreshRate)
	if m.Interlaced {
		s += "i"
	}
	return s
}

// Chromaticity holds CIE 1931 xy coordinates (bytes 25-34)
type Chromaticity struct {
	RedX   float64 `json:"red_x"`
	RedY   float64 `json:"red_y"`
	GreenX float64 `json:"green_x"`
	GreenY float64 `json:"green_y"`
	BlueX  float64 `json:"blue_x"`
	BlueY  float64 `json:"blue_y"`
	WhiteX float64 `json:"white_x"`
	WhiteY float64 `json:"white_y"`
}

// RangeLimits is the 0xFD display range limits descriptor
type RangeLimits struct {
	MinVerticalHz    int `json:"min_vertical_hz"`
	MaxVerticalHz    int `json:"max_vertical_hz"`
	MinHorizontalKHz int `json:"min_horizontal_khz"`
	MaxHorizontalKHz int `json:"max_horizontal_khz"`
	MaxPixelClockMHz int `json:"max_pixel_clock_mhz"`
}

// Features decodes the feature support byte (byte 24)
type Features struct {
	DPMSStandby         bool `json:"dpms_standby"`
	DPMSSuspend         bool `json:"dpms_suspend"`
	DPMSActiveOff       bool `json:"dpms_active_off"`
	SRGBDefault         bool `json:"srgb_default"`
	PreferredNative     bool `json:"preferred_native"`
	ContinuousFrequency bool `json:"continuous_frequency"`
}

// Input decodes the video input definition (byte 20)
type Input struct {
	Digital   bool   `json:"digital"`
	BitDepth  int    `json:"bit_depth,omitempty"`
	Interface string `json:"interface,omitempty"`
}

// Info is a parsed EDID. Raw keeps the exact input bytes so the EDID can be
// written back out unchanged.
type Info struct {
	Header

	Raw      []byte `json:"-"`
	Valid    bool   `json:"valid"`
	Checksum byte   `json:"checksum"`

	Input          Input        `json:"input"`
	ScreenWidthCM  int          `json:"screen_width_cm"`
	ScreenHeightCM int          `json:"screen_height_cm"`
	Gamma          float64      `json:"gamma"`
	Features       Features     `json:"features"`
	Chromaticity   Chromaticity `json:"chromaticity"`

	EstablishedBitmap  [3]byte          `json:"established_bitmap"`
	EstablishedTimings []Mode           `json:"established_timings"`
	StandardTimings    []StandardTiming `json:"standard_timings"`
	DetailedTimings    []DetailedTiming `json:"detailed_timings"`

	MonitorName   string       `json:"monitor_name,omitempty"`
	MonitorSerial string       `json:"monitor_serial,omitempty"`
	Text          []string     `json:"text,omitempty"`
	RangeLimits   *RangeLimits `json:"range_limits,omitempty"`

	Extensions      int      `json:"extensions"`
	ExtensionBlocks [][]byte `json:"-"`
	ExtensionValid  []bool   `json:"extension_valid,omitempty"`
}

// Preferred returns the first detailed timing, which EDID defines as the
// preferred mode.
func (i *Info) Preferred() (DetailedTiming, bool) {
	if len(i.DetailedTimings) == 0 {
		return DetailedTiming{}, false
	}
	return i.DetailedTimings[0], true
}

// Modes lists every advertised resolution: detailed timings first, then
// standard and established timings, without duplicates.
func (i *Info) Modes() []Mode {
	var modes []Mode
	seen := make(map[Mode]bool)
	add := func(m Mode) {
		if m.Width == 0 || m.Height == 0 || seen[m] {
			return
		}
		seen[m] = true
		modes = append(modes, m)
	}

	for _, d := range i.DetailedTimings {
		add(Mode{Width: d.HActive, Height: d.VActive, RefreshRate: int(d.RefreshHz() + 0.5), Interlaced: d.Interlaced})
	}
	for _, s := range i.StandardTimings {
		add(Mode{Width: s.Width, Height: s.Height, RefreshRate: s.RefreshRate})
	}
	for _, e := range i.EstablishedTimings {
		add(e)
	}
	return modes
}

// MaxMode returns the advertised mode with the most pixels, preferring the
// higher refresh rate on ties.
func (i *Info) MaxMode() (Mode, bool) {
	var best Mode
	found := false
	for _, m := range i.Modes() {
		if !found || m.Width*m.Height > best.Width*best.Height ||
			(m.Width*m.Height == best.Width*best.Height && m.RefreshRate > best.RefreshRate) {
			best = m
			found = true
		}
	}
	return best, found
}
