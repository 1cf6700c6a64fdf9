package resolution

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VESA CVT 1.2 and GTF constants
const (
	cellGran        = 8
	clockStepKHz    = 250
	hSyncPercent    = 8
	cvtCPrime       = 30.0
	cvtMPrime       = 300.0
	cvtMinVSyncBP   = 550.0 // µs
	cvtMinVPorch    = 3
	cvtMinVBPorch   = 6
	rbMinVBlank     = 460.0 // µs
	rbHBlank        = 160
	rbHSync         = 32
	rbVFPorch       = 3
	gtfMinPorch     = 1
	gtfVSync        = 3
	gtfMinVSyncBP   = 550.0 // µs
	automaticRBKHz  = 165000
	maxDTDClockKHz  = 655350
	dtdClockUnitKHz = 10
)

// Timing is a fully specified video mode.
type Timing struct {
	Standard      TimingStandard `json:"standard"`
	PixelClockKHz int            `json:"pixel_clock_khz"`
	HActive       int            `json:"h_active"`
	HSyncStart    int            `json:"h_sync_start"`
	HSyncEnd      int            `json:"h_sync_end"`
	HTotal        int            `json:"h_total"`
	VActive       int            `json:"v_active"`
	VSyncStart    int            `json:"v_sync_start"`
	VSyncEnd      int            `json:"v_sync_end"`
	VTotal        int            `json:"v_total"`
	HSyncPositive bool           `json:"h_sync_positive"`
	VSyncPositive bool           `json:"v_sync_positive"`
}

// HBlank returns the horizontal blanking width in pixels.
func (t Timing) HBlank() int { return t.HTotal - t.HActive }

// VBlank returns the vertical blanking height in lines.
func (t Timing) VBlank() int { return t.VTotal - t.VActive }

// PixelClockMHz returns the pixel clock in MHz.
func (t Timing) PixelClockMHz() float64 { return float64(t.PixelClockKHz) / 1000 }

// RefreshHz returns the vertical refresh rate implied by the clock and totals.
func (t Timing) RefreshHz() float64 {
	if t.HTotal == 0 || t.VTotal == 0 {
		return 0
	}
	return float64(t.PixelClockKHz) * 1000 / float64(t.HTotal*t.VTotal)
}

// HorizontalKHz returns the line rate in kHz.
func (t Timing) HorizontalKHz() float64 {
	if t.HTotal == 0 {
		return 0
	}
	return float64(t.PixelClockKHz) / float64(t.HTotal)
}

// FitsDetailedTiming reports whether the clock can be stored in an EDID
// detailed timing descriptor (16 bits of 10 kHz units).
func (t Timing) FitsDetailedTiming() bool {
	return t.PixelClockKHz/dtdClockUnitKHz <= maxDTDClockKHz/dtdClockUnitKHz &&
		t.HActive < 4096 && t.VActive < 4096 && t.HBlank() < 4096 && t.VBlank() < 4096
}

// ModelineArgs returns the clock and timing fields in X11 modeline order,
// suitable for xrandr --newmode after the mode name.
func (t Timing) ModelineArgs() []string {
	hs, vs := "-hsync", "-vsync"
	if t.HSyncPositive {
		hs = "+hsync"
	}
	if t.VSyncPositive {
		vs = "+vsync"
	}
	args := []string{strconv.FormatFloat(t.PixelClockMHz(), 'f', 2, 64)}
	for _, n := range []int{t.HActive, t.HSyncStart, t.HSyncEnd, t.HTotal, t.VActive, t.VSyncStart, t.VSyncEnd, t.VTotal} {
		args = append(args, strconv.Itoa(n))
	}
	return append(args, hs, vs)
}

// GenerateTiming derives a timing for r using its timing standard. Automatic
// uses CVT unless the CVT clock exceeds 165 MHz, in which case it switches to
// reduced blanking. Manual has no formula of its own and uses CVT figures.
func GenerateTiming(r CustomResolution) (Timing, error) {
	r = r.withDefaults()
	if err := Validate(r).Err(); err != nil {
		return Timing{}, err
	}

	switch r.TimingStandard {
	case TimingCVTRB:
		return cvt(r.Width, r.Height, r.RefreshRate, true), nil
	case TimingGTF:
		return gtf(r.Width, r.Height, r.RefreshRate), nil
	case TimingAutomatic:
		t := cvt(r.Width, r.Height, r.RefreshRate, false)
		if t.PixelClockKHz > automaticRBKHz {
			t = cvt(r.Width, r.Height, r.RefreshRate, true)
		}
		t.Standard = TimingAutomatic
		return t, nil
	case TimingManual:
		t := cvt(r.Width, r.Height, r.RefreshRate, false)
		t.Standard = TimingManual
		return t, nil
	default:
		return cvt(r.Width, r.Height, r.RefreshRate, false), nil
	}
}

// Modeline renders r as an X11 Modeline line.
func Modeline(r CustomResolution) (string, error) {
	t, err := GenerateTiming(r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Modeline %q %s", r.withDefaults().Name, strings.Join(t.ModelineArgs(), " ")), nil
}

// cvtVSyncWidth picks the vsync width from the aspect ratio.
func cvtVSyncWidth(h, v int) int {
	switch {
	case v%3 == 0 && v*4/3 == h:
		return 4
	case v%9 == 0 && v*16/9 == h:
		return 5
	case v%10 == 0 && v*16/10 == h:
		return 6
	case v%4 == 0 && v*5/4 == h:
		return 7
	case v%9 == 0 && v*15/9 == h:
		return 7
	default:
		return 10
	}
}

func cvt(width, height, refresh int, reduced bool) Timing {
	h := width - width%cellGran
	v := height
	vsync := cvtVSyncWidth(h, v)
	t := Timing{HActive: h, VActive: v}

	var hPeriod float64 // µs
	if !reduced {
		t.Standard = TimingCVT
		hPeriod = (1e6/float64(refresh) - cvtMinVSyncBP) / float64(v+cvtMinVPorch)
		vsyncBP := int(cvtMinVSyncBP/hPeriod) + 1
		if vsyncBP < vsync+cvtMinVBPorch {
			vsyncBP = vsync + cvtMinVBPorch
		}
		t.VTotal = v + vsyncBP + cvtMinVPorch

		duty := cvtCPrime - cvtMPrime*hPeriod/1000
		if duty < 20 {
			duty = 20
		}
		hBlank := int(float64(h) * duty / (100 - duty))
		hBlank -= hBlank % (2 * cellGran)
		t.HTotal = h + hBlank
		t.HSyncEnd = h + hBlank/2
		t.HSyncStart = t.HSyncEnd - t.HTotal*hSyncPercent/100
		t.HSyncStart += cellGran - t.HSyncStart%cellGran
		t.VSyncStart = v + cvtMinVPorch
		t.VSyncEnd = t.VSyncStart + vsync
		t.VSyncPositive = true
	} else {
		t.Standard = TimingCVTRB
		hPeriod = (1e6/float64(refresh) - rbMinVBlank) / float64(v)
		vbiLines := int(rbMinVBlank/hPeriod + 1)
		if vbiLines < rbVFPorch+vsync+cvtMinVBPorch {
			vbiLines = rbVFPorch + vsync + cvtMinVBPorch
		}
		t.VTotal = v + vbiLines
		t.HTotal = h + rbHBlank
		t.HSyncEnd = h + rbHBlank/2
		t.HSyncStart = t.HSyncEnd - rbHSync
		t.VSyncStart = v + rbVFPorch
		t.VSyncEnd = t.VSyncStart + vsync
		t.HSyncPositive = true
	}

	clock := int(float64(t.HTotal) * 1000 / hPeriod)
	t.PixelClockKHz = clock - clock%clockStepKHz
	return t
}

func gtf(width, height, refresh int) Timing {
	h := int(math.RoundToEven(float64(width)/cellGran)) * cellGran
	v := height
	rate := float64(refresh)

	hPeriodEst := (1/rate - gtfMinVSyncBP/1e6) / float64(v+gtfMinPorch) * 1e6
	vsyncBP := int(math.RoundToEven(gtfMinVSyncBP / hPeriodEst))
	vTotal := v + vsyncBP + gtfMinPorch
	vFieldRateEst := 1 / hPeriodEst / float64(vTotal) * 1e6
	hPeriod := hPeriodEst / (rate / vFieldRateEst)

	duty := cvtCPrime - cvtMPrime*hPeriod/1000
	hBlank := int(math.RoundToEven(float64(h)*duty/(100-duty)/(2*cellGran))) * 2 * cellGran
	hTotal := h + hBlank
	hSync := int(math.RoundToEven(float64(hSyncPercent)/100*float64(hTotal)/cellGran)) * cellGran
	hFrontPorch := hBlank/2 - hSync

	return Timing{
		Standard:      TimingGTF,
		PixelClockKHz: int(math.Round(float64(hTotal) / hPeriod * 1000)),
		HActive:       h,
		HSyncStart:    h + hFrontPorch,
		HSyncEnd:      h + hFrontPorch + hSync,
		HTotal:        hTotal,
		VActive:       v,
		VSyncStart:    v + gtfMinPorch,
		VSyncEnd:      v + gtfMinPorch + gtfVSync,
		VTotal:        vTotal,
		VSyncPositive: true,
	}
}
