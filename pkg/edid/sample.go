package edid

import (
	"github.com/mscrnt/gpuctl/pkg/edid/parser"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// Identity of the generated sample display
const (
	SampleManufacturer = "SIM"
	SampleProductCode  = 0x0001
	SampleSerial       = 0x00000001
	SampleName         = "Simulated"
)

// SampleRange is the range limits descriptor written by Sample.
var SampleRange = parser.RangeLimits{
	MinVerticalHz:    24,
	MaxVerticalHz:    240,
	MinHorizontalKHz: 30,
	MaxHorizontalKHz: 300,
	MaxPixelClockMHz: 1200,
}

// Sample returns a well-formed EDID 1.4 base block for a 3840x2160 digital
// panel: reduced-blanking 4K and 1440p detailed timings, 720p/1080p standard
// timings, VGA/SVGA/XGA established timings, range limits and a name.
func Sample() []byte {
	b := make([]byte, parser.BlockSize)
	copy(b, parser.Magic)

	hi, lo, _ := parser.EncodeManufacturer(SampleManufacturer)
	b[parser.OffsetManufacturer] = hi
	b[parser.OffsetManufacturer+1] = lo
	b[parser.OffsetProductCode] = byte(SampleProductCode)
	b[parser.OffsetProductCode+1] = byte(SampleProductCode >> 8)
	b[parser.OffsetSerial] = byte(SampleSerial)
	b[parser.OffsetWeek] = 1
	b[parser.OffsetYear] = 2024 - 1990
	b[parser.OffsetVersion] = 1
	b[parser.OffsetRevision] = 4

	b[parser.OffsetInput] = 0xA5 // digital, 8 bpc, DisplayPort
	b[parser.OffsetWidthCM] = 60
	b[parser.OffsetHeightCM] = 34
	b[parser.OffsetGamma] = 120 // 2.2
	b[parser.OffsetFeatures] = 0x2E
	copy(b[parser.OffsetChroma:], []byte{0xEE, 0x91, 0xA3, 0x54, 0x4C, 0x99, 0x26, 0x0F, 0x50, 0x54})

	b[parser.OffsetEstablished] = 0x21   // 640x480@60, 800x600@60
	b[parser.OffsetEstablished+1] = 0x08 // 1024x768@60

	for i := 0; i < parser.StandardCount; i++ {
		b[parser.OffsetStandard+2*i] = 0x01
		b[parser.OffsetStandard+2*i+1] = 0x01
	}
	for i, m := range [][3]int{{1280, 720, 60}, {1920, 1080, 60}} {
		b0, b1, _ := parser.EncodeStandardTiming(m[0], m[1], m[2])
		b[parser.OffsetStandard+2*i] = b0
		b[parser.OffsetStandard+2*i+1] = b1
	}

	descriptors := [][]byte{
		sampleTiming(3840, 2160),
		sampleTiming(2560, 1440),
		parser.EncodeRangeLimits(SampleRange),
		parser.EncodeTextDescriptor(parser.TagName, SampleName),
	}
	for i, d := range descriptors {
		copy(b[parser.OffsetDescriptors+i*parser.DescriptorSize:], d)
	}

	b[parser.OffsetChecksum] = parser.Checksum(b)
	return b
}

func sampleTiming(width, height int) []byte {
	t, err := resolution.GenerateTiming(resolution.CustomResolution{
		Width: width, Height: height, RefreshRate: 60, TimingStandard: resolution.TimingCVTRB,
	})
	if err != nil {
		panic(err)
	}
	d, err := parser.EncodeDetailedTiming(DetailedTimingFrom(t, 600, 340))
	if err != nil {
		panic(err)
	}
	return d
}

// DetailedTimingFrom converts a generated timing into descriptor form with
// the given image size.
func DetailedTimingFrom(t resolution.Timing, widthMM, heightMM int) parser.DetailedTiming {
	return parser.DetailedTiming{
		PixelClockKHz: t.PixelClockKHz,
		HActive:       t.HActive,
		HBlank:        t.HBlank(),
		VActive:       t.VActive,
		VBlank:        t.VBlank(),
		HSyncOffset:   t.HSyncStart - t.HActive,
		HSyncWidth:    t.HSyncEnd - t.HSyncStart,
		VSyncOffset:   t.VSyncStart - t.VActive,
		VSyncWidth:    t.VSyncEnd - t.VSyncStart,
		HImageMM:      widthMM,
		VImageMM:      heightMM,
		SyncType:      parser.SyncDigitalSeparate,
		HSyncPositive: t.HSyncPositive,
		VSyncPositive: t.VSyncPositive,
	}
}
