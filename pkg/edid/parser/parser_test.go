package parser

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Digital 1.4 display, 1920x1080 preferred, one CTA extension block
const sampleEDIDHex = `
00ffffffffffff0010acb1a0785634120c1e0104a5351e782eee91a3544c9926
0f5054a54b00d1c0818081c001010101010101010101023a801871382d40582c
4500132b2100001e000000ff004142433132330a202020202020000000fc0044
454c4c20544553540a202020000000fd00384c1e5311010a202020202020010c
0203040000000000000000000000000000000000000000000000000000000000
0000000000000000000000000000000000000000000000000000000000000000
0000000000000000000000000000000000000000000000000000000000000000
00000000000000000000000000000000000000000000000000000000000000f7
`

func parseHexString(hexStr string) []byte {
	cleaned := strings.Join(strings.Fields(hexStr), "")
	data, _ := hex.DecodeString(cleaned)
	return data
}

func TestParse(t *testing.T) {
	data := parseHexString(sampleEDIDHex)
	if len(data) != 256 {
		t.Fatalf("fixture should be 256 bytes, got %d", len(data))
	}

	info, err := Parse(data)
	if err != nil {
		t.Fatalf("Failed to parse EDID: %v", err)
	}

	wantHeader := Header{
		Manufacturer: "DEL",
		ProductCode:  0xA0B1,
		SerialNumber: 0x12345678,
		Week:         12,
		Year:         2020,
		Version:      1,
		Revision:     4,
	}
	if diff := cmp.Diff(wantHeader, info.Header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	if !info.Valid {
		t.Error("Expected valid checksum")
	}
	if info.Checksum != 0x0C {
		t.Errorf("Expected checksum 0x0C, got 0x%02X", info.Checksum)
	}
	if info.VersionString() != "1.4" {
		t.Errorf("Expected version 1.4, got %s", info.VersionString())
	}

	wantInput := Input{Digital: true, BitDepth: 8, Interface: "DisplayPort"}
	if info.Input != wantInput {
		t.Errorf("Expected input %+v, got %+v", wantInput, info.Input)
	}
	if info.ScreenWidthCM != 53 || info.ScreenHeightCM != 30 {
		t.Errorf("Expected 53x30 cm, got %dx%d", info.ScreenWidthCM, info.ScreenHeightCM)
	}
	if info.Gamma != 2.2 {
		t.Errorf("Expected gamma 2.2, got %v", info.Gamma)
	}
	wantFeatures := Features{DPMSActiveOff: true, SRGBDefault: true, PreferredNative: true}
	if info.Features != wantFeatures {
		t.Errorf("Expected features %+v, got %+v", wantFeatures, info.Features)
	}

	if info.Chromaticity.RedX != 0.6396484375 || info.Chromaticity.RedY != 0.330078125 {
		t.Errorf("Unexpected red primary: %+v", info.Chromaticity)
	}
	if info.Chromaticity.WhiteX != 0.3125 || info.Chromaticity.WhiteY != 0.3291015625 {
		t.Errorf("Unexpected white point: %+v", info.Chromaticity)
	}

	if info.MonitorName != "DELL TEST" {
		t.Errorf("Expected monitor name DELL TEST, got %q", info.MonitorName)
	}
	if info.MonitorSerial != "ABC123" {
		t.Errorf("Expected monitor serial ABC123, got %q", info.MonitorSerial)
	}

	wantRange := &RangeLimits{MinVerticalHz: 56, MaxVerticalHz: 76, MinHorizontalKHz: 30, MaxHorizontalKHz: 83, MaxPixelClockMHz: 170}
	if diff := cmp.Diff(wantRange, info.RangeLimits); diff != "" {
		t.Errorf("range limits mismatch (-want +got):\n%s", diff)
	}

	if info.Extensions != 1 || len(info.ExtensionBlocks) != 1 {
		t.Fatalf("Expected 1 extension block, got count=%d blocks=%d", info.Extensions, len(info.ExtensionBlocks))
	}
	if info.ExtensionBlocks[0][0] != 0x02 || !info.ExtensionValid[0] {
		t.Errorf("Expected valid CTA extension, got tag 0x%02X valid=%v", info.ExtensionBlocks[0][0], info.ExtensionValid[0])
	}
}

func TestParseDetailedTiming(t *testing.T) {
	info, err := Parse(parseHexString(sampleEDIDHex))
	if err != nil {
		t.Fatalf("Failed to parse EDID: %v", err)
	}

	if len(info.DetailedTimings) != 1 {
		t.Fatalf("Expected 1 detailed timing (others are monitor descriptors), got %d", len(info.DetailedTimings))
	}

	want := DetailedTiming{
		PixelClockKHz: 148500,
		HActive:       1920,
		HBlank:        280,
		VActive:       1080,
		VBlank:        45,
		HSyncOffset:   88,
		HSyncWidth:    44,
		VSyncOffset:   4,
		VSyncWidth:    5,
		HImageMM:      531,
		VImageMM:      299,
		SyncType:      SyncDigitalSeparate,
		HSyncPositive: true,
		VSyncPositive: true,
	}
	got, ok := info.Preferred()
	if !ok {
		t.Fatal("Expected a preferred timing")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("detailed timing mismatch (-want +got):\n%s", diff)
	}
	if r := got.RefreshHz(); r < 59.99 || r > 60.01 {
		t.Errorf("Expected 60 Hz, got %.3f", r)
	}
}

func TestParseTimings(t *testing.T) {
	info, err := Parse(parseHexString(sampleEDIDHex))
	if err != nil {
		t.Fatalf("Failed to parse EDID: %v", err)
	}

	wantStandard := []StandardTiming{
		{Width: 1920, Height: 1080, RefreshRate: 60, Aspect: "16:9"},
		{Width: 1280, Height: 1024, RefreshRate: 60, Aspect: "5:4"},
		{Width: 1280, Height: 720, RefreshRate: 60, Aspect: "16:9"},
	}
	if diff := cmp.Diff(wantStandard, info.StandardTimings); diff != "" {
		t.Errorf("standard timings mismatch (-want +got):\n%s", diff)
	}

	if len(info.EstablishedTimings) != 8 {
		t.Errorf("Expected 8 established timings, got %d: %v", len(info.EstablishedTimings), info.EstablishedTimings)
	}

	modes := info.Modes()
	if len(modes) != 11 {
		t.Errorf("Expected 11 unique modes, got %d: %v", len(modes), modes)
	}
	if modes[0] != (Mode{Width: 1920, Height: 1080, RefreshRate: 60}) {
		t.Errorf("Expected preferred mode first, got %v", modes[0])
	}

	largest, ok := info.MaxMode()
	if !ok || largest.Width != 1920 || largest.Height != 1080 {
		t.Errorf("Expected max mode 1920x1080, got %v", largest)
	}
}

func TestParseChecksumMismatchIsNotAnError(t *testing.T) {
	data := parseHexString(sampleEDIDHex)[:BlockSize]
	data[OffsetChecksum]++

	info, err := Parse(data)
	if err != nil {
		t.Fatalf("checksum mismatch must not fail parsing: %v", err)
	}
	if info.Valid {
		t.Error("Expected Valid=false for corrupted checksum")
	}
	if info.Manufacturer != "DEL" {
		t.Errorf("corrupt EDID should still be inspectable, got manufacturer %q", info.Manufacturer)
	}
}

func TestParseErrors(t *testing.T) {
	good := parseHexString(sampleEDIDHex)
	badMagic := append([]byte(nil), good[:BlockSize]...)
	badMagic[0] = 0x01

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", good[:127]},
		{"bad magic", badMagic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !errors.Is(err, ErrParse) {
				t.Errorf("Expected ErrParse, got %v", err)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Errorf("Expected *ParseError, got %T", err)
			}
		})
	}
}

func TestParseKeepsRawBytes(t *testing.T) {
	data := parseHexString(sampleEDIDHex)
	info, err := Parse(data)
	if err != nil {
		t.Fatalf("Failed to parse EDID: %v", err)
	}
	if diff := cmp.Diff(data, info.Raw); diff != "" {
		t.Errorf("raw bytes differ:\n%s", diff)
	}

	data[20] = 0
	if info.Raw[20] == 0 {
		t.Error("Raw must be a copy of the input")
	}
}

func TestParseTruncatedExtension(t *testing.T) {
	data := parseHexString(sampleEDIDHex)[:BlockSize+10]
	info, err := Parse(data)
	if err != nil {
		t.Fatalf("Failed to parse EDID: %v", err)
	}
	if info.Extensions != 1 {
		t.Errorf("Expected declared extension count 1, got %d", info.Extensions)
	}
	if len(info.ExtensionBlocks) != 0 {
		t.Errorf("Expected no complete extension blocks, got %d", len(info.ExtensionBlocks))
	}
}

func TestDecodeManufacturer(t *testing.T) {
	tests := []struct {
		hi, lo byte
		want   string
	}{
		{0x00, 0x00, "AAA"},
		{0x10, 0xAC, "DEL"},
		{0x4C, 0x2D, "SAM"},
		{0xFF, 0xFF, "ZZZ"},
	}

	for _, tt := range tests {
		if got := DecodeManufacturer(tt.hi, tt.lo); got != tt.want {
			t.Errorf("DecodeManufacturer(0x%02X, 0x%02X) = %s, want %s", tt.hi, tt.lo, got, tt.want)
		}
	}
}

func TestEncodeManufacturer(t *testing.T) {
	hi, lo, err := EncodeManufacturer("DEL")
	if err != nil {
		t.Fatalf("EncodeManufacturer: %v", err)
	}
	if hi != 0x10 || lo != 0xAC {
		t.Errorf("Expected 0x10 0xAC, got 0x%02X 0x%02X", hi, lo)
	}

	for _, bad := range []string{"", "DE", "del", "D3L"} {
		if _, _, err := EncodeManufacturer(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestDetailedTimingRoundTrip(t *testing.T) {
	data := parseHexString(sampleEDIDHex)
	orig := data[OffsetDescriptors : OffsetDescriptors+DescriptorSize]

	encoded, err := EncodeDetailedTiming(DecodeDetailedTiming(orig))
	if err != nil {
		t.Fatalf("EncodeDetailedTiming: %v", err)
	}
	if diff := cmp.Diff(orig, encoded); diff != "" {
		t.Errorf("descriptor bytes differ (-want +got):\n%s", diff)
	}
}

func TestStandardTimingRoundTrip(t *testing.T) {
	tests := []struct {
		w, h, r int
	}{
		{1920, 1080, 60},
		{1920, 1200, 60},
		{1280, 1024, 75},
		{1600, 1200, 85},
	}
	for _, tt := range tests {
		b0, b1, err := EncodeStandardTiming(tt.w, tt.h, tt.r)
		if err != nil {
			t.Errorf("EncodeStandardTiming(%dx%d@%d): %v", tt.w, tt.h, tt.r, err)
			continue
		}
		st, ok := DecodeStandardTiming(b0, b1, 1, 4)
		if !ok || st.Width != tt.w || st.Height != tt.h || st.RefreshRate != tt.r {
			t.Errorf("round trip %dx%d@%d gave %+v", tt.w, tt.h, tt.r, st)
		}
	}

	if _, _, err := EncodeStandardTiming(3840, 2160, 60); err == nil {
		t.Error("Expected 3840 wide mode to be rejected")
	}
	if _, _, err := EncodeStandardTiming(1920, 1080, 144); err == nil {
		t.Error("Expected 144 Hz to be rejected")
	}
}

func TestTextDescriptor(t *testing.T) {
	d := EncodeTextDescriptor(TagName, "GPUCTL")
	info := &Info{}
	parseDescriptor(info, d)
	if info.MonitorName != "GPUCTL" {
		t.Errorf("Expected GPUCTL, got %q", info.MonitorName)
	}

	d = EncodeTextDescriptor(TagText, "THIRTEEN-CHAR")
	parseDescriptor(info, d)
	if len(info.Text) != 1 || info.Text[0] != "THIRTEEN-CHAR" {
		t.Errorf("Expected full 13 byte text, got %q", info.Text)
	}
}

func TestRangeLimitsOffsets(t *testing.T) {
	in := RangeLimits{MinVerticalHz: 48, MaxVerticalHz: 360, MinHorizontalKHz: 30, MaxHorizontalKHz: 420, MaxPixelClockMHz: 1200}
	got := parseRangeLimits(EncodeRangeLimits(in))
	if diff := cmp.Diff(&in, got); diff != "" {
		t.Errorf("range limits mismatch (-want +got):\n%s", diff)
	}
}

func BenchmarkParse(b *testing.B) {
	data := parseHexString(sampleEDIDHex)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Parse(data)
	}
}
