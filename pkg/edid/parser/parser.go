// Package parser decodes EDID 1.x base blocks and keeps any extension blocks.
package parser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// EDID base block byte offsets (VESA E-EDID 1.4)
const (
	BlockSize = 128

	OffsetHeader       = 0x00 // 8-byte fixed pattern
	OffsetManufacturer = 0x08 // 2 bytes, big-endian, three 5-bit letters
	OffsetProductCode  = 0x0A // 2 bytes, little-endian
	OffsetSerial       = 0x0C // 4 bytes, little-endian
	OffsetWeek         = 0x10
	OffsetYear         = 0x11 // year - 1990
	OffsetVersion      = 0x12
	OffsetRevision     = 0x13
	OffsetInput        = 0x14
	OffsetWidthCM      = 0x15
	OffsetHeightCM     = 0x16
	OffsetGamma        = 0x17 // (gamma * 100) - 100
	OffsetFeatures     = 0x18
	OffsetChroma       = 0x19 // 10 bytes
	OffsetEstablished  = 0x23 // 3 bytes
	OffsetStandard     = 0x26 // 8 x 2 bytes
	OffsetDescriptors  = 0x36 // 4 x 18 bytes
	OffsetExtensions   = 0x7E
	OffsetChecksum     = 0x7F

	DescriptorSize  = 18
	DescriptorCount = 4
	StandardCount   = 8
)

// Monitor descriptor tags
const (
	TagSerial      = 0xFF
	TagText        = 0xFE
	TagRangeLimits = 0xFD
	TagName        = 0xFC
	TagDummy       = 0x10
)

// Magic is the fixed 8-byte EDID header pattern.
var Magic = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

// ErrParse is matched by every *ParseError.
var ErrParse = errors.New("edid parse error")

// ParseError reports a buffer that cannot be an EDID at all.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "failed to parse EDID: " + e.Reason
}

// Is reports ErrParse as the error kind.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Parse decodes an EDID base block and any extension blocks that follow it.
// A checksum mismatch does not fail the parse; it clears Info.Valid.
func Parse(data []byte) (*Info, error) {
	if err := checkBase(data); err != nil {
		return nil, err
	}

	base := data[:BlockSize]
	info := &Info{
		Raw:      bytes.Clone(data),
		Checksum: base[OffsetChecksum],
		Valid:    ValidChecksum(base),
	}

	info.Header = parseHeader(base)
	info.Input = parseInput(base[OffsetInput], info.Version, info.Revision)
	info.ScreenWidthCM = int(base[OffsetWidthCM])
	info.ScreenHeightCM = int(base[OffsetHeightCM])
	if g := base[OffsetGamma]; g != 0xFF {
		info.Gamma = float64(int(g)+100) / 100
	}
	info.Features = parseFeatures(base[OffsetFeatures])
	info.Chromaticity = parseChromaticity(base[OffsetChroma : OffsetChroma+10])

	copy(info.EstablishedBitmap[:], base[OffsetEstablished:OffsetEstablished+3])
	info.EstablishedTimings = parseEstablished(info.EstablishedBitmap)
	info.StandardTimings = parseStandardTimings(base[OffsetStandard:OffsetStandard+2*StandardCount], info.Version, info.Revision)

	for i := 0; i < DescriptorCount; i++ {
		off := OffsetDescriptors + i*DescriptorSize
		parseDescriptor(info, base[off:off+DescriptorSize])
	}

	info.Extensions = int(base[OffsetExtensions])
	for i := 1; i <= info.Extensions; i++ {
		start := i * BlockSize
		if start+BlockSize > len(data) {
			break
		}
		block := data[start : start+BlockSize]
		info.ExtensionBlocks = append(info.ExtensionBlocks, bytes.Clone(block))
		info.ExtensionValid = append(info.ExtensionValid, ValidChecksum(block))
	}

	return info, nil
}

// ParseHeader decodes only the vendor/version header, for callers that do
// not need the full structure.
func ParseHeader(data []byte) (Header, error) {
	if err := checkBase(data); err != nil {
		return Header{}, err
	}
	return parseHeader(data), nil
}

func checkBase(data []byte) error {
	if len(data) < BlockSize {
		return &ParseError{Reason: fmt.Sprintf("EDID data too short: %d bytes", len(data))}
	}
	if !bytes.Equal(data[OffsetHeader:OffsetHeader+8], Magic) {
		return &ParseError{Reason: fmt.Sprintf("invalid header pattern % X", data[:8])}
	}
	return nil
}

// ValidChecksum reports whether the 128 bytes of block sum to 0 mod 256.
func ValidChecksum(block []byte) bool {
	if len(block) < BlockSize {
		return false
	}
	var sum byte
	for _, b := range block[:BlockSize] {
		sum += b
	}
	return sum == 0
}

// Checksum returns the byte 127 value that makes the block sum to zero.
func Checksum(block []byte) byte {
	var sum byte
	for _, b := range block[:BlockSize-1] {
		sum += b
	}
	return byte(0x100 - int(sum))
}

func parseHeader(b []byte) Header {
	return Header{
		Manufacturer: DecodeManufacturer(b[OffsetManufacturer], b[OffsetManufacturer+1]),
		ProductCode:  binary.LittleEndian.Uint16(b[OffsetProductCode:]),
		SerialNumber: binary.LittleEndian.Uint32(b[OffsetSerial:]),
		Week:         int(b[OffsetWeek]),
		Year:         int(b[OffsetYear]) + 1990,
		Version:      int(b[OffsetVersion]),
		Revision:     int(b[OffsetRevision]),
	}
}

// DecodeManufacturer unpacks the three 5-bit letter codes. Codes outside
// 1..26 are clamped so that implausible IDs still decode (0x0000 is "AAA").
func DecodeManufacturer(hi, lo byte) string {
	word := uint16(hi)<<8 | uint16(lo)
	letters := make([]byte, 3)
	for i := 0; i < 3; i++ {
		code := int(word>>(10-5*i)) & 0x1F
		switch {
		case code < 1:
			code = 1
		case code > 26:
			code = 26
		}
		letters[i] = byte('A' - 1 + code)
	}
	return string(letters)
}

// EncodeManufacturer packs a three letter PNP ID.
func EncodeManufacturer(id string) (byte, byte, error) {
	if len(id) != 3 {
		return 0, 0, fmt.Errorf("manufacturer ID must be 3 letters: %q", id)
	}
	var word uint16
	for i := 0; i < 3; i++ {
		c := id[i]
		if c < 'A' || c > 'Z' {
			return 0, 0, fmt.Errorf("manufacturer ID must be upper-case letters: %q", id)
		}
		word |= uint16(c-'A'+1) << (10 - 5*i)
	}
	return byte(word >> 8), byte(word), nil
}

func parseInput(b byte, version, revision int) Input {
	in := Input{Digital: b&0x80 != 0}
	if !in.Digital || version != 1 || revision < 4 {
		return in
	}
	if depth := (b >> 4) & 0x07; depth >= 1 && depth <= 6 {
		in.BitDepth = 4 + 2*int(depth)
	}
	switch b & 0x0F {
	case 0x01:
		in.Interface = "DVI"
	case 0x02:
		in.Interface = "HDMI-a"
	case 0x03:
		in.Interface = "HDMI-b"
	case 0x04:
		in.Interface = "MDDI"
	case 0x05:
		in.Interface = "DisplayPort"
	}
	return in
}

func parseFeatures(b byte) Features {
	return Features{
		DPMSStandby:         b&0x80 != 0,
		DPMSSuspend:         b&0x40 != 0,
		DPMSActiveOff:       b&0x20 != 0,
		SRGBDefault:         b&0x04 != 0,
		PreferredNative:     b&0x02 != 0,
		ContinuousFrequency: b&0x01 != 0,
	}
}

func parseChromaticity(b []byte) Chromaticity {
	coord := func(msb byte, lsb byte, shift uint) float64 {
		return float64(int(msb)<<2|int(lsb>>shift)&0x03) / 1024
	}
	return Chromaticity{
		RedX:   coord(b[2], b[0], 6),
		RedY:   coord(b[3], b[0], 4),
		GreenX: coord(b[4], b[0], 2),
		GreenY: coord(b[5], b[0], 0),
		BlueX:  coord(b[6], b[1], 6),
		BlueY:  coord(b[7], b[1], 4),
		WhiteX: coord(b[8], b[1], 2),
		WhiteY: coord(b[9], b[1], 0),
	}
}

// establishedModes maps bitmap bits (byte 35 bit 7 first) to modes.
var establishedModes = []Mode{
	{720, 400, 70, false}, {720, 400, 88, false}, {640, 480, 60, false}, {640, 480, 67, false},
	{640, 480, 72, false}, {640, 480, 75, false}, {800, 600, 56, false}, {800, 600, 60, false},
	{800, 600, 72, false}, {800, 600, 75, false}, {832, 624, 75, false}, {1024, 768, 87, true},
	{1024, 768, 60, false}, {1024, 768, 70, false}, {1024, 768, 75, false}, {1280, 1024, 75, false},
	{1152, 870, 75, false},
}

func parseEstablished(bitmap [3]byte) []Mode {
	var modes []Mode
	for i, m := range establishedModes {
		if bitmap[i/8]&(0x80>>(i%8)) != 0 {
			modes = append(modes, m)
		}
	}
	return modes
}

// EstablishedBit returns the byte index and mask for an established mode.
func EstablishedBit(m Mode) (int, byte, bool) {
	for i, e := range establishedModes {
		if e == m {
			return i / 8, 0x80 >> (i % 8), true
		}
	}
	return 0, 0, false
}

func parseStandardTimings(b []byte, version, revision int) []StandardTiming {
	var timings []StandardTiming
	for i := 0; i < StandardCount; i++ {
		if st, ok := DecodeStandardTiming(b[2*i], b[2*i+1], version, revision); ok {
			timings = append(timings, st)
		}
	}
	return timings
}

// DecodeStandardTiming decodes one 2-byte entry. 0x0101 and 0x00xx mark
// unused slots.
func DecodeStandardTiming(b0, b1 byte, version, revision int) (StandardTiming, bool) {
	if (b0 == 0x01 && b1 == 0x01) || b0 == 0x00 {
		return StandardTiming{}, false
	}
	st := StandardTiming{
		Width:       (int(b0) + 31) * 8,
		RefreshRate: int(b1&0x3F) + 60,
	}
	switch b1 >> 6 {
	case 0:
		if version == 1 && revision < 3 {
			st.Aspect = "1:1"
			st.Height = st.Width
		} else {
			st.Aspect = "16:10"
			st.Height = st.Width * 10 / 16
		}
	case 1:
		st.Aspect = "4:3"
		st.Height = st.Width * 3 / 4
	case 2:
		st.Aspect = "5:4"
		st.Height = st.Width * 4 / 5
	case 3:
		st.Aspect = "16:9"
		st.Height = st.Width * 9 / 16
	}
	return st, true
}

// EncodeStandardTiming is the inverse of DecodeStandardTiming for EDID 1.3+.
// It fails when the mode cannot be expressed in two bytes.
func EncodeStandardTiming(width, height, refresh int) (byte, byte, error) {
	if width < 256 || width > 2288 || width%8 != 0 {
		return 0, 0, fmt.Errorf("width %d cannot be encoded as a standard timing", width)
	}
	if refresh < 60 || refresh > 123 {
		return 0, 0, fmt.Errorf("refresh %d cannot be encoded as a standard timing", refresh)
	}
	var aspect byte
	switch {
	case height == width*10/16 && width*10%16 == 0:
		aspect = 0
	case height == width*3/4 && width*3%4 == 0:
		aspect = 1
	case height == width*4/5 && width*4%5 == 0:
		aspect = 2
	case height == width*9/16 && width*9%16 == 0:
		aspect = 3
	default:
		return 0, 0, fmt.Errorf("aspect ratio of %dx%d cannot be encoded as a standard timing", width, height)
	}
	return byte(width/8 - 31), aspect<<6 | byte(refresh-60), nil
}
