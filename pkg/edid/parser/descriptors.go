package parser

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// parseDescriptor decodes one 18-byte descriptor into info. A non-zero pixel
// clock means a detailed timing; anything else is a monitor descriptor.
func parseDescriptor(info *Info, d []byte) {
	if d[0] != 0 || d[1] != 0 {
		info.DetailedTimings = append(info.DetailedTimings, DecodeDetailedTiming(d))
		return
	}
	if d[2] != 0 {
		return
	}

	switch d[3] {
	case TagName:
		info.MonitorName = descriptorText(d)
	case TagSerial:
		info.MonitorSerial = descriptorText(d)
	case TagText:
		info.Text = append(info.Text, descriptorText(d))
	case TagRangeLimits:
		info.RangeLimits = parseRangeLimits(d)
	}
}

// DecodeDetailedTiming decodes an 18-byte detailed timing descriptor.
func DecodeDetailedTiming(d []byte) DetailedTiming {
	t := DetailedTiming{
		PixelClockKHz: int(binary.LittleEndian.Uint16(d[0:2])) * 10,
		HActive:       int(d[2]) | int(d[4]&0xF0)<<4,
		HBlank:        int(d[3]) | int(d[4]&0x0F)<<8,
		VActive:       int(d[5]) | int(d[7]&0xF0)<<4,
		VBlank:        int(d[6]) | int(d[7]&0x0F)<<8,
		HSyncOffset:   int(d[8]) | int(d[11]&0xC0)<<2,
		HSyncWidth:    int(d[9]) | int(d[11]&0x30)<<4,
		VSyncOffset:   int(d[10]>>4) | int(d[11]&0x0C)<<2,
		VSyncWidth:    int(d[10]&0x0F) | int(d[11]&0x03)<<4,
		HImageMM:      int(d[12]) | int(d[14]&0xF0)<<4,
		VImageMM:      int(d[13]) | int(d[14]&0x0F)<<8,
		HBorder:       int(d[15]),
		VBorder:       int(d[16]),
		Interlaced:    d[17]&0x80 != 0,
		SyncType:      SyncType((d[17] >> 3) & 0x03),
	}

	switch t.SyncType {
	case SyncDigitalSeparate:
		t.VSyncPositive = d[17]&0x04 != 0
		t.HSyncPositive = d[17]&0x02 != 0
	case SyncDigitalComposite:
		t.HSyncPositive = d[17]&0x02 != 0
	}
	return t
}

// EncodeDetailedTiming is the inverse of DecodeDetailedTiming. Digital
// separate sync is always written.
func EncodeDetailedTiming(t DetailedTiming) ([]byte, error) {
	units := t.PixelClockKHz / 10
	switch {
	case units <= 0 || units > 0xFFFF:
		return nil, fmt.Errorf("pixel clock %d kHz out of range", t.PixelClockKHz)
	case t.HActive > 0xFFF || t.HBlank > 0xFFF || t.VActive > 0xFFF || t.VBlank > 0xFFF:
		return nil, fmt.Errorf("timing %dx%d does not fit a detailed timing descriptor", t.HActive, t.VActive)
	case t.HSyncOffset > 0x3FF || t.HSyncWidth > 0x3FF || t.VSyncOffset > 0x3F || t.VSyncWidth > 0x3F:
		return nil, fmt.Errorf("sync figures out of range for a detailed timing descriptor")
	}

	d := make([]byte, DescriptorSize)
	binary.LittleEndian.PutUint16(d[0:2], uint16(units))
	d[2] = byte(t.HActive)
	d[3] = byte(t.HBlank)
	d[4] = byte(t.HActive>>8)<<4 | byte(t.HBlank>>8)&0x0F
	d[5] = byte(t.VActive)
	d[6] = byte(t.VBlank)
	d[7] = byte(t.VActive>>8)<<4 | byte(t.VBlank>>8)&0x0F
	d[8] = byte(t.HSyncOffset)
	d[9] = byte(t.HSyncWidth)
	d[10] = byte(t.VSyncOffset&0x0F)<<4 | byte(t.VSyncWidth&0x0F)
	d[11] = byte(t.HSyncOffset>>8)<<6 | byte(t.HSyncWidth>>8)<<4 | byte(t.VSyncOffset>>4)<<2 | byte(t.VSyncWidth>>4)
	d[12] = byte(t.HImageMM)
	d[13] = byte(t.VImageMM)
	d[14] = byte(t.HImageMM>>8)<<4 | byte(t.VImageMM>>8)&0x0F
	d[15] = byte(t.HBorder)
	d[16] = byte(t.VBorder)

	flags := byte(SyncDigitalSeparate) << 3
	if t.Interlaced {
		flags |= 0x80
	}
	if t.VSyncPositive {
		flags |= 0x04
	}
	if t.HSyncPositive {
		flags |= 0x02
	}
	d[17] = flags
	return d, nil
}

// EncodeTextDescriptor builds a name (0xFC), serial (0xFF) or text (0xFE)
// descriptor. Text longer than 13 bytes is truncated.
func EncodeTextDescriptor(tag byte, text string) []byte {
	d := make([]byte, DescriptorSize)
	d[3] = tag
	payload := d[5:]
	n := copy(payload, text)
	if n < len(payload) {
		payload[n] = 0x0A
		for i := n + 1; i < len(payload); i++ {
			payload[i] = 0x20
		}
	}
	return d
}

// EncodeRangeLimits builds a 0xFD descriptor without extended timing info.
func EncodeRangeLimits(r RangeLimits) []byte {
	d := make([]byte, DescriptorSize)
	d[3] = TagRangeLimits
	var flags byte
	minV, maxV := r.MinVerticalHz, r.MaxVerticalHz
	minH, maxH := r.MinHorizontalKHz, r.MaxHorizontalKHz
	if maxV > 255 {
		flags |= 0x02
		maxV -= 255
		if minV > 255 {
			flags |= 0x01
			minV -= 255
		}
	}
	if maxH > 255 {
		flags |= 0x08
		maxH -= 255
		if minH > 255 {
			flags |= 0x04
			minH -= 255
		}
	}
	d[4] = flags
	d[5] = byte(minV)
	d[6] = byte(maxV)
	d[7] = byte(minH)
	d[8] = byte(maxH)
	d[9] = byte((r.MaxPixelClockMHz + 9) / 10)
	d[10] = 0x01
	d[11] = 0x0A
	for i := 12; i < DescriptorSize; i++ {
		d[i] = 0x20
	}
	return d
}

func descriptorText(d []byte) string {
	text := d[5:DescriptorSize]
	if i := strings.IndexByte(string(text), 0x0A); i >= 0 {
		text = text[:i]
	}
	return strings.TrimRight(string(text), " \x00")
}

func parseRangeLimits(d []byte) *RangeLimits {
	flags := d[4]
	r := &RangeLimits{
		MinVerticalHz:    int(d[5]),
		MaxVerticalHz:    int(d[6]),
		MinHorizontalKHz: int(d[7]),
		MaxHorizontalKHz: int(d[8]),
		MaxPixelClockMHz: int(d[9]) * 10,
	}
	if flags&0x02 != 0 {
		r.MaxVerticalHz += 255
		if flags&0x01 != 0 {
			r.MinVerticalHz += 255
		}
	}
	if flags&0x08 != 0 {
		r.MaxHorizontalKHz += 255
		if flags&0x04 != 0 {
			r.MinHorizontalKHz += 255
		}
	}
	return r
}
