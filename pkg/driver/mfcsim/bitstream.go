package mfcsim

import (
	"errors"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/driver"
)

var errNoParam = errors.New("mfcsim: encoder parameters are not set")

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

const (
	nalSPS       = 0x67
	nalPPS       = 0x68
	nalIDR       = 0x65
	nalNonIDRRef = 0x41
	nalNonRef    = 0x01

	minFrameSize = 8
)

// writeHeader writes an SPS and a PPS NAL unit, each behind a start code.
func writeHeader(dst []byte, p driver.EncParam) int {
	profile, level := p.H264.ProfileIDC, p.H264.LevelIDC
	if profile == 0 {
		profile = 66
	}
	if level == 0 {
		level = 40
	}
	mbw := (p.SourceWidth + 15) / 16
	mbh := (p.SourceHeight + 15) / 16

	var b []byte
	b = append(b, startCode...)
	b = append(b, nalSPS, byte(profile), 0xc0, byte(level), 0x8c, byte(mbw)|0x80, byte(mbh)|0x80)
	b = append(b, startCode...)
	b = append(b, nalPPS, 0xce, 0x3c, 0x80)
	return copy(dst, b)
}

// frameSize returns the payload size the rate control aims at.
func frameSize(f codedFrame) int {
	if f.bitRate <= 0 || !(f.frameRate > 0) {
		return 64
	}
	n := int(float32(f.bitRate) / 8 / f.frameRate)
	switch f.typ {
	case driver.FrameTypeIDR, driver.FrameTypeI:
		n *= 3
	case driver.FrameTypeB:
		n /= 2
	}
	if n < minFrameSize {
		n = minFrameSize
	}
	return n
}

// writeFrame writes one slice NAL unit. The body never contains a start
// code: every byte after the header has its high bit set.
func writeFrame(dst []byte, f codedFrame) int {
	n := frameSize(f)
	if n > len(dst) {
		n = len(dst)
	}
	if n < len(startCode)+3 {
		return 0
	}

	nal := byte(nalNonIDRRef)
	switch f.typ {
	case driver.FrameTypeIDR:
		nal = nalIDR
	case driver.FrameTypeB:
		nal = nalNonRef
	}

	copy(dst, startCode)
	dst[4] = nal
	dst[5] = byte(f.tag) | 0x80
	for i := 6; i < n; i++ {
		dst[i] = (f.seed + byte(i)) | 0x80
	}
	return n
}

// seedOf samples the luma plane so that payloads depend on the picture.
func seedOf(planes []buffer.Plane) byte {
	var s byte
	for _, p := range planes {
		used := p.Used
		if used > len(p.Data) {
			used = len(p.Data)
		}
		for i := 0; i < used; i += 61 {
			s += p.Data[i]
		}
	}
	return s
}
