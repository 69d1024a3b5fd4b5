package h264

import (
	"bytes"
	"errors"
)

var (
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	startCode3 = []byte{0x00, 0x00, 0x01}

	errNoStartCode = errors.New("h264: stream doesn't start with a start code")
	errNoPPS       = errors.New("h264: no second start code in stream header")
)

// startCodeLen returns the length of the start code b begins with, or 0.
func startCodeLen(b []byte) int {
	switch {
	case bytes.HasPrefix(b, startCode4):
		return len(startCode4)
	case bytes.HasPrefix(b, startCode3):
		return len(startCode3)
	}
	return 0
}

// NALUnits splits an Annex-B byte stream into NAL units, without their
// start codes.
func NALUnits(b []byte) [][]byte {
	var units [][]byte
	start := -1
	for i := 0; i+len(startCode3) <= len(b); {
		n := startCodeLen(b[i:])
		if n == 0 {
			i++
			continue
		}
		if start >= 0 {
			units = append(units, b[start:i])
		}
		i += n
		start = i
	}
	if start >= 0 && start < len(b) {
		units = append(units, b[start:])
	}
	return units
}

// NALType returns nal_unit_type of a NAL unit.
func NALType(nal []byte) byte {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1f
}

// SplitHeader splits a stream header at the first 00 00 00 01 delimiter
// after its own leading one. The first region holds the SPS and the second
// the PPS, both still behind their start codes.
func SplitHeader(header []byte) (sps, pps []byte, err error) {
	if !bytes.HasPrefix(header, startCode4) {
		return nil, nil, errNoStartCode
	}
	i := bytes.Index(header[len(startCode4):], startCode4)
	if i <= 0 {
		return nil, nil, errNoPPS
	}
	i += len(startCode4)
	if i+len(startCode4) >= len(header) {
		return nil, nil, errNoPPS
	}
	return header[:i], header[i:], nil
}
