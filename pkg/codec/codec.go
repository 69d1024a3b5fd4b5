// Package codec holds the pieces shared by the codec bindings: the RTP
// description of each bitstream, packetization of encoder output and
// output statistics.
package codec

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// RTPCodec describes how a bitstream travels over RTP.
type RTPCodec struct {
	webrtc.RTPCodecCapability
	PayloadType uint8
	Payloader   rtp.Payloader
}

// NewRTPH264Codec returns the RTP description of an H.264 stream in
// packetization mode 1.
func NewRTPH264Codec(payloadType uint8) *RTPCodec {
	return &RTPCodec{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: payloadType,
		Payloader:   &codecs.H264Payloader{},
	}
}
