package codec

import (
	"math/rand"

	"github.com/pion/rtp"
)

const (
	defaultMTU = 1200
)

// Packetizer splits encoder output into RTP packets. Packet timestamps are
// derived from the presentation timestamps of the encoded buffers.
type Packetizer struct {
	packetizer rtp.Packetizer
	sample     TimestampSamplerFunc
}

// NewPacketizer creates a Packetizer for c. A zero mtu selects the default.
func NewPacketizer(c *RTPCodec, mtu uint16) *Packetizer {
	if mtu == 0 {
		mtu = defaultMTU
	}
	return &Packetizer{
		packetizer: rtp.NewPacketizer(
			mtu,
			c.PayloadType,
			rand.Uint32(),
			c.Payloader,
			rtp.NewRandomSequencer(),
			c.ClockRate,
		),
		sample: NewTimestampSampler(c.ClockRate),
	}
}

// Packetize packetizes one encoded buffer presented at timestampUs.
func (p *Packetizer) Packetize(payload []byte, timestampUs int64) []*rtp.Packet {
	if len(payload) == 0 {
		return nil
	}
	return p.packetizer.Packetize(payload, p.sample(timestampUs))
}
