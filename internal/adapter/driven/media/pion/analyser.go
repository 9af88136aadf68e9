package pion

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

const (
	audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

	// Levels are -dBov, 127 being silence. Anything quieter than this is
	// treated as background noise.
	speechThreshold = 50
	analyserBins    = 32
)

// levelAnalyser turns RFC 6464 audio levels carried in RTP header extensions
// into a coarse spectrum: every bin holds the current loudness.
type levelAnalyser struct {
	loudness atomic.Uint32
}

func newLevelAnalyser() *levelAnalyser {
	return &levelAnalyser{}
}

func (a *levelAnalyser) FrequencyBins() []uint8 {
	bins := make([]uint8, analyserBins)
	v := uint8(a.loudness.Load())
	for i := range bins {
		bins[i] = v
	}
	return bins
}

// observe updates the loudness from one packet. extID is the negotiated id of
// the audio level extension, 0 when it was not negotiated.
func (a *levelAnalyser) observe(pkt *rtp.Packet, extID uint8) {
	if extID == 0 {
		return
	}
	raw := pkt.GetExtension(extID)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	a.set(ext.Level, ext.Voice)
}

func (a *levelAnalyser) set(level uint8, voice bool) {
	var loud uint32
	if level < speechThreshold && (voice || level < speechThreshold/2) {
		loud = uint32(127 - level)
	}
	a.loudness.Store(loud)
}
