package call

import (
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const DefaultFrameInterval = 16 * time.Millisecond

// IsTalking treats any energy in the middle frequency bin as speech. It is
// coarse and flickers on noise.
func IsTalking(a Analyser) bool {
	if a == nil {
		return false
	}
	bins := a.FrequencyBins()
	if len(bins) == 0 {
		return false
	}
	return bins[len(bins)/2] != 0
}

// TalkingDetector remembers the last sampled state per participant and
// reports transitions only.
type TalkingDetector struct {
	last map[domain.UserID]bool
}

func NewTalkingDetector() *TalkingDetector {
	return &TalkingDetector{last: make(map[domain.UserID]bool)}
}

// Sample returns the current state of who and whether it changed since the
// previous sample.
func (d *TalkingDetector) Sample(who domain.UserID, a Analyser) (talking, changed bool) {
	talking = IsTalking(a)
	prev, seen := d.last[who]
	d.last[who] = talking
	return talking, (!seen && talking) || (seen && prev != talking)
}

func (d *TalkingDetector) Forget(who domain.UserID) {
	delete(d.last, who)
}

func (d *TalkingDetector) Reset() {
	clear(d.last)
}
