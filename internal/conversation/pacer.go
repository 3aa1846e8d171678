package conversation

import (
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/utils/random"
)

// Delays are the simulated human reaction times.
type Delays struct {
	// Read is the time until the user's message shows as read.
	Read time.Duration
	// TypingLead is the pause between read and the typing indicator.
	TypingLead time.Duration
	SegmentMin time.Duration
	SegmentMax time.Duration
	// SilenceTyping plus up to SilenceTypingJitter is how long the typing
	// indicator shows before a silence follow-up.
	SilenceTyping       time.Duration
	SilenceTypingJitter time.Duration
	Welcome             time.Duration
}

func DefaultDelays() Delays {
	return Delays{
		Read:                500 * time.Millisecond,
		TypingLead:          300 * time.Millisecond,
		SegmentMin:          300 * time.Millisecond,
		SegmentMax:          1000 * time.Millisecond,
		SilenceTyping:       1500 * time.Millisecond,
		SilenceTypingJitter: 1000 * time.Millisecond,
		Welcome:             1500 * time.Millisecond,
	}
}

type Pacer struct {
	delays Delays
	rand   random.Source
}

func NewPacer(delays Delays, src random.Source) *Pacer {
	return &Pacer{delays: delays, rand: src}
}

func (p *Pacer) Delays() Delays {
	return p.delays
}

// SegmentDelay is the wait before revealing segment i. The first segment
// goes out immediately; later ones wait uniformly in [SegmentMin, SegmentMax).
func (p *Pacer) SegmentDelay(i int) time.Duration {
	if i == 0 {
		return 0
	}
	return jitter(p.rand, p.delays.SegmentMin, p.delays.SegmentMax-p.delays.SegmentMin)
}

func (p *Pacer) SilenceTypingDelay() time.Duration {
	return jitter(p.rand, p.delays.SilenceTyping, p.delays.SilenceTypingJitter)
}

func jitter(src random.Source, base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base + time.Duration(src.Float64()*float64(spread))
}
