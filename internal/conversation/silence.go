package conversation

import (
	"fmt"
	"time"
)

const (
	MaxSilenceAttempts = 3

	secondSilenceWait = 5 * time.Minute
	thirdSilenceWait  = 30 * time.Minute
)

type SilenceState int

const (
	SilenceIdle SilenceState = iota
	SilenceArmed
	SilenceFired
	SilenceExhausted
)

func (s SilenceState) String() string {
	switch s {
	case SilenceArmed:
		return "armed"
	case SilenceFired:
		return "fired"
	case SilenceExhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

func (s SilenceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SilenceState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = SilenceIdle
	case "armed":
		*s = SilenceArmed
	case "fired":
		*s = SilenceFired
	case "exhausted":
		*s = SilenceExhausted
	default:
		return fmt.Errorf("unknown silence state %q", text)
	}
	return nil
}

// SilenceWait returns how long to wait before follow-up number attempts+1.
// base is the persona's first wait. ok is false once the cap is reached.
func SilenceWait(base time.Duration, attempts int) (wait time.Duration, ok bool) {
	switch attempts {
	case 0:
		return base, true
	case 1:
		return secondSilenceWait, true
	case 2:
		return thirdSilenceWait, true
	default:
		return 0, false
	}
}

// silenceTracker is the escalation state of one chat. It is not safe for
// concurrent use; the engine guards it with its own mutex.
type silenceTracker struct {
	state    SilenceState
	attempts int
	previous []string
	deadline time.Time
	timer    Timer
	// token identifies the outstanding timer; callbacks holding an older
	// token are stale.
	token uint64
}

func (s *silenceTracker) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.token++
	s.deadline = time.Time{}
}

// reset is applied on every user message.
func (s *silenceTracker) reset() {
	s.cancel()
	s.state = SilenceIdle
	s.attempts = 0
	s.previous = nil
}

func (s *silenceTracker) idle() {
	s.cancel()
	s.state = SilenceIdle
}

// arm replaces any outstanding timer. It reports false when the attempts
// are exhausted.
func (s *silenceTracker) arm(clock Clock, base time.Duration, fire func(token uint64)) bool {
	wait, ok := SilenceWait(base, s.attempts)
	if !ok {
		s.cancel()
		s.state = SilenceExhausted
		return false
	}
	s.cancel()
	token := s.token
	s.deadline = clock.Now().Add(wait)
	s.timer = clock.AfterFunc(wait, func() { fire(token) })
	s.state = SilenceArmed
	return true
}

// fire moves an armed tracker to Fired and counts the attempt.
func (s *silenceTracker) fire(token uint64) bool {
	if token != s.token || s.state != SilenceArmed {
		return false
	}
	s.timer = nil
	s.deadline = time.Time{}
	s.attempts++
	s.state = SilenceFired
	return true
}

func (s *silenceTracker) record(text string) {
	s.previous = append(s.previous, text)
}

// SilenceSnapshot is a read-only view of the escalation state.
type SilenceSnapshot struct {
	State    SilenceState `json:"state"`
	Attempts int          `json:"attempts"`
	Previous []string     `json:"previous,omitempty"`
	Deadline time.Time    `json:"deadline,omitempty"`
}

func (s *silenceTracker) snapshot() SilenceSnapshot {
	return SilenceSnapshot{
		State:    s.state,
		Attempts: s.attempts,
		Previous: append([]string(nil), s.previous...),
		Deadline: s.deadline,
	}
}
