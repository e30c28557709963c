// Package clock implements the clock-drift corrector (§4.2): it reconciles
// a client-asserted "sent at" timestamp against the server's receive time,
// and offsets other timestamps by the observed drift when that drift is
// large enough to be credible rather than network jitter.
package clock

import "time"

// MinimumDrift is the smallest |drift| that is treated as credible clock
// skew rather than ordinary network latency jitter.
const MinimumDrift = 55 * time.Minute

// Corrector computes a drift between a client-stated send time and the
// server's receive time, and applies it to other timestamps when active.
type Corrector struct {
	drift  time.Duration
	active bool
}

// New builds a Corrector for the given sentAt/receivedAt pair. If either time
// is zero, the returned Corrector is inactive.
func New(sentAt, receivedAt time.Time) Corrector {
	if sentAt.IsZero() || receivedAt.IsZero() {
		return Corrector{}
	}
	drift := receivedAt.Sub(sentAt)
	c := Corrector{drift: drift}
	if drift < 0 {
		c.active = -drift >= MinimumDrift
	} else {
		c.active = drift >= MinimumDrift
	}
	return c
}

// Active reports whether the observed drift reaches MinimumDrift and will
// be applied by Correct/CorrectUnix.
func (c Corrector) Active() bool {
	return c.active
}

// Drift returns the raw received-minus-sent duration, regardless of
// whether it is large enough to be applied.
func (c Corrector) Drift() time.Duration {
	return c.drift
}

// Correct offsets t by the observed drift when the corrector is active,
// otherwise returns t unchanged.
func (c Corrector) Correct(t time.Time) time.Time {
	if !c.active || t.IsZero() {
		return t
	}
	return t.Add(c.drift)
}

// CorrectUnix offsets a Unix-seconds timestamp by the observed drift when
// the corrector is active.
func (c Corrector) CorrectUnix(sec int64) int64 {
	if !c.active || sec == 0 {
		return sec
	}
	return sec + int64(c.drift/time.Second)
}
