// Package throttle rate-limits frame encoding and sending independently of
// the source's native frame rate.
package throttle

import "time"

// Gate opens at most once per interval. Skipped frames are dropped, never
// queued: the freshest capture is what goes out when the gate next opens.
type Gate struct {
	interval   time.Duration
	lastSentAt time.Time
}

// NewGate returns a gate targeting the given frames per second.
func NewGate(targetFPS float64) *Gate {
	if targetFPS <= 0 {
		targetFPS = 10
	}
	return &Gate{interval: time.Duration(float64(time.Second) / targetFPS)}
}

// ShouldSend reports whether a frame may be sent now, and records the send
// time when it may.
func (g *Gate) ShouldSend(now time.Time) bool {
	if !g.lastSentAt.IsZero() && now.Sub(g.lastSentAt) < g.interval {
		return false
	}
	g.lastSentAt = now
	return true
}

// Retarget changes the gate's FPS, used when the preferred channel flips
// between the control path (~10fps) and the data path (~15fps).
func (g *Gate) Retarget(targetFPS float64) {
	if targetFPS <= 0 {
		return
	}
	g.interval = time.Duration(float64(time.Second) / targetFPS)
}

// Interval exposes the current gate interval.
func (g *Gate) Interval() time.Duration { return g.interval }
