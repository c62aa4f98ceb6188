// Package trigger converts the per-frame decision stream into a bounded
// number of fight alerts.
package trigger

import (
	"time"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
)

// State of the alert machine.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateCooldown
)

// assumedFPS converts the sustained duration (seconds) into frame units.
// The sustained counter is accounted at a nominal 30fps regardless of the
// actual send rate, matching the server-side accounting.
const assumedFPS = 30

// Config tunes the three alert paths. The decay asymmetry (shallow for
// instant, steep for sustained) is deliberate: sustained detection should
// collapse quickly once violence stops.
type Config struct {
	ConfirmedCount     int
	InstantThreshold   float64 // percent, 0-100
	InstantCount       int
	InstantDecay       int
	SustainedThreshold float64 // percent, 0-100
	SustainedDuration  float64 // seconds
	SustainedDecay     int
	Cooldown           time.Duration
}

// DefaultConfig matches the hosted dashboard defaults.
func DefaultConfig() Config {
	return Config{
		ConfirmedCount:     2,
		InstantThreshold:   95,
		InstantCount:       3,
		InstantDecay:       1,
		SustainedThreshold: 70,
		SustainedDuration:  2,
		SustainedDecay:     10,
		Cooldown:           3 * time.Second,
	}
}

// Alert is one fired trigger event.
type Alert struct {
	Confidence float64 // percent, 0-100
	Confirmed  bool    // true when the ensemble verdict fired the alert
	At         time.Time
}

// Machine is the hysteresis alert state machine. Not safe for concurrent
// use: it is owned by the session actor and mutated only through
// OnDetection.
type Machine struct {
	cfg Config

	state          State
	confirmedHits  int
	instantHits    int
	sustainedCount int
	cooldownUntil  time.Time
}

func New(cfg Config) *Machine {
	if cfg.ConfirmedCount <= 0 {
		cfg.ConfirmedCount = 2
	}
	return &Machine{cfg: cfg, state: StateIdle}
}

// Start arms the machine for a new session.
func (m *Machine) Start() {
	m.state = StateWatching
	m.resetCounters()
	m.cooldownUntil = time.Time{}
}

// Stop disarms the machine.
func (m *Machine) Stop() {
	m.state = StateIdle
	m.resetCounters()
}

func (m *Machine) State() State { return m.state }

// Counters exposes the live counter values (instant, sustained).
func (m *Machine) Counters() (int, int) {
	return m.instantHits, m.sustainedCount
}

// OnDetection feeds one fused frame decision into the machine and reports
// whether a new alert fired. serverVerdict marks frames the server returned
// an explicit result for. Vetoed frames can never fire: they decrement both
// threshold counters as corroborating evidence of non-violence. An explicit
// SAFE verdict breaks the confirmed run and skips the threshold paths
// entirely; only frames the server left undecided are scored on the raw
// percentage.
func (m *Machine) OnDetection(now time.Time, score float64, outcome models.Outcome, serverVerdict bool) (Alert, bool) {
	if m.state == StateIdle {
		return Alert{}, false
	}

	// Leave cooldown before processing so the frame that ends the window
	// starts from clean counters.
	if m.state == StateCooldown && !now.Before(m.cooldownUntil) {
		m.state = StateWatching
		m.resetCounters()
	}

	pct := score * 100

	if outcome == models.OutcomeVetoed {
		m.confirmedHits = 0
		m.instantHits = dec(m.instantHits, m.cfg.InstantDecay)
		m.sustainedCount = dec(m.sustainedCount, m.cfg.SustainedDecay)
		return Alert{}, false
	}

	// A cleared verdict from the server overrides the raw score: the frame
	// neither builds nor decays the threshold counters.
	if serverVerdict && outcome == models.OutcomeSafe {
		m.confirmedHits = 0
		return Alert{}, false
	}

	fired := false

	// Server-confirmed fast path: trusts the ensemble verdict outright.
	if outcome == models.OutcomeViolence {
		m.confirmedHits++
		if m.confirmedHits >= m.cfg.ConfirmedCount {
			fired = true
		}
	} else {
		m.confirmedHits = 0
	}

	// Instant spike path.
	if pct >= m.cfg.InstantThreshold {
		m.instantHits++
		if m.instantHits >= m.cfg.InstantCount {
			fired = true
		}
	} else {
		m.instantHits = dec(m.instantHits, m.cfg.InstantDecay)
	}

	// Sustained path.
	sustainedFrames := int(m.cfg.SustainedDuration * assumedFPS)
	if pct >= m.cfg.SustainedThreshold {
		m.sustainedCount++
		if sustainedFrames > 0 && m.sustainedCount >= sustainedFrames {
			fired = true
		}
	} else {
		m.sustainedCount = dec(m.sustainedCount, m.cfg.SustainedDecay)
	}

	if !fired || m.state == StateCooldown {
		return Alert{}, false
	}

	m.state = StateCooldown
	m.cooldownUntil = now.Add(m.cfg.Cooldown)
	return Alert{
		Confidence: pct,
		Confirmed:  outcome == models.OutcomeViolence,
		At:         now,
	}, true
}

func (m *Machine) resetCounters() {
	m.confirmedHits = 0
	m.instantHits = 0
	m.sustainedCount = 0
}

func dec(v, by int) int {
	v -= by
	if v < 0 {
		return 0
	}
	return v
}
