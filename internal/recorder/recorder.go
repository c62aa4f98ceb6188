// Package recorder captures a fixed evidence window after an alert fires.
package recorder

import (
	"time"
)

// Config sizes the evidence window.
type Config struct {
	Window     time.Duration // total recording length
	ChunkEvery time.Duration // frame sampling interval
}

func DefaultConfig() Config {
	return Config{
		Window:     60 * time.Second,
		ChunkEvery: time.Second,
	}
}

// Result is a finalized recording ready for upload.
type Result struct {
	IncidentID string
	Video      []byte // concatenated JPEG chunks (MJPEG)
	Thumbnail  []byte
	StartedAt  time.Time
	EndedAt    time.Time
}

// Recorder holds at most one active window per session. Triggers that fire
// while a window is open are ignored: the window neither restarts nor
// extends, and the eventual upload is attached to the incident that opened
// it. Not safe for concurrent use; the owning session drives it.
type Recorder struct {
	cfg Config

	active     bool
	incidentID string
	startedAt  time.Time
	deadline   time.Time
	nextChunk  time.Time
	thumbnail  []byte
	chunks     [][]byte
}

func New(cfg Config) *Recorder {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.ChunkEvery <= 0 {
		cfg.ChunkEvery = time.Second
	}
	return &Recorder{cfg: cfg}
}

// Begin opens the evidence window. It reports false when a window is
// already open, leaving the running recording untouched.
func (r *Recorder) Begin(incidentID string, now time.Time, thumbnail []byte) bool {
	if r.active {
		return false
	}
	r.active = true
	r.incidentID = incidentID
	r.startedAt = now
	r.deadline = now.Add(r.cfg.Window)
	r.nextChunk = now
	r.thumbnail = thumbnail
	r.chunks = r.chunks[:0]
	return true
}

func (r *Recorder) Active() bool        { return r.active }
func (r *Recorder) IncidentID() string  { return r.incidentID }
func (r *Recorder) Deadline() time.Time { return r.deadline }

// Tick feeds the latest encoded frame. Frames are sampled at the chunk
// interval; the rest are discarded. When the window deadline passes, Tick
// finalizes and returns the recording exactly once.
func (r *Recorder) Tick(now time.Time, frame []byte) *Result {
	if !r.active {
		return nil
	}

	if now.Before(r.deadline) {
		if frame != nil && !now.Before(r.nextChunk) {
			chunk := make([]byte, len(frame))
			copy(chunk, frame)
			r.chunks = append(r.chunks, chunk)
			r.nextChunk = now.Add(r.cfg.ChunkEvery)
		}
		return nil
	}

	return r.finalize(now)
}

// Cancel discards the active window without producing a result. Used when
// the operator stops the session mid-recording.
func (r *Recorder) Cancel() {
	r.reset()
}

func (r *Recorder) finalize(now time.Time) *Result {
	var size int
	for _, c := range r.chunks {
		size += len(c)
	}
	video := make([]byte, 0, size)
	for _, c := range r.chunks {
		video = append(video, c...)
	}

	res := &Result{
		IncidentID: r.incidentID,
		Video:      video,
		Thumbnail:  r.thumbnail,
		StartedAt:  r.startedAt,
		EndedAt:    now,
	}
	r.reset()
	return res
}

func (r *Recorder) reset() {
	r.active = false
	r.incidentID = ""
	r.thumbnail = nil
	r.chunks = nil
}
