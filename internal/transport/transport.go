// Package transport moves frames to the inference server. A websocket
// control channel carries config, signaling and results; when a WebRTC
// data channel comes up, frames move over it instead.
package transport

import (
	"errors"
	"sync"
)

// MaxBufferedBytes caps unacknowledged outbound bytes per channel. Frames
// that would push a channel past it are dropped, never queued.
const MaxBufferedBytes = 256 * 1024

var (
	ErrBackpressure = errors.New("transport: outbound buffer full")
	ErrNotConnected = errors.New("transport: not connected")
)

// Channel is one outbound frame path.
type Channel interface {
	Send(payload []byte) error
	Buffered() int
	Ready() bool
}

// Path identifies which channel carried a frame.
type Path int

const (
	PathNone Path = iota
	PathControl
	PathData
)

func (p Path) String() string {
	switch p {
	case PathControl:
		return "websocket"
	case PathData:
		return "webrtc"
	default:
		return "none"
	}
}

// Manager routes frames to the data channel when it is open, falling back
// to the control channel otherwise.
type Manager struct {
	mu      sync.Mutex
	control Channel
	data    Channel
}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) SetControl(c Channel) {
	m.mu.Lock()
	m.control = c
	m.mu.Unlock()
}

func (m *Manager) SetData(d Channel) {
	m.mu.Lock()
	m.data = d
	m.mu.Unlock()
}

// ClearData drops the data channel so frames fall back to the control
// channel until a new one is negotiated.
func (m *Manager) ClearData() {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
}

// ActivePath reports the channel the next frame would take.
func (m *Manager) ActivePath() Path {
	m.mu.Lock()
	control, data := m.control, m.data
	m.mu.Unlock()

	if data != nil && data.Ready() {
		return PathData
	}
	if control != nil && control.Ready() {
		return PathControl
	}
	return PathNone
}

// SendFrame sends one encoded frame over the preferred channel. A channel
// past the buffer ceiling drops the frame with ErrBackpressure rather than
// queueing it; stale frames are worthless to a live detector.
func (m *Manager) SendFrame(payload []byte) (Path, error) {
	m.mu.Lock()
	control, data := m.control, m.data
	m.mu.Unlock()

	if data != nil && data.Ready() {
		if data.Buffered()+len(payload) > MaxBufferedBytes {
			return PathData, ErrBackpressure
		}
		if err := data.Send(payload); err != nil {
			return PathData, err
		}
		return PathData, nil
	}

	if control == nil || !control.Ready() {
		return PathNone, ErrNotConnected
	}
	if control.Buffered()+len(payload) > MaxBufferedBytes {
		return PathControl, ErrBackpressure
	}
	if err := control.Send(payload); err != nil {
		return PathControl, err
	}
	return PathControl, nil
}
