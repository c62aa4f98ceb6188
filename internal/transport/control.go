package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type outbound struct {
	messageType int
	payload     []byte
}

// Control is one live websocket connection to the inference server. All
// writes go through a single pump goroutine; pending counts bytes enqueued
// but not yet handed to the socket, which stands in for the buffered-amount
// gauge the websocket API does not expose.
type Control struct {
	conn    *websocket.Conn
	sendCh  chan outbound
	pending atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// DialControl opens the control channel, honoring the connect timeout.
func DialControl(ctx context.Context, url string, timeout time.Duration) (*Control, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Control{
		conn:   conn,
		sendCh: make(chan outbound, 256),
		done:   make(chan struct{}),
	}
	go c.writePump()
	return c, nil
}

func (c *Control) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			err := c.conn.WriteMessage(msg.messageType, msg.payload)
			c.pending.Add(-int64(len(msg.payload)))
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Control) enqueue(messageType int, payload []byte) error {
	c.pending.Add(int64(len(payload)))
	select {
	case c.sendCh <- outbound{messageType: messageType, payload: payload}:
		return nil
	case <-c.done:
		c.pending.Add(-int64(len(payload)))
		return ErrNotConnected
	}
}

// Send transmits one binary frame. Part of the Channel interface.
func (c *Control) Send(payload []byte) error {
	return c.enqueue(websocket.BinaryMessage, payload)
}

// SendJSON transmits a control message (config, signaling).
func (c *Control) SendJSON(payload []byte) error {
	return c.enqueue(websocket.TextMessage, payload)
}

func (c *Control) Buffered() int { return int(c.pending.Load()) }

func (c *Control) Ready() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// ReadLoop delivers inbound messages to handler until the connection
// breaks, then returns the read error.
func (c *Control) ReadLoop(handler func(payload []byte)) error {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			return err
		}
		handler(payload)
	}
}

func (c *Control) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Supervisor keeps the control channel alive for the lifetime of a
// session: dial, run, and on any failure redial after a fixed delay.
// There is no retry cap; an unattended camera must outlast long outages.
type Supervisor struct {
	URL            string
	ConnectTimeout time.Duration
	RetryDelay     time.Duration
	SessionID      string

	// OnOpen runs after every successful dial, before the read loop. The
	// server keeps no session state across connections, so this is where
	// config is resent and the data channel renegotiated.
	OnOpen func(c *Control) error

	// OnMessage receives every inbound control-channel payload.
	OnMessage func(payload []byte)

	// OnDown runs when an established connection drops, before the retry
	// wait.
	OnDown func(err error)
}

// Run blocks until ctx is canceled, reconnecting forever.
func (s *Supervisor) Run(ctx context.Context) {
	delay := s.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		attempt++

		c, err := DialControl(ctx, s.URL, s.ConnectTimeout)
		if err != nil {
			log.Printf("Transport %s: connect attempt %d failed: %v", s.SessionID, attempt, err)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		log.Printf("Transport %s: connected to %s", s.SessionID, s.URL)
		attempt = 0

		if s.OnOpen != nil {
			if err := s.OnOpen(c); err != nil {
				log.Printf("Transport %s: session setup failed: %v", s.SessionID, err)
				c.Close()
				if !sleepCtx(ctx, delay) {
					return
				}
				continue
			}
		}

		stop := context.AfterFunc(ctx, c.Close)
		readErr := c.ReadLoop(s.OnMessage)
		stop()
		c.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("Transport %s: connection lost: %v", s.SessionID, readErr)
		if s.OnDown != nil {
			s.OnDown(readErr)
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
