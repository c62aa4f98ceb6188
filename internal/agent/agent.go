// Package agent turns session commands from the bus into running
// detection sessions.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/config"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/kafka"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/session"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/source"
)

// ObjectStore is the slice of the MinIO client the agent needs: frame
// folders in, evidence out.
type ObjectStore interface {
	session.EvidenceStore
	source.FrameFolderDownloader
}

type Agent struct {
	cfg      *config.Config
	store    session.IncidentStore
	objects  ObjectStore
	consumer *kafka.Consumer
	events   session.EventSink
	notifier session.Notifier

	activeSessions map[string]context.CancelFunc
	mu             sync.Mutex
	wg             sync.WaitGroup
}

func New(cfg *config.Config, store session.IncidentStore, objects ObjectStore,
	consumer *kafka.Consumer, events session.EventSink, notifier session.Notifier) *Agent {
	return &Agent{
		cfg:            cfg,
		store:          store,
		objects:        objects,
		consumer:       consumer,
		events:         events,
		notifier:       notifier,
		activeSessions: make(map[string]context.CancelFunc),
	}
}

// ListenAndRun consumes session commands until ctx is canceled, then waits
// for every running session to finish its teardown.
func (a *Agent) ListenAndRun(ctx context.Context) {
	log.Println("Agent: listening for session commands")
	for {
		select {
		case <-ctx.Done():
			log.Println("Agent: shutting down")
			a.wg.Wait()
			return
		case msg := <-a.consumer.Messages():
			var cmd models.SessionCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				log.Printf("Invalid message format: %v", err)
				continue
			}
			log.Printf("Agent: received session command %+v", cmd)

			var processErr error
			switch cmd.Action {
			case models.CommandStart:
				processErr = a.Start(ctx, cmd)
			case models.CommandStop:
				processErr = a.Stop(cmd.SessionID)
			default:
				log.Printf("Unknown command: %s", cmd.Action)
			}

			if processErr != nil {
				log.Printf("Error processing command: %v", processErr)
				continue
			}

			// ack only after the command took effect
			msg.Session.MarkMessage(msg.Message, "")
		}
	}
}

// Start launches one session goroutine. A second start for a running
// session is a no-op so command redelivery stays safe.
func (a *Agent) Start(ctx context.Context, cmd models.SessionCommand) error {
	a.mu.Lock()
	if _, running := a.activeSessions[cmd.SessionID]; running {
		a.mu.Unlock()
		log.Printf("Agent: session %s already running", cmd.SessionID)
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	a.activeSessions[cmd.SessionID] = cancel
	a.mu.Unlock()

	src, err := a.openSource(ctx, cmd)
	if err != nil {
		a.remove(cmd.SessionID)
		return err
	}

	sess := session.New(cmd, a.cfg, src, a.store, a.objects, a.events, a.notifier)

	a.wg.Add(1)
	go a.drainNotices(sess)
	go func() {
		defer func() {
			a.remove(cmd.SessionID)
			a.wg.Done()
			log.Printf("Agent: session %s finished", cmd.SessionID)
		}()

		if err := sess.Run(childCtx); err != nil {
			log.Printf("Agent: session %s error: %v", cmd.SessionID, err)
		}
	}()

	return nil
}

// Stop cancels a running session. Stopping an unknown session succeeds;
// the bus may replay stops for sessions that already drained.
func (a *Agent) Stop(sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cancel, ok := a.activeSessions[sessionID]; ok {
		cancel()
		log.Printf("Agent: session %s stopped", sessionID)
	}
	return nil
}

// ActiveCount reports how many sessions are currently running.
func (a *Agent) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.activeSessions)
}

func (a *Agent) remove(sessionID string) {
	a.mu.Lock()
	if cancel, ok := a.activeSessions[sessionID]; ok {
		cancel()
		delete(a.activeSessions, sessionID)
	}
	a.mu.Unlock()
}

func (a *Agent) openSource(ctx context.Context, cmd models.SessionCommand) (source.FrameSource, error) {
	switch cmd.SourceType {
	case "directory":
		return source.NewDirectory(cmd.VideoSource)
	case "s3":
		return source.NewRemote(ctx, a.objects, cmd.VideoSource)
	default:
		return nil, fmt.Errorf("unknown source type %q", cmd.SourceType)
	}
}

func (a *Agent) drainNotices(sess *session.Session) {
	for n := range sess.Notices() {
		switch n.Kind {
		case models.NoticeAlert:
			log.Printf("Agent: [%s] alert, incident %s, confidence %d%%", n.SessionID, n.IncidentID, n.Confidence)
		case models.NoticeStorePermission:
			log.Printf("Agent: [%s] %s", n.SessionID, n.Message)
		}
	}
}
