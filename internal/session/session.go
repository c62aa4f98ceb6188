// Package session runs one live detection session: frames out, decisions
// in, alerts and evidence on the way through. All mutable session state is
// owned by a single goroutine; transport callbacks talk to it over
// channels.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/config"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/database"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/fusion"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/protocol"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/recorder"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/source"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/throttle"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/transport"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/trigger"
)

const (
	captureInterval   = 33 * time.Millisecond // ~30 fps source pull
	heartbeatInterval = 5 * time.Second
	recorderInterval  = time.Second

	controlFPS = 10
	dataFPS    = 15
)

// IncidentStore persists cameras and incidents.
type IncidentStore interface {
	FindOrCreateCamera(sourceType, sourceURL, name string) (*models.Camera, error)
	SetCameraStatus(cameraID, status string) error
	CreateIncident(incident *models.Incident) error
	AttachRecording(incidentID, videoURL, thumbnailURL string) error
}

// EvidenceStore uploads recordings and thumbnails.
type EvidenceStore interface {
	UploadRecording(ctx context.Context, incidentID string, video []byte) (string, error)
	UploadThumbnail(ctx context.Context, incidentID string, jpeg []byte) (string, error)
}

// EventSink publishes heartbeats and alert events to the bus.
type EventSink interface {
	SendHeartbeat(msg models.Heartbeat) error
	SendAlert(msg models.AlertEvent) error
}

// Notifier delivers alerts out-of-band (webhook).
type Notifier interface {
	SendAlert(ctx context.Context, alert models.AlertEvent) error
}

type transportEventKind int

const (
	evControlOpen transportEventKind = iota
	evControlDown
	evDataOpen
	evDataLost
)

type transportEvent struct {
	kind    transportEventKind
	control *transport.Control
}

// Session is one camera's detection loop.
type Session struct {
	ID  string
	cmd models.SessionCommand
	cfg *config.Config

	src      source.FrameSource
	store    IncidentStore
	evidence EvidenceStore
	events   EventSink
	notifier Notifier

	manager *transport.Manager
	gate    *throttle.Gate
	machine *trigger.Machine
	rec     *recorder.Recorder

	inbound chan []byte
	tevents chan transportEvent
	notices chan models.Notice

	// actor-owned, touched only inside Run
	camera      *models.Camera
	data        *transport.Data
	latestFrame []byte
	latencySum  float64
	latencyN    int64
	dropped     int64

	// shared with upload goroutines
	permLost atomic.Bool
	uploads  sync.WaitGroup

	statsMu   sync.Mutex
	stats     models.SessionStats
	startedAt time.Time
}

func New(cmd models.SessionCommand, cfg *config.Config, src source.FrameSource,
	store IncidentStore, evidence EvidenceStore, events EventSink, notifier Notifier) *Session {
	return &Session{
		ID:       cmd.SessionID,
		cmd:      cmd,
		cfg:      cfg,
		src:      src,
		store:    store,
		evidence: evidence,
		events:   events,
		notifier: notifier,
		manager:  transport.NewManager(),
		gate:     throttle.NewGate(controlFPS),
		machine: trigger.New(trigger.Config{
			ConfirmedCount:     2,
			InstantThreshold:   cfg.Trigger.InstantThreshold,
			InstantCount:       cfg.Trigger.InstantCount,
			InstantDecay:       cfg.Trigger.InstantDecay,
			SustainedThreshold: cfg.Trigger.SustainedThreshold,
			SustainedDuration:  cfg.Trigger.SustainedDuration,
			SustainedDecay:     cfg.Trigger.SustainedDecay,
			Cooldown:           time.Duration(cfg.Trigger.CooldownSeconds * float64(time.Second)),
		}),
		rec: recorder.New(recorder.Config{
			Window:     time.Duration(cfg.Recording.DurationSeconds) * time.Second,
			ChunkEvery: recorderInterval,
		}),
		inbound: make(chan []byte, 64),
		tevents: make(chan transportEvent, 16),
		notices: make(chan models.Notice, 16),
	}
}

// Notices exposes operator-facing events (alerts, lost persistence).
func (s *Session) Notices() <-chan models.Notice { return s.notices }

// Stats returns a snapshot of the running counters.
func (s *Session) Stats() models.SessionStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats
	if !s.startedAt.IsZero() {
		st.SessionDuration = time.Since(s.startedAt)
	}
	return st
}

// Run blocks until the source ends or ctx is canceled. Teardown is
// synchronous: when Run returns the camera is offline and the stop
// heartbeat is sent.
func (s *Session) Run(ctx context.Context) error {
	s.statsMu.Lock()
	s.startedAt = time.Now()
	s.statsMu.Unlock()
	defer func() {
		// in-flight evidence uploads finish before the notice stream ends
		s.uploads.Wait()
		close(s.notices)
	}()

	cam, err := s.store.FindOrCreateCamera(s.cmd.SourceType, s.cmd.VideoSource, s.cmd.Label)
	if err != nil {
		if errors.Is(err, database.ErrPermissionDenied) {
			s.reportPermissionLost(err)
		} else {
			return err
		}
	}
	s.camera = cam

	if cam != nil {
		if err := s.store.SetCameraStatus(cam.ID, "online"); err != nil {
			log.Printf("Session %s: camera status: %v", s.ID, err)
		}
	}
	defer func() {
		if s.camera != nil {
			if err := s.store.SetCameraStatus(s.camera.ID, "offline"); err != nil {
				log.Printf("Session %s: camera status: %v", s.ID, err)
			}
		}
	}()

	if err := s.events.SendHeartbeat(models.Heartbeat{
		SessionID: s.ID,
		Action:    models.CommandStart,
		TimeStamp: time.Now().UTC(),
	}); err != nil {
		log.Printf("Session %s: start heartbeat: %v", s.ID, err)
	}
	defer func() {
		if err := s.events.SendHeartbeat(models.Heartbeat{
			SessionID: s.ID,
			Action:    models.CommandStop,
			Frame:     s.frameCount(),
			TimeStamp: time.Now().UTC(),
		}); err != nil {
			log.Printf("Session %s: stop heartbeat: %v", s.ID, err)
		}
	}()

	supCtx, supCancel := context.WithCancel(ctx)
	defer supCancel()

	sup := &transport.Supervisor{
		URL:            s.cfg.Inference.URL,
		ConnectTimeout: s.cfg.Inference.ConnectTimeout,
		RetryDelay:     s.cfg.Inference.ReconnectDelay,
		SessionID:      s.ID,
		OnOpen:         s.onControlOpen,
		OnMessage: func(payload []byte) {
			select {
			case s.inbound <- payload:
			default:
				// inference results are perishable; drop over stalling
			}
		},
		OnDown: func(err error) {
			select {
			case s.tevents <- transportEvent{kind: evControlDown}:
			default:
			}
		},
	}
	supDone := make(chan struct{})
	go func() {
		sup.Run(supCtx)
		close(supDone)
	}()
	defer func() {
		supCancel()
		<-supDone
	}()

	s.machine.Start()
	defer s.machine.Stop()
	defer s.closeData()
	defer s.src.Close()

	capture := time.NewTicker(captureInterval)
	defer capture.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	recTick := time.NewTicker(recorderInterval)
	defer recTick.Stop()

	log.Printf("Session %s: started (%s %s)", s.ID, s.cmd.SourceType, s.cmd.VideoSource)

	for {
		select {
		case <-ctx.Done():
			// operator stop: discard any partial recording
			s.rec.Cancel()
			return nil

		case <-capture.C:
			done, err := s.pumpFrame(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case payload := <-s.inbound:
			s.handleInbound(ctx, payload)

		case ev := <-s.tevents:
			s.handleTransportEvent(ev)

		case <-recTick.C:
			s.tickRecorder(ctx, time.Now())

		case <-heartbeat.C:
			if err := s.events.SendHeartbeat(models.Heartbeat{
				SessionID: s.ID,
				Action:    models.CommandStart,
				Frame:     s.frameCount(),
				TimeStamp: time.Now().UTC(),
			}); err != nil {
				log.Printf("Session %s: heartbeat: %v", s.ID, err)
			}
		}
	}
}

func (s *Session) frameCount() int64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.TotalFrames
}

// pumpFrame pulls the next frame and sends it if the rate gate and the
// transport allow. The second return is true when the source is drained.
func (s *Session) pumpFrame(ctx context.Context) (bool, error) {
	frame, err := s.src.Next(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true, nil
		}
		if errors.Is(err, io.EOF) {
			log.Printf("Session %s: source drained", s.ID)
			return true, nil
		}
		return true, err
	}

	s.latestFrame = frame.Pixels

	s.statsMu.Lock()
	s.stats.TotalFrames++
	s.statsMu.Unlock()

	if !s.gate.ShouldSend(frame.CapturedAt) {
		return false, nil
	}

	_, err = s.manager.SendFrame(frame.Pixels)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrBackpressure), errors.Is(err, transport.ErrNotConnected):
		s.dropped++
		if s.dropped%100 == 1 {
			log.Printf("Session %s: dropped %d frames (%v)", s.ID, s.dropped, err)
		}
	default:
		log.Printf("Session %s: send frame: %v", s.ID, err)
	}
	return false, nil
}

func (s *Session) handleInbound(ctx context.Context, payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		log.Printf("Session %s: bad server message: %v", s.ID, err)
		return
	}

	switch msg.Kind {
	case protocol.KindDetection:
		s.handleDetection(ctx, msg.Detection)
	case protocol.KindAnswer:
		if s.data != nil {
			if err := s.data.HandleAnswer(*msg.Answer); err != nil {
				log.Printf("Session %s: answer: %v", s.ID, err)
			}
		}
	case protocol.KindICECandidate:
		if s.data != nil {
			if err := s.data.AddCandidate(msg.Candidate); err != nil {
				log.Printf("Session %s: ice: %v", s.ID, err)
			}
		}
	case protocol.KindConfigAck:
		log.Printf("Session %s: config acknowledged", s.ID)
	}
}

func (s *Session) handleDetection(ctx context.Context, det *models.Detection) {
	outcome := fusion.Fuse(det, s.cfg.Model.PrimaryThreshold)
	now := time.Now()

	s.statsMu.Lock()
	pct := det.PrimaryScore * 100
	if pct > s.stats.PeakViolence {
		s.stats.PeakViolence = pct
	}
	if outcome == models.OutcomeViolence || outcome == models.OutcomeUnknown {
		s.stats.ViolentFrames++
	}
	if det.LatencyMs > 0 {
		s.latencySum += det.LatencyMs
		s.latencyN++
		s.stats.AvgLatencyMs = s.latencySum / float64(s.latencyN)
	}
	if det.RenderedFrame != nil {
		// server draws the skeletons itself; local overlays would double up
		s.stats.ServerOverlay = true
	}
	s.statsMu.Unlock()

	alert, fired := s.machine.OnDetection(now, det.PrimaryScore, outcome, det.HasResult)
	if fired {
		s.handleAlert(ctx, alert)
	}
}

func (s *Session) handleAlert(ctx context.Context, alert trigger.Alert) {
	s.statsMu.Lock()
	s.stats.FightCount++
	s.statsMu.Unlock()

	confidence := int(alert.Confidence + 0.5)

	// A re-trigger inside an open recording window belongs to the incident
	// that opened it: one incident owns one continuous clip, so no new row
	// and no new window until the current one finalizes.
	if s.rec.Active() {
		s.emitAlert(ctx, s.rec.IncidentID(), confidence, alert.At)
		return
	}

	incident := &models.Incident{
		Confidence: confidence,
		ModelUsed:  s.cfg.Model.PrimaryModel,
	}
	if s.camera != nil {
		incident.CameraID = s.camera.ID
		incident.LocationID = s.camera.LocationID
	}

	if err := s.store.CreateIncident(incident); err != nil {
		if errors.Is(err, database.ErrPermissionDenied) {
			s.reportPermissionLost(err)
		} else {
			log.Printf("Session %s: create incident: %v", s.ID, err)
		}
	}

	if s.cfg.Recording.AutoRecord {
		if s.rec.Begin(incident.ID, alert.At, s.latestFrame) {
			log.Printf("Session %s: recording evidence for incident %s", s.ID, incident.ID)
		}
	}

	s.emitAlert(ctx, incident.ID, confidence, alert.At)
}

func (s *Session) emitAlert(ctx context.Context, incidentID string, confidence int, at time.Time) {
	event := models.AlertEvent{
		SessionID:  s.ID,
		IncidentID: incidentID,
		Confidence: confidence,
		ModelUsed:  s.cfg.Model.PrimaryModel,
		TimeStamp:  at.UTC(),
	}
	if s.camera != nil {
		event.CameraID = s.camera.ID
	}
	if err := s.events.SendAlert(event); err != nil {
		log.Printf("Session %s: alert event: %v", s.ID, err)
	}
	if err := s.notifier.SendAlert(ctx, event); err != nil {
		log.Printf("Session %s: alert webhook: %v", s.ID, err)
	}

	s.pushNotice(models.Notice{
		Kind:       models.NoticeAlert,
		SessionID:  s.ID,
		IncidentID: incidentID,
		Confidence: confidence,
		Message:    "violence detected",
		At:         at,
	})
	log.Printf("Session %s: ALERT fired, confidence %d%%, incident %s", s.ID, confidence, incidentID)
}

// tickRecorder samples the evidence window. A window finalized by its
// deadline is handed to an upload goroutine so the detection loop keeps
// pumping frames while MinIO and the database do their round-trips.
func (s *Session) tickRecorder(ctx context.Context, now time.Time) {
	res := s.rec.Tick(now, s.latestFrame)
	if res == nil {
		return
	}
	// a stop right after the deadline must not abort a finalized upload
	uploadCtx := context.WithoutCancel(ctx)
	s.uploads.Add(1)
	go func() {
		defer s.uploads.Done()
		s.uploadRecording(uploadCtx, res)
	}()
}

func (s *Session) uploadRecording(ctx context.Context, res *recorder.Result) {
	videoURL, err := s.evidence.UploadRecording(ctx, res.IncidentID, res.Video)
	if err != nil {
		log.Printf("Session %s: upload recording: %v", s.ID, err)
		return
	}
	thumbURL := ""
	if len(res.Thumbnail) > 0 {
		thumbURL, err = s.evidence.UploadThumbnail(ctx, res.IncidentID, res.Thumbnail)
		if err != nil {
			log.Printf("Session %s: upload thumbnail: %v", s.ID, err)
		}
	}

	if err := s.store.AttachRecording(res.IncidentID, videoURL, thumbURL); err != nil {
		if errors.Is(err, database.ErrPermissionDenied) {
			s.reportPermissionLost(err)
		} else {
			log.Printf("Session %s: attach recording: %v", s.ID, err)
		}
		return
	}
	log.Printf("Session %s: recording uploaded for incident %s (%d bytes)", s.ID, res.IncidentID, len(res.Video))
}

// onControlOpen runs on the supervisor goroutine after every dial. The
// server forgets session config between connections, so the full config
// message goes out before anything else.
func (s *Session) onControlOpen(c *transport.Control) error {
	payload, err := protocol.EncodeConfig(protocol.ConfigMessage{
		UserID:           s.cfg.Model.UserID,
		PrimaryModel:     s.cfg.Model.PrimaryModel,
		PrimaryThreshold: s.cfg.Model.PrimaryThreshold,
		VetoModel:        s.cfg.Model.VetoModel,
		VetoThreshold:    s.cfg.Model.VetoThreshold,
		SmartVetoEnabled: s.cfg.Model.SmartVetoEnabled,
		Settings: protocol.TriggerSettings{
			InstantTriggerThreshold: s.cfg.Trigger.InstantThreshold,
			InstantTriggerCount:     s.cfg.Trigger.InstantCount,
			SustainedThreshold:      s.cfg.Trigger.SustainedThreshold,
			SustainedDuration:       s.cfg.Trigger.SustainedDuration,
		},
	})
	if err != nil {
		return err
	}
	if err := c.SendJSON(payload); err != nil {
		return err
	}

	s.tevents <- transportEvent{kind: evControlOpen, control: c}
	return nil
}

func (s *Session) handleTransportEvent(ev transportEvent) {
	switch ev.kind {
	case evControlOpen:
		s.manager.SetControl(ev.control)
		s.closeData()
		s.negotiateData(ev.control)

	case evControlDown:
		s.closeData()

	case evDataOpen:
		s.gate.Retarget(dataFPS)
		log.Printf("Session %s: frames now on %s at %d fps", s.ID, transport.PathData, dataFPS)

	case evDataLost:
		s.closeData()
	}
}

func (s *Session) negotiateData(c *transport.Control) {
	data, err := transport.DialData(s.ID, s.cfg.Inference.STUNServer, c,
		func() { s.tevents <- transportEvent{kind: evDataOpen} },
		func() {
			select {
			case s.tevents <- transportEvent{kind: evDataLost}:
			default:
			}
		},
	)
	if err != nil {
		// frames keep flowing over the control channel
		log.Printf("Session %s: data channel setup: %v", s.ID, err)
		return
	}
	s.data = data
	s.manager.SetData(data)
}

func (s *Session) closeData() {
	if s.data != nil {
		s.data.Close()
		s.data = nil
	}
	s.manager.ClearData()
	s.gate.Retarget(controlFPS)
}

func (s *Session) reportPermissionLost(err error) {
	if !s.permLost.CompareAndSwap(false, true) {
		return
	}
	log.Printf("Session %s: persistence disabled: %v", s.ID, err)
	s.pushNotice(models.Notice{
		Kind:      models.NoticeStorePermission,
		SessionID: s.ID,
		Message:   "incident storage unavailable, detection continues without saving",
		At:        time.Now(),
	})
}

func (s *Session) pushNotice(n models.Notice) {
	select {
	case s.notices <- n:
	default:
	}
}
