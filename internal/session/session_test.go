package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/config"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/database"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/recorder"
)

type fakeStore struct {
	mu          sync.Mutex
	incidents   []models.Incident
	statuses    []string
	attached    map[string][2]string
	incidentErr error
}

func (f *fakeStore) FindOrCreateCamera(sourceType, sourceURL, name string) (*models.Camera, error) {
	return &models.Camera{ID: "cam-1", LocationID: "loc-1", SourceType: sourceType, SourceURL: sourceURL, Name: name}, nil
}

func (f *fakeStore) SetCameraStatus(cameraID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) CreateIncident(incident *models.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if incident.ID == "" {
		incident.ID = fmt.Sprintf("inc-%d", len(f.incidents)+1)
	}
	if f.incidentErr != nil {
		return f.incidentErr
	}
	f.incidents = append(f.incidents, *incident)
	return nil
}

func (f *fakeStore) AttachRecording(incidentID, videoURL, thumbnailURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attached == nil {
		f.attached = make(map[string][2]string)
	}
	f.attached[incidentID] = [2]string{videoURL, thumbnailURL}
	return nil
}

type fakeEvidence struct {
	mu     sync.Mutex
	videos map[string][]byte
	thumbs map[string][]byte
}

func (f *fakeEvidence) UploadRecording(_ context.Context, incidentID string, video []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.videos == nil {
		f.videos = make(map[string][]byte)
	}
	f.videos[incidentID] = video
	return "http://store/" + incidentID + "/recording.mjpeg", nil
}

func (f *fakeEvidence) UploadThumbnail(_ context.Context, incidentID string, jpeg []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.thumbs == nil {
		f.thumbs = make(map[string][]byte)
	}
	f.thumbs[incidentID] = jpeg
	return "http://store/" + incidentID + "/thumbnail.jpg", nil
}

type fakeEvents struct {
	mu         sync.Mutex
	heartbeats []models.Heartbeat
	alerts     []models.AlertEvent
}

func (f *fakeEvents) SendHeartbeat(msg models.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, msg)
	return nil
}

func (f *fakeEvents) SendAlert(msg models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, msg)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []models.AlertEvent
}

func (f *fakeNotifier) SendAlert(_ context.Context, alert models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

type fakeSource struct {
	frames int
	served int
}

func (f *fakeSource) Next(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	if f.served >= f.frames {
		return models.Frame{}, io.EOF
	}
	f.served++
	return models.Frame{
		Sequence:   uint64(f.served),
		CapturedAt: time.Now(),
		Width:      64, Height: 48,
		Pixels: []byte{0xff, 0xd8, byte(f.served)},
	}, nil
}

func (f *fakeSource) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Inference.URL = "ws://127.0.0.1:1/ws" // never reachable
	cfg.Inference.ConnectTimeout = 50 * time.Millisecond
	cfg.Inference.ReconnectDelay = 50 * time.Millisecond
	return cfg
}

func newTestSession(store *fakeStore, src *fakeSource) (*Session, *fakeEvents, *fakeNotifier) {
	events := &fakeEvents{}
	notifier := &fakeNotifier{}
	cmd := models.SessionCommand{
		SessionID:   "sess-1",
		Action:      models.CommandStart,
		SourceType:  "directory",
		VideoSource: "/frames",
		Label:       "Loading Dock",
	}
	s := New(cmd, testConfig(), src, store, &fakeEvidence{}, events, notifier)
	return s, events, notifier
}

func TestRunDrainsSourceAndTearsDown(t *testing.T) {
	store := &fakeStore{}
	s, events, _ := newTestSession(store, &fakeSource{frames: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	store.mu.Lock()
	statuses := append([]string(nil), store.statuses...)
	store.mu.Unlock()
	if len(statuses) != 2 || statuses[0] != "online" || statuses[1] != "offline" {
		t.Errorf("camera statuses = %v, want [online offline]", statuses)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.heartbeats) < 2 {
		t.Fatalf("heartbeats = %d, want start and stop", len(events.heartbeats))
	}
	first, last := events.heartbeats[0], events.heartbeats[len(events.heartbeats)-1]
	if first.Action != models.CommandStart {
		t.Errorf("first heartbeat action = %s", first.Action)
	}
	if last.Action != models.CommandStop {
		t.Errorf("last heartbeat action = %s", last.Action)
	}
	if last.Frame != 3 {
		t.Errorf("stop heartbeat frame = %d, want 3", last.Frame)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	s, _, _ := newTestSession(store, &fakeSource{frames: 1 << 30})

	if s.Stats().SessionDuration != 0 {
		t.Error("duration nonzero before Run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// snapshot while Run is starting up; must be safe under the race detector
	_ = s.Stats()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if s.Stats().TotalFrames == 0 {
		t.Error("no frames pulled before cancel")
	}
}

func TestDetectionsTriggerAlertOnce(t *testing.T) {
	store := &fakeStore{}
	s, events, notifier := newTestSession(store, &fakeSource{frames: 1})
	s.camera = &models.Camera{ID: "cam-1", LocationID: "loc-1"}
	s.machine.Start()
	s.latestFrame = []byte("jpeg")

	ctx := context.Background()
	det := &models.Detection{PrimaryScore: 0.97}
	for i := 0; i < 5; i++ {
		s.handleDetection(ctx, det)
	}

	store.mu.Lock()
	incidents := len(store.incidents)
	store.mu.Unlock()
	if incidents != 1 {
		t.Fatalf("incidents = %d, want 1 (cooldown must bound alerts)", incidents)
	}

	events.mu.Lock()
	alerts := len(events.alerts)
	events.mu.Unlock()
	if alerts != 1 {
		t.Errorf("bus alerts = %d, want 1", alerts)
	}
	notifier.mu.Lock()
	webhooks := len(notifier.alerts)
	notifier.mu.Unlock()
	if webhooks != 1 {
		t.Errorf("webhook alerts = %d, want 1", webhooks)
	}

	select {
	case n := <-s.Notices():
		if n.Kind != models.NoticeAlert {
			t.Errorf("notice kind = %s", n.Kind)
		}
		if n.Confidence != 97 {
			t.Errorf("notice confidence = %d, want 97", n.Confidence)
		}
	default:
		t.Error("no alert notice published")
	}

	if !s.rec.Active() {
		t.Error("alert did not open the evidence window")
	}
	st := s.Stats()
	if st.FightCount != 1 {
		t.Errorf("FightCount = %d", st.FightCount)
	}
	if st.PeakViolence < 96 {
		t.Errorf("PeakViolence = %.1f", st.PeakViolence)
	}
}

func TestReTriggerReusesOpenRecordingIncident(t *testing.T) {
	store := &fakeStore{}
	events := &fakeEvents{}
	notifier := &fakeNotifier{}
	cfg := testConfig()
	cfg.Trigger.CooldownSeconds = 0.001
	cmd := models.SessionCommand{
		SessionID:   "sess-1",
		Action:      models.CommandStart,
		SourceType:  "directory",
		VideoSource: "/frames",
		Label:       "Loading Dock",
	}
	s := New(cmd, cfg, &fakeSource{frames: 1}, store, &fakeEvidence{}, events, notifier)
	s.camera = &models.Camera{ID: "cam-1", LocationID: "loc-1"}
	s.machine.Start()
	s.latestFrame = []byte("jpeg")

	ctx := context.Background()
	det := &models.Detection{PrimaryScore: 0.97}
	for i := 0; i < 3; i++ {
		s.handleDetection(ctx, det)
	}
	if !s.rec.Active() {
		t.Fatal("first alert did not open the recording window")
	}

	// Past the cooldown but still inside the recording window: the second
	// alert belongs to the incident already being recorded.
	time.Sleep(5 * time.Millisecond)
	for i := 0; i < 3; i++ {
		s.handleDetection(ctx, det)
	}

	store.mu.Lock()
	incidents := len(store.incidents)
	store.mu.Unlock()
	if incidents != 1 {
		t.Fatalf("incidents = %d, want 1 while the recording window is open", incidents)
	}

	events.mu.Lock()
	alerts := append([]models.AlertEvent(nil), events.alerts...)
	events.mu.Unlock()
	if len(alerts) != 2 {
		t.Fatalf("bus alerts = %d, want 2", len(alerts))
	}
	if alerts[0].IncidentID != "inc-1" || alerts[1].IncidentID != "inc-1" {
		t.Errorf("alert incidents = %s, %s, want inc-1 for both", alerts[0].IncidentID, alerts[1].IncidentID)
	}

	notifier.mu.Lock()
	webhooks := append([]models.AlertEvent(nil), notifier.alerts...)
	notifier.mu.Unlock()
	if len(webhooks) != 2 || webhooks[1].IncidentID != "inc-1" {
		t.Errorf("webhook incidents = %v, want two against inc-1", webhooks)
	}

	for i := 0; i < 2; i++ {
		select {
		case n := <-s.Notices():
			if n.IncidentID != "inc-1" {
				t.Errorf("notice %d incident = %s, want inc-1", i, n.IncidentID)
			}
		default:
			t.Fatalf("notice %d missing", i)
		}
	}

	if got := s.rec.IncidentID(); got != "inc-1" {
		t.Errorf("recorder incident = %s, want inc-1", got)
	}
}

func TestVetoedDetectionsNeverAlert(t *testing.T) {
	store := &fakeStore{}
	s, _, _ := newTestSession(store, &fakeSource{frames: 1})
	s.camera = &models.Camera{ID: "cam-1", LocationID: "loc-1"}
	s.machine.Start()

	ctx := context.Background()
	det := &models.Detection{
		PrimaryScore: 0.99,
		VetoScore:    0.9,
		HasVeto:      true,
		Outcome:      models.OutcomeVetoed,
		HasResult:    true,
	}
	for i := 0; i < 30; i++ {
		s.handleDetection(ctx, det)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.incidents) != 0 {
		t.Errorf("vetoed frames produced %d incidents", len(store.incidents))
	}
}

func TestServerOverlayMarksSuppression(t *testing.T) {
	store := &fakeStore{}
	s, _, _ := newTestSession(store, &fakeSource{frames: 1})
	s.machine.Start()

	s.handleDetection(context.Background(), &models.Detection{PrimaryScore: 0.1, RenderedFrame: []byte("jpeg")})
	if !s.Stats().ServerOverlay {
		t.Error("rendered frame did not mark server-side overlay")
	}
}

func TestUploadRecordingAttachesToIncident(t *testing.T) {
	store := &fakeStore{}
	s, _, _ := newTestSession(store, &fakeSource{frames: 1})
	ev := &fakeEvidence{}
	s.evidence = ev

	res := &recorder.Result{
		IncidentID: "inc-9",
		Video:      []byte("chunks"),
		Thumbnail:  []byte("thumb"),
	}
	s.uploadRecording(context.Background(), res)

	store.mu.Lock()
	defer store.mu.Unlock()
	urls, ok := store.attached["inc-9"]
	if !ok {
		t.Fatal("recording not attached")
	}
	if urls[0] == "" || urls[1] == "" {
		t.Errorf("urls = %v", urls)
	}
	if string(ev.videos["inc-9"]) != "chunks" {
		t.Error("video bytes not uploaded")
	}
}

type blockedEvidence struct {
	fakeEvidence
	release chan struct{}
}

func (b *blockedEvidence) UploadRecording(ctx context.Context, incidentID string, video []byte) (string, error) {
	<-b.release
	return b.fakeEvidence.UploadRecording(ctx, incidentID, video)
}

func TestDeadlineUploadDoesNotBlockSessionLoop(t *testing.T) {
	store := &fakeStore{}
	s, _, _ := newTestSession(store, &fakeSource{frames: 1})
	ev := &blockedEvidence{release: make(chan struct{})}
	s.evidence = ev

	// Window opened well past its deadline so the next tick finalizes it.
	if !s.rec.Begin("inc-7", time.Now().Add(-2*time.Minute), []byte("thumb")) {
		t.Fatal("recorder did not open")
	}
	s.latestFrame = []byte("jpeg")

	// Must return while the upload is still blocked.
	s.tickRecorder(context.Background(), time.Now())
	if s.rec.Active() {
		t.Error("window not finalized by the tick")
	}

	store.mu.Lock()
	_, attached := store.attached["inc-7"]
	store.mu.Unlock()
	if attached {
		t.Fatal("attach ran before the upload was released")
	}

	close(ev.release)
	done := make(chan struct{})
	go func() {
		s.uploads.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never finished after release")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.attached["inc-7"]; !ok {
		t.Error("recording not attached to its incident")
	}
}

func TestPermissionDeniedReportedOnce(t *testing.T) {
	store := &fakeStore{incidentErr: database.ErrPermissionDenied}
	s, _, _ := newTestSession(store, &fakeSource{frames: 1})
	s.camera = &models.Camera{ID: "cam-1", LocationID: "loc-1"}
	s.machine.Start()

	ctx := context.Background()
	det := &models.Detection{PrimaryScore: 0.99}
	// enough frames to fire twice across a cooldown
	for i := 0; i < 3; i++ {
		s.handleDetection(ctx, det)
	}
	time.Sleep(10 * time.Millisecond)

	var permNotices int
	for {
		select {
		case n := <-s.Notices():
			if n.Kind == models.NoticeStorePermission {
				permNotices++
			}
			continue
		default:
		}
		break
	}
	if permNotices != 1 {
		t.Errorf("permission notices = %d, want 1", permNotices)
	}
	if !errors.Is(store.incidentErr, database.ErrPermissionDenied) {
		t.Fatal("test setup broken")
	}
}
