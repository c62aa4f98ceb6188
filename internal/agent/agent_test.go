package agent

import (
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/config"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
)

type stubStore struct {
	mu       sync.Mutex
	statuses []string
}

func (s *stubStore) FindOrCreateCamera(sourceType, sourceURL, name string) (*models.Camera, error) {
	return &models.Camera{ID: "cam-1", LocationID: "loc-1"}, nil
}

func (s *stubStore) SetCameraStatus(cameraID, status string) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
	return nil
}

func (s *stubStore) CreateIncident(*models.Incident) error        { return nil }
func (s *stubStore) AttachRecording(string, string, string) error { return nil }

type stubObjects struct {
	frames [][]byte
}

func (s *stubObjects) UploadRecording(_ context.Context, id string, _ []byte) (string, error) {
	return "http://store/" + id + "/recording.mjpeg", nil
}

func (s *stubObjects) UploadThumbnail(_ context.Context, id string, _ []byte) (string, error) {
	return "http://store/" + id + "/thumbnail.jpg", nil
}

func (s *stubObjects) DownloadFramesFromURL(context.Context, string) ([][]byte, error) {
	return s.frames, nil
}

type stubEvents struct{}

func (stubEvents) SendHeartbeat(models.Heartbeat) error { return nil }
func (stubEvents) SendAlert(models.AlertEvent) error    { return nil }

type stubNotifier struct{}

func (stubNotifier) SendAlert(context.Context, models.AlertEvent) error { return nil }

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Inference.URL = "ws://127.0.0.1:1/ws"
	cfg.Inference.ConnectTimeout = 50 * time.Millisecond
	cfg.Inference.ReconnectDelay = 50 * time.Millisecond
	return cfg
}

func frameDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := 0; i < n; i++ {
		f, err := os.Create(filepath.Join(dir, "frame_"+string(rune('a'+i))+".jpg"))
		if err != nil {
			t.Fatal(err)
		}
		if err := jpeg.Encode(f, img, nil); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	return dir
}

func newTestAgent() (*Agent, *stubStore) {
	store := &stubStore{}
	return New(testConfig(), store, &stubObjects{}, nil, stubEvents{}, stubNotifier{}), store
}

func TestStartIsIdempotent(t *testing.T) {
	a, _ := newTestAgent()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := models.SessionCommand{
		SessionID:   "sess-1",
		Action:      models.CommandStart,
		SourceType:  "directory",
		VideoSource: frameDir(t, 26),
	}

	if err := a.Start(ctx, cmd); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(ctx, cmd); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := a.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}

	cancel()
	waitIdle(t, a)
}

func TestStopCancelsSession(t *testing.T) {
	a, store := newTestAgent()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := models.SessionCommand{
		SessionID:   "sess-2",
		Action:      models.CommandStart,
		SourceType:  "directory",
		VideoSource: frameDir(t, 26),
	}
	if err := a.Start(ctx, cmd); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := a.Stop("sess-2"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitIdle(t, a)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.statuses) == 0 || store.statuses[len(store.statuses)-1] != "offline" {
		t.Errorf("camera statuses = %v, want trailing offline", store.statuses)
	}
}

func TestStopUnknownSessionSucceeds(t *testing.T) {
	a, _ := newTestAgent()
	if err := a.Stop("never-started"); err != nil {
		t.Errorf("Stop unknown session: %v", err)
	}
}

func TestStartRejectsUnknownSourceType(t *testing.T) {
	a, _ := newTestAgent()
	cmd := models.SessionCommand{
		SessionID:   "sess-3",
		Action:      models.CommandStart,
		SourceType:  "rtsp",
		VideoSource: "rtsp://camera/stream",
	}
	if err := a.Start(context.Background(), cmd); err == nil {
		t.Fatal("expected error for unknown source type")
	}
	if got := a.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d after failed start", got)
	}
}

func waitIdle(t *testing.T, a *Agent) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.ActiveCount() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("sessions never drained")
}
