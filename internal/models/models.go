package models

import "time"

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// Outcome is the fused Smart Veto verdict for one frame.
type Outcome string

const (
	OutcomeViolence Outcome = "VIOLENCE"
	OutcomeVetoed   Outcome = "VETOED"
	OutcomeSafe     Outcome = "SAFE"
	OutcomeUnknown  Outcome = "UNKNOWN"
)

// Keypoint is one anatomical point in sent-frame coordinates.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Skeleton is the COCO 17-keypoint pose of one detected person.
// Coordinates are in the coordinate space of the frame that was actually
// sent, not the source's native resolution.
type Skeleton struct {
	Keypoints []Keypoint `json:"keypoints"`
}

// Frame is one captured image on its way to the inference server.
// Owned by the pipeline stage currently processing it, never retained
// past its one send.
type Frame struct {
	Sequence   uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Pixels     []byte // encoded JPEG
}

// Detection is one inbound inference result, normalized from either
// wire format.
type Detection struct {
	PrimaryScore  float64 // 0..1
	VetoScore     float64 // 0..1, valid only when HasVeto
	HasVeto       bool
	Outcome       Outcome
	HasResult     bool // false in the browser-fallback shape (no result field)
	LatencyMs     float64
	Skeletons     []Skeleton
	RenderedFrame []byte // server-rendered overlay JPEG, nil if absent
}

// SessionCommand starts or stops a detection session on a camera source.
type SessionCommand struct {
	SessionID   string        `json:"session_id"`
	Action      CommandAction `json:"action"`
	SourceType  string        `json:"source_type"`
	VideoSource string        `json:"video_source"`
	Label       string        `json:"label"`
}

type Heartbeat struct {
	SessionID string        `json:"SessionID"`
	Action    CommandAction `json:"Action"`
	Frame     int64         `json:"Frame"`
	TimeStamp time.Time     `json:"TimeStamp"`
}

// AlertEvent is published when the trigger machine fires.
type AlertEvent struct {
	SessionID  string    `json:"session_id"`
	IncidentID string    `json:"incident_id,omitempty"`
	CameraID   string    `json:"camera_id,omitempty"`
	Confidence int       `json:"confidence"`
	ModelUsed  string    `json:"model_used"`
	TimeStamp  time.Time `json:"timestamp"`
}

type Camera struct {
	ID         string    `json:"id"`
	LocationID string    `json:"location_id"`
	SourceType string    `json:"source_type"`
	SourceURL  string    `json:"source_url"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Incident struct {
	ID           string    `json:"id"`
	CameraID     string    `json:"camera_id"`
	LocationID   string    `json:"location_id"`
	Confidence   int       `json:"confidence"`
	ModelUsed    string    `json:"model_used"`
	ThumbnailURL string    `json:"thumbnail_url"`
	VideoURL     string    `json:"video_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionStats is a snapshot of per-session counters.
type SessionStats struct {
	TotalFrames     int64
	ViolentFrames   int64
	PeakViolence    float64 // 0..100
	AvgLatencyMs    float64
	FightCount      int64
	SessionDuration time.Duration
	ServerOverlay   bool // server renders the skeleton overlay itself
}

// NoticeKind classifies user-visible session events: alerts and
// store-permission failures surface, everything else only logs.
type NoticeKind string

const (
	NoticeAlert           NoticeKind = "alert"
	NoticeStorePermission NoticeKind = "store_permission"
)

// Notice is a user-visible session event.
type Notice struct {
	Kind       NoticeKind
	SessionID  string
	IncidentID string
	Confidence int
	Message    string
	At         time.Time
}
