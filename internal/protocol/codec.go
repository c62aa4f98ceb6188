// Package protocol serializes outbound session messages and normalizes the
// two inbound wire formats the inference server emits into one Detection.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
	"github.com/samber/lo"
)

// Kind discriminates decoded inbound messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindDetection
	KindAnswer
	KindICECandidate
	KindConfigAck
)

// Inbound is the decoded form of one server message.
type Inbound struct {
	Kind      Kind
	Detection *models.Detection
	Answer    *Answer
	Candidate json.RawMessage
}

// Answer carries the server's SDP reply to a webrtc_offer.
type Answer struct {
	SDP     string `json:"sdp"`
	SDPType string `json:"sdp_type"`
}

// TriggerSettings is the settings block of the config message.
type TriggerSettings struct {
	InstantTriggerThreshold float64 `json:"instant_trigger_threshold"`
	InstantTriggerCount     int     `json:"instant_trigger_count"`
	SustainedThreshold      float64 `json:"sustained_threshold"`
	SustainedDuration       float64 `json:"sustained_duration"`
}

// ConfigMessage is the session config sent on every control-channel open.
// Server-side session state does not persist across reconnects, so the full
// message is resent each time.
type ConfigMessage struct {
	Type             string          `json:"type"`
	UserID           string          `json:"userId"`
	PrimaryModel     string          `json:"primary_model"`
	PrimaryThreshold float64         `json:"primary_threshold"`
	VetoModel        string          `json:"veto_model"`
	VetoThreshold    float64         `json:"veto_threshold"`
	SmartVetoEnabled bool            `json:"smart_veto_enabled"`
	Settings         TriggerSettings `json:"settings"`
}

// EncodeConfig marshals a config message with its type tag fixed.
func EncodeConfig(msg ConfigMessage) ([]byte, error) {
	msg.Type = "config"
	return json.Marshal(msg)
}

// EncodeOffer marshals the webrtc_offer signaling message.
func EncodeOffer(sdp, sdpType string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"type":     "webrtc_offer",
		"sdp":      sdp,
		"sdp_type": sdpType,
	})
}

// EncodeICECandidate marshals an ice_candidate signaling message.
func EncodeICECandidate(candidate json.RawMessage) ([]byte, error) {
	return json.Marshal(map[string]json.RawMessage{
		"type":      json.RawMessage(`"ice_candidate"`),
		"candidate": candidate,
	})
}

// wireMessage is a superset of both inbound shapes. Field presence picks
// the format: primary+result means the current shape, a type tag means the
// legacy shape or signaling.
type wireMessage struct {
	Type *string `json:"type"`

	// current shape, 0-100 scale
	Primary     *float64 `json:"primary"`
	Veto        *float64 `json:"veto"`
	Result      *string  `json:"result"`
	InferenceMs float64  `json:"inference_ms"`

	// legacy shape, 0-1 scale
	ViolenceScore       *float64 `json:"violence_score"`
	ViolenceProbability *float64 `json:"violence_probability"`
	TTotal              float64  `json:"t_total"`
	TGCN                float64  `json:"t_gcn"`
	InferenceTime       float64  `json:"inference_time"`
	Extra               *struct {
		Src   string   `json:"src"`
		VVeto *float64 `json:"v_veto"`
	} `json:"extra"`

	// shared
	Skeletons      [][][3]float64  `json:"skeletons"`
	AllSkeletons   [][][3]float64  `json:"all_skeletons"`
	ProcessedFrame string          `json:"processed_frame"`
	SDP            string          `json:"sdp"`
	SDPType        string          `json:"sdp_type"`
	Candidate      json.RawMessage `json:"candidate"`
}

// Decode parses one control or data channel payload. Malformed payloads
// return an error for the caller to log; they are never fatal to a session.
func Decode(payload []byte) (Inbound, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return Inbound{}, fmt.Errorf("decode message: %w", err)
	}

	// Current shape has no type tag; both primary and result present.
	if w.Primary != nil && w.Result != nil {
		return Inbound{Kind: KindDetection, Detection: decodeCurrent(&w)}, nil
	}

	if w.Type == nil {
		return Inbound{}, fmt.Errorf("decode message: no discriminator")
	}

	switch *w.Type {
	case "result":
		return Inbound{Kind: KindDetection, Detection: decodeLegacy(&w)}, nil
	case "webrtc_answer":
		return Inbound{Kind: KindAnswer, Answer: &Answer{SDP: w.SDP, SDPType: w.SDPType}}, nil
	case "ice_candidate":
		return Inbound{Kind: KindICECandidate, Candidate: w.Candidate}, nil
	case "config_updated":
		return Inbound{Kind: KindConfigAck}, nil
	}

	return Inbound{}, fmt.Errorf("decode message: unknown type %q", *w.Type)
}

func decodeCurrent(w *wireMessage) *models.Detection {
	det := &models.Detection{
		PrimaryScore: *w.Primary / 100,
		HasResult:    true,
		LatencyMs:    w.InferenceMs,
		Skeletons:    decodeSkeletons(w),
	}

	switch *w.Result {
	case "VIOLENCE":
		det.Outcome = models.OutcomeViolence
	case "VETOED":
		det.Outcome = models.OutcomeVetoed
	default:
		det.Outcome = models.OutcomeSafe
	}

	if w.Veto != nil {
		det.VetoScore = *w.Veto / 100
		det.HasVeto = true
	}

	det.RenderedFrame = decodeRenderedFrame(w.ProcessedFrame)
	return det
}

func decodeLegacy(w *wireMessage) *models.Detection {
	det := &models.Detection{
		LatencyMs: firstNonZero(w.TTotal, w.TGCN, w.InferenceTime),
		Skeletons: decodeSkeletons(w),
	}

	switch {
	case w.ViolenceScore != nil:
		det.PrimaryScore = *w.ViolenceScore
	case w.ViolenceProbability != nil:
		det.PrimaryScore = *w.ViolenceProbability
	}

	// extra.src tags the veto path: PRIMARY means the veto model confirmed
	// the violence call, VETO_OVERRIDE means it overrode it to safe, and
	// PRIMARY_FAST means no veto ran, leaving threshold fusion to decide.
	if w.Extra != nil {
		switch w.Extra.Src {
		case "PRIMARY":
			det.Outcome = models.OutcomeViolence
			det.HasResult = true
		case "VETO_OVERRIDE":
			det.Outcome = models.OutcomeVetoed
			det.HasResult = true
		}
		if w.Extra.VVeto != nil {
			det.VetoScore = *w.Extra.VVeto
			det.HasVeto = true
		}
	}

	det.RenderedFrame = decodeRenderedFrame(w.ProcessedFrame)
	return det
}

func decodeSkeletons(w *wireMessage) []models.Skeleton {
	raw := w.AllSkeletons
	if len(raw) == 0 {
		raw = w.Skeletons
	}
	if len(raw) == 0 {
		return nil
	}

	return lo.Map(raw, func(points [][3]float64, _ int) models.Skeleton {
		return models.Skeleton{
			Keypoints: lo.Map(points, func(p [3]float64, _ int) models.Keypoint {
				return models.Keypoint{X: p[0], Y: p[1], Confidence: p[2]}
			}),
		}
	})
}

func decodeRenderedFrame(b64 string) []byte {
	if b64 == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		// A broken overlay frame is cosmetic, keep the detection.
		return nil
	}
	return data
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
