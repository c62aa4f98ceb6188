package transport

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/pion/webrtc/v3"
	"github.com/psdew2ewqws/NexaraVision-sub000/internal/protocol"
)

// Signaler carries SDP and ICE messages to the server. In practice this is
// the control channel.
type Signaler interface {
	SendJSON(payload []byte) error
}

// Data is the WebRTC data channel frames prefer once negotiated. It is
// configured unordered with no retransmits: a frame that missed its slot
// is better replaced by a newer one.
type Data struct {
	sessionID string
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
}

// DialData creates the peer connection, opens the frame channel and sends
// the offer over sig. Negotiation completes asynchronously through
// HandleAnswer and AddCandidate as the server replies. onLost fires once
// when the connection fails or closes.
func DialData(sessionID, stunServer string, sig Signaler, onOpen func(), onLost func()) (*Data, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{stunServer}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ordered := false
	var maxRetransmits uint16
	dc, err := pc.CreateDataChannel("frames", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	d := &Data{sessionID: sessionID, pc: pc, dc: dc}

	dc.OnOpen(func() {
		log.Printf("Transport %s: data channel open", sessionID)
		if onOpen != nil {
			onOpen()
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		payload, err := protocol.EncodeICECandidate(raw)
		if err != nil {
			return
		}
		if err := sig.SendJSON(payload); err != nil {
			log.Printf("Transport %s: send ice candidate: %v", sessionID, err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			log.Printf("Transport %s: peer connection %s", sessionID, state)
			if onLost != nil {
				onLost()
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	payload, err := protocol.EncodeOffer(offer.SDP, offer.Type.String())
	if err != nil {
		pc.Close()
		return nil, err
	}
	if err := sig.SendJSON(payload); err != nil {
		pc.Close()
		return nil, fmt.Errorf("send offer: %w", err)
	}
	return d, nil
}

// HandleAnswer applies the server's SDP answer.
func (d *Data) HandleAnswer(a protocol.Answer) error {
	desc := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(a.SDPType),
		SDP:  a.SDP,
	}
	if err := d.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddCandidate applies one remote ICE candidate.
func (d *Data) AddCandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("parse ice candidate: %w", err)
	}
	if err := d.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (d *Data) Send(payload []byte) error { return d.dc.Send(payload) }

func (d *Data) Buffered() int { return int(d.dc.BufferedAmount()) }

func (d *Data) Ready() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (d *Data) Close() error { return d.pc.Close() }
