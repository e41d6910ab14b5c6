package conductor

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// envelope is the JSON shape of every negotiation message relayed through
// the signaling link. A non-empty Type marks a session description;
// otherwise the candidate fields are used.
type envelope struct {
	Type          string  `json:"type,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
}

func decodeEnvelope(message string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(message), &env); err != nil {
		return envelope{}, fmt.Errorf("failed to decode peer message: %w", err)
	}
	return env, nil
}

func (e envelope) description() (webrtc.SessionDescription, error) {
	if e.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("session description %q has no sdp", e.Type)
	}

	t := webrtc.NewSDPType(e.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown session description type %q", e.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: e.SDP}, nil
}

func (e envelope) candidate() (webrtc.ICECandidateInit, error) {
	if e.SDPMid == nil || e.SDPMLineIndex == nil || e.Candidate == "" {
		return webrtc.ICECandidateInit{}, fmt.Errorf("candidate message is missing sdpMid, sdpMLineIndex or candidate")
	}
	return webrtc.ICECandidateInit{
		Candidate:     e.Candidate,
		SDPMid:        e.SDPMid,
		SDPMLineIndex: e.SDPMLineIndex,
	}, nil
}

func encodeDescription(desc *webrtc.SessionDescription) (string, error) {
	data, err := json.Marshal(envelope{Type: desc.Type.String(), SDP: desc.SDP})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
