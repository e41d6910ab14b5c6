package conductor

import (
	"github.com/pion/webrtc/v4"
)

// newPeerConnection creates a PeerConnection that receives one audio
// stream. The gateway never sends media, so no local track is attached.
func newPeerConnection(stun []string) (*webrtc.PeerConnection, error) {
	var config webrtc.Configuration
	if len(stun) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stun}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, err
	}
	return pc, nil
}
