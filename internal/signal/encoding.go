package signal

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// wireMessage is the flat encoding shared by every codec.
// Field names follow the browser's RTCSessionDescription and RTCIceCandidate JSON forms.
type wireMessage struct {
	From        string                   `json:"from,omitempty"`
	Type        Type                     `json:"type"`
	SDP         *wireDescription         `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	StreamID    string                   `json:"streamId,omitempty"`
	ContentKind ContentKind              `json:"contentKind,omitempty"`
}

type wireDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func toWire(env *Envelope) (*wireMessage, error) {
	w := &wireMessage{From: env.From}
	switch m := env.Message.(type) {
	case VideoOffer:
		w.Type = TypeVideoOffer
		w.SDP = &wireDescription{Type: m.SDP.Type.String(), SDP: m.SDP.SDP}
	case VideoAnswer:
		w.Type = TypeVideoAnswer
		w.SDP = &wireDescription{Type: m.SDP.Type.String(), SDP: m.SDP.SDP}
	case NewICECandidate:
		c := m.Candidate
		w.Type = TypeNewICECandidate
		w.Candidate = &c
	case StreamInfo:
		w.Type = TypeStreamInfo
		w.StreamID = m.StreamID
		w.ContentKind = m.ContentKind
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, env.Message)
	}
	return w, nil
}

func fromWire(w *wireMessage) (*Envelope, error) {
	env := &Envelope{From: w.From}
	switch w.Type {
	case TypeVideoOffer:
		sdp, err := description(w.SDP, webrtc.SDPTypeOffer)
		if err != nil {
			return nil, err
		}
		env.Message = VideoOffer{SDP: sdp}
	case TypeVideoAnswer:
		sdp, err := description(w.SDP, webrtc.SDPTypeAnswer)
		if err != nil {
			return nil, err
		}
		env.Message = VideoAnswer{SDP: sdp}
	case TypeNewICECandidate:
		if w.Candidate == nil {
			return nil, fmt.Errorf("%s: missing candidate", w.Type)
		}
		env.Message = NewICECandidate{Candidate: *w.Candidate}
	case TypeStreamInfo:
		if w.StreamID == "" {
			return nil, ErrEmptyStreamID
		}
		if !w.ContentKind.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownContentKind, w.ContentKind)
		}
		env.Message = StreamInfo{StreamID: w.StreamID, ContentKind: w.ContentKind}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	return env, nil
}

func description(d *wireDescription, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if d == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("missing %s description", want)
	}
	if got := webrtc.NewSDPType(d.Type); got != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: got %q want %q", ErrDescriptionType, d.Type, want)
	}
	return webrtc.SessionDescription{Type: want, SDP: d.SDP}, nil
}
