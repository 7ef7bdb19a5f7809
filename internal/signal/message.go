// Package signal defines the messages two room peers exchange over the
// signaling relay to negotiate their WebRTC session.
package signal

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// Type is the tag selecting the payload of a Message.
type Type string

const (
	TypeVideoOffer      Type = "video-offer"
	TypeVideoAnswer     Type = "video-answer"
	TypeNewICECandidate Type = "new-ice-candidate"
	TypeStreamInfo      Type = "stream-info"
)

// ContentKind is the declared content of a media stream.
type ContentKind string

const (
	KindScreen ContentKind = "screen"
	KindAudio  ContentKind = "audio"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	return k == KindScreen || k == KindAudio
}

func (k ContentKind) String() string {
	return string(k)
}

var (
	ErrUnknownType        = errors.New("unknown message type")
	ErrUnknownContentKind = errors.New("unknown content kind")
	ErrDescriptionType    = errors.New("session description type does not match message type")
	ErrEmptyStreamID      = errors.New("empty stream id")
)

// Message is one of VideoOffer, VideoAnswer, NewICECandidate or StreamInfo.
// The set is closed, switch on the concrete type to handle it.
type Message interface {
	Type() Type
	message()
}

// VideoOffer carries the offerer's session description.
type VideoOffer struct {
	SDP webrtc.SessionDescription
}

// VideoAnswer carries the answerer's session description.
type VideoAnswer struct {
	SDP webrtc.SessionDescription
}

// NewICECandidate carries one trickled ICE candidate.
type NewICECandidate struct {
	Candidate webrtc.ICECandidateInit
}

// StreamInfo tags a media stream before its tracks reach the remote peer.
type StreamInfo struct {
	StreamID    string
	ContentKind ContentKind
}

func (VideoOffer) Type() Type      { return TypeVideoOffer }
func (VideoAnswer) Type() Type     { return TypeVideoAnswer }
func (NewICECandidate) Type() Type { return TypeNewICECandidate }
func (StreamInfo) Type() Type      { return TypeStreamInfo }

func (VideoOffer) message()      {}
func (VideoAnswer) message()     {}
func (NewICECandidate) message() {}
func (StreamInfo) message()      {}

// Envelope is what travels over a relay: a message and the id of the peer that sent it.
type Envelope struct {
	From    string
	Message Message
}
