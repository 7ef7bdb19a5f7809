package signal

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers of the envelope and its nested messages:
//
//	message Envelope {
//	  string from = 1;
//	  string type = 2;
//	  SessionDescription sdp = 3;
//	  ICECandidate candidate = 4;
//	  string stream_id = 5;
//	  string content_kind = 6;
//	}
//	message SessionDescription { string type = 1; string sdp = 2; }
//	message ICECandidate {
//	  string candidate = 1;
//	  optional string sdp_mid = 2;
//	  optional uint32 sdp_mline_index = 3;
//	  optional string username_fragment = 4;
//	}
const (
	pbFrom        protowire.Number = 1
	pbType        protowire.Number = 2
	pbSDP         protowire.Number = 3
	pbCandidate   protowire.Number = 4
	pbStreamID    protowire.Number = 5
	pbContentKind protowire.Number = 6

	pbDescriptionType protowire.Number = 1
	pbDescriptionSDP  protowire.Number = 2

	pbCandidateLine  protowire.Number = 1
	pbCandidateMid   protowire.Number = 2
	pbCandidateMLine protowire.Number = 3
	pbCandidateUfrag protowire.Number = 4

	maxSDPMLineIndex = 1<<16 - 1
)

var errTruncated = errors.New("truncated protobuf message")

// Protobuf encodes envelopes in the protocol buffers wire format. Unknown fields are
// skipped so newer peers can extend the envelope.
type Protobuf struct{}

func (Protobuf) Name() string { return "protobuf" }

func (Protobuf) Marshal(env *Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}

	var b []byte
	b = appendString(b, pbFrom, w.From)
	b = appendString(b, pbType, string(w.Type))
	if w.SDP != nil {
		var d []byte
		d = appendString(d, pbDescriptionType, w.SDP.Type)
		d = appendString(d, pbDescriptionSDP, w.SDP.SDP)
		b = protowire.AppendTag(b, pbSDP, protowire.BytesType)
		b = protowire.AppendBytes(b, d)
	}
	if c := w.Candidate; c != nil {
		var d []byte
		d = appendString(d, pbCandidateLine, c.Candidate)
		if c.SDPMid != nil {
			d = protowire.AppendTag(d, pbCandidateMid, protowire.BytesType)
			d = protowire.AppendString(d, *c.SDPMid)
		}
		if c.SDPMLineIndex != nil {
			d = protowire.AppendTag(d, pbCandidateMLine, protowire.VarintType)
			d = protowire.AppendVarint(d, uint64(*c.SDPMLineIndex))
		}
		if c.UsernameFragment != nil {
			d = protowire.AppendTag(d, pbCandidateUfrag, protowire.BytesType)
			d = protowire.AppendString(d, *c.UsernameFragment)
		}
		b = protowire.AppendTag(b, pbCandidate, protowire.BytesType)
		b = protowire.AppendBytes(b, d)
	}
	b = appendString(b, pbStreamID, w.StreamID)
	b = appendString(b, pbContentKind, string(w.ContentKind))
	return b, nil
}

func (Protobuf) Unmarshal(payload []byte) (*Envelope, error) {
	var w wireMessage
	err := consumeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == pbFrom && typ == protowire.BytesType:
			return consumeString(b, &w.From)
		case num == pbType && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			w.Type = Type(s)
			return n, err
		case num == pbSDP && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			d, err := unmarshalDescription(v)
			w.SDP = d
			return n, err
		case num == pbCandidate && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			c, err := unmarshalCandidate(v)
			w.Candidate = c
			return n, err
		case num == pbStreamID && typ == protowire.BytesType:
			return consumeString(b, &w.StreamID)
		case num == pbContentKind && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			w.ContentKind = ContentKind(s)
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal protobuf message: %w", err)
	}
	return fromWire(&w)
}

func unmarshalDescription(payload []byte) (*wireDescription, error) {
	var d wireDescription
	err := consumeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == pbDescriptionType && typ == protowire.BytesType:
			return consumeString(b, &d.Type)
		case num == pbDescriptionSDP && typ == protowire.BytesType:
			return consumeString(b, &d.SDP)
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return &d, err
}

func unmarshalCandidate(payload []byte) (*webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	err := consumeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == pbCandidateLine && typ == protowire.BytesType:
			return consumeString(b, &c.Candidate)
		case num == pbCandidateMid && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			c.SDPMid = &s
			return n, err
		case num == pbCandidateMLine && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			if v > maxSDPMLineIndex {
				return n, fmt.Errorf("sdpMLineIndex %d out of range", v)
			}
			index := uint16(v)
			c.SDPMLineIndex = &index
			return n, nil
		case num == pbCandidateUfrag && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, &s)
			c.UsernameFragment = &s
			return n, err
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return &c, err
}

// consumeFields calls field for every field of a message. field consumes the value
// and returns its length.
func consumeFields(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		if n > len(b) {
			return errTruncated
		}
		b = b[n:]
	}
	return nil
}

func consumeString(b []byte, v *string) (int, error) {
	s, n := protowire.ConsumeString(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*v = s
	return n, nil
}

// appendString appends a string field, omitting it when empty as proto3 does.
func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
