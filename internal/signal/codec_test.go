package signal

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/pion/webrtc/v4"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodecs(t *testing.T) {
	mid := "0"
	index := uint16(0)
	envelopes := []*Envelope{
		{From: "a", Message: VideoOffer{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}}},
		{From: "b", Message: VideoAnswer{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}}},
		{From: "a", Message: NewICECandidate{Candidate: webrtc.ICECandidateInit{
			Candidate:     "candidate:1 1 udp 2130706431 192.168.1.2 50000 typ host",
			SDPMid:        &mid,
			SDPMLineIndex: &index,
		}}},
		{From: "b", Message: StreamInfo{StreamID: "screen-42", ContentKind: KindScreen}},
	}

	for _, codec := range []Codec{JSON{}, MsgPack{}, Protobuf{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			for _, env := range envelopes {
				b, err := codec.Marshal(env)
				if err != nil {
					t.Fatalf("could not marshal %s: %v", env.Message.Type(), err)
				}
				got, err := codec.Unmarshal(b)
				if err != nil {
					t.Fatalf("could not unmarshal %s: %v", env.Message.Type(), err)
				}
				if !reflect.DeepEqual(got, env) {
					t.Fatalf("envelope is incorrect, got %+v want %+v", got, env)
				}
			}
		})
	}
}

func TestJSONWireShape(t *testing.T) {
	b, err := JSON{}.Marshal(&Envelope{Message: StreamInfo{StreamID: "s1", ContentKind: KindAudio}})
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]string
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"type": "stream-info", "streamId": "s1", "contentKind": "audio"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("wire shape is incorrect, got %v want %v", fields, want)
	}

	b, err = JSON{}.Marshal(&Envelope{Message: VideoOffer{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "abc"}}})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"video-offer","sdp":{"type":"offer","sdp":"abc"}}` {
		t.Fatalf("offer wire shape is incorrect, got %s", b)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"unknown type", `{"type":"hang-up"}`, ErrUnknownType},
		{"unknown kind", `{"type":"stream-info","streamId":"s","contentKind":"camera"}`, ErrUnknownContentKind},
		{"empty stream id", `{"type":"stream-info","contentKind":"screen"}`, ErrEmptyStreamID},
		{"answer in offer", `{"type":"video-offer","sdp":{"type":"answer","sdp":"abc"}}`, ErrDescriptionType},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSON{}.Unmarshal([]byte(tt.payload))
			if !errors.Is(err, tt.want) {
				t.Fatalf("error is incorrect, got %v want %v", err, tt.want)
			}
		})
	}

	t.Run("missing candidate", func(t *testing.T) {
		if _, err := (JSON{}).Unmarshal([]byte(`{"type":"new-ice-candidate"}`)); err == nil {
			t.Fatal("expected an error for a candidate message without candidate")
		}
	})
	t.Run("garbage", func(t *testing.T) {
		if _, err := (MsgPack{}).Unmarshal([]byte{0xc1}); err == nil {
			t.Fatal("expected an error for an invalid msgpack payload")
		}
	})
	t.Run("truncated protobuf", func(t *testing.T) {
		b, err := Protobuf{}.Marshal(&Envelope{From: "a", Message: StreamInfo{StreamID: "s1", ContentKind: KindScreen}})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := (Protobuf{}).Unmarshal(b[:len(b)-2]); err == nil {
			t.Fatal("expected an error for a truncated protobuf payload")
		}
	})
}

func TestProtobufUnknownFields(t *testing.T) {
	env := &Envelope{From: "a", Message: StreamInfo{StreamID: "s1", ContentKind: KindAudio}}
	b, err := Protobuf{}.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = protowire.AppendTag(b, 16, protowire.BytesType)
	b = protowire.AppendString(b, "extension")

	got, err := Protobuf{}.Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, env) {
		t.Fatalf("envelope is incorrect, got %+v want %+v", got, env)
	}
}

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]string{"": "json", "json": "json", "msgpack": "msgpack", "protobuf": "protobuf"} {
		c, err := CodecByName(name)
		if err != nil {
			t.Fatal(err)
		}
		if c.Name() != want {
			t.Fatalf("codec is incorrect, got %s want %s", c.Name(), want)
		}
	}
	if _, err := CodecByName("xml"); err == nil {
		t.Fatal("expected an error for an unsupported codec")
	}
}
