package capture

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/codec/h264parser"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/signal"
)

func TestRTSPSource(t *testing.T) {
	logger := zerolog.Nop()
	source := NewRTSPSource(RTSPSourceConfigOptions{
		URL:     "rtsp://" + freeTCPAddress(t) + "/screen",
		Timeout: time.Millisecond * 200,
	}, &logger)

	if _, err := source.Capture(context.Background(), signal.KindAudio); !errors.Is(err, ErrKindUnsupported) {
		t.Fatalf("error is incorrect, got %v want %v", err, ErrKindUnsupported)
	}
	if _, err := source.Capture(context.Background(), signal.KindScreen); err == nil {
		t.Fatal("expected an error for an unreachable RTSP server")
	}
}

func TestH264Codec(t *testing.T) {
	if _, err := h264Codec(nil); err == nil {
		t.Fatal("expected an error without streams")
	}
	codec := h264parser.CodecData{RecordInfo: h264parser.AVCDecoderConfRecord{SPS: [][]byte{testSPS}, PPS: [][]byte{testPPS}}}
	got, err := h264Codec([]av.CodecData{codec})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.SPS(), testSPS) {
		t.Fatalf("sps is incorrect, got %x want %x", got.SPS(), testSPS)
	}
}

func TestAnnexBFrame(t *testing.T) {
	codec := h264parser.CodecData{RecordInfo: h264parser.AVCDecoderConfRecord{SPS: [][]byte{testSPS}, PPS: [][]byte{testPPS}}}

	tests := []struct {
		name  string
		pkt   *av.Packet
		codec h264parser.CodecData
		want  []byte
	}{
		{"keyframe", &av.Packet{IsKeyFrame: true, Data: avcc(testIDR)}, codec, annexB(testSPS, testPPS, testIDR)},
		{"inter frame", &av.Packet{Data: avcc([]byte{0x41, 0x9a})}, codec, annexB([]byte{0x41, 0x9a})},
		{"keyframe without parameter sets", &av.Packet{IsKeyFrame: true, Data: avcc(testIDR)}, h264parser.CodecData{}, annexB(testIDR)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := annexBFrame(tc.pkt, tc.codec)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("frame is incorrect, got %x want %x", got, tc.want)
			}
		})
	}
}
