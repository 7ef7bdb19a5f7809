package capture

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"

	"github.com/SB-IM/peerchat/internal/signal"
)

func freeTCPAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().String()
}

func videoTag(t *testing.T, frameType flvtag.FrameType, packetType flvtag.AVCPacketType, data []byte) *bytes.Buffer {
	var buf bytes.Buffer
	if err := flvtag.EncodeVideoData(&buf, &flvtag.VideoData{
		FrameType:     frameType,
		CodecID:       flvtag.CodecIDAVC,
		AVCPacketType: packetType,
		Data:          bytes.NewReader(data),
	}); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestRTMPHandlerSample(t *testing.T) {
	logger := zerolog.Nop()
	local, err := localTrackSample(signal.KindScreen, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000})
	if err != nil {
		t.Fatal(err)
	}
	h := &rtmpHandler{track: local, logger: &logger}

	got, err := h.sample(videoTag(t, flvtag.FrameTypeKeyFrame, flvtag.AVCPacketTypeSequenceHeader, decoderConfigurationRecord(testSPS, testPPS)))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("sequence header should carry no picture, got %x", got)
	}

	t.Run("keyframe", func(t *testing.T) {
		got, err := h.sample(videoTag(t, flvtag.FrameTypeKeyFrame, flvtag.AVCPacketTypeNALU, avcc(testIDR)))
		if err != nil {
			t.Fatal(err)
		}
		if want := annexB(testSPS, testPPS, testIDR); !bytes.Equal(got, want) {
			t.Fatalf("keyframe is incorrect, got %x want %x", got, want)
		}
	})

	t.Run("inter frame", func(t *testing.T) {
		slice := []byte{0x41, 0x9a, 0x02}
		got, err := h.sample(videoTag(t, flvtag.FrameTypeInterFrame, flvtag.AVCPacketTypeNALU, avcc(slice)))
		if err != nil {
			t.Fatal(err)
		}
		if want := annexB(slice); !bytes.Equal(got, want) {
			t.Fatalf("inter frame is incorrect, got %x want %x", got, want)
		}
	})

	t.Run("not h264", func(t *testing.T) {
		var buf bytes.Buffer
		if err := flvtag.EncodeVideoData(&buf, &flvtag.VideoData{
			FrameType: flvtag.FrameTypeKeyFrame,
			CodecID:   flvtag.CodecIDJPEG,
			Data:      bytes.NewReader([]byte{0xff}),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := h.sample(&buf); err == nil {
			t.Fatal("expected an error for a non H264 tag")
		}
	})

	if err := h.OnVideo(0, videoTag(t, flvtag.FrameTypeKeyFrame, flvtag.AVCPacketTypeNALU, avcc(testIDR))); err != nil {
		t.Fatalf("writing to an unbound track failed: %v", err)
	}
}

func TestRTMPSource(t *testing.T) {
	logger := zerolog.Nop()
	address := freeTCPAddress(t)
	source := NewRTMPSource(RTMPSourceConfigOptions{Address: address}, &logger)

	if _, err := source.Capture(context.Background(), signal.KindAudio); !errors.Is(err, ErrKindUnsupported) {
		t.Fatalf("error is incorrect, got %v want %v", err, ErrKindUnsupported)
	}

	s, err := source.Capture(context.Background(), signal.KindScreen)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("port in use", func(t *testing.T) {
		if _, err := source.Capture(context.Background(), signal.KindScreen); !errors.Is(err, ErrCaptureDenied) {
			t.Fatalf("error is incorrect, got %v want %v", err, ErrCaptureDenied)
		}
	})

	t.Run("publish", func(t *testing.T) {
		client, err := rtmp.Dial("rtmp", address, &rtmp.ConnConfig{Logger: quietLogrus()})
		if err != nil {
			t.Fatal(err)
		}
		defer client.Close()
		if err := client.Connect(nil); err != nil {
			t.Fatalf("could not connect: %v", err)
		}
		if _, err := client.CreateStream(nil, 128); err != nil {
			t.Fatalf("could not create stream: %v", err)
		}
	})

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, err := net.Dial("tcp", address); err == nil {
		t.Fatal("RTMP server still listening after stop")
	}
}
