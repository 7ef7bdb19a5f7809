package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/pion/randutil"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/signal"
)

const (
	codecH264 = "h264"
	codecVP8  = "vp8"

	udpMTU = 1600
)

// RTPSourceConfigOptions configures the UDP ports media is pushed to, one per kind.
type RTPSourceConfigOptions struct {
	Host        string
	ScreenPort  int
	AudioPort   int
	ScreenCodec string // h264 or vp8
}

// RTPSource captures media pushed as RTP over UDP, for example by
// `ffmpeg -f x11grab ... -f rtp rtp://127.0.0.1:5004` for the screen and an Opus
// encoder for the microphone. Every capture listens on the kind's port until stopped.
type RTPSource struct {
	config RTPSourceConfigOptions
	logger zerolog.Logger
}

// NewRTPSource returns an RTPSource.
func NewRTPSource(config RTPSourceConfigOptions, logger *zerolog.Logger) *RTPSource {
	return &RTPSource{
		config: config,
		logger: logger.With().Str("component", "rtp-source").Logger(),
	}
}

func (s *RTPSource) Capture(_ context.Context, kind signal.ContentKind) (*Stream, error) {
	port := s.config.AudioPort
	if kind == signal.KindScreen {
		port = s.config.ScreenPort
	}
	capability, err := s.capability(kind)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(s.config.Host, strconv.Itoa(port))
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve address of %s into udp address: %w", address, err)
	}
	listener, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, listenError("UDP", err)
	}

	local, err := localTrackRTP(kind, capability)
	if err != nil {
		listener.Close()
		return nil, err
	}

	logger := s.logger.With().Str("kind", kind.String()).Str("address", listener.LocalAddr().String()).Logger()
	logger.Info().Str("mime_type", capability.MimeType).Msg("UDP capture started")
	go ingest(listener, local, &logger)

	return &Stream{
		ID:     local.StreamID(),
		Kind:   kind,
		Tracks: []Track{NewTrack(local, listener.Close)},
	}, nil
}

func (s *RTPSource) capability(kind signal.ContentKind) (webrtc.RTPCodecCapability, error) {
	switch kind {
	case signal.KindAudio:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, nil
	case signal.KindScreen:
		switch strings.ToLower(s.config.ScreenCodec) {
		case "", codecH264:
			return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}, nil
		case codecVP8:
			return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, nil
		default:
			return webrtc.RTPCodecCapability{}, fmt.Errorf("unsupported screen codec %q", s.config.ScreenCodec)
		}
	default:
		return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: %q", signal.ErrUnknownContentKind, kind)
	}
}

// trackIDs returns random track and stream ids prefixed by kind.
func trackIDs(kind signal.ContentKind) (trackID, streamID string) {
	trackKind := "video"
	if kind == signal.KindAudio {
		trackKind = "audio"
	}
	rand := randutil.NewMathRandomGenerator()
	return fmt.Sprintf("%s-%d", trackKind, rand.Uint32()), fmt.Sprintf("%s-%d", kind, rand.Uint32())
}

// localTrackRTP creates a RTP track with random track and stream ids prefixed by kind.
func localTrackRTP(kind signal.ContentKind, capability webrtc.RTPCodecCapability) (*webrtc.TrackLocalStaticRTP, error) {
	trackID, streamID := trackIDs(kind)
	track, err := webrtc.NewTrackLocalStaticRTP(capability, trackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("could not create TrackLocalStaticRTP: %w", err)
	}
	return track, nil
}

// localTrackSample creates a sample track with random track and stream ids prefixed by kind.
func localTrackSample(kind signal.ContentKind, capability webrtc.RTPCodecCapability) (*webrtc.TrackLocalStaticSample, error) {
	trackID, streamID := trackIDs(kind)
	track, err := webrtc.NewTrackLocalStaticSample(capability, trackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("could not create TrackLocalStaticSample: %w", err)
	}
	return track, nil
}

// listenError maps a refused listen to ErrCaptureDenied.
func listenError(network string, err error) error {
	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EADDRINUSE) {
		return fmt.Errorf("%w: %w", ErrCaptureDenied, err)
	}
	return fmt.Errorf("listen %s: %w", network, err)
}

// ingest forwards RTP packets read from listener to track until listener is closed.
func ingest(listener net.PacketConn, track *webrtc.TrackLocalStaticRTP, logger *zerolog.Logger) {
	buf := make([]byte, udpMTU)
	for {
		n, _, err := listener.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Info().Msg("UDP capture stopped")
			} else {
				logger.Err(err).Msg("error during read")
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			logger.Debug().Err(err).Int("size", n).Msg("dropped non RTP datagram")
			continue
		}
		// ErrClosedPipe means the track is not bound to a peer connection yet.
		if err := track.WriteRTP(&pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			logger.Err(err).Msg("could not write RTP packet")
			return
		}
	}
}
