package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	flvtag "github.com/yutopp/go-flv/tag"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"github.com/SB-IM/peerchat/internal/signal"
)

const defaultFrameDuration = time.Second / 30

// RTMPSourceConfigOptions configures the address screen encoders publish to.
type RTMPSourceConfigOptions struct {
	Address string
}

// RTMPSource captures the screen from an encoder publishing H264 over RTMP, for example
// `ffmpeg -f x11grab ... -c:v libx264 -f flv rtmp://127.0.0.1:1935/live/screen`.
// Every capture serves RTMP on the address until stopped.
type RTMPSource struct {
	config RTMPSourceConfigOptions
	logger zerolog.Logger
}

// NewRTMPSource returns an RTMPSource.
func NewRTMPSource(config RTMPSourceConfigOptions, logger *zerolog.Logger) *RTMPSource {
	return &RTMPSource{
		config: config,
		logger: logger.With().Str("component", "rtmp-source").Logger(),
	}
}

func (s *RTMPSource) Capture(_ context.Context, kind signal.ContentKind) (*Stream, error) {
	if kind != signal.KindScreen {
		return nil, fmt.Errorf("%w: rtmp captures %s only", ErrKindUnsupported, signal.KindScreen)
	}

	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return nil, listenError("TCP", err)
	}
	local, err := localTrackSample(kind, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000})
	if err != nil {
		l.Close()
		return nil, err
	}

	logger := s.logger.With().Str("address", l.Addr().String()).Logger()
	conns := &connSet{conns: make(map[net.Conn]struct{})}
	server := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			conns.add(conn)
			connLogger := logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpHandler{
					track:  local,
					logger: &connLogger,
					onClose: func() {
						conns.remove(conn)
					},
				},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024 / 8,
				},
				Logger: quietLogrus(),
			}
		},
	})
	go func() {
		if err := server.Serve(l); err != nil && !errors.Is(err, rtmp.ErrClosed) {
			logger.Err(err).Msg("rtmp server stopped")
		}
	}()
	logger.Info().Msg("RTMP capture started")

	stop := func() error {
		err := server.Close()
		l.Close()
		conns.closeAll()
		logger.Info().Msg("RTMP capture stopped")
		return err
	}
	return &Stream{
		ID:     local.StreamID(),
		Kind:   kind,
		Tracks: []Track{NewTrack(local, stop)},
	}, nil
}

// quietLogrus returns the logrus logger handed to go-rtmp, which logs every chunk at info level.
func quietLogrus() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type connSet struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func (s *connSet) add(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
}

func (s *connSet) remove(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *connSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

// rtmpHandler writes the H264 video of one publishing connection to track.
type rtmpHandler struct {
	rtmp.DefaultHandler

	track   *webrtc.TrackLocalStaticSample
	logger  *zerolog.Logger
	onClose func()

	// params holds the SPS and PPS of the last sequence header as Annex-B.
	params []byte
}

func (h *rtmpHandler) OnConnect(_ uint32, cmd *rtmpmsg.NetConnectionConnect) error {
	h.logger.Info().Str("app", cmd.Command.App).Msg("client is connecting")
	return nil
}

func (h *rtmpHandler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	if cmd.PublishingName == "" {
		return errors.New("PublishingName is empty")
	}
	h.logger.Info().Str("name", cmd.PublishingName).Msg("client is publishing stream")
	return nil
}

func (h *rtmpHandler) OnVideo(_ uint32, payload io.Reader) error {
	sample, err := h.sample(payload)
	if err != nil || sample == nil {
		return err
	}
	if err := h.track.WriteSample(media.Sample{Data: sample, Duration: defaultFrameDuration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("could not write sample: %w", err)
	}
	return nil
}

// sample decodes an FLV video tag into an Annex-B access unit. Keyframes lacking
// parameter sets get those of the last sequence header. It returns nil for tags
// carrying no picture.
func (h *rtmpHandler) sample(payload io.Reader) ([]byte, error) {
	var video flvtag.VideoData
	if err := flvtag.DecodeVideoData(payload, &video); err != nil {
		return nil, err
	}
	if video.CodecID != flvtag.CodecIDAVC {
		return nil, fmt.Errorf("unsupported video codec %d, publish H264", video.CodecID)
	}
	var data bytes.Buffer
	if _, err := io.Copy(&data, video.Data); err != nil {
		return nil, err
	}

	switch video.AVCPacketType {
	case flvtag.AVCPacketTypeSequenceHeader:
		params, err := decoderConfiguration(data.Bytes())
		if err != nil {
			return nil, fmt.Errorf("could not parse sequence header: %w", err)
		}
		h.params = params
		return nil, nil
	case flvtag.AVCPacketTypeNALU:
		out, hasParams, err := avccToAnnexB(data.Bytes())
		if err != nil {
			return nil, err
		}
		if video.FrameType == flvtag.FrameTypeKeyFrame && !hasParams {
			out = append(append([]byte{}, h.params...), out...)
		}
		return out, nil
	default:
		h.logger.Debug().Uint8("avc_packet_type", uint8(video.AVCPacketType)).Msg("skipped video tag")
		return nil, nil
	}
}

func (h *rtmpHandler) OnClose() {
	h.logger.Info().Msg("closing client connection")
	if h.onClose != nil {
		h.onClose()
	}
}
