package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/codec/h264parser"
	"github.com/deepch/vdk/format/rtspv2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/signal"
)

const (
	defaultRTSPTimeout = time.Second * 3
	rtspRedialInterval = time.Second
)

// RTSPSourceConfigOptions configures the RTSP server the screen is pulled from.
type RTSPSourceConfigOptions struct {
	URL     string
	Timeout time.Duration
}

// RTSPSource captures the screen by pulling H264 from an RTSP server, such as a
// capture card or a camera pointed at a display. A capture redials the server
// whenever its stream stops, until the capture is stopped.
type RTSPSource struct {
	config RTSPSourceConfigOptions
	logger zerolog.Logger
}

// NewRTSPSource returns an RTSPSource.
func NewRTSPSource(config RTSPSourceConfigOptions, logger *zerolog.Logger) *RTSPSource {
	if config.Timeout <= 0 {
		config.Timeout = defaultRTSPTimeout
	}
	return &RTSPSource{
		config: config,
		logger: logger.With().Str("component", "rtsp-source").Logger(),
	}
}

func (s *RTSPSource) Capture(_ context.Context, kind signal.ContentKind) (*Stream, error) {
	if kind != signal.KindScreen {
		return nil, fmt.Errorf("%w: rtsp captures %s only", ErrKindUnsupported, signal.KindScreen)
	}

	session, codec, err := s.dial()
	if err != nil {
		return nil, err
	}
	local, err := localTrackSample(kind, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000})
	if err != nil {
		session.Close()
		return nil, err
	}

	pullCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pull(pullCtx, session, codec, local)
	}()

	stop := func() error {
		cancel()
		<-done
		return nil
	}
	return &Stream{
		ID:     local.StreamID(),
		Kind:   kind,
		Tracks: []Track{NewTrack(local, stop)},
	}, nil
}

// dial connects to the RTSP server and checks its first stream is H264.
func (s *RTSPSource) dial() (*rtspv2.RTSPClient, h264parser.CodecData, error) {
	s.logger.Info().Str("url", s.config.URL).Msg("dialing RTSP server")
	session, err := rtspv2.Dial(rtspv2.RTSPClientOptions{
		URL:              s.config.URL,
		DialTimeout:      s.config.Timeout,
		ReadWriteTimeout: s.config.Timeout,
		DisableAudio:     true,
	})
	if err != nil {
		return nil, h264parser.CodecData{}, fmt.Errorf("rtsp dial error: %w", err)
	}

	codec, err := h264Codec(session.CodecData)
	if err != nil {
		session.Close()
		return nil, h264parser.CodecData{}, err
	}
	return session, codec, nil
}

func h264Codec(codecs []av.CodecData) (h264parser.CodecData, error) {
	if len(codecs) == 0 {
		return h264parser.CodecData{}, errors.New("RTSP feed has no stream")
	}
	codec, ok := codecs[0].(h264parser.CodecData)
	if !ok || codecs[0].Type() != av.H264 {
		return h264parser.CodecData{}, fmt.Errorf("wrong codec type: %s. RTSP feed must begin with a H264 codec", codecs[0].Type())
	}
	return codec, nil
}

// pull writes the packets of the first stream to track until ctx is done, redialing
// the server whenever the stream stops.
func (s *RTSPSource) pull(ctx context.Context, session *rtspv2.RTSPClient, codec h264parser.CodecData, track *webrtc.TrackLocalStaticSample) {
	defer func() {
		if session != nil {
			session.Close()
		}
		s.logger.Info().Msg("RTSP capture stopped")
	}()

	var previous time.Duration
	for {
		if session == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(rtspRedialInterval):
			}
			var err error
			if session, codec, err = s.dial(); err != nil {
				s.logger.Warn().Err(err).Msg("could not redial RTSP server")
				session = nil
				continue
			}
			previous = 0
		}

		select {
		case <-ctx.Done():
			return
		case sig := <-session.Signals:
			switch sig {
			case rtspv2.SignalCodecUpdate:
				if updated, err := h264Codec(session.CodecData); err == nil {
					codec = updated
				}
			case rtspv2.SignalStreamRTPStop:
				s.logger.Warn().Msg("RTSP stream stopped")
				session.Close()
				session = nil
			}
		case pkt := <-session.OutgoingPacketQueue:
			if pkt.Idx != 0 {
				continue
			}
			duration := pkt.Time - previous
			previous = pkt.Time

			data, err := annexBFrame(pkt, codec)
			if err != nil {
				s.logger.Debug().Err(err).Msg("dropped RTSP packet")
				continue
			}
			if err := track.WriteSample(media.Sample{Data: data, Duration: duration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Err(err).Msg("could not write sample")
				return
			}
		}
	}
}

// annexBFrame converts a packet to Annex-B, prepending the parameter sets to keyframes.
func annexBFrame(pkt *av.Packet, codec h264parser.CodecData) ([]byte, error) {
	data, _, err := avccToAnnexB(pkt.Data)
	if err != nil {
		return nil, err
	}
	if !pkt.IsKeyFrame {
		return data, nil
	}
	var out []byte
	for _, params := range [][][]byte{codec.RecordInfo.SPS, codec.RecordInfo.PPS} {
		if len(params) == 0 {
			continue
		}
		out = append(out, annexBPrefix()...)
		out = append(out, params[0]...)
	}
	return append(out, data...), nil
}
