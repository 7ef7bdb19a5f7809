package sink

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// ForwarderConfigOptions configures where remote RTP is sent.
type ForwarderConfigOptions struct {
	Address string
	// PayloadType rewrites the payload type of forwarded packets when not zero,
	// matching the SDP file of the player on the other side.
	PayloadType uint8
}

// Forwarder writes remote RTP to a UDP address, for example an ffplay or gstreamer
// pipeline reading an SDP file.
type Forwarder struct {
	config ForwarderConfigOptions
	logger zerolog.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewForwarder returns a Forwarder. The socket is dialed on the first attach.
func NewForwarder(config ForwarderConfigOptions, logger *zerolog.Logger) *Forwarder {
	return &Forwarder{
		config: config,
		logger: logger.With().Str("component", "forwarder").Str("address", config.Address).Logger(),
	}
}

func (f *Forwarder) dial() (*net.UDPConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		return f.conn, nil
	}
	addr, err := net.ResolveUDPAddr("udp", f.config.Address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve address of %s into udp address: %w", f.config.Address, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("could not dial UDP: %w", err)
	}
	f.conn = conn
	return conn, nil
}

func (f *Forwarder) Attach(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	logger := f.logger.With().
		Str("track", track.ID()).
		Str("stream", track.StreamID()).
		Str("mime_type", track.Codec().MimeType).
		Logger()

	conn, err := f.dial()
	if err != nil {
		logger.Err(err).Msg("could not start forwarding")
		Discard{Logger: &logger}.Attach(track, nil)
		return
	}
	logger.Info().Msg("forwarding remote track")

	buf := make([]byte, rtpBufferSize)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Err(err).Msg("could not read RTP packet")
			}
			logger.Info().Msg("remote track ended")
			return
		}
		if f.config.PayloadType != 0 {
			pkt.PayloadType = f.config.PayloadType
		}

		n, err := pkt.MarshalTo(buf)
		if err != nil {
			logger.Debug().Err(err).Msg("could not marshal RTP packet")
			continue
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			// The player may not be listening yet.
			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}
			logger.Err(err).Msg("could not forward RTP packet")
			return
		}
	}
}

// Close closes the socket.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}
