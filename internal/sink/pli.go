package sink

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// DefaultPLIInterval is how often a keyframe is requested from the sender of a remote video track.
const DefaultPLIInterval = time.Second * 3

// RTCPWriter is implemented by *webrtc.PeerConnection.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// RequestKeyframes sends a PLI for ssrc every interval until ctx is done or the
// connection is closed, so a player joining late gets a picture quickly.
func RequestKeyframes(ctx context.Context, w RTCPWriter, ssrc webrtc.SSRC, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := w.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
		}); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, webrtc.ErrConnectionClosed) {
				logger.Err(err).Uint32("ssrc", uint32(ssrc)).Msg("could not send PLI")
			}
			return
		}
	}
}
