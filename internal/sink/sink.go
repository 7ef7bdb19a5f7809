// Package sink consumes the remote media of a room.
package sink

import (
	"errors"
	"io"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const rtpBufferSize = 1500

// Sink consumes a remote track. Attach reads the track until it ends and is called
// on a goroutine of its own.
type Sink interface {
	Attach(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// Discard reads and drops every packet of the tracks attached to it.
type Discard struct {
	Logger *zerolog.Logger
}

func (d Discard) Attach(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	buf := make([]byte, rtpBufferSize)
	for {
		if _, _, err := track.Read(buf); err != nil {
			if d.Logger != nil && !errors.Is(err, io.EOF) {
				d.Logger.Debug().Err(err).Str("track", track.ID()).Msg("discard stopped")
			}
			return
		}
	}
}
