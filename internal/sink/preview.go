package sink

import (
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/capture"
)

// LogPreview reports local publications in the log, standing in for a local video element.
type LogPreview struct {
	Logger *zerolog.Logger
}

func (p LogPreview) Attach(s *capture.Stream) {
	p.Logger.Info().Str("stream", s.ID).Str("kind", s.Kind.String()).Int("tracks", len(s.Tracks)).Msg("local preview attached")
}

func (p LogPreview) Detach(s *capture.Stream) {
	p.Logger.Info().Str("stream", s.ID).Str("kind", s.Kind.String()).Msg("local preview detached")
}
