package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/SB-IM/peerchat/internal/signal"
)

// ErrKindUnsupported is returned by a Source asked for a kind it cannot capture.
var ErrKindUnsupported = errors.New("content kind not supported by source")

// ByKind captures each content kind from its own Source.
type ByKind struct {
	Screen Source
	Audio  Source
}

func (b ByKind) Capture(ctx context.Context, kind signal.ContentKind) (*Stream, error) {
	var s Source
	switch kind {
	case signal.KindScreen:
		s = b.Screen
	case signal.KindAudio:
		s = b.Audio
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %q", ErrKindUnsupported, kind)
	}
	return s.Capture(ctx, kind)
}
