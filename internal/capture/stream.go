package capture

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/SB-IM/peerchat/internal/signal"
)

// Track is a local media track that stops producing media once stopped.
type Track interface {
	webrtc.TrackLocal
	// Stop releases the capture behind the track. Stopping twice is a no-op.
	Stop() error
	Stopped() bool
}

// NewTrack wraps local with a stop function called at most once.
func NewTrack(local webrtc.TrackLocal, stop func() error) Track {
	return &track{TrackLocal: local, stop: stop}
}

type track struct {
	webrtc.TrackLocal

	mu      sync.Mutex
	stop    func() error
	stopped bool
}

func (t *track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil
	}
	t.stopped = true
	if t.stop == nil {
		return nil
	}
	return t.stop()
}

func (t *track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is the result of one capture: a stream id and its tracks.
type Stream struct {
	ID     string
	Kind   signal.ContentKind
	Tracks []Track
}

// Stop stops every track of s.
func (s *Stream) Stop() error {
	var errs []error
	for _, t := range s.Tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Live returns the number of tracks not stopped yet.
func (s *Stream) Live() int {
	n := 0
	for _, t := range s.Tracks {
		if !t.Stopped() {
			n++
		}
	}
	return n
}
