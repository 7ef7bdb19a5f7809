// Package capture acquires local screen and microphone media and publishes it to
// the room's peer session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/signal"
	"github.com/SB-IM/peerchat/internal/tagging"
)

var (
	// ErrCaptureDenied is returned by a Source refusing to capture.
	ErrCaptureDenied = errors.New("capture denied")
	// ErrTogglePending is returned when a toggle runs while the capture of the same kind is pending.
	ErrTogglePending = errors.New("toggle already pending")
	ErrClosed        = errors.New("capture controller closed")
)

// Source acquires media of one kind from the platform.
type Source interface {
	Capture(ctx context.Context, kind signal.ContentKind) (*Stream, error)
}

// Session is the peer session publications are added to.
type Session interface {
	// AddTrack adds track, creating the session first if needed.
	// created reports whether the session was created by this call.
	AddTrack(track webrtc.TrackLocal) (created bool, err error)
	RemoveTrack(trackID string) error
	Destroy() error
}

// Preview renders local publications.
type Preview interface {
	Attach(stream *Stream)
	Detach(stream *Stream)
}

// Announcer tells the remote peer which kind a stream carries.
type Announcer func(info signal.StreamInfo) error

// Controller toggles the screen and microphone publications of a room.
type Controller struct {
	source   Source
	session  Session
	registry *tagging.Registry
	announce Announcer
	preview  Preview
	logger   zerolog.Logger

	mu      sync.Mutex
	active  map[signal.ContentKind]*Stream
	pending map[signal.ContentKind]bool
	closed  bool
}

// NewController returns a Controller. preview may be nil.
func NewController(
	source Source,
	session Session,
	registry *tagging.Registry,
	announce Announcer,
	preview Preview,
	logger *zerolog.Logger,
) *Controller {
	return &Controller{
		source:   source,
		session:  session,
		registry: registry,
		announce: announce,
		preview:  preview,
		logger:   logger.With().Str("component", "capture").Logger(),
		active:   make(map[signal.ContentKind]*Stream),
		pending:  make(map[signal.ContentKind]bool),
	}
}

// ToggleScreenShare starts the screen share if it is off and stops it otherwise.
func (c *Controller) ToggleScreenShare(ctx context.Context) error {
	return c.toggle(ctx, signal.KindScreen)
}

// ToggleMicrophoneShare starts the microphone share if it is off and stops it otherwise.
func (c *Controller) ToggleMicrophoneShare(ctx context.Context) error {
	return c.toggle(ctx, signal.KindAudio)
}

// Active reports whether kind is being shared.
func (c *Controller) Active(kind signal.ContentKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[kind] != nil
}

// Publication returns the stream shared for kind, nil when inactive.
func (c *Controller) Publication(kind signal.ContentKind) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[kind]
}

// Stop turns the share of kind off. It is a no-op when kind is not shared.
func (c *Controller) Stop(kind signal.ContentKind) error {
	c.mu.Lock()
	s := c.active[kind]
	delete(c.active, kind)
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return c.withdraw(s)
}

// StopAll stops both publications whatever their state and rejects later toggles.
// Captures still pending are stopped as soon as they complete.
func (c *Controller) StopAll() error {
	c.mu.Lock()
	c.closed = true
	var streams []*Stream
	for kind, s := range c.active {
		streams = append(streams, s)
		delete(c.active, kind)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := c.withdraw(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) toggle(ctx context.Context, kind signal.ContentKind) error {
	logger := c.logger.With().Str("kind", kind.String()).Logger()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.pending[kind] {
		c.mu.Unlock()
		return ErrTogglePending
	}
	if s := c.active[kind]; s != nil {
		delete(c.active, kind)
		c.mu.Unlock()

		logger.Info().Str("stream", s.ID).Msg("stopping share")
		return c.withdraw(s)
	}
	c.pending[kind] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, kind)
		c.mu.Unlock()
	}()

	s, err := c.source.Capture(ctx, kind)
	if err != nil {
		logger.Warn().Err(err).Msg("capture failed")
		return fmt.Errorf("could not capture %s: %w", kind, err)
	}
	s.Kind = kind

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		logger.Info().Str("stream", s.ID).Msg("controller closed while capturing")
		return errors.Join(ErrClosed, s.Stop())
	}

	if err := c.publish(s, &logger); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		logger.Info().Str("stream", s.ID).Msg("controller closed while publishing")
		return errors.Join(ErrClosed, c.withdraw(s))
	}
	c.active[kind] = s
	c.mu.Unlock()

	logger.Info().Str("stream", s.ID).Int("tracks", len(s.Tracks)).Msg("started share")
	return nil
}

// publish tags s, announces it, previews it, then adds its tracks to the session.
// On failure everything done so far is undone.
func (c *Controller) publish(s *Stream, logger *zerolog.Logger) error {
	c.registry.Tag(s.ID, s.Kind)
	if err := c.announce(signal.StreamInfo{StreamID: s.ID, ContentKind: s.Kind}); err != nil {
		logger.Warn().Err(err).Str("stream", s.ID).Msg("could not announce stream")
	}
	if c.preview != nil {
		c.preview.Attach(s)
	}

	fresh := false
	for i, t := range s.Tracks {
		created, err := c.session.AddTrack(t)
		fresh = fresh || created
		if err == nil {
			continue
		}

		logger.Err(err).Str("track", t.ID()).Msg("could not add track")
		for _, added := range s.Tracks[:i] {
			if rmErr := c.session.RemoveTrack(added.ID()); rmErr != nil {
				logger.Debug().Err(rmErr).Str("track", added.ID()).Msg("could not remove track")
			}
		}
		if fresh {
			if dErr := c.session.Destroy(); dErr != nil {
				logger.Err(dErr).Msg("could not destroy session")
			}
		}
		if c.preview != nil {
			c.preview.Detach(s)
		}
		return errors.Join(fmt.Errorf("could not publish %s: %w", s.Kind, err), s.Stop())
	}
	return nil
}

// withdraw stops every track of s and removes it from the preview and the session.
func (c *Controller) withdraw(s *Stream) error {
	err := s.Stop()
	if c.preview != nil {
		c.preview.Detach(s)
	}
	for _, t := range s.Tracks {
		if rmErr := c.session.RemoveTrack(t.ID()); rmErr != nil {
			c.logger.Debug().Err(rmErr).Str("track", t.ID()).Msg("could not remove track")
		}
	}
	return err
}
