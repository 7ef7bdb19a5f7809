// Package room ties the capture controller, the peer manager and the signaling
// relay of one room together.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/capture"
	"github.com/SB-IM/peerchat/internal/peer"
	"github.com/SB-IM/peerchat/internal/relay"
	"github.com/SB-IM/peerchat/internal/signal"
	"github.com/SB-IM/peerchat/internal/tagging"
)

var (
	ErrNotJoined     = errors.New("room not joined")
	ErrAlreadyJoined = errors.New("room already joined")
	ErrLeft          = errors.New("room left")
)

// Config configures a Room.
type Config struct {
	Peer    peer.Config
	Preview capture.Preview
	// OnStateChange is called on every state change with the Room's lock held.
	OnStateChange func(State)
}

// Room is one participant's session in a named room.
type Room struct {
	id       string
	relay    relay.Relay
	registry *tagging.Registry
	capture  *capture.Controller
	peer     *peer.Manager
	config   Config
	logger   zerolog.Logger

	mu          sync.Mutex
	state       State
	unsubscribe func()
}

// NewPeerID returns a random peer id.
func NewPeerID() string {
	return uuid.NewString()
}

// New returns an idle Room signaling through r.
func New(id string, r relay.Relay, source capture.Source, sinks peer.Sinks, config Config, logger *zerolog.Logger) *Room {
	l := logger.With().Str("room", id).Logger()
	room := &Room{
		id:       id,
		relay:    r,
		registry: tagging.New(),
		config:   config,
		logger:   l,
	}

	peerConfig := config.Peer
	peerConfig.OnStateChange = room.onPeerState
	room.peer = peer.New(peerConfig, r.Publish, room.registry, sinks, &l)
	room.capture = capture.NewController(source, room.peer, room.registry, room.announce, config.Preview, &l)
	return room
}

func (r *Room) ID() string {
	return r.id
}

// State returns the current state.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Sharing reports whether media of kind is being published.
func (r *Room) Sharing(kind signal.ContentKind) bool {
	return r.capture.Active(kind)
}

// Publication returns the local stream published for kind, nil when not sharing.
func (r *Room) Publication(kind signal.ContentKind) *capture.Stream {
	return r.capture.Publication(kind)
}

// Join subscribes to the room's messages and announces this peer on the relay.
func (r *Room) Join(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Idle:
	case Left:
		return ErrLeft
	default:
		return ErrAlreadyJoined
	}

	unsubscribe := r.relay.Subscribe(r.dispatch)
	if err := r.relay.Join(ctx, r.id); err != nil {
		unsubscribe()
		return fmt.Errorf("could not join room %s: %w", r.id, err)
	}
	r.unsubscribe = unsubscribe
	r.setState(Joined)
	r.logger.Info().Msg("joined room")
	return nil
}

// ToggleScreenShare starts or stops sharing the screen.
func (r *Room) ToggleScreenShare(ctx context.Context) error {
	if err := r.joined(); err != nil {
		return err
	}
	return r.capture.ToggleScreenShare(ctx)
}

// ToggleMicrophoneShare starts or stops sharing the microphone.
func (r *Room) ToggleMicrophoneShare(ctx context.Context) error {
	if err := r.joined(); err != nil {
		return err
	}
	return r.capture.ToggleMicrophoneShare(ctx)
}

// Leave closes the peer session, stops every local media and stops listening to
// the room. Leaving twice is a no-op.
func (r *Room) Leave() error {
	r.mu.Lock()
	if r.state == Left {
		r.mu.Unlock()
		return nil
	}
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.setState(Left)
	r.mu.Unlock()

	var errs []error
	// Closing the peer first keeps withdrawn tracks from triggering another offer
	// and pending captures from recreating the session.
	if err := r.peer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.capture.StopAll(); err != nil {
		errs = append(errs, fmt.Errorf("could not stop media: %w", err))
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if err := r.relay.Close(); err != nil {
		errs = append(errs, fmt.Errorf("could not close relay: %w", err))
	}
	r.logger.Info().Msg("left room")
	return errors.Join(errs...)
}

func (r *Room) joined() error {
	switch r.State() {
	case Idle:
		return ErrNotJoined
	case Left:
		return ErrLeft
	default:
		return nil
	}
}

func (r *Room) announce(info signal.StreamInfo) error {
	return r.relay.Publish(info)
}

// dispatch handles a message from the other peer of the room.
func (r *Room) dispatch(msg signal.Message) {
	if r.State() == Left {
		return
	}

	var err error
	switch m := msg.(type) {
	case signal.VideoOffer:
		err = r.peer.HandleOffer(m.SDP)
	case signal.VideoAnswer:
		err = r.peer.HandleAnswer(m.SDP)
	case signal.NewICECandidate:
		err = r.peer.HandleCandidate(m.Candidate)
	case signal.StreamInfo:
		r.registry.Tag(m.StreamID, m.ContentKind)
	default:
		err = fmt.Errorf("%w: %T", signal.ErrUnknownType, msg)
	}
	if err != nil {
		r.logger.Err(err).Str("type", string(msg.Type())).Msg("could not handle message")
	}
}

func (r *Room) onPeerState(s peer.State, conn webrtc.PeerConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Idle || r.state == Left {
		return
	}
	switch {
	case s == peer.NoSession:
		r.setState(Joined)
	case s == peer.Stable && conn == webrtc.PeerConnectionStateConnected:
		r.setState(Connected)
	case conn == webrtc.PeerConnectionStateFailed || conn == webrtc.PeerConnectionStateClosed:
		r.setState(Joined)
	default:
		r.setState(Negotiating)
	}
}

// setState must be called with r.mu held.
func (r *Room) setState(s State) {
	if r.state == s {
		return
	}
	r.logger.Debug().Str("from", r.state.String()).Str("to", s.String()).Msg("room state changed")
	r.state = s
	if r.config.OnStateChange != nil {
		r.config.OnStateChange(s)
	}
}
