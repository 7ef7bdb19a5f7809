// Package peer owns the single peer connection of a room and drives its offer/answer
// and candidate exchange.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/logging"
	"github.com/SB-IM/peerchat/internal/signal"
	"github.com/SB-IM/peerchat/internal/sink"
	"github.com/SB-IM/peerchat/internal/tagging"
)

const (
	DefaultTagWait = time.Second * 5

	maxPendingCandidates = 64
)

var (
	// ErrNoSession is returned by operations needing a peer connection when there is none.
	ErrNoSession = errors.New("no peer session")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("peer manager closed")
)

// Publisher sends a signaling message to the remote peer.
type Publisher func(msg signal.Message) error

// StateObserver is told about every state change. It is called with the Manager's
// lock held and must not call back into the Manager.
type StateObserver func(state State, conn webrtc.PeerConnectionState)

// Config configures a Manager.
type Config struct {
	ICEServers []webrtc.ICEServer
	// TagWait bounds how long an untagged remote track waits for its stream-info.
	TagWait       time.Duration
	PLIInterval   time.Duration
	OnStateChange StateObserver

	// NetworkTypes restricts ICE candidates, all types when empty.
	NetworkTypes    []webrtc.NetworkType
	IncludeLoopback bool
}

// Sinks receive remote tracks by content kind.
type Sinks struct {
	Video sink.Sink
	Audio sink.Sink
}

// Manager holds at most one peer connection. Create and Destroy are the only
// functions setting it.
type Manager struct {
	config   Config
	api      *webrtc.API
	publish  Publisher
	registry *tagging.Registry
	sinks    Sinks
	logger   zerolog.Logger

	// negotiation serializes description and candidate handling.
	negotiation sync.Mutex

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	ctx       context.Context
	cancel    context.CancelFunc
	state     State
	connState webrtc.PeerConnectionState
	pending   []webrtc.ICECandidateInit
	senders   map[string]*webrtc.RTPSender
	closed    bool
}

// New returns a Manager without session.
func New(config Config, publish Publisher, registry *tagging.Registry, sinks Sinks, logger *zerolog.Logger) *Manager {
	if config.TagWait <= 0 {
		config.TagWait = DefaultTagWait
	}
	if config.PLIInterval <= 0 {
		config.PLIInterval = sink.DefaultPLIInterval
	}
	l := logger.With().Str("component", "peer").Logger()
	if sinks.Video == nil {
		sinks.Video = sink.Discard{Logger: &l}
	}
	if sinks.Audio == nil {
		sinks.Audio = sink.Discard{Logger: &l}
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: logging.NewPionLoggerFactory(&l),
	}
	if len(config.NetworkTypes) > 0 {
		settingEngine.SetNetworkTypes(config.NetworkTypes)
	}
	settingEngine.SetIncludeLoopbackCandidate(config.IncludeLoopback)

	return &Manager{
		config:   config,
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		publish:  publish,
		registry: registry,
		sinks:    sinks,
		logger:   l,
		senders:  make(map[string]*webrtc.RTPSender),
	}
}

// State returns the negotiation state and the last connection state.
func (m *Manager) State() (State, webrtc.PeerConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.connState
}

// Create creates the peer connection unless one exists.
func (m *Manager) Create() (created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create()
}

func (m *Manager) create() (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	if m.pc != nil {
		return false, nil
	}

	pc, err := m.api.NewPeerConnection(webrtc.Configuration{ICEServers: m.config.ICEServers})
	if err != nil {
		return false, fmt.Errorf("could not create PeerConnection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.onTrack(pc, track, receiver)
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		m.onICECandidate(pc, c)
	})
	pc.OnNegotiationNeeded(func() {
		// Runs on the connection's operation queue, negotiating there would block it.
		go m.negotiate(pc)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.onConnectionStateChange(pc, s)
	})

	m.pc = pc
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.connState = webrtc.PeerConnectionStateNew
	m.setState(Negotiating)
	m.logger.Debug().Msg("created PeerConnection")
	return true, nil
}

// Destroy unsubscribes the handlers, stops every transceiver and closes the peer
// connection. It is a no-op without session.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	pc := m.pc
	if pc == nil {
		m.mu.Unlock()
		return nil
	}
	m.pc = nil
	m.cancel()
	m.pending = nil
	m.senders = make(map[string]*webrtc.RTPSender)
	m.connState = webrtc.PeerConnectionStateClosed
	m.setState(NoSession)
	m.mu.Unlock()

	pc.OnTrack(nil)
	pc.OnICECandidate(nil)
	pc.OnNegotiationNeeded(nil)
	pc.OnConnectionStateChange(nil)

	var errs []error
	for _, t := range pc.GetTransceivers() {
		if err := t.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("could not stop transceiver: %w", err))
		}
	}
	if err := pc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("could not close PeerConnection: %w", err))
	}
	m.logger.Debug().Msg("destroyed PeerConnection")
	return errors.Join(errs...)
}

// Close destroys the session and makes the Manager refuse to create another one.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Destroy()
}

// AddTrack sends track to the remote peer, creating the session first if needed.
// Negotiation starts on its own.
func (m *Manager) AddTrack(track webrtc.TrackLocal) (created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created, err = m.create()
	if err != nil {
		return false, err
	}
	sender, err := m.pc.AddTrack(track)
	if err != nil {
		return created, fmt.Errorf("could not add track: %w", err)
	}
	m.senders[track.ID()] = sender
	go processRTCP(sender, &m.logger)

	m.logger.Debug().Str("track", track.ID()).Str("stream", track.StreamID()).Msg("added local track")
	return created, nil
}

// RemoveTrack stops sending the track with trackID. Unknown tracks are ignored.
func (m *Manager) RemoveTrack(trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.senders[trackID]
	if !ok || m.pc == nil {
		return nil
	}
	delete(m.senders, trackID)
	if err := m.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("could not remove track: %w", err)
	}
	return nil
}

// HandleOffer answers a remote offer, creating the session first if needed.
func (m *Manager) HandleOffer(offer webrtc.SessionDescription) error {
	m.negotiation.Lock()
	defer m.negotiation.Unlock()

	m.mu.Lock()
	if _, err := m.create(); err != nil {
		m.mu.Unlock()
		return err
	}
	pc := m.pc
	m.setState(Negotiating)
	m.mu.Unlock()

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("could not set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("could not create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("could not set local description: %w", err)
	}
	if err := m.publish(signal.VideoAnswer{SDP: answer}); err != nil {
		return fmt.Errorf("could not send answer: %w", err)
	}

	m.flushCandidates(pc)
	m.settle(pc)
	return nil
}

// HandleAnswer applies the remote answer to the offer in flight.
func (m *Manager) HandleAnswer(answer webrtc.SessionDescription) error {
	m.negotiation.Lock()
	defer m.negotiation.Unlock()

	pc := m.current()
	if pc == nil {
		return ErrNoSession
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("could not set remote description: %w", err)
	}

	m.flushCandidates(pc)
	m.settle(pc)
	return nil
}

// HandleCandidate applies a remote candidate. Candidates arriving before the
// session or its remote description are queued and applied once the remote
// description is set.
func (m *Manager) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	m.negotiation.Lock()
	defer m.negotiation.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	pc := m.pc
	if pc == nil || pc.RemoteDescription() == nil {
		if len(m.pending) == maxPendingCandidates {
			m.logger.Warn().Str("candidate", m.pending[0].Candidate).Msg("pending candidates full, dropped oldest")
			m.pending = m.pending[1:]
		}
		m.pending = append(m.pending, candidate)
		m.mu.Unlock()

		m.logger.Debug().Str("candidate", candidate.Candidate).Msg("queued remote candidate")
		return nil
	}
	m.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("could not add ICE candidate: %w", err)
	}
	return nil
}

// Pending returns the number of queued remote candidates.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) current() *webrtc.PeerConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pc
}

func (m *Manager) isCurrent(pc *webrtc.PeerConnection) bool {
	return m.current() == pc
}

// setState must be called with m.mu held.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("negotiation state changed")
	m.state = s
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(m.state, m.connState)
	}
}

// settle marks the session stable once pc has no exchange in flight.
func (m *Manager) settle(pc *webrtc.PeerConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == pc && pc.SignalingState() == webrtc.SignalingStateStable {
		m.setState(Stable)
	}
}

func (m *Manager) flushCandidates(pc *webrtc.PeerConnection) {
	m.mu.Lock()
	if m.pc != pc {
		m.mu.Unlock()
		return
	}
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			m.logger.Err(err).Str("candidate", c.Candidate).Msg("could not add queued ICE candidate")
		}
	}
}

// negotiate sends an offer for the current local tracks.
func (m *Manager) negotiate(pc *webrtc.PeerConnection) {
	m.negotiation.Lock()
	defer m.negotiation.Unlock()

	m.mu.Lock()
	if m.pc != pc {
		m.mu.Unlock()
		return
	}
	m.setState(Negotiating)
	m.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.logger.Err(err).Msg("could not create offer")
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.logger.Err(err).Msg("could not set local description")
		return
	}
	if !m.isCurrent(pc) {
		return
	}
	if err := m.publish(signal.VideoOffer{SDP: offer}); err != nil {
		m.logger.Err(err).Msg("could not send offer")
		return
	}
	m.logger.Debug().Msg("sent offer")
}

func (m *Manager) onICECandidate(pc *webrtc.PeerConnection, c *webrtc.ICECandidate) {
	if c == nil || !m.isCurrent(pc) {
		return
	}
	if err := m.publish(signal.NewICECandidate{Candidate: c.ToJSON()}); err != nil {
		m.logger.Err(err).Msg("could not send ICE candidate")
	}
}

func (m *Manager) onConnectionStateChange(pc *webrtc.PeerConnection, s webrtc.PeerConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc != pc {
		return
	}
	// Handlers run on their own goroutines, so s may be stale.
	s = pc.ConnectionState()
	m.logger.Debug().Str("state", s.String()).Msg("connection state has changed")
	m.connState = s
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(m.state, s)
	}
}

// onTrack routes a remote track to the sink of its stream's content kind.
func (m *Manager) onTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	m.mu.Lock()
	if m.pc != pc {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	logger := m.logger.With().
		Str("track", track.ID()).
		Str("stream", track.StreamID()).
		Str("kind", track.Kind().String()).
		Logger()

	kind, ok := m.registry.Lookup(track.StreamID())
	if !ok {
		logger.Debug().Dur("wait", m.config.TagWait).Msg("waiting for stream info")
		waitCtx, cancel := context.WithTimeout(ctx, m.config.TagWait)
		var err error
		kind, err = m.registry.Wait(waitCtx, track.StreamID())
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			kind = fallbackKind(track.Kind())
			logger.Warn().Str("fallback", kind.String()).Msg("no stream info for remote track")
		}
	}

	target := m.sinks.Audio
	if kind == signal.KindScreen {
		target = m.sinks.Video
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go sink.RequestKeyframes(ctx, pc, track.SSRC(), m.config.PLIInterval, &logger)
	}

	logger.Info().Str("content_kind", kind.String()).Msg("routing remote track")
	target.Attach(track, receiver)
}

func fallbackKind(kind webrtc.RTPCodecType) signal.ContentKind {
	if kind == webrtc.RTPCodecTypeVideo {
		return signal.KindScreen
	}
	return signal.KindAudio
}

// processRTCP reads incoming RTCP packets so interceptors like NACK keep working.
func processRTCP(sender *webrtc.RTPSender, logger *zerolog.Logger) {
	rtcpBuf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(rtcpBuf); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Msg("RTCP read loop stopped")
			}
			return
		}
	}
}
