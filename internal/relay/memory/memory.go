// Package memory is an in-process relay. Every frame goes through a signal.Codec
// so peers sharing a hub see exactly what a network relay would carry.
package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/relay"
	"github.com/SB-IM/peerchat/internal/signal"
)

const inboxSize = 256

// Hub connects in-process relays joined to the same room.
type Hub struct {
	codec  signal.Codec
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]map[*Relay]struct{}
	drop  func(env *signal.Envelope) bool
	taps  []func(env *signal.Envelope)
}

// NewHub returns a hub framing messages with codec.
func NewHub(codec signal.Codec, logger *zerolog.Logger) *Hub {
	return &Hub{
		codec:  codec,
		logger: logger.With().Str("component", "memory-relay").Logger(),
		rooms:  make(map[string]map[*Relay]struct{}),
	}
}

// DropIf makes the hub discard every envelope fn returns true for.
func (h *Hub) DropIf(fn func(env *signal.Envelope) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = fn
}

// Tap registers fn to observe every delivered envelope.
func (h *Hub) Tap(fn func(env *signal.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps = append(h.taps, fn)
}

// Members returns the number of relays joined to room.
func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Relay returns a new relay sending as peerID.
func (h *Hub) Relay(peerID string) *Relay {
	r := &Relay{
		hub:    h,
		peerID: peerID,
		inbox:  make(chan []byte, inboxSize),
		done:   make(chan struct{}),
	}
	go r.deliver()
	return r
}

func (h *Hub) publish(from *Relay, payload []byte) {
	env, err := h.codec.Unmarshal(payload)
	if err != nil {
		h.logger.Err(err).Msg("could not decode frame")
		return
	}

	h.mu.Lock()
	drop := h.drop != nil && h.drop(env)
	taps := append([]func(*signal.Envelope){}, h.taps...)
	var members []*Relay
	for r := range h.rooms[from.room] {
		if r != from {
			members = append(members, r)
		}
	}
	h.mu.Unlock()

	if drop {
		h.logger.Debug().Str("type", string(env.Message.Type())).Str("from", env.From).Msg("dropped frame")
		return
	}
	for _, tap := range taps {
		tap(env)
	}
	for _, r := range members {
		select {
		case r.inbox <- payload:
		default:
			h.logger.Warn().Str("peer", r.peerID).Msg("inbox full, dropped frame")
		}
	}
}

func (h *Hub) join(r *Relay, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Relay]struct{})
	}
	h.rooms[room][r] = struct{}{}
}

func (h *Hub) leave(r *Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[r.room]
	delete(members, r)
	if len(members) == 0 {
		delete(h.rooms, r.room)
	}
}

// Relay is one peer's end of a Hub.
type Relay struct {
	relay.Subscribers

	hub    *Hub
	peerID string
	inbox  chan []byte

	mu     sync.Mutex
	room   string
	closed bool
	done   chan struct{}
}

var _ relay.Relay = (*Relay)(nil)

func (r *Relay) Join(_ context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return relay.ErrClosed
	}
	if r.room != "" {
		r.hub.leave(r)
	}
	r.room = room
	r.hub.join(r, room)
	return nil
}

func (r *Relay) Publish(msg signal.Message) error {
	r.mu.Lock()
	room, closed := r.room, r.closed
	r.mu.Unlock()

	if closed {
		return relay.ErrClosed
	}
	if room == "" {
		return relay.ErrNotJoined
	}
	payload, err := r.hub.codec.Marshal(&signal.Envelope{From: r.peerID, Message: msg})
	if err != nil {
		return err
	}
	r.hub.publish(r, payload)
	return nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.room != "" {
		r.hub.leave(r)
	}
	close(r.done)
	return nil
}

func (r *Relay) deliver() {
	for {
		select {
		case payload := <-r.inbox:
			env, err := r.hub.codec.Unmarshal(payload)
			if err != nil {
				r.hub.logger.Err(err).Msg("could not decode frame")
				continue
			}
			r.Dispatch(env.Message)
		case <-r.done:
			return
		}
	}
}
