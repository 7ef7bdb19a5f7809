// Package relay defines the room scoped pub/sub channel peers signal through.
//
// A relay delivers best effort: messages may be lost, duplicated or reordered,
// and a peer never receives its own messages.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/SB-IM/peerchat/internal/signal"
)

var (
	ErrNotJoined = errors.New("relay: room not joined")
	ErrClosed    = errors.New("relay: closed")
)

// Handler receives messages published by the other members of the room.
type Handler func(msg signal.Message)

// Relay is a signaling channel scoped to one room.
type Relay interface {
	// Join sends the join message carrying room and starts delivering the room's messages.
	Join(ctx context.Context, room string) error
	// Publish sends msg to everyone else in the room. It does not wait for delivery.
	Publish(msg signal.Message) error
	// Subscribe registers h and returns a function removing it.
	Subscribe(h Handler) (unsubscribe func())
	Close() error
}

// Subscribers is a set of handlers safe for concurrent use.
// Relay implementations embed it to implement Subscribe.
type Subscribers struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func (s *Subscribers) Subscribe(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers == nil {
		s.handlers = make(map[int]Handler)
	}
	id := s.next
	s.next++
	s.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// Dispatch calls every handler with msg.
func (s *Subscribers) Dispatch(msg signal.Message) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Len returns the number of handlers.
func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}
