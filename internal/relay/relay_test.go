package relay

import (
	"testing"

	"github.com/SB-IM/peerchat/internal/signal"
)

func TestSubscribers(t *testing.T) {
	var s Subscribers
	var a, b int
	unsubA := s.Subscribe(func(signal.Message) { a++ })
	s.Subscribe(func(signal.Message) { b++ })

	msg := signal.StreamInfo{StreamID: "s", ContentKind: signal.KindScreen}
	s.Dispatch(msg)
	unsubA()
	unsubA()
	s.Dispatch(msg)

	if a != 1 || b != 2 {
		t.Fatalf("deliveries are incorrect, got a=%d b=%d want a=1 b=2", a, b)
	}
	if s.Len() != 1 {
		t.Fatalf("handler count is incorrect, got %d want %d", s.Len(), 1)
	}
}
