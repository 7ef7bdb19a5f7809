package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/relay"
	"github.com/SB-IM/peerchat/internal/signal"
)

func TestHub(t *testing.T) {
	logger := zerolog.Nop()
	hub := NewHub(signal.MsgPack{}, &logger)
	ctx := context.Background()

	a, b, c := hub.Relay("a"), hub.Relay("b"), hub.Relay("c")
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if err := a.Publish(signal.StreamInfo{StreamID: "s", ContentKind: signal.KindAudio}); !errors.Is(err, relay.ErrNotJoined) {
		t.Fatalf("error is incorrect, got %v want %v", err, relay.ErrNotJoined)
	}

	for _, r := range []*Relay{a, b} {
		if err := r.Join(ctx, "room-1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Join(ctx, "room-2"); err != nil {
		t.Fatal(err)
	}

	gotA := make(chan signal.Message, 1)
	gotB := make(chan signal.Message, 1)
	gotC := make(chan signal.Message, 1)
	a.Subscribe(func(m signal.Message) { gotA <- m })
	b.Subscribe(func(m signal.Message) { gotB <- m })
	c.Subscribe(func(m signal.Message) { gotC <- m })

	want := signal.StreamInfo{StreamID: "s", ContentKind: signal.KindScreen}
	if err := a.Publish(want); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-gotB:
		if m != want {
			t.Fatalf("message is incorrect, got %+v want %+v", m, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out receiving message")
	}
	select {
	case m := <-gotA:
		t.Fatalf("sender should not receive its own message, got %+v", m)
	case m := <-gotC:
		t.Fatalf("other rooms should not receive the message, got %+v", m)
	case <-time.After(50 * time.Millisecond):
	}

	t.Run("drop", func(t *testing.T) {
		hub.DropIf(func(env *signal.Envelope) bool { return env.From == "b" })
		defer hub.DropIf(nil)
		if err := b.Publish(want); err != nil {
			t.Fatal(err)
		}
		select {
		case m := <-gotA:
			t.Fatalf("dropped message was delivered: %+v", m)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("close", func(t *testing.T) {
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
		if err := b.Close(); err != nil {
			t.Fatal(err)
		}
		if hub.Members("room-1") != 1 {
			t.Fatalf("members are incorrect, got %d want %d", hub.Members("room-1"), 1)
		}
		if err := b.Publish(want); !errors.Is(err, relay.ErrClosed) {
			t.Fatalf("error is incorrect, got %v want %v", err, relay.ErrClosed)
		}
	})
}
