package wsrelay

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SB-IM/peerchat/internal/relay"
	"github.com/SB-IM/peerchat/internal/relay/hub"
	"github.com/SB-IM/peerchat/internal/signal"
)

func TestRelayThroughHub(t *testing.T) {
	logger := zerolog.Nop()
	h := hub.New(hub.ConfigOptions{Path: "/v1/room"}, &logger)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/room"

	for _, codec := range []signal.Codec{signal.JSON{}, signal.MsgPack{}} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			room := "room-" + codec.Name()
			a := New(url, "a", codec, &logger)
			b := New(url, "b", codec, &logger)
			defer a.Close()
			defer b.Close()

			if err := a.Publish(signal.StreamInfo{StreamID: "s", ContentKind: signal.KindScreen}); !errors.Is(err, relay.ErrNotJoined) {
				t.Fatalf("error is incorrect, got %v want %v", err, relay.ErrNotJoined)
			}

			got := make(chan signal.Message, 1)
			b.Subscribe(func(m signal.Message) { got <- m })

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, r := range []*Relay{a, b} {
				if err := r.Join(ctx, room); err != nil {
					t.Fatalf("could not join: %v", err)
				}
			}
			waitMembers(t, h, room, 2)

			want := signal.StreamInfo{StreamID: "screen-1", ContentKind: signal.KindScreen}
			if err := a.Publish(want); err != nil {
				t.Fatal(err)
			}
			select {
			case m := <-got:
				if m != signal.Message(want) {
					t.Fatalf("message is incorrect, got %+v want %+v", m, want)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out receiving message")
			}

			if err := a.Close(); err != nil {
				t.Fatal(err)
			}
			if err := a.Publish(want); !errors.Is(err, relay.ErrClosed) {
				t.Fatalf("error is incorrect, got %v want %v", err, relay.ErrClosed)
			}
			waitMembers(t, h, room, 1)
		})
	}
}

func waitMembers(t *testing.T, h *hub.Hub, room string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Members(room) != want {
		if time.Now().After(deadline) {
			t.Fatalf("members are incorrect, got %d want %d", h.Members(room), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
