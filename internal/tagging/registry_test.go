package tagging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SB-IM/peerchat/internal/signal"
)

func TestTagLookup(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("s1"); ok {
		t.Fatal("untagged stream should not be found")
	}

	r.Tag("s1", signal.KindScreen)
	r.Tag("s2", signal.KindAudio)
	if kind, ok := r.Lookup("s1"); !ok || kind != signal.KindScreen {
		t.Fatalf("kind is incorrect, got %s want %s", kind, signal.KindScreen)
	}

	t.Run("overwrite", func(t *testing.T) {
		r.Tag("s1", signal.KindAudio)
		if kind, _ := r.Lookup("s1"); kind != signal.KindAudio {
			t.Fatalf("kind is incorrect, got %s want %s", kind, signal.KindAudio)
		}
		if r.Len() != 2 {
			t.Fatalf("registry size is incorrect, got %d want %d", r.Len(), 2)
		}
	})
}

func TestWait(t *testing.T) {
	t.Run("already tagged", func(t *testing.T) {
		r := New()
		r.Tag("s1", signal.KindScreen)
		kind, err := r.Wait(context.Background(), "s1")
		if err != nil || kind != signal.KindScreen {
			t.Fatalf("got %s, %v want %s", kind, err, signal.KindScreen)
		}
	})

	t.Run("tagged later", func(t *testing.T) {
		r := New()
		go func() {
			time.Sleep(20 * time.Millisecond)
			r.Tag("s1", signal.KindAudio)
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		kind, err := r.Wait(ctx, "s1")
		if err != nil || kind != signal.KindAudio {
			t.Fatalf("got %s, %v want %s", kind, err, signal.KindAudio)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		r := New()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := r.Wait(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("error is incorrect, got %v want %v", err, context.DeadlineExceeded)
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if len(r.waiters) != 0 {
			t.Fatalf("waiters should be released, got %d", len(r.waiters))
		}
	})
}
