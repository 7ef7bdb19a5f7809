package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/SB-IM/peerchat/internal/signal"
)

func TestByKind(t *testing.T) {
	screen := &fakeSource{}
	source := ByKind{Screen: screen}

	s, err := source.Capture(context.Background(), signal.KindScreen)
	if err != nil {
		t.Fatal(err)
	}
	if len(screen.streams) != 1 || screen.streams[0] != s {
		t.Fatal("screen capture did not reach the screen source")
	}
	if _, err := source.Capture(context.Background(), signal.KindAudio); !errors.Is(err, ErrKindUnsupported) {
		t.Fatalf("error is incorrect, got %v want %v", err, ErrKindUnsupported)
	}
}
