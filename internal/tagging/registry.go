// Package tagging records which content kind every media stream of a room carries.
package tagging

import (
	"context"
	"sync"

	"github.com/SB-IM/peerchat/internal/signal"
)

// Registry maps stream ids to content kinds. Entries live as long as the room session.
type Registry struct {
	mu      sync.Mutex
	kinds   map[string]signal.ContentKind
	waiters map[string][]chan signal.ContentKind
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		kinds:   make(map[string]signal.ContentKind),
		waiters: make(map[string][]chan signal.ContentKind),
	}
}

// Tag records the kind of streamID and wakes up everyone waiting for it.
func (r *Registry) Tag(streamID string, kind signal.ContentKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kinds[streamID] = kind
	for _, ch := range r.waiters[streamID] {
		ch <- kind
	}
	delete(r.waiters, streamID)
}

// Lookup returns the kind of streamID if it was tagged.
func (r *Registry) Lookup(streamID string) (signal.ContentKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind, ok := r.kinds[streamID]
	return kind, ok
}

// Wait blocks until streamID is tagged or ctx is done.
func (r *Registry) Wait(ctx context.Context, streamID string) (signal.ContentKind, error) {
	r.mu.Lock()
	if kind, ok := r.kinds[streamID]; ok {
		r.mu.Unlock()
		return kind, nil
	}
	ch := make(chan signal.ContentKind, 1)
	r.waiters[streamID] = append(r.waiters[streamID], ch)
	r.mu.Unlock()

	select {
	case kind := <-ch:
		return kind, nil
	case <-ctx.Done():
		r.removeWaiter(streamID, ch)
		return "", ctx.Err()
	}
}

func (r *Registry) removeWaiter(streamID string, ch chan signal.ContentKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chans := r.waiters[streamID]
	for i, c := range chans {
		if c == ch {
			r.waiters[streamID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(r.waiters[streamID]) == 0 {
		delete(r.waiters, streamID)
	}
}

// Len returns the number of tagged streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kinds)
}
