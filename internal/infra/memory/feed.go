package memory

import (
	"context"
	"sync"
)

// Feed is an in-process implementation of app.ChangeFeed. Signals are
// coalesced per subscriber: a buffered single-slot channel means a burst of
// publishes collapses into one pending signal, which is fine because
// consumers re-fetch full state anyway.
type Feed struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[chan struct{}]struct{})}
}

func (f *Feed) Publish(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[roomID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *Feed) Subscribe(_ context.Context, roomID string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[chan struct{}]struct{})
	}
	f.subs[roomID][ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if set, ok := f.subs[roomID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(f.subs, roomID)
			}
		}
	}
	return ch, cancel, nil
}
