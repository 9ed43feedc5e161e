package app

import (
	"context"
	"log"
	"time"

	"medprep-battle-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Watcher turns the coarse change feed into a stream of full room snapshots.
// It never trusts deltas: any signal (or the poll backstop) triggers a fresh
// read, deduplicated across subscribers with singleflight, and snapshots whose
// version hasn't moved are dropped. Correctness never depends on the poll
// interval; the countdown math is timestamp-based.
type Watcher struct {
	rooms    RoomRepository
	feed     ChangeFeed
	interval time.Duration
	sf       singleflight.Group
}

const defaultPollInterval = 3 * time.Second

func NewWatcher(rooms RoomRepository, feed ChangeFeed, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{rooms: rooms, feed: feed, interval: interval}
}

// Watch delivers the current snapshot immediately, then a new one whenever the
// room's version changes. The caller must invoke cancel to release the feed
// subscription. A slow consumer only ever misses intermediate snapshots, never
// the latest one.
func (w *Watcher) Watch(ctx context.Context, roomID string) (<-chan domain.RoomSnapshot, func(), error) {
	initial, err := w.fetch(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	signals, unsubscribe, err := w.feed.Subscribe(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan domain.RoomSnapshot, 8)
	watchCtx, cancelCtx := context.WithCancel(ctx)
	cancel := func() {
		cancelCtx()
		unsubscribe()
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		last := initial.Room.Version
		w.deliver(out, initial)

		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
			case <-ticker.C:
			}

			snap, err := w.fetch(watchCtx, roomID)
			if err != nil {
				if watchCtx.Err() != nil {
					return
				}
				log.Printf("watcher: fetch room %s: %v", roomID, err)
				continue
			}
			if snap.Room.Version == last {
				continue
			}
			last = snap.Room.Version
			w.deliver(out, snap)
		}
	}()

	return out, cancel, nil
}

func (w *Watcher) fetch(ctx context.Context, roomID string) (domain.RoomSnapshot, error) {
	v, err, _ := w.sf.Do(roomID, func() (interface{}, error) {
		return w.rooms.GetRoom(ctx, roomID)
	})
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return v.(domain.RoomSnapshot), nil
}

func (w *Watcher) deliver(out chan domain.RoomSnapshot, snap domain.RoomSnapshot) {
	select {
	case out <- snap:
	default:
		// Replace the stale pending snapshot with the fresh one.
		select {
		case <-out:
		default:
		}
		out <- snap
	}
}
