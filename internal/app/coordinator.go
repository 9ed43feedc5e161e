package app

import (
	"context"
	"sync"
	"time"
)

// Coordinator runs at most one reconciler per room per process, refcounted by
// connected clients. Multiple processes may reconcile the same room; the
// conditional writes keep that safe.
type Coordinator struct {
	svc     *BattleService
	watcher *Watcher
	clock   func() time.Time
	tick    time.Duration

	mu    sync.Mutex
	rooms map[string]*roomHandle
}

type roomHandle struct {
	refs   int
	cancel func()
}

func NewCoordinator(svc *BattleService, watcher *Watcher, clock func() time.Time, tick time.Duration) *Coordinator {
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		svc:     svc,
		watcher: watcher,
		clock:   clock,
		tick:    tick,
		rooms:   make(map[string]*roomHandle),
	}
}

// Acquire ensures a reconciler is running for the room and takes a reference.
func (c *Coordinator) Acquire(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.rooms[roomID]; ok {
		h.refs++
		return nil
	}

	// The reconciler outlives any single connection; it stops when the last
	// reference is released or the room completes.
	runCtx, cancelRun := context.WithCancel(context.Background())
	snaps, cancelWatch, err := c.watcher.Watch(runCtx, roomID)
	if err != nil {
		cancelRun()
		return err
	}
	c.rooms[roomID] = &roomHandle{
		refs: 1,
		cancel: func() {
			cancelWatch()
			cancelRun()
		},
	}

	rec := NewReconciler(c.svc, c.clock, c.tick)
	go rec.Run(runCtx, roomID, snaps)
	return nil
}

// Release drops a reference; the last one stops the room's reconciler and
// discards the room's local score session.
func (c *Coordinator) Release(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.rooms[roomID]
	if !ok {
		return
	}
	h.refs--
	if h.refs <= 0 {
		h.cancel()
		delete(c.rooms, roomID)
		c.svc.DropScores(roomID)
	}
}
