package app

import (
	"context"
	"log"
	"time"
)

// Reaper sweeps abandoned rooms: zero participants with nobody coming back
// would otherwise leave status stuck at waiting or in_progress forever. Each
// close is a conditional write, so concurrent reapers (or a last-second join)
// are safe.
type Reaper struct {
	svc      *BattleService
	interval time.Duration
	grace    time.Duration
}

const (
	defaultReapInterval = time.Minute
	defaultReapGrace    = 2 * time.Minute
)

func NewReaper(svc *BattleService, interval, grace time.Duration) *Reaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	if grace <= 0 {
		grace = defaultReapGrace
	}
	return &Reaper{svc: svc, interval: interval, grace: grace}
}

// Run sweeps until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep closes every abandoned room once and returns how many were closed.
func (r *Reaper) Sweep(ctx context.Context) int {
	snaps, err := r.svc.ListOpenRooms(ctx)
	if err != nil {
		log.Printf("reaper: list rooms: %v", err)
		return 0
	}
	closed := 0
	for _, snap := range snaps {
		if len(snap.Participants) > 0 {
			continue
		}
		applied, err := r.svc.CloseAbandoned(ctx, snap.Room.ID, r.grace)
		if err != nil {
			log.Printf("reaper: close room %s: %v", snap.Room.ID, err)
			continue
		}
		if applied {
			closed++
		}
	}
	return closed
}
