package app

import (
	"context"
	"log"
	"time"

	"medprep-battle-service/internal/domain"
)

// Reconciler drives one room's countdown and self-healing. It derives the
// remaining time purely from the shared countdown_start timestamp, recomputed
// on every local tick and from scratch on every fresh snapshot, so clients
// with different clocks and latencies converge on the same countdown. The
// first reconciler to observe an elapsed countdown issues the conditional
// waiting -> in_progress transition; losers of that race no-op.
type Reconciler struct {
	svc   *BattleService
	clock func() time.Time
	tick  time.Duration
}

const defaultReconcileTick = time.Second

func NewReconciler(svc *BattleService, clock func() time.Time, tick time.Duration) *Reconciler {
	if clock == nil {
		clock = time.Now
	}
	if tick <= 0 {
		tick = defaultReconcileTick
	}
	return &Reconciler{svc: svc, clock: clock, tick: tick}
}

// Run consumes the room's snapshot stream until the room completes or ctx is
// canceled. Countdown timer work stops the moment in_progress is observed
// from any source; while in progress the reconciler only watches for the
// short-handed revert.
func (r *Reconciler) Run(ctx context.Context, roomID string, snaps <-chan domain.RoomSnapshot) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	var current domain.RoomSnapshot
	have := false
	// One transition attempt per observation; the next snapshot re-arms it.
	fired := false

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			current, have, fired = snap, true, false
			if done := r.reconcile(ctx, current, &fired); done {
				return
			}
		case <-ticker.C:
			if !have || fired {
				continue
			}
			if done := r.reconcile(ctx, current, &fired); done {
				return
			}
		}
	}
}

// reconcile applies every repair that can be derived from the snapshot. All
// writes are conditional on current stored state, so re-running them on every
// observation is safe.
func (r *Reconciler) reconcile(ctx context.Context, snap domain.RoomSnapshot, fired *bool) (done bool) {
	room := snap.Room
	switch room.Status {
	case domain.StatusCompleted:
		return true

	case domain.StatusInProgress:
		if room.AutoStart && !snap.AtCapacity() {
			if _, err := r.svc.RevertIfShortHanded(ctx, room.ID); err != nil {
				log.Printf("reconciler: revert room %s: %v", room.ID, err)
			}
		}
		return false
	}

	// Waiting: re-derive the host from "earliest remaining participant"
	// whenever the recorded one is gone, rather than trusting the leave path
	// to have finished its compound write.
	if len(snap.Participants) > 0 {
		if _, ok := snap.Participant(room.HostID); !ok {
			if _, err := r.svc.RepairHost(ctx, room.ID); err != nil {
				log.Printf("reconciler: repair host %s: %v", room.ID, err)
			}
			return false
		}
	}

	if room.CountdownStart == nil {
		if snap.AtCapacity() {
			if _, err := r.svc.ArmCountdown(ctx, room.ID); err != nil {
				log.Printf("reconciler: arm countdown %s: %v", room.ID, err)
			}
		}
		return false
	}

	if domain.RemainingCountdown(room.BattleType, *room.CountdownStart, r.clock()) <= 0 {
		*fired = true
		if _, err := r.svc.StartBattle(ctx, room.ID); err != nil {
			log.Printf("reconciler: start battle %s: %v", room.ID, err)
			*fired = false
		}
	}
	return false
}

// Remaining reports the live countdown value for a snapshot, negative if
// elapsed; ok is false while no countdown is armed.
func (r *Reconciler) Remaining(snap domain.RoomSnapshot) (time.Duration, bool) {
	if snap.Room.Status != domain.StatusWaiting || snap.Room.CountdownStart == nil {
		return 0, false
	}
	return domain.RemainingCountdown(snap.Room.BattleType, *snap.Room.CountdownStart, r.clock()), true
}
