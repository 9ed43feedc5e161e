package app

import (
	"time"

	"medprep-battle-service/internal/domain"
)

// Bridge converts successive room snapshots into one-shot user notices for a
// single client. The store delivers state, not events, so joins and leaves are
// recovered by diffing participant id-sets, and a repeated snapshot that
// changes nothing emits nothing.
//
// The store alone cannot distinguish "kicked" from "left" for this client's
// own row; the bridge tracks whether this client initiated its removal.
type Bridge struct {
	self  string
	clock func() time.Time

	prev       *domain.RoomSnapshot
	localLeave bool
	lastPing   domain.Ping
}

func NewBridge(selfUserID string, clock func() time.Time) *Bridge {
	if clock == nil {
		clock = time.Now
	}
	return &Bridge{self: selfUserID, clock: clock}
}

// MarkLocalLeave records that the next disappearance of this client's own row
// is self-initiated, so it must not surface as a kick.
func (b *Bridge) MarkLocalLeave() {
	b.localLeave = true
}

// Kicked reports whether this client's own row disappeared without a local
// leave in the most recent observation.
func (b *Bridge) Kicked() bool {
	if b.prev == nil {
		return false
	}
	if b.localLeave {
		return false
	}
	_, present := b.prev.Participant(b.self)
	return !present
}

// Observe diffs the new snapshot against the previous one and returns the
// notices to surface, in a stable order (presence, host, ping, status).
func (b *Bridge) Observe(snap domain.RoomSnapshot) []domain.Notice {
	now := b.clock()
	var notices []domain.Notice

	if b.prev != nil {
		prev := *b.prev
		prevSet := make(map[string]domain.Participant, len(prev.Participants))
		for _, p := range prev.Participants {
			prevSet[p.UserID] = p
		}
		curSet := make(map[string]domain.Participant, len(snap.Participants))
		for _, p := range snap.Participants {
			curSet[p.UserID] = p
		}

		for _, p := range snap.Participants {
			if _, ok := prevSet[p.UserID]; !ok {
				notices = append(notices, domain.Notice{Kind: domain.NoticeJoined, UserID: p.UserID, DisplayName: p.DisplayName, At: now})
			}
		}
		for _, p := range prev.Participants {
			if _, ok := curSet[p.UserID]; ok {
				continue
			}
			if p.UserID == b.self {
				if !b.localLeave {
					notices = append(notices, domain.Notice{Kind: domain.NoticeKicked, UserID: p.UserID, DisplayName: p.DisplayName, At: now})
				}
				continue
			}
			notices = append(notices, domain.Notice{Kind: domain.NoticeLeft, UserID: p.UserID, DisplayName: p.DisplayName, At: now})
		}

		if prev.Room.HostID != snap.Room.HostID && snap.Room.HostID != "" {
			name := snap.Room.HostID
			if p, ok := snap.Participant(snap.Room.HostID); ok {
				name = p.DisplayName
			}
			notices = append(notices, domain.Notice{Kind: domain.NoticeHostChanged, UserID: snap.Room.HostID, DisplayName: name, At: now})
		}

		if prev.Room.Status != snap.Room.Status {
			switch snap.Room.Status {
			case domain.StatusInProgress:
				notices = append(notices, domain.Notice{Kind: domain.NoticeBattleStarted, At: now})
			case domain.StatusCompleted:
				notices = append(notices, domain.Notice{Kind: domain.NoticeBattleCompleted, At: now})
			}
		}
	}

	// Ping notices go to the host only, once per distinct (timestamp, sender).
	ping := snap.Room.Ping
	if !ping.IsZero() && b.self == snap.Room.HostID {
		if !ping.At.Equal(b.lastPing.At) || ping.SenderID != b.lastPing.SenderID {
			b.lastPing = ping
			notices = append(notices, domain.Notice{Kind: domain.NoticePing, UserID: ping.SenderID, DisplayName: ping.SenderName, At: ping.At})
		}
	}

	b.prev = &snap
	return notices
}
