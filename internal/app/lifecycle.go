package app

import "medprep-battle-service/internal/domain"

// View is the client-facing screen the lifecycle controller selects.
type View string

const (
	ViewLobby       View = "lobby"
	ViewWaitingRoom View = "waiting_room"
	ViewActiveGame  View = "active_game"
	ViewResults     View = "results"
)

// Event is a named lifecycle transition. Remote state changes and local user
// actions flow through the same reducer instead of ad hoc per-field effects.
type Event interface{ isLifecycleEvent() }

// Joined fires after a successful create or join.
type Joined struct{ RoomID string }

func (Joined) isLifecycleEvent() {}

// RoomUpdated carries a fresh snapshot of the subscribed room.
type RoomUpdated struct{ Snapshot domain.RoomSnapshot }

func (RoomUpdated) isLifecycleEvent() {}

// LocalLeave is a self-initiated exit (leave button, results dismissed).
type LocalLeave struct{}

func (LocalLeave) isLifecycleEvent() {}

// Kicked is an externally-forced removal observed by the presence bridge.
type Kicked struct{}

func (Kicked) isLifecycleEvent() {}

// Controller owns one client's view state. Every client reacts identically to
// the room's status field: a remote flip to in_progress moves all of them to
// the active game without any local command, and completed sends everyone
// back out.
type Controller struct {
	view   View
	roomID string
}

func NewController() *Controller {
	return &Controller{view: ViewLobby}
}

func (c *Controller) View() View     { return c.view }
func (c *Controller) RoomID() string { return c.roomID }

// Apply reduces one event into the next view and reports whether the view
// changed.
func (c *Controller) Apply(ev Event) (View, bool) {
	before := c.view
	switch e := ev.(type) {
	case Joined:
		c.roomID = e.RoomID
		c.view = ViewWaitingRoom

	case RoomUpdated:
		if c.roomID == "" || e.Snapshot.Room.ID != c.roomID {
			break
		}
		switch e.Snapshot.Room.Status {
		case domain.StatusWaiting:
			// Covers the compensating revert out of a short-handed battle.
			if c.view == ViewActiveGame || c.view == ViewWaitingRoom {
				c.view = ViewWaitingRoom
			}
		case domain.StatusInProgress:
			if c.view == ViewWaitingRoom || c.view == ViewActiveGame {
				c.view = ViewActiveGame
			}
		case domain.StatusCompleted:
			if c.view == ViewActiveGame {
				c.view = ViewResults
			} else if c.view == ViewWaitingRoom {
				c.roomID = ""
				c.view = ViewLobby
			}
		}

	case LocalLeave:
		c.roomID = ""
		c.view = ViewLobby

	case Kicked:
		c.roomID = ""
		c.view = ViewLobby
	}
	return c.view, c.view != before
}
