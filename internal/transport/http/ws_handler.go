package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"medprep-battle-service/internal/app"
	"medprep-battle-service/internal/domain"

	"github.com/gorilla/websocket"
)

// WSHandler upgrades HTTP requests to websockets and wires each connection
// into the battle room use cases: one lifecycle controller and presence
// bridge per client, one shared reconciler per room via the coordinator.
type WSHandler struct {
	service  *app.BattleService
	watcher  *app.Watcher
	coord    *app.Coordinator
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.BattleService, watcher *app.Watcher, coord *app.Coordinator) *WSHandler {
	return &WSHandler{
		service: service,
		watcher: watcher,
		coord:   coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type createPayload struct {
	BattleType      string `json:"battleType"`
	TimePerQuestion int    `json:"timePerQuestion"`
	TotalQuestions  int    `json:"totalQuestions"`
	Subject         string `json:"subject"`
}

type joinPayload struct {
	Code string `json:"code"`
}

type kickPayload struct {
	UserID string `json:"userId"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type viewPayload struct {
	View   app.View `json:"view"`
	RoomID string   `json:"roomId,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// roomSession is the per-connection state tied to one joined room.
type roomSession struct {
	roomID       string
	cancelWatch  func()
	cancelScores func()
	cleanupOnce  sync.Once
}

type clientConn struct {
	h    *WSHandler
	sess domain.Session
	send chan outboundMessage[any]

	// writerGone closes when the writer goroutine exits, releasing anything
	// blocked on a send buffer nobody drains anymore.
	writerGone chan struct{}

	// pumps counts the snapshot pump and scoreboard forwarder goroutines;
	// the send channel closes only after they have all exited.
	pumps sync.WaitGroup

	mu         sync.Mutex
	controller *app.Controller
	bridge     *app.Bridge
	room       *roomSession
}

// ServeWS runs one client's session until the socket closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if userID == "" || displayName == "" {
		http.Error(w, "missing userId or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &clientConn{
		h:          h,
		sess:       domain.Session{UserID: userID, DisplayName: displayName},
		send:       make(chan outboundMessage[any], 32),
		writerGone: make(chan struct{}),
		controller: app.NewController(),
	}

	go func() {
		defer close(c.writerGone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	c.enqueue(outboundMessage[any]{Type: "view", Payload: viewPayload{View: app.ViewLobby}})

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		c.dispatch(ctx, inbound)
	}

	// Closing the tab is a leave, same as pressing the button.
	c.leaveRoom(context.Background(), true)
	c.pumps.Wait()
	close(c.send)
	<-c.writerGone
}

// enqueue hands a message to the writer goroutine. Once the writer has exited
// on a write error the message is dropped, so a pump with a full buffer can
// never block on a socket nobody drains.
func (c *clientConn) enqueue(msg outboundMessage[any]) {
	select {
	case c.send <- msg:
	case <-c.writerGone:
	}
}

func (c *clientConn) dispatch(ctx context.Context, inbound inboundMessage) {
	switch inbound.Type {
	case "create":
		var payload createPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.sendError(errors.New("invalid create payload"))
			return
		}
		snap, err := c.h.service.CreateRoom(ctx, c.sess, domain.RoomSettings{
			BattleType:      domain.BattleType(payload.BattleType),
			TimePerQuestion: payload.TimePerQuestion,
			TotalQuestions:  payload.TotalQuestions,
			Subject:         payload.Subject,
		})
		if err != nil {
			c.sendError(err)
			return
		}
		c.enterRoom(ctx, snap)

	case "join":
		var payload joinPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.sendError(errors.New("invalid join payload"))
			return
		}
		snap, err := c.h.service.JoinRoomByCode(ctx, c.sess, payload.Code)
		if err != nil {
			c.sendError(err)
			return
		}
		c.enterRoom(ctx, snap)

	case "leave":
		c.leaveRoom(ctx, true)
		c.mu.Lock()
		c.controller.Apply(app.LocalLeave{})
		c.mu.Unlock()
		c.enqueue(outboundMessage[any]{Type: "view", Payload: viewPayload{View: app.ViewLobby}})

	case "kick":
		var payload kickPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.sendError(errors.New("invalid kick payload"))
			return
		}
		if err := c.h.service.Kick(ctx, c.sess, c.roomID(), payload.UserID); err != nil {
			c.sendError(err)
		}

	case "start":
		if err := c.h.service.ManualStart(ctx, c.sess, c.roomID()); err != nil {
			c.sendError(err)
		}

	case "ping":
		if err := c.h.service.PingHost(ctx, c.sess, c.roomID()); err != nil {
			c.sendError(err)
		}

	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.sendError(errors.New("invalid answer payload"))
			return
		}
		sb, result, err := c.h.service.SubmitAnswer(ctx, c.sess, c.roomID(), domain.AnswerSubmission{
			QuestionID: payload.QuestionID,
			OptionID:   payload.OptionID,
		})
		if err != nil {
			c.sendError(err)
			return
		}
		c.enqueue(outboundMessage[any]{Type: "answerResult", Payload: result})
		c.enqueue(outboundMessage[any]{Type: "scoreboard", Payload: sb})

	default:
		c.sendError(errors.New("unsupported message type"))
	}
}

// enterRoom attaches the connection to a room: one shared reconciler
// reference plus this client's own snapshot pump.
func (c *clientConn) enterRoom(ctx context.Context, snap domain.RoomSnapshot) {
	c.mu.Lock()
	if c.room != nil {
		c.mu.Unlock()
		c.sendError(errors.New("already in a room"))
		return
	}
	roomID := snap.Room.ID
	if err := c.h.coord.Acquire(roomID); err != nil {
		c.mu.Unlock()
		c.sendError(err)
		return
	}
	snaps, cancelWatch, err := c.h.watcher.Watch(ctx, roomID)
	if err != nil {
		c.h.coord.Release(roomID)
		c.mu.Unlock()
		c.sendError(err)
		return
	}
	rs := &roomSession{
		roomID:      roomID,
		cancelWatch: cancelWatch,
	}
	c.room = rs
	c.bridge = app.NewBridge(c.sess.UserID, nil)
	c.controller.Apply(app.Joined{RoomID: roomID})
	c.mu.Unlock()

	c.enqueue(outboundMessage[any]{Type: "view", Payload: viewPayload{View: app.ViewWaitingRoom, RoomID: roomID}})
	c.pumps.Add(1)
	go c.pump(ctx, rs, snaps)
}

// pump feeds watcher snapshots through the bridge and controller and emits
// the resulting messages.
func (c *clientConn) pump(ctx context.Context, rs *roomSession, snaps <-chan domain.RoomSnapshot) {
	defer c.pumps.Done()
	for snap := range snaps {
		if done := c.handleSnapshot(ctx, rs, snap); done {
			return
		}
	}
}

func (c *clientConn) handleSnapshot(ctx context.Context, rs *roomSession, snap domain.RoomSnapshot) (done bool) {
	c.mu.Lock()
	if c.room != rs {
		c.mu.Unlock()
		return true
	}
	before := c.controller.View()
	notices := c.bridge.Observe(snap)
	view, changed := c.controller.Apply(app.RoomUpdated{Snapshot: snap})

	kicked := false
	for _, n := range notices {
		if n.Kind == domain.NoticeKicked && n.UserID == c.sess.UserID {
			kicked = true
		}
	}
	if kicked {
		view, _ = c.controller.Apply(app.Kicked{})
		changed = true
	}
	c.mu.Unlock()

	c.enqueue(outboundMessage[any]{Type: "room", Payload: snap})
	for _, n := range notices {
		c.enqueue(outboundMessage[any]{Type: "notice", Payload: n})
	}
	if changed {
		roomID := rs.roomID
		if view == app.ViewLobby {
			roomID = ""
		}
		c.enqueue(outboundMessage[any]{Type: "view", Payload: viewPayload{View: view, RoomID: roomID}})
	}

	if changed && view == app.ViewActiveGame && before != app.ViewActiveGame {
		c.startGameStream(ctx, rs)
	}
	if changed && view == app.ViewResults {
		if sb, err := c.h.service.Scoreboard(ctx, rs.roomID); err == nil {
			c.enqueue(outboundMessage[any]{Type: "results", Payload: sb})
		}
		c.detachRoom(ctx, rs, false)
		return true
	}
	if changed && view == app.ViewLobby {
		// Kicked, or the room completed under us while waiting.
		c.detachRoom(ctx, rs, false)
		return true
	}
	return false
}

// startGameStream ships the question content and begins forwarding live
// scoreboard updates.
func (c *clientConn) startGameStream(ctx context.Context, rs *roomSession) {
	if questions, err := c.h.service.Questions(ctx, rs.roomID); err == nil {
		c.enqueue(outboundMessage[any]{Type: "questions", Payload: questions})
	}
	updates, cancel, err := c.h.service.SubscribeScoreboard(ctx, rs.roomID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.mu.Lock()
	rs.cancelScores = cancel
	c.mu.Unlock()
	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		for sb := range updates {
			c.enqueue(outboundMessage[any]{Type: "scoreboard", Payload: sb})
		}
	}()
}

func (c *clientConn) roomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return ""
	}
	return c.room.roomID
}

// leaveRoom is the self-initiated exit path: mark the removal as local so the
// bridge never reports it as a kick, then detach and remove the row.
func (c *clientConn) leaveRoom(ctx context.Context, removeRow bool) {
	c.mu.Lock()
	rs := c.room
	if rs == nil {
		c.mu.Unlock()
		return
	}
	c.bridge.MarkLocalLeave()
	c.mu.Unlock()

	c.detachRoom(ctx, rs, removeRow)
}

// detachRoom releases everything tied to the room. Safe to call from both the
// pump and the read loop; only the first call acts.
func (c *clientConn) detachRoom(ctx context.Context, rs *roomSession, removeRow bool) {
	rs.cleanupOnce.Do(func() {
		c.mu.Lock()
		if c.room == rs {
			c.room = nil
		}
		cancelScores := rs.cancelScores
		c.mu.Unlock()

		if cancelScores != nil {
			cancelScores()
		}
		rs.cancelWatch()
		c.h.coord.Release(rs.roomID)

		if removeRow {
			if err := c.h.service.Leave(ctx, c.sess, rs.roomID); err != nil &&
				!errors.Is(err, domain.ErrNotParticipant) && !errors.Is(err, domain.ErrRoomNotFound) {
				log.Printf("leave room %s: %v", rs.roomID, err)
			}
		}
	})
}

func (c *clientConn) sendError(err error) {
	c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	}})
}

// errorCode keeps failure classes distinguishable in the UI (room-full vs
// not-found, forbidden vs transient store trouble).
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrRoomFull):
		return "full"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, domain.ErrNotStarted):
		return "not_started"
	case errors.Is(err, domain.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, domain.ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, domain.ErrAlreadyAnswered):
		return "already_answered"
	case errors.Is(err, domain.ErrInvalidSettings):
		return "invalid_settings"
	case errors.Is(err, domain.ErrQuestionSetNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrOptionNotFound):
		return "bad_question"
	}
	return "store_unavailable"
}
