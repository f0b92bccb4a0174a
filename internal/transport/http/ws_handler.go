package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"qbank-service/internal/app"
	"qbank-service/internal/auth"
	"qbank-service/internal/domain"
	"qbank-service/internal/timer"
	"github.com/gorilla/websocket"
)

// StoreProvider returns the progress store scoped to one client's blob.
type StoreProvider func(clientID string) app.ProgressStore

// WSHandler hosts one progress aggregate per websocket connection. The
// client drives every transition through typed messages and receives a full
// state snapshot after each applied one; the handler owns the countdown for
// whichever active, incomplete session is being viewed.
type WSHandler struct {
	stores       StoreProvider
	pools        app.PoolRepository
	policy       *auth.Policy
	timeBudget   int
	tickInterval time.Duration
	upgrader     websocket.Upgrader
}

func NewWSHandler(stores StoreProvider, pools app.PoolRepository, policy *auth.Policy, timeBudget int) *WSHandler {
	return &WSHandler{
		stores:       stores,
		pools:        pools,
		policy:       policy,
		timeBudget:   timeBudget,
		tickInterval: time.Second,
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

// commandPayload covers every inbound operation; unused fields stay zero.
type commandPayload struct {
	Email      string `json:"email"`
	Code       string `json:"code"`
	Paper      string `json:"paper"`
	QuestionID string `json:"questionId"`
	Option     *int   `json:"option"`
	Confirmed  bool   `json:"confirmed"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tickPayload struct {
	Paper            string `json:"paper"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

// paperTile is one dashboard entry: Start (no session), Continue (active) or
// Review (completed), with the answered-question count.
type paperTile struct {
	ID        string `json:"id"`
	Started   bool   `json:"started"`
	Completed bool   `json:"completed"`
	Answered  int    `json:"answered"`
	Total     int    `json:"total"`
}

// sessionView is the open exam: the session's own question order and answer
// key (feedback and rationale render client-side) plus the derived score.
type sessionView struct {
	Paper         string            `json:"paper"`
	Questions     []domain.Question `json:"questions"`
	Answers       map[string]int    `json:"answers"`
	TimeRemaining int               `json:"timeRemaining"`
	IsCompleted   bool              `json:"isCompleted"`
	Score         int               `json:"score"`
}

type statePayload struct {
	Locked          bool         `json:"locked"`
	UserEmail       string       `json:"userEmail,omitempty"`
	LastActiveEmail string       `json:"lastActiveEmail,omitempty"`
	ViewingPaper    string       `json:"viewingPaper,omitempty"`
	Papers          []paperTile  `json:"papers"`
	Session         *sessionView `json:"session,omitempty"`
}

// requestConfirmer resolves the confirmation port from the current request's
// confirmed flag. Messages on one connection are handled strictly in order,
// so a plain field is safe.
type requestConfirmer struct {
	confirmed bool
}

func (c *requestConfirmer) Confirm(context.Context, string, string) bool {
	return c.confirmed
}

// examConn is the per-connection wiring: the aggregate, the outbound queue,
// and the countdown for the viewed session.
type examConn struct {
	service      *app.ProgressService
	confirm      *requestConfirmer
	send         chan outboundMessage[any]
	countdown    *timer.Controller
	paperOnTimer string
	tickInterval time.Duration
}

// ServeWS upgrades the request and runs the exam session protocol until the
// client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		http.Error(w, "missing clientId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	confirm := &requestConfirmer{}
	service := app.NewProgressService(h.stores(clientID), h.pools, h.policy, confirm, h.timeBudget)
	if err := service.Restore(r.Context()); err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "internal", Message: err.Error()}})
		return
	}

	session := &examConn{
		service:      service,
		confirm:      confirm,
		send:         make(chan outboundMessage[any], 16),
		tickInterval: h.tickInterval,
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range session.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	session.pushState()
	session.readLoop(r.Context(), conn)

	// Teardown order matters: the countdown is stopped (and its callbacks
	// drained) before the send channel closes.
	session.stopCountdown()
	close(session.send)
	<-writerDone
}

func (c *examConn) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		var payload commandPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.pushError(errors.New("invalid payload"))
				continue
			}
		}
		c.handle(ctx, inbound.Type, payload)
	}
}

func (c *examConn) handle(ctx context.Context, msgType string, payload commandPayload) {
	c.confirm.confirmed = payload.Confirmed

	switch msgType {
	case "register":
		if err := c.service.Register(ctx, payload.Email, payload.Code); err != nil {
			c.pushError(err)
			return
		}
	case "hidden":
		// Visibility-loss signal from the environment: lock without asking.
		c.service.AutoLock(ctx)
	case "lock":
		if c.guardLocked() {
			return
		}
		if !c.service.Lock(ctx) {
			c.pushConfirmRequired("lock")
			return
		}
	case "start":
		if c.guardLocked() {
			return
		}
		if err := c.service.StartOrResume(ctx, payload.Paper); err != nil {
			c.pushError(err)
			return
		}
	case "restart":
		if c.guardLocked() {
			return
		}
		applied, err := c.service.Restart(ctx, payload.Paper)
		if err != nil {
			c.pushError(err)
			return
		}
		if !applied {
			c.pushConfirmRequired("restart")
			return
		}
		// The replaced session gets a fresh budget; the old countdown must
		// not keep ticking it down.
		c.stopCountdown()
	case "answer":
		if c.guardLocked() {
			return
		}
		c.service.RecordAnswer(ctx, payload.Paper, payload.QuestionID, payload.Option)
	case "submit":
		if c.guardLocked() {
			return
		}
		c.service.Submit(ctx, payload.Paper)
	case "exit":
		if c.guardLocked() {
			return
		}
		c.service.ExitPaper(ctx)
	case "resetPaper":
		if c.guardLocked() {
			return
		}
		if !c.service.ResetPaper(ctx, payload.Paper) {
			c.pushConfirmRequired("resetPaper")
			return
		}
	case "resetAll":
		if c.guardLocked() {
			return
		}
		if !c.service.ResetAll(ctx) {
			c.pushConfirmRequired("resetAll")
			return
		}
	default:
		c.pushError(errors.New("unsupported message type"))
		return
	}

	// State goes out before the countdown (re)starts, so the snapshot a
	// client sees right after a transition is not already ticked down.
	c.pushState()
	c.reconcileCountdown()
}

func (c *examConn) guardLocked() bool {
	if c.service.IsLocked() {
		c.pushError(domain.ErrLocked)
		return true
	}
	return false
}

// reconcileCountdown keeps the timer resource aligned with "viewing an
// active, incomplete session", stopping it on every other condition.
func (c *examConn) reconcileCountdown() {
	snapshot := c.service.Snapshot()
	paper := snapshot.ViewingPaper
	var current *domain.PaperSession
	if paper != "" {
		current = snapshot.Sessions[paper]
	}
	wantRunning := current != nil && !current.IsCompleted

	if c.countdown != nil && (!wantRunning || c.paperOnTimer != paper) {
		c.stopCountdown()
	}
	if wantRunning && c.countdown == nil {
		p := paper
		c.paperOnTimer = p
		c.countdown = timer.StartWithInterval(c.tickInterval, current.TimeRemaining,
			func(sec int) {
				c.service.Tick(context.Background(), p, sec)
				c.trySend(outboundMessage[any]{Type: "tick", Payload: tickPayload{Paper: p, SecondsRemaining: sec}})
			},
			func() {
				c.service.Submit(context.Background(), p)
				c.trySend(outboundMessage[any]{Type: "expired", Payload: tickPayload{Paper: p}})
				c.trySend(outboundMessage[any]{Type: "state", Payload: buildState(c.service)})
			})
	}
}

func (c *examConn) stopCountdown() {
	if c.countdown == nil {
		return
	}
	c.countdown.Stop()
	c.countdown = nil
	c.paperOnTimer = ""
}

func (c *examConn) pushState() {
	c.trySend(outboundMessage[any]{Type: "state", Payload: buildState(c.service)})
}

func (c *examConn) pushError(err error) {
	c.trySend(outboundMessage[any]{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: err.Error()}})
}

func (c *examConn) pushConfirmRequired(action string) {
	c.trySend(outboundMessage[any]{Type: "confirmRequired", Payload: errorPayload{Code: "confirmRequired", Message: action + " requires confirmation"}})
}

// trySend drops the message when the writer has fallen behind; snapshots are
// idempotent and ticks are superseded every second, so nothing durable is
// lost.
func (c *examConn) trySend(msg outboundMessage[any]) {
	select {
	case c.send <- msg:
	default:
	}
}

func buildState(service *app.ProgressService) statePayload {
	snapshot := service.Snapshot()

	state := statePayload{
		Locked:          snapshot.UserEmail == "",
		UserEmail:       snapshot.UserEmail,
		LastActiveEmail: snapshot.LastActiveEmail,
		ViewingPaper:    snapshot.ViewingPaper,
		Papers:          make([]paperTile, 0, len(domain.Papers)),
	}
	for _, paper := range domain.Papers {
		tile := paperTile{ID: paper}
		if session, ok := snapshot.Sessions[paper]; ok {
			tile.Started = true
			tile.Completed = session.IsCompleted
			tile.Answered = len(session.Answers)
			tile.Total = len(session.Questions)
		}
		state.Papers = append(state.Papers, tile)
	}
	if snapshot.ViewingPaper != "" {
		if session, ok := snapshot.Sessions[snapshot.ViewingPaper]; ok {
			state.Session = &sessionView{
				Paper:         snapshot.ViewingPaper,
				Questions:     session.Questions,
				Answers:       session.Answers,
				TimeRemaining: session.TimeRemaining,
				IsCompleted:   session.IsCompleted,
				Score:         session.Score(),
			}
		}
	}
	return state
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidEmail):
		return "invalidEmail"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalidCode"
	case errors.Is(err, domain.ErrIdentityConflict):
		return "identityConflict"
	case errors.Is(err, domain.ErrEmptyPool):
		return "emptyPool"
	case errors.Is(err, domain.ErrPaperUnknown):
		return "paperUnknown"
	case errors.Is(err, domain.ErrLocked):
		return "locked"
	default:
		return "internal"
	}
}
