package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rgeissen/turnengine/core"
	"github.com/rgeissen/turnengine/events"
	"github.com/rgeissen/turnengine/execution"
	"github.com/rgeissen/turnengine/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// server is the demo's HTTP surface: one SSE endpoint and one websocket
// endpoint over the same executor, plus a liveness probe.
type server struct {
	executor   *execution.PlanExecutor
	debugStore execution.TurnDebugStore
	logger     core.Logger
	upgrader   websocket.Upgrader
}

func newServer(executor *execution.PlanExecutor, debugStore execution.TurnDebugStore, logger core.Logger) *server {
	return &server{
		executor:   executor,
		debugStore: debugStore,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// recordTurn persists a completed turn to the debug store off the critical
// path; failures are logged, never surfaced to the caller.
func (s *server) recordTurn(ctx context.Context, requestID, userID, sessionID, userQuery string, turn *session.Turn) {
	if turn == nil {
		return
	}
	record := &execution.StoredTurn{
		RequestID: requestID,
		UserID:    userID,
		SessionID: sessionID,
		UserQuery: userQuery,
		Turn:      turn,
	}
	if err := s.debugStore.Store(ctx, record); err != nil {
		s.logger.Warn("turn debug store write failed", map[string]interface{}{"request_id": requestID, "error": err.Error()})
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/chat/sse", s.handleSSE)
	mux.HandleFunc("/chat/ws", s.handleWS)
	return mux
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requestExecutor returns a shallow copy of s.executor with OnEvent
// pointed at emit. Every other field (store, collaborators, the shared
// cancellation table) is the same underlying value, so concurrent
// requests share state the same way they would against the engine's
// executor directly; only the per-request event sink differs.
func (s *server) requestExecutor(emit execution.EventFunc) *execution.PlanExecutor {
	reqExec := *s.executor
	reqExec.OnEvent = emit
	return &reqExec
}

// handleSSE streams one turn's lifecycle events as Server-Sent Events.
// Query parameters: "message" (required), "session" and "user" (both
// generated when absent).
func (s *server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	message := r.URL.Query().Get("message")
	if message == "" {
		http.Error(w, "message parameter required", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = "demo-user"
	}
	sessionID := r.URL.Query().Get("session")
	newSession := sessionID == ""
	if newSession {
		sessionID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if newSession {
		_ = events.WriteSSE(w, events.Event{Name: "session", Payload: map[string]interface{}{"id": sessionID}, Timestamp: time.Now()})
		flusher.Flush()
	}

	emitter := events.NewChannelEmitter(64)
	reqExec := s.requestExecutor(emitter.Emit)

	requestID := uuid.NewString()
	s.logger.InfoWithContext(r.Context(), "turn started", map[string]interface{}{"request_id": requestID, "session_id": sessionID})

	go func() {
		defer emitter.Close()
		turn, err := reqExec.RunTurn(r.Context(), execution.TurnRequest{
			UserID:    userID,
			SessionID: sessionID,
			UserQuery: message,
		})
		if err != nil {
			s.logger.WarnWithContext(r.Context(), "turn finished with error", map[string]interface{}{"request_id": requestID, "error": err.Error()})
		}
		s.recordTurn(context.Background(), requestID, userID, sessionID, message, turn)
	}()

	for ev := range emitter.Events() {
		if err := events.WriteSSE(w, ev); err != nil {
			return
		}
		flusher.Flush()
	}

	_ = events.WriteSSE(w, events.Event{Name: "done", Timestamp: time.Now()})
	flusher.Flush()
}

// wsMessage is the inbound websocket envelope: a chat message tagged with
// the session it belongs to.
type wsMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// wsClient pairs one websocket connection with the outbound event queue
// its writePump drains; readPump owns the connection's read side and
// dispatches each chat message to a fresh turn.
type wsClient struct {
	conn *websocket.Conn
	send chan events.Event
	srv  *server
	ctx  context.Context

	mu     sync.RWMutex
	closed bool
}

// trySend delivers ev unless the client has already closed, so an
// in-flight turn's event-forwarding goroutine never sends on the closed
// send channel after the connection goes away.
func (c *wsClient) trySend(ev events.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.send <- ev
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
		return
	}

	client := &wsClient{conn: conn, send: make(chan events.Event, 256), srv: s, ctx: context.Background()}
	go client.writePump()
	go client.readPump()

	client.send <- events.Event{Name: "connected", Timestamp: time.Now()}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "chat":
			c.handleChat(msg)
		default:
			c.sendError(fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

func (c *wsClient) handleChat(msg wsMessage) {
	if msg.Message == "" {
		c.sendError("message cannot be empty")
		return
	}
	userID := msg.UserID
	if userID == "" {
		userID = "demo-user"
	}
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		c.trySend(events.Event{Name: "session", Payload: map[string]interface{}{"id": sessionID}, Timestamp: time.Now()})
	}

	emitter := events.NewChannelEmitter(64)
	reqExec := c.srv.requestExecutor(emitter.Emit)

	go func() {
		for ev := range emitter.Events() {
			c.trySend(ev)
		}
	}()

	requestID := uuid.NewString()
	go func() {
		defer emitter.Close()
		turn, err := reqExec.RunTurn(c.ctx, execution.TurnRequest{
			UserID:    userID,
			SessionID: sessionID,
			UserQuery: msg.Message,
		})
		if err != nil {
			c.srv.logger.Warn("turn finished with error", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		}
		c.srv.recordTurn(context.Background(), requestID, userID, sessionID, msg.Message, turn)
	}()
}

func (c *wsClient) sendError(message string) {
	c.trySend(events.Event{Name: "error", Payload: map[string]interface{}{"message": message}, Timestamp: time.Now()})
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
