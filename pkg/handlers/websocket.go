package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/auth"
	"github.com/askdb-io/askdb-engine/pkg/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	sendBufferSize = 64

	// Transcript entries replayed on join.
	recentHistoryLimit = 50
)

// Client-to-server event types.
const (
	EventJoinSession   = "join-session"
	EventSendMessage   = "send-message"
	EventTyping        = "typing"
	EventCreateSession = "create-session"
	EventGetSessions   = "get-sessions"
	EventDeleteSession = "delete-session"
)

// Server-to-client event types.
const (
	EventSessionJoined   = "session-joined"
	EventMessageReceived = "message-received"
	EventAgentThinking   = "agent-thinking"
	EventAgentResponse   = "agent-response"
	EventTypingIndicator = "typing-indicator"
	EventSessionsList    = "sessions-list"
	EventSessionCreated  = "session-created"
	EventSessionDeleted  = "session-deleted"
	EventError           = "error"
)

// Event is the wire envelope in both directions.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type sendMessagePayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	DBUrl     string `json:"dbUrl,omitempty"`
	DBType    string `json:"dbType,omitempty"`
	DryRun    bool   `json:"dryRun,omitempty"`
	Verbose   bool   `json:"verbose,omitempty"`
}

type typingPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	IsTyping  bool   `json:"isTyping"`
}

type createSessionPayload struct {
	Title string `json:"title,omitempty"`
}

type deleteSessionPayload struct {
	SessionID string `json:"sessionId"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// Gateway upgrades WebSocket connections and bridges events to the session
// manager. Events on one socket are handled strictly in order; a turn's
// response is emitted before the next event is read.
type Gateway struct {
	manager   *session.Manager
	validator *auth.Validator
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewGateway creates the WebSocket gateway.
func NewGateway(manager *session.Manager, validator *auth.Validator, logger *zap.Logger) *Gateway {
	return &Gateway{
		manager:   manager,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("ws"),
	}
}

// RegisterRoutes registers the gateway's routes on the given mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", g.HandleWebSocket)
}

// HandleWebSocket authenticates the handshake and upgrades the connection.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	claims, err := g.validator.Validate(token)
	if err != nil {
		g.logger.Warn("websocket authentication failed", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		gateway: g,
		userID:  claims.UserID,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		logger:  g.logger.With(zap.String("userId", claims.UserID)),
	}
	go c.writePump()
	c.readPump(r.Context())
}

// wsClient is one authenticated socket. send carries outbound frames to the
// write pump; done is closed when the write pump exits, releasing any sender
// still waiting on a full buffer.
type wsClient struct {
	gateway *Gateway
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	logger  *zap.Logger
}

// readPump reads and handles events one at a time until the peer goes away.
func (c *wsClient) readPump(ctx context.Context) {
	defer func() {
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.sendError(fmt.Errorf("%w: malformed event", apperrors.ErrBadInput))
			continue
		}
		c.handleEvent(ctx, ev)
	}
}

// writePump flushes outbound messages and keeps the connection alive.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventJoinSession:
		c.handleJoin(ctx, ev.Payload)
	case EventSendMessage:
		c.handleSend(ctx, ev.Payload)
	case EventTyping:
		c.handleTyping(ev.Payload)
	case EventCreateSession:
		c.handleCreate(ctx, ev.Payload)
	case EventGetSessions:
		c.handleList(ctx)
	case EventDeleteSession:
		c.handleDelete(ctx, ev.Payload)
	default:
		c.sendError(fmt.Errorf("%w: unknown event type %q", apperrors.ErrBadInput, ev.Type))
	}
}

func (c *wsClient) handleJoin(ctx context.Context, raw json.RawMessage) {
	var p joinSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.sendError(fmt.Errorf("%w: join-session needs a sessionId", apperrors.ErrBadInput))
		return
	}
	// A payload claiming a different identity than the verified token is an
	// impersonation attempt.
	if p.UserID != "" && p.UserID != c.userID {
		c.sendError(fmt.Errorf("%w: userId does not match token", apperrors.ErrUnauthorized))
		return
	}

	sess, err := c.gateway.manager.Join(ctx, p.SessionID, c.userID)
	if err != nil {
		c.sendError(err)
		return
	}
	history, err := c.gateway.manager.Messages(ctx, p.SessionID, c.userID, recentHistoryLimit)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(EventSessionJoined, map[string]any{
		"session":  sess,
		"messages": history,
	})
}

func (c *wsClient) handleSend(ctx context.Context, raw json.RawMessage) {
	var p sendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.sendError(fmt.Errorf("%w: send-message needs a sessionId", apperrors.ErrBadInput))
		return
	}

	c.sendTransient(EventAgentThinking, map[string]string{"sessionId": p.SessionID})

	res, err := c.gateway.manager.Send(ctx, session.SendInput{
		SessionID: p.SessionID,
		UserID:    c.userID,
		Text:      p.Message,
		DBUrl:     p.DBUrl,
		DBType:    p.DBType,
		DryRun:    p.DryRun,
		Verbose:   p.Verbose,
	})
	if err != nil {
		c.sendError(err)
		return
	}

	c.sendEvent(EventMessageReceived, res.UserMessage)
	c.sendEvent(EventAgentResponse, map[string]any{
		"sessionId": p.SessionID,
		"message":   res.AgentMessage,
		"response":  res.Response,
	})
}

func (c *wsClient) handleTyping(raw json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.sendError(fmt.Errorf("%w: typing needs a sessionId", apperrors.ErrBadInput))
		return
	}
	p.UserID = c.userID
	c.sendTransient(EventTypingIndicator, p)
}

func (c *wsClient) handleCreate(ctx context.Context, raw json.RawMessage) {
	var p createSessionPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			c.sendError(fmt.Errorf("%w: malformed create payload", apperrors.ErrBadInput))
			return
		}
	}
	sess, err := c.gateway.manager.Create(ctx, c.userID, p.Title)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(EventSessionCreated, sess)
}

func (c *wsClient) handleList(ctx context.Context) {
	sessions, err := c.gateway.manager.List(ctx, c.userID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(EventSessionsList, map[string]any{"sessions": sessions})
}

func (c *wsClient) handleDelete(ctx context.Context, raw json.RawMessage) {
	var p deleteSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.sendError(fmt.Errorf("%w: delete-session needs a sessionId", apperrors.ErrBadInput))
		return
	}
	if err := c.gateway.manager.Delete(ctx, p.SessionID, c.userID); err != nil {
		c.sendError(err)
		return
	}
	c.sendEvent(EventSessionDeleted, map[string]string{"sessionId": p.SessionID})
}

func encodeEvent(eventType string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: eventType, Payload: encoded})
}

// sendEvent queues a protocol event. Delivery waits for buffer space so a
// turn's reply is never dropped; a dead write pump releases the wait.
func (c *wsClient) sendEvent(eventType string, payload any) {
	raw, err := encodeEvent(eventType, payload)
	if err != nil {
		c.logger.Error("failed to encode event", zap.Error(err), zap.String("type", eventType))
		return
	}
	select {
	case c.send <- raw:
	case <-c.done:
	}
}

// sendTransient queues a best-effort event. Progress and typing indicators
// may be dropped when the peer cannot keep up.
func (c *wsClient) sendTransient(eventType string, payload any) {
	raw, err := encodeEvent(eventType, payload)
	if err != nil {
		c.logger.Error("failed to encode event", zap.Error(err), zap.String("type", eventType))
		return
	}
	select {
	case c.send <- raw:
	case <-c.done:
	default:
		c.logger.Warn("send buffer full, dropping event", zap.String("type", eventType))
	}
}

func (c *wsClient) sendError(err error) {
	c.sendEvent(EventError, errorPayload{Message: err.Error(), Code: StatusFor(err)})
}
