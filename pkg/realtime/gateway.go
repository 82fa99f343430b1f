package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"marketchat/pkg/apperrors"
	"marketchat/pkg/auth"
	"marketchat/pkg/chat"
	"marketchat/pkg/metrics"
	"marketchat/pkg/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameBytes  = 64 << 10
	eventTimeout   = 15 * time.Second
	previewLength  = 100
	defaultAuthTTL = 10 * time.Second
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

type Config struct {
	// AuthTimeout bounds connection setup, including waiting for an auth frame.
	AuthTimeout time.Duration
	// AllowLegacyUserID accepts an unauthenticated user_id query parameter.
	// Deprecated path, kept for old mobile builds.
	AllowLegacyUserID bool
	// AllowedOrigins empty or containing "*" accepts any origin.
	AllowedOrigins []string
}

// Gateway serves the chat WebSocket protocol and fans persisted messages out
// to connected clients.
type Gateway struct {
	svc      chat.ChatService
	registry *Registry
	limiter  *RateLimiter
	authn    Authenticator
	notifier notify.Notifier
	upgrader websocket.Upgrader
	cfg      Config
	log      zerolog.Logger
}

func NewGateway(svc chat.ChatService, registry *Registry, limiter *RateLimiter, authn Authenticator, notifier notify.Notifier, cfg Config, log zerolog.Logger) *Gateway {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTTL
	}
	g := &Gateway{
		svc:      svc,
		registry: registry,
		limiter:  limiter,
		authn:    authn,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket godoc
// @Summary Chat WebSocket
// @Description Upgrades to the chat event protocol. Authenticate with a Bearer header, a token query parameter, or an auth frame sent first.
// @Tags realtime
// @Param token query string false "Access token"
// @Success 101
// @Router /ws/chat [get]
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	g.ServeHTTP(c.Writer, c.Request)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id, aerr := g.authenticate(r, conn)
	if aerr != nil {
		metrics.RecordGatewayEvent(EventAuth, "failed")
		g.log.Info().Str("code", aerr.code).Str("remote", r.RemoteAddr).Msg("websocket authentication failed")
		g.reject(conn, aerr)
		return
	}

	client := newClient(id.UserID, id.Role, conn)
	g.registry.Register(client)
	g.log.Info().Str("user_id", client.UserID).Str("conn_id", client.ID).Msg("user connected")

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	unread, err := g.svc.GetUnreadCount(ctx, client.UserID)
	cancel()
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", client.UserID).Msg("failed to load unread count")
	}
	client.Enqueue(event(EventConnected, connectedEvent{UserID: client.UserID, UnreadCount: unread}))

	go g.readLoop(client)
	go g.writeLoop(client)
}

type authError struct {
	code    string
	message string
}

func (e *authError) Error() string { return e.code + ": " + e.message }

func (g *Gateway) authenticate(r *http.Request, conn *websocket.Conn) (auth.Identity, *authError) {
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.AuthTimeout)
	defer cancel()

	if token := auth.BearerToken(r); token != "" {
		return g.verify(ctx, token)
	}

	if uid := r.URL.Query().Get("user_id"); uid != "" && g.cfg.AllowLegacyUserID {
		if _, err := uuid.Parse(uid); err != nil {
			return auth.Identity{}, &authError{CodeAuthFailed, "invalid user_id, must be UUID"}
		}
		g.log.Warn().Str("user_id", uid).Msg("deprecated: websocket identity taken from user_id query parameter")
		return auth.Identity{UserID: uid}, nil
	}

	// No credentials on the upgrade request: the first frame must be auth.
	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return auth.Identity{}, &authError{CodeAuthTimeout, "authentication timed out"}
		}
		return auth.Identity{}, &authError{CodeAuthRequired, "authentication required"}
	}
	var env Envelope
	var p authPayload
	if err := json.Unmarshal(data, &env); err != nil || env.Type != EventAuth {
		return auth.Identity{}, &authError{CodeAuthRequired, "first event must be auth"}
	}
	if err := json.Unmarshal(env.Data, &p); err != nil || strings.TrimSpace(p.Token) == "" {
		return auth.Identity{}, &authError{CodeAuthRequired, "token is required"}
	}
	return g.verify(ctx, p.Token)
}

func (g *Gateway) verify(ctx context.Context, token string) (auth.Identity, *authError) {
	id, err := g.authn.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return auth.Identity{}, &authError{CodeAuthTimeout, "authentication timed out"}
		}
		return auth.Identity{}, &authError{CodeAuthFailed, "invalid or expired token"}
	}
	return id, nil
}

func (g *Gateway) reject(conn *websocket.Conn, aerr *authError) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(event(EventError, errorEvent{Code: aerr.code, Message: aerr.message}))
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, aerr.code)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (g *Gateway) readLoop(client *Client) {
	defer func() {
		rooms := g.registry.Unregister(client.ID)
		client.Close()
		client.conn.Close()
		now := time.Now().UTC()
		for _, roomID := range rooms {
			g.registry.BroadcastToRoom(roomID, event(EventTyping, typingEvent{
				RoomID:    roomID,
				UserID:    client.UserID,
				IsTyping:  false,
				Timestamp: now,
			}), client.UserID)
		}
		if client.Evicted() {
			g.log.Warn().Str("user_id", client.UserID).Str("conn_id", client.ID).Int("rooms", len(rooms)).
				Msg("evicted slow websocket client: send queue full")
		}
		g.log.Info().Str("user_id", client.UserID).Str("conn_id", client.ID).Msg("user disconnected")
	}()

	client.conn.SetReadLimit(maxFrameBytes)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.Warn().Err(err).Str("user_id", client.UserID).Str("conn_id", client.ID).Msg("websocket read error")
			}
			return
		}
		// Any traffic counts as liveness.
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			g.sendError(client, errorEvent{Code: CodeValidation, Message: "invalid event format"})
			continue
		}
		g.dispatch(client, env)
	}
}

func (g *Gateway) writeLoop(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case <-client.done:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if client.Evicted() {
				closeMsg = websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "send queue full")
			}
			_ = client.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
			return

		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(message); err != nil {
				g.log.Warn().Err(err).Str("user_id", client.UserID).Str("conn_id", client.ID).Msg("websocket write error")
				client.Close()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				g.log.Warn().Err(err).Str("user_id", client.UserID).Str("conn_id", client.ID).Msg("websocket ping error")
				client.Close()
				return
			}
		}
	}
}

// dispatch runs one event to completion. A panicking handler becomes an
// error event; the connection stays up.
func (g *Gateway) dispatch(client *Client, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordGatewayEvent(env.Type, "panic")
			g.log.Error().Interface("panic", r).Str("event", env.Type).
				Str("user_id", client.UserID).Str("conn_id", client.ID).Msg("event handler panicked")
			g.sendError(client, errorEvent{Code: CodeInternal, Message: "internal error"})
		}
	}()

	var ok bool
	switch env.Type {
	case EventJoin:
		ok = g.handleJoin(ctx, client, env.Data)
	case EventLeave:
		ok = g.handleLeave(client, env.Data)
	case EventMessage:
		ok = g.handleMessage(ctx, client, env.Data)
	case EventTyping:
		ok = g.handleTyping(client, env.Data)
	case EventRead:
		ok = g.handleRead(ctx, client, env.Data)
	case EventAck:
		ok = g.handleAck(ctx, client, env.Data)
	case EventPing:
		ok = client.Enqueue(event(EventPong, pongEvent{Timestamp: time.Now().UTC()}))
	case EventAuth:
		g.sendError(client, errorEvent{Code: CodeValidation, Message: "already authenticated"})
	default:
		g.sendError(client, errorEvent{Code: CodeUnknownEvent, Message: "unknown event type: " + env.Type})
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	metrics.RecordGatewayEvent(env.Type, outcome)
}

func decode(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (g *Gateway) handleJoin(ctx context.Context, client *Client, data json.RawMessage) bool {
	var p roomPayload
	if !decode(data, &p) || p.RoomID == "" {
		g.sendError(client, errorEvent{Code: CodeValidation, Message: "roomId is required"})
		return false
	}

	detail, err := g.svc.GetRoom(ctx, p.RoomID, client.UserID)
	if err != nil {
		code, msg := g.classify(client, err, p.RoomID)
		if code == CodeNotFound {
			code = CodeRoomNotFound
		}
		g.sendError(client, errorEvent{Code: code, Message: msg, RoomID: p.RoomID})
		return false
	}
	g.registry.Join(client.ID, p.RoomID)

	n, err := g.svc.MarkMessagesAsRead(ctx, p.RoomID, client.UserID, nil)
	if err != nil {
		g.log.Warn().Err(err).Str("room_id", p.RoomID).Str("user_id", client.UserID).Msg("mark read on join failed")
	} else if n > 0 {
		g.PublishRead(p.RoomID, client.UserID, nil, n)
	}

	return client.Enqueue(event(EventJoined, joinedEvent{
		RoomID:       detail.Room.ID,
		Type:         detail.Room.Type,
		Status:       detail.Room.Status,
		Participants: detail.Participants,
		Messages:     detail.Messages,
	}))
}

func (g *Gateway) handleLeave(client *Client, data json.RawMessage) bool {
	var p roomPayload
	if !decode(data, &p) || p.RoomID == "" {
		g.sendError(client, errorEvent{Code: CodeValidation, Message: "roomId is required"})
		return false
	}
	if g.registry.Leave(client.ID, p.RoomID) {
		g.registry.BroadcastToRoom(p.RoomID, event(EventTyping, typingEvent{
			RoomID:    p.RoomID,
			UserID:    client.UserID,
			IsTyping:  false,
			Timestamp: time.Now().UTC(),
		}), client.UserID)
	}
	return true
}

func (g *Gateway) handleMessage(ctx context.Context, client *Client, data json.RawMessage) bool {
	var p messagePayload
	if !decode(data, &p) {
		g.sendError(client, errorEvent{Code: CodeValidation, Message: "invalid message payload"})
		return false
	}
	if p.RoomID == "" || strings.TrimSpace(p.Content) == "" {
		g.failSend(client, p, CodeValidation, "roomId and content are required")
		return false
	}

	if ok, retry := g.limiter.Allow(client.UserID); !ok {
		metrics.RateLimited.Inc()
		g.sendError(client, errorEvent{
			Code:            CodeRateLimited,
			Message:         "too many messages, slow down",
			RoomID:          p.RoomID,
			ClientMessageID: p.ClientMessageID,
			RetryAfterMs:    retry.Milliseconds(),
		})
		return false
	}

	msg, err := g.svc.SendMessage(ctx, client.UserID, chat.SendMessageInput{
		RoomID:          p.RoomID,
		Content:         p.Content,
		Type:            p.Type,
		Metadata:        p.Metadata,
		ReplyToID:       p.ReplyToID,
		ClientMessageID: p.ClientMessageID,
	})
	if err != nil {
		code, text := g.classify(client, err, p.RoomID)
		if code == CodeInternal {
			code = CodeSendFailed
		}
		g.failSend(client, p, code, text)
		return false
	}

	g.PublishMessage(ctx, msg, p.ClientMessageID)
	// A sender that has not joined the room still needs its confirmation.
	if !g.registry.InRoom(client.ID, msg.RoomID) {
		client.Enqueue(event(EventMessage, messageEvent{Message: msg, ClientMessageID: p.ClientMessageID}))
	}
	return true
}

func (g *Gateway) failSend(client *Client, p messagePayload, code, text string) {
	g.sendError(client, errorEvent{Code: code, Message: text, RoomID: p.RoomID, ClientMessageID: p.ClientMessageID})
	if p.ClientMessageID != "" {
		client.Enqueue(event(EventMessageStatus, messageStatusEvent{
			RoomID:          p.RoomID,
			Status:          statusFailed,
			ClientMessageID: p.ClientMessageID,
		}))
	}
}

func (g *Gateway) handleTyping(client *Client, data json.RawMessage) bool {
	var p typingPayload
	if !decode(data, &p) || p.RoomID == "" {
		g.sendError(client, errorEvent{Code: CodeValidation, Message: "roomId is required"})
		return false
	}
	if !g.registry.InRoom(client.ID, p.RoomID) {
		g.sendError(client, errorEvent{Code: CodeForbidden, Message: "join the room first", RoomID: p.RoomID})
		return false
	}
	g.registry.BroadcastToRoom(p.RoomID, event(EventTyping, typingEvent{
		RoomID:    p.RoomID,
		UserID:    client.UserID,
		IsTyping:  p.IsTyping,
		Timestamp: time.Now().UTC(),
	}), client.UserID)
	return true
}

func (g *Gateway) handleRead(ctx context.Context, client *Client, data json.RawMessage) bool {
	var p readPayload
	if !decode(data, &p) || p.RoomID == "" {
		g.sendError(client, errorEvent{Code: CodeValidation, Message: "roomId is required"})
		return false
	}
	n, err := g.svc.MarkMessagesAsRead(ctx, p.RoomID, client.UserID, p.LastReadMessageID)
	if err != nil {
		code, text := g.classify(client, err, p.RoomID)
		g.sendError(client, errorEvent{Code: code, Message: text, RoomID: p.RoomID})
		return false
	}
	if n > 0 {
		g.PublishRead(p.RoomID, client.UserID, p.LastReadMessageID, n)
	}
	return true
}

func (g *Gateway) handleAck(ctx context.Context, client *Client, data json.RawMessage) bool {
	var p ackPayload
	if !decode(data, &p) || p.MessageID == "" {
		g.sendError(client, errorEvent{Code: CodeValidation, Message: "messageId is required"})
		return false
	}
	msg, changed, err := g.svc.AcknowledgeDelivery(ctx, p.MessageID, client.UserID)
	if err != nil {
		code, text := g.classify(client, err, "")
		g.sendError(client, errorEvent{Code: code, Message: text})
		return false
	}
	if changed {
		g.registry.SendToUser(msg.SenderID, event(EventMessageStatus, messageStatusEvent{
			MessageID: msg.ID,
			RoomID:    msg.RoomID,
			Status:    string(msg.Status),
		}))
	}
	return true
}

// PublishMessage broadcasts msg to the room, pings participants who are
// online elsewhere, and notifies the ones with no connection at all.
func (g *Gateway) PublishMessage(ctx context.Context, msg *chat.Message, clientMessageID string) {
	g.registry.BroadcastToRoom(msg.RoomID, event(EventMessage, messageEvent{Message: msg, ClientMessageID: clientMessageID}), "")

	recipients, err := g.svc.RoomRecipients(ctx, msg.RoomID, msg.SenderID)
	if err != nil {
		g.log.Warn().Err(err).Str("room_id", msg.RoomID).Msg("failed to resolve recipients")
		return
	}
	preview := previewOf(msg.Content)
	for _, userID := range recipients {
		if g.registry.IsOnline(userID) {
			if !g.registry.UserViewingRoom(userID, msg.RoomID) {
				g.registry.SendToUser(userID, event(EventNewMessage, newMessageEvent{
					RoomID:    msg.RoomID,
					MessageID: msg.ID,
					SenderID:  msg.SenderID,
					Preview:   preview,
					Timestamp: msg.CreatedAt,
				}))
			}
			continue
		}
		if g.notifier == nil {
			continue
		}
		err := g.notifier.Notify(ctx, userID, notify.Notification{
			Type:      notify.TypeNewMessage,
			RoomID:    msg.RoomID,
			Preview:   preview,
			SenderID:  msg.SenderID,
			Timestamp: msg.CreatedAt,
		})
		if err != nil {
			g.log.Warn().Err(err).Str("user_id", userID).Str("room_id", msg.RoomID).Msg("notify failed")
		}
	}
}

func (g *Gateway) PublishRead(roomID, userID string, lastReadMessageID *string, count int) {
	g.registry.BroadcastToRoom(roomID, event(EventRead, readEvent{
		RoomID:            roomID,
		UserID:            userID,
		LastReadMessageID: lastReadMessageID,
		Count:             count,
		Timestamp:         time.Now().UTC(),
	}), userID)
}

func previewOf(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength])
}

// classify turns a service error into a wire code and a client-safe message.
func (g *Gateway) classify(client *Client, err error, roomID string) (string, string) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code == apperrors.CodeInternal {
		g.log.Error().Err(err).Str("user_id", client.UserID).Str("conn_id", client.ID).Str("room_id", roomID).Msg("chat operation failed")
		return CodeInternal, "internal error"
	}
	switch appErr.Code {
	case apperrors.CodeChatClosed:
		return CodeChatClosed, appErr.Message
	case apperrors.CodeForbidden:
		return CodeForbidden, appErr.Message
	case apperrors.CodeNotFound:
		return CodeNotFound, appErr.Message
	case apperrors.CodeBadRequest:
		return CodeValidation, appErr.Message
	case apperrors.CodeRateLimited:
		return CodeRateLimited, appErr.Message
	}
	return CodeInternal, appErr.Message
}

func (g *Gateway) sendError(client *Client, e errorEvent) {
	client.Enqueue(event(EventError, e))
}

// Shutdown closes every live connection with a normal close frame.
func (g *Gateway) Shutdown() {
	n := g.registry.CloseAll()
	g.log.Info().Int("connections", n).Msg("closing websocket connections")
}

// OnlineUsers lists users with at least one live connection.
func (g *Gateway) OnlineUsers() []string {
	return g.registry.OnlineUsers()
}
