package realtime

import (
	"encoding/json"
	"time"

	"marketchat/pkg/chat"
)

// Inbound event types.
const (
	EventAuth    = "auth"
	EventJoin    = "join"
	EventLeave   = "leave"
	EventMessage = "message"
	EventTyping  = "typing"
	EventRead    = "read"
	EventAck     = "ack"
	EventPing    = "ping"
)

// Outbound-only event types. message, typing and read go both ways.
const (
	EventConnected     = "connected"
	EventJoined        = "joined"
	EventNewMessage    = "new-message"
	EventMessageStatus = "message-status"
	EventError         = "error"
	EventPong          = "pong"
)

// Error codes carried by error events.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeAuthRequired = "AUTH_REQUIRED"
	CodeAuthTimeout  = "AUTH_TIMEOUT"
	CodeValidation   = "VALIDATION_ERROR"
	CodeRoomNotFound = "ROOM_NOT_FOUND"
	CodeNotFound     = "NOT_FOUND"
	CodeForbidden    = "FORBIDDEN"
	CodeChatClosed   = "CHAT_CLOSED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeSendFailed   = "SEND_FAILED"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUnknownEvent = "UNKNOWN_EVENT"
)

// statusFailed is reported back to the sender when a send with a client
// correlation id is rejected.
const statusFailed = "FAILED"

// Envelope is the frame format in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func event(eventType string, data any) outEvent {
	return outEvent{Type: eventType, Data: data}
}

type authPayload struct {
	Token string `json:"token"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type messagePayload struct {
	RoomID          string           `json:"roomId"`
	Content         string           `json:"content"`
	Type            chat.MessageType `json:"type,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	ReplyToID       *string          `json:"replyToId,omitempty"`
	ClientMessageID string           `json:"clientMessageId,omitempty"`
}

type typingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type readPayload struct {
	RoomID            string  `json:"roomId"`
	LastReadMessageID *string `json:"lastReadMessageId,omitempty"`
}

type ackPayload struct {
	MessageID string `json:"messageId"`
}

type connectedEvent struct {
	UserID      string `json:"userId"`
	UnreadCount int64  `json:"unreadCount"`
}

type joinedEvent struct {
	RoomID       string             `json:"roomId"`
	Type         chat.RoomType      `json:"type"`
	Status       chat.RoomStatus    `json:"status"`
	Participants []chat.Participant `json:"participants"`
	Messages     []chat.Message     `json:"messages"`
}

type messageEvent struct {
	*chat.Message
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type newMessageEvent struct {
	RoomID    string    `json:"roomId"`
	MessageID string    `json:"messageId"`
	SenderID  string    `json:"senderId"`
	Preview   string    `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
}

type typingEvent struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

type readEvent struct {
	RoomID            string    `json:"roomId"`
	UserID            string    `json:"userId"`
	LastReadMessageID *string   `json:"lastReadMessageId,omitempty"`
	Count             int       `json:"count"`
	Timestamp         time.Time `json:"timestamp"`
}

type messageStatusEvent struct {
	MessageID       string `json:"messageId,omitempty"`
	RoomID          string `json:"roomId,omitempty"`
	Status          string `json:"status"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type errorEvent struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	RoomID          string `json:"roomId,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	RetryAfterMs    int64  `json:"retryAfterMs,omitempty"`
}

type pongEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
