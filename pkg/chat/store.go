package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrConflict is returned when a uniqueness invariant would be broken,
	// e.g. a second open room for the same (order, type).
	ErrConflict = errors.New("resource already exists")
)

// ParticipantUpdate records activity of a participant. ReadAt only ever
// moves the read horizon forward.
type ParticipantUpdate struct {
	SeenAt            time.Time
	ReadAt            *time.Time
	LastReadMessageID *string
}

// Store is the durable side of the chat subsystem: rooms, participants,
// messages, read receipts and support tickets.
type Store interface {
	CreateRoom(ctx context.Context, room *Room, participants []Participant) error
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	// FindRoomByOrder returns the open room for (order, type) if there is one,
	// otherwise the most recently closed one.
	FindRoomByOrder(ctx context.Context, orderID string, roomType RoomType) (*Room, error)
	ListRoomsForUser(ctx context.Context, userID string, filter RoomFilter, limit, offset int) ([]RoomSummary, int64, error)
	UpdateRoomStatus(ctx context.Context, roomID string, status RoomStatus, closedAt *time.Time, reason *string, updatedAt time.Time) error

	GetActiveParticipant(ctx context.Context, roomID, userID string) (*Participant, error)
	ListActiveParticipants(ctx context.Context, roomID string) ([]Participant, error)
	AddParticipant(ctx context.Context, p *Participant) error
	TouchParticipant(ctx context.Context, roomID, userID string, update ParticipantUpdate) error

	// CreateMessage persists msg and moves the room's last-message pointer.
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	ListMessages(ctx context.Context, roomID string, q MessageQuery) ([]Message, error)
	SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error
	// AdvanceMessageStatus sets status only if it ranks above the current one
	// and reports whether the row changed.
	AdvanceMessageStatus(ctx context.Context, messageID string, status MessageStatus) (bool, error)

	// ListUnreceiptedMessages returns live messages in the room from other
	// senders, created at or before horizon, that userID has no receipt for.
	ListUnreceiptedMessages(ctx context.Context, roomID, userID string, horizon time.Time) ([]Message, error)
	// InsertReadReceipts skips receipts that already exist and returns the
	// message ids that were newly receipted.
	InsertReadReceipts(ctx context.Context, userID string, messageIDs []string, readAt time.Time) ([]string, error)
	CountReadReceipts(ctx context.Context, messageID string) (int, error)

	CountUnreadForUser(ctx context.Context, userID string) (int64, error)

	CreateTicket(ctx context.Context, t *SupportTicket, room *Room, participant Participant) error
	GetTicket(ctx context.Context, ticketID string) (*SupportTicket, error)
	ListTickets(ctx context.Context, filter TicketFilter, limit, offset int) ([]SupportTicket, int64, error)
	UpdateTicket(ctx context.Context, t *SupportTicket) error
}
