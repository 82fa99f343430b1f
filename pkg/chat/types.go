package chat

import (
	"time"

	"marketchat/pkg/policy"
)

type RoomType = policy.RoomType

const (
	RoomTypeCustomerMerchant = policy.RoomCustomerMerchant
	RoomTypeCustomerDriver   = policy.RoomCustomerDriver
	RoomTypeCustomerSupport  = policy.RoomCustomerSupport
)

func ValidRoomType(t RoomType) bool {
	switch t {
	case RoomTypeCustomerMerchant, RoomTypeCustomerDriver, RoomTypeCustomerSupport:
		return true
	}
	return false
}

type RoomStatus string

const (
	RoomActive   RoomStatus = "ACTIVE"
	RoomClosed   RoomStatus = "CLOSED"
	RoomArchived RoomStatus = "ARCHIVED"
)

type ParticipantRole string

const (
	RoleCustomer ParticipantRole = "CUSTOMER"
	RoleMerchant ParticipantRole = "MERCHANT"
	RoleDriver   ParticipantRole = "DRIVER"
	RoleAdmin    ParticipantRole = "ADMIN"
)

type MessageType string

const (
	MessageText     MessageType = "TEXT"
	MessageLocation MessageType = "LOCATION"
	MessageImage    MessageType = "IMAGE"
	MessageFile     MessageType = "FILE"
	MessageSystem   MessageType = "SYSTEM"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// Rank orders delivery statuses; a message only ever moves to a higher rank.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// SystemSenderID is the sender of messages generated by the service itself.
const SystemSenderID = "system"

const MaxContentLength = 2000

type Room struct {
	ID            string     `json:"id"`
	Type          RoomType   `json:"type"`
	Status        RoomStatus `json:"status"`
	OrderID       *string    `json:"order_id,omitempty"`
	TicketID      *string    `json:"ticket_id,omitempty"`
	Title         *string    `json:"title,omitempty"`
	LastMessageID *string    `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	ClosedReason  *string    `json:"closed_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Participant struct {
	ID                string          `json:"id"`
	RoomID            string          `json:"room_id"`
	UserID            string          `json:"user_id"`
	Role              ParticipantRole `json:"role"`
	JoinedAt          time.Time       `json:"joined_at"`
	LeftAt            *time.Time      `json:"left_at,omitempty"`
	LastSeenAt        *time.Time      `json:"last_seen_at,omitempty"`
	LastReadAt        *time.Time      `json:"last_read_at,omitempty"`
	LastReadMessageID *string         `json:"last_read_message_id,omitempty"`
}

type Message struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"room_id"`
	SenderID  string         `json:"sender_id"`
	Content   string         `json:"content"`
	Type      MessageType    `json:"type"`
	Status    MessageStatus  `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ReplyToID *string        `json:"reply_to_id,omitempty"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Before reports whether m sorts before other: creation time, then id.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type TicketStatus string

const (
	TicketOpen            TicketStatus = "OPEN"
	TicketInProgress      TicketStatus = "IN_PROGRESS"
	TicketWaitingCustomer TicketStatus = "WAITING_CUSTOMER"
	TicketWaitingAdmin    TicketStatus = "WAITING_ADMIN"
	TicketResolved        TicketStatus = "RESOLVED"
	TicketClosed          TicketStatus = "CLOSED"
)

func ValidTicketStatus(s TicketStatus) bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketWaitingCustomer, TicketWaitingAdmin, TicketResolved, TicketClosed:
		return true
	}
	return false
}

type TicketPriority string

const (
	PriorityLow    TicketPriority = "LOW"
	PriorityNormal TicketPriority = "NORMAL"
	PriorityHigh   TicketPriority = "HIGH"
	PriorityUrgent TicketPriority = "URGENT"
)

func ValidTicketPriority(p TicketPriority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

const DefaultTicketCategory = "GENERAL"

type SupportTicket struct {
	ID              string         `json:"id"`
	CustomerID      string         `json:"customer_id"`
	Subject         string         `json:"subject"`
	Category        string         `json:"category"`
	Priority        TicketPriority `json:"priority"`
	Status          TicketStatus   `json:"status"`
	AssignedAdminID *string        `json:"assigned_admin_id,omitempty"`
	OrderID         *string        `json:"order_id,omitempty"`
	RoomID          string         `json:"room_id"`
	Resolution      *string        `json:"resolution,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RoomFilter narrows ListRoomsForUser. Nil fields are not applied.
type RoomFilter struct {
	Status *RoomStatus
	Type   *RoomType
}

type RoomSummary struct {
	Room
	UnreadCount int64 `json:"unread_count"`
}

type RoomPage struct {
	Items []RoomSummary `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

type RoomDetail struct {
	Room         Room          `json:"room"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
}

// Cursor is a position in a room's message order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// MessageQuery is the store-level page request. With Before (or neither) the
// store returns newest-first; with After it returns oldest-first.
type MessageQuery struct {
	Limit  int
	Before *Cursor
	After  *Cursor
}

type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

type TicketFilter struct {
	CustomerID      *string
	AssignedAdminID *string
	Status          *TicketStatus
}

type TicketPage struct {
	Items []SupportTicket `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

type TicketDetail struct {
	Ticket SupportTicket `json:"ticket"`
	Room   Room          `json:"room"`
}

type ChatStatus struct {
	OrderID             string  `json:"order_id"`
	OrderStatus         string  `json:"order_status"`
	CanChatWithMerchant bool    `json:"can_chat_with_merchant"`
	MerchantReason      string  `json:"merchant_reason,omitempty"`
	MerchantRoomID      *string `json:"merchant_room_id,omitempty"`
	CanChatWithDriver   bool    `json:"can_chat_with_driver"`
	DriverReason        string  `json:"driver_reason,omitempty"`
	DriverRoomID        *string `json:"driver_room_id,omitempty"`
}
