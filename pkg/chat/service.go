package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketchat/pkg/apperrors"
	"marketchat/pkg/metrics"
	"marketchat/pkg/orders"
	"marketchat/pkg/policy"
	"marketchat/pkg/users"
)

const (
	defaultRoomPageLimit    = 20
	defaultMessagePageLimit = 50
	maxPageLimit            = 100
	roomHistoryLimit        = 50
)

type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
}

type UserLookup interface {
	GetUserByUUID(ctx context.Context, uuid string) (users.User, error)
}

type SendMessageInput struct {
	RoomID          string         `json:"room_id"`
	Content         string         `json:"content"`
	Type            MessageType    `json:"type,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ReplyToID       *string        `json:"reply_to_id,omitempty"`
	ClientMessageID string         `json:"client_message_id,omitempty"`
}

// MessageQueryInput pages a room's history. Before and After are message ids.
type MessageQueryInput struct {
	Limit  int
	Before string
	After  string
}

type CreateTicketInput struct {
	Subject        string  `json:"subject" binding:"required"`
	Category       string  `json:"category,omitempty"`
	OrderID        *string `json:"order_id,omitempty"`
	InitialMessage string  `json:"initial_message,omitempty"`
}

type UpdateTicketInput struct {
	Priority   *TicketPriority `json:"priority,omitempty"`
	Status     *TicketStatus   `json:"status,omitempty"`
	Resolution *string         `json:"resolution,omitempty"`
}

type ChatService interface {
	ListRoomsForUser(ctx context.Context, userID string, filter RoomFilter, page, limit int) (RoomPage, error)
	GetRoom(ctx context.Context, roomID, userID string) (*RoomDetail, error)
	GetOrCreateRoom(ctx context.Context, orderID string, roomType RoomType, userID string) (*Room, error)
	CloseRoom(ctx context.Context, roomID, userID string, reason *string) (*Room, error)
	SendMessage(ctx context.Context, userID string, in SendMessageInput) (*Message, error)
	GetMessages(ctx context.Context, roomID, userID string, q MessageQueryInput) (*MessagePage, error)
	MarkMessagesAsRead(ctx context.Context, roomID, userID string, lastReadMessageID *string) (int, error)
	GetUnreadCount(ctx context.Context, userID string) (int64, error)
	AcknowledgeDelivery(ctx context.Context, messageID, userID string) (*Message, bool, error)
	DeleteMessage(ctx context.Context, messageID, userID string) error
	RoomRecipients(ctx context.Context, roomID, excludeUserID string) ([]string, error)
	GetChatStatus(ctx context.Context, orderID, userID string) (*ChatStatus, error)

	CreateSupportTicket(ctx context.Context, userID string, in CreateTicketInput) (*TicketDetail, error)
	AssignTicket(ctx context.Context, ticketID, adminID, assignedBy string) (*SupportTicket, error)
	UpdateTicket(ctx context.Context, ticketID, adminID string, in UpdateTicketInput) (*SupportTicket, error)
	GetTicket(ctx context.Context, ticketID, userID string) (*TicketDetail, error)
	ListTickets(ctx context.Context, userID string, role string, filter TicketFilter, page, limit int) (TicketPage, error)
}

type Option func(*chatService)

func WithPolicy(e policy.Evaluator) Option {
	return func(s *chatService) { s.policy = e }
}

func WithClock(now func() time.Time) Option {
	return func(s *chatService) { s.clock = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *chatService) { s.log = l }
}

type chatService struct {
	store  Store
	orders OrderLookup
	users  UserLookup
	dedup  IdempotencyCache
	policy policy.Evaluator
	clock  func() time.Time
	log    zerolog.Logger
	locks  *keyedMutex
}

func NewChatService(store Store, orderLookup OrderLookup, userLookup UserLookup, dedup IdempotencyCache, opts ...Option) ChatService {
	s := &chatService{
		store:  store,
		orders: orderLookup,
		users:  userLookup,
		dedup:  dedup,
		policy: policy.Default(),
		clock:  time.Now,
		log:    zerolog.Nop(),
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dedup == nil {
		s.dedup = NewMemoryIdempotencyCache(DefaultDedupMaxEntries, DefaultDedupTTL)
	}
	return s
}

// now is truncated to the precision Postgres keeps so that timestamps read
// back compare equal to the ones written.
func (s *chatService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func pageBounds(page, limit, def int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = def
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit, (page - 1) * limit
}

func storeErr(err error, resource string) error {
	if errors.Is(err, ErrNotFound) {
		return apperrors.NotFound(resource)
	}
	return apperrors.Internal("failed to load "+resource, err)
}

func (s *chatService) requireParticipant(ctx context.Context, roomID, userID string) (*Participant, error) {
	if roomID == "" {
		return nil, apperrors.BadRequest("room id is required")
	}
	p, err := s.store.GetActiveParticipant(ctx, roomID, userID)
	if err != nil {
		// Non-members cannot tell a missing room from one they are not in.
		return nil, storeErr(err, "room")
	}
	return p, nil
}

func (s *chatService) loadOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			return nil, apperrors.NotFound("order")
		}
		return nil, apperrors.Internal("failed to load order", err)
	}
	return o, nil
}

func redact(msgs []Message) {
	for i := range msgs {
		if msgs[i].DeletedAt != nil {
			msgs[i].Content = ""
			msgs[i].Metadata = nil
		}
	}
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func (s *chatService) ListRoomsForUser(ctx context.Context, userID string, filter RoomFilter, page, limit int) (RoomPage, error) {
	if filter.Type != nil && !ValidRoomType(*filter.Type) {
		return RoomPage{}, apperrors.BadRequest("invalid room type")
	}
	page, limit, offset := pageBounds(page, limit, defaultRoomPageLimit)
	items, total, err := s.store.ListRoomsForUser(ctx, userID, filter, limit, offset)
	if err != nil {
		return RoomPage{}, apperrors.Internal("failed to list rooms", err)
	}
	return RoomPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (s *chatService) GetRoom(ctx context.Context, roomID, userID string) (*RoomDetail, error) {
	if _, err := s.requireParticipant(ctx, roomID, userID); err != nil {
		return nil, err
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, storeErr(err, "room")
	}
	participants, err := s.store.ListActiveParticipants(ctx, roomID)
	if err != nil {
		return nil, apperrors.Internal("failed to list participants", err)
	}
	msgs, err := s.store.ListMessages(ctx, roomID, MessageQuery{Limit: roomHistoryLimit})
	if err != nil {
		return nil, apperrors.Internal("failed to list messages", err)
	}
	reverse(msgs)
	redact(msgs)
	return &RoomDetail{Room: *room, Participants: participants, Messages: msgs}, nil
}

// expectedParticipants derives who belongs in an order room of the given type.
func expectedParticipants(o *orders.Order, roomType RoomType) ([]Participant, error) {
	customer := Participant{UserID: o.UserID, Role: RoleCustomer}
	switch roomType {
	case RoomTypeCustomerMerchant:
		return []Participant{customer, {UserID: o.MerchantOwnerID, Role: RoleMerchant}}, nil
	case RoomTypeCustomerDriver:
		if o.DriverUserID == nil || *o.DriverUserID == "" {
			return nil, apperrors.BadRequest("no driver assigned to this order")
		}
		return []Participant{customer, {UserID: *o.DriverUserID, Role: RoleDriver}}, nil
	default:
		return []Participant{customer}, nil
	}
}

func (s *chatService) GetOrCreateRoom(ctx context.Context, orderID string, roomType RoomType, userID string) (*Room, error) {
	defer metrics.ObserveOperation("get_or_create_room", time.Now())

	if !ValidRoomType(roomType) {
		return nil, apperrors.BadRequest("invalid room type")
	}
	if strings.TrimSpace(orderID) == "" {
		if roomType == RoomTypeCustomerSupport {
			return nil, apperrors.BadRequest("support chats without an order are opened through a support ticket")
		}
		return nil, apperrors.BadRequest("order id is required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	expected, err := expectedParticipants(order, roomType)
	if err != nil {
		return nil, err
	}
	if !order.HasParticipant(userID) {
		return nil, apperrors.Forbidden("not authorized for this order")
	}

	now := s.now()
	if d := s.policy.Evaluate(roomType, order.Status, now, order.UpdatedAt); !d.Allowed {
		return nil, apperrors.Forbidden(d.Reason)
	}

	room, err := s.store.FindRoomByOrder(ctx, orderID, roomType)
	switch {
	case err == nil && room.Status != RoomClosed:
		return s.ensureParticipants(ctx, room, expected, now)
	case err == nil:
		room, err = s.reopenRoom(ctx, room, orderID, roomType, now)
		if err != nil {
			return nil, err
		}
		return s.ensureParticipants(ctx, room, expected, now)
	case !errors.Is(err, ErrNotFound):
		return nil, apperrors.Internal("failed to look up room", err)
	}

	room = &Room{
		ID:        uuid.NewString(),
		Type:      roomType,
		Status:    RoomActive,
		OrderID:   &orderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	members := make([]Participant, len(expected))
	for i, p := range expected {
		p.ID = uuid.NewString()
		p.RoomID = room.ID
		p.JoinedAt = now
		members[i] = p
	}
	if err := s.store.CreateRoom(ctx, room, members); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent create for the same order.
			existing, ferr := s.store.FindRoomByOrder(ctx, orderID, roomType)
			if ferr != nil {
				return nil, apperrors.Internal("failed to look up room", ferr)
			}
			return existing, nil
		}
		return nil, apperrors.Internal("failed to create room", err)
	}
	s.log.Info().Str("room_id", room.ID).Str("order_id", orderID).Str("type", string(roomType)).Msg("chat room created")
	return room, nil
}

func (s *chatService) reopenRoom(ctx context.Context, room *Room, orderID string, roomType RoomType, now time.Time) (*Room, error) {
	err := s.store.UpdateRoomStatus(ctx, room.ID, RoomActive, nil, nil, now)
	if errors.Is(err, ErrConflict) {
		open, ferr := s.store.FindRoomByOrder(ctx, orderID, roomType)
		if ferr != nil {
			return nil, apperrors.Internal("failed to look up room", ferr)
		}
		return open, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to reopen room", err)
	}
	room.Status = RoomActive
	room.ClosedAt = nil
	room.ClosedReason = nil
	room.UpdatedAt = now
	s.log.Info().Str("room_id", room.ID).Str("order_id", orderID).Msg("chat room reopened")
	return room, nil
}

// ensureParticipants adds any expected member that is missing, e.g. a driver
// reassigned after the room was first opened.
func (s *chatService) ensureParticipants(ctx context.Context, room *Room, expected []Participant, now time.Time) (*Room, error) {
	for _, p := range expected {
		_, err := s.store.GetActiveParticipant(ctx, room.ID, p.UserID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, apperrors.Internal("failed to load participant", err)
		}
		p.ID = uuid.NewString()
		p.RoomID = room.ID
		p.JoinedAt = now
		if err := s.store.AddParticipant(ctx, &p); err != nil && !errors.Is(err, ErrConflict) {
			return nil, apperrors.Internal("failed to add participant", err)
		}
	}
	return room, nil
}

func (s *chatService) CloseRoom(ctx context.Context, roomID, userID string, reason *string) (*Room, error) {
	if roomID == "" {
		return nil, apperrors.BadRequest("room id is required")
	}
	if _, err := s.store.GetActiveParticipant(ctx, roomID, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.Forbidden("not a participant of this room")
		}
		return nil, apperrors.Internal("failed to load participant", err)
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, storeErr(err, "room")
	}
	if room.Status == RoomClosed {
		return nil, apperrors.BadRequest("room is already closed")
	}

	text := "closed by participant"
	if reason != nil && strings.TrimSpace(*reason) != "" {
		text = strings.TrimSpace(*reason)
	}
	if err := s.closeRoom(ctx, room, text, userID, "participant"); err != nil {
		return nil, err
	}
	return room, nil
}

// closeRoom flips room to CLOSED and records a system message. room is
// updated in place.
func (s *chatService) closeRoom(ctx context.Context, room *Room, reason, actorID, cause string) error {
	now := s.now()
	if err := s.store.UpdateRoomStatus(ctx, room.ID, RoomClosed, &now, &reason, now); err != nil {
		return apperrors.Internal("failed to close room", err)
	}
	room.Status = RoomClosed
	room.ClosedAt = &now
	room.ClosedReason = &reason
	room.UpdatedAt = now

	meta := map[string]any{"event": "room_closed", "reason": reason}
	if actorID != "" {
		meta["closed_by"] = actorID
	}
	if _, err := s.systemMessage(ctx, room.ID, "Chat closed: "+reason, meta); err != nil {
		return err
	}
	metrics.RecordRoomClosed(cause)
	s.log.Info().Str("room_id", room.ID).Str("cause", cause).Str("reason", reason).Msg("chat room closed")
	return nil
}

func (s *chatService) systemMessage(ctx context.Context, roomID, content string, meta map[string]any) (*Message, error) {
	msg := &Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  SystemSenderID,
		Content:   content,
		Type:      MessageSystem,
		Status:    StatusSent,
		Metadata:  meta,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, apperrors.Internal("failed to record system message", err)
	}
	metrics.RecordMessageSent(string(MessageSystem))
	return msg, nil
}

func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", apperrors.BadRequest("message content is required")
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", apperrors.BadRequest(fmt.Sprintf("message content exceeds %d characters", MaxContentLength))
	}
	return trimmed, nil
}

func validateClientType(t MessageType) (MessageType, error) {
	switch t {
	case "":
		return MessageText, nil
	case MessageText, MessageLocation, MessageImage, MessageFile:
		return t, nil
	}
	return "", apperrors.BadRequest("invalid message type")
}

func (s *chatService) SendMessage(ctx context.Context, userID string, in SendMessageInput) (*Message, error) {
	defer metrics.ObserveOperation("send_message", time.Now())

	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	msgType, err := validateClientType(in.Type)
	if err != nil {
		return nil, err
	}
	if in.RoomID == "" {
		return nil, apperrors.BadRequest("room id is required")
	}

	unlock := s.locks.Lock(in.RoomID + "|" + userID)
	defer unlock()

	var key string
	if in.ClientMessageID != "" {
		key = dedupKey(userID, in.ClientMessageID)
		if prev, ok := s.lookupDuplicate(ctx, key); ok {
			metrics.MessagesDeduplicated.Inc()
			return prev, nil
		}
	}

	if _, err := s.store.GetActiveParticipant(ctx, in.RoomID, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.Forbidden("not a participant of this room")
		}
		return nil, apperrors.Internal("failed to load participant", err)
	}
	room, err := s.store.GetRoom(ctx, in.RoomID)
	if err != nil {
		return nil, storeErr(err, "room")
	}
	if room.Status == RoomClosed {
		reason := "room is closed"
		if room.ClosedReason != nil {
			reason = *room.ClosedReason
		}
		return nil, apperrors.ChatClosed(reason)
	}

	if room.OrderID != nil {
		order, err := s.loadOrder(ctx, *room.OrderID)
		if err != nil {
			return nil, err
		}
		if d := s.policy.Evaluate(room.Type, order.Status, s.now(), order.UpdatedAt); !d.Allowed {
			if cerr := s.closeRoom(ctx, room, d.Reason, "", "policy"); cerr != nil {
				s.log.Warn().Err(cerr).Str("room_id", room.ID).Msg("failed to close room after policy denial")
			}
			return nil, apperrors.ChatClosed(d.Reason)
		}
	}

	if in.ReplyToID != nil && *in.ReplyToID != "" {
		target, err := s.store.GetMessage(ctx, *in.ReplyToID)
		if err != nil || target.RoomID != room.ID {
			return nil, apperrors.BadRequest("reply target is not a message in this room")
		}
	}

	now := s.now()
	msg := &Message{
		ID:        uuid.NewString(),
		RoomID:    room.ID,
		SenderID:  userID,
		Content:   content,
		Type:      msgType,
		Status:    StatusSent,
		Metadata:  in.Metadata,
		ReplyToID: in.ReplyToID,
		CreatedAt: now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, apperrors.Internal("failed to send message", err)
	}

	// The sender has read everything up to their own message.
	if err := s.store.TouchParticipant(ctx, room.ID, userID, ParticipantUpdate{
		SeenAt:            now,
		ReadAt:            &now,
		LastReadMessageID: &msg.ID,
	}); err != nil {
		s.log.Warn().Err(err).Str("room_id", room.ID).Str("user_id", userID).Msg("failed to update sender read position")
	}

	if key != "" {
		if err := s.dedup.Remember(ctx, key, msg.ID); err != nil {
			s.log.Warn().Err(err).Str("client_message_id", in.ClientMessageID).Msg("failed to record idempotency key")
		}
	}
	metrics.RecordMessageSent(string(msgType))
	return msg, nil
}

func (s *chatService) lookupDuplicate(ctx context.Context, key string) (*Message, bool) {
	id, ok, err := s.dedup.Lookup(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("idempotency lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, false
	}
	return msg, true
}

func (s *chatService) GetMessages(ctx context.Context, roomID, userID string, in MessageQueryInput) (*MessagePage, error) {
	if _, err := s.requireParticipant(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if in.Before != "" && in.After != "" {
		return nil, apperrors.BadRequest("before and after cannot be combined")
	}
	_, limit, _ := pageBounds(1, in.Limit, defaultMessagePageLimit)

	q := MessageQuery{Limit: limit + 1}
	if in.Before != "" {
		c, err := s.cursor(ctx, roomID, in.Before)
		if err != nil {
			return nil, err
		}
		q.Before = c
	}
	if in.After != "" {
		c, err := s.cursor(ctx, roomID, in.After)
		if err != nil {
			return nil, err
		}
		q.After = c
	}

	msgs, err := s.store.ListMessages(ctx, roomID, q)
	if err != nil {
		return nil, apperrors.Internal("failed to list messages", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if q.After == nil {
		reverse(msgs)
	}
	redact(msgs)
	return &MessagePage{Messages: msgs, HasMore: hasMore}, nil
}

func (s *chatService) cursor(ctx context.Context, roomID, messageID string) (*Cursor, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeErr(err, "message")
	}
	if m.RoomID != roomID {
		return nil, apperrors.NotFound("message")
	}
	return &Cursor{CreatedAt: m.CreatedAt, ID: m.ID}, nil
}

func (s *chatService) MarkMessagesAsRead(ctx context.Context, roomID, userID string, lastReadMessageID *string) (int, error) {
	defer metrics.ObserveOperation("mark_read", time.Now())

	unlock := s.locks.Lock(roomID + "|" + userID)
	defer unlock()

	if _, err := s.requireParticipant(ctx, roomID, userID); err != nil {
		return 0, err
	}

	now := s.now()
	horizon := now
	if lastReadMessageID != nil && *lastReadMessageID != "" {
		c, err := s.cursor(ctx, roomID, *lastReadMessageID)
		if err != nil {
			return 0, err
		}
		horizon = c.CreatedAt
	} else {
		lastReadMessageID = nil
	}

	pending, err := s.store.ListUnreceiptedMessages(ctx, roomID, userID, horizon)
	if err != nil {
		return 0, apperrors.Internal("failed to list unread messages", err)
	}
	if lastReadMessageID == nil && len(pending) > 0 {
		lastReadMessageID = &pending[len(pending)-1].ID
	}
	if err := s.store.TouchParticipant(ctx, roomID, userID, ParticipantUpdate{
		SeenAt:            now,
		ReadAt:            &horizon,
		LastReadMessageID: lastReadMessageID,
	}); err != nil {
		return 0, storeErr(err, "room")
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ids := make([]string, len(pending))
	for i, m := range pending {
		ids[i] = m.ID
	}
	senders := make(map[string]string, len(pending))
	for _, m := range pending {
		senders[m.ID] = m.SenderID
	}
	inserted, err := s.store.InsertReadReceipts(ctx, userID, ids, now)
	if err != nil {
		return 0, apperrors.Internal("failed to record read receipts", err)
	}

	participants, err := s.store.ListActiveParticipants(ctx, roomID)
	if err != nil {
		return 0, apperrors.Internal("failed to list participants", err)
	}
	for _, id := range inserted {
		n, err := s.store.CountReadReceipts(ctx, id)
		if err != nil {
			return 0, apperrors.Internal("failed to count read receipts", err)
		}
		// System messages have no sender among the participants.
		readers := len(participants)
		if senders[id] != SystemSenderID {
			readers--
		}
		status := StatusDelivered
		if n >= readers {
			status = StatusRead
		}
		if _, err := s.store.AdvanceMessageStatus(ctx, id, status); err != nil {
			return 0, apperrors.Internal("failed to update message status", err)
		}
	}
	return len(inserted), nil
}

func (s *chatService) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.CountUnreadForUser(ctx, userID)
	if err != nil {
		return 0, apperrors.Internal("failed to count unread messages", err)
	}
	return n, nil
}

func (s *chatService) AcknowledgeDelivery(ctx context.Context, messageID, userID string) (*Message, bool, error) {
	if messageID == "" {
		return nil, false, apperrors.BadRequest("message id is required")
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, storeErr(err, "message")
	}
	if msg.SenderID == userID {
		return nil, false, apperrors.BadRequest("cannot acknowledge your own message")
	}
	if _, err := s.store.GetActiveParticipant(ctx, msg.RoomID, userID); err != nil {
		return nil, false, storeErr(err, "message")
	}
	changed, err := s.store.AdvanceMessageStatus(ctx, messageID, StatusDelivered)
	if err != nil {
		return nil, false, apperrors.Internal("failed to update message status", err)
	}
	if changed {
		msg.Status = StatusDelivered
	}
	return msg, changed, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, messageID, userID string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return storeErr(err, "message")
	}
	p, err := s.store.GetActiveParticipant(ctx, msg.RoomID, userID)
	if err != nil {
		return storeErr(err, "message")
	}
	if msg.SenderID != userID && p.Role != RoleAdmin {
		return apperrors.Forbidden("only the sender or an admin can delete this message")
	}
	if msg.DeletedAt != nil {
		return nil
	}
	if err := s.store.SoftDeleteMessage(ctx, messageID, s.now()); err != nil {
		return apperrors.Internal("failed to delete message", err)
	}
	s.log.Info().Str("message_id", messageID).Str("room_id", msg.RoomID).Str("deleted_by", userID).Msg("message deleted")
	return nil
}

func (s *chatService) RoomRecipients(ctx context.Context, roomID, excludeUserID string) ([]string, error) {
	participants, err := s.store.ListActiveParticipants(ctx, roomID)
	if err != nil {
		return nil, apperrors.Internal("failed to list participants", err)
	}
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.UserID != excludeUserID {
			ids = append(ids, p.UserID)
		}
	}
	return ids, nil
}

func (s *chatService) GetChatStatus(ctx context.Context, orderID, userID string) (*ChatStatus, error) {
	if orderID == "" {
		return nil, apperrors.BadRequest("order id is required")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.HasParticipant(userID) {
		return nil, apperrors.Forbidden("not authorized for this order")
	}

	now := s.now()
	status := &ChatStatus{OrderID: order.ID, OrderStatus: string(order.Status)}

	merchant := s.policy.Evaluate(RoomTypeCustomerMerchant, order.Status, now, order.UpdatedAt)
	status.CanChatWithMerchant = merchant.Allowed
	status.MerchantReason = merchant.Reason

	if order.DriverUserID == nil || *order.DriverUserID == "" {
		status.DriverReason = "no driver assigned to this order"
	} else {
		driver := s.policy.Evaluate(RoomTypeCustomerDriver, order.Status, now, order.UpdatedAt)
		status.CanChatWithDriver = driver.Allowed
		status.DriverReason = driver.Reason
	}

	if status.MerchantRoomID, err = s.existingRoomID(ctx, orderID, RoomTypeCustomerMerchant); err != nil {
		return nil, err
	}
	if status.DriverRoomID, err = s.existingRoomID(ctx, orderID, RoomTypeCustomerDriver); err != nil {
		return nil, err
	}
	return status, nil
}

func (s *chatService) existingRoomID(ctx context.Context, orderID string, roomType RoomType) (*string, error) {
	room, err := s.store.FindRoomByOrder(ctx, orderID, roomType)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to look up room", err)
	}
	return &room.ID, nil
}
