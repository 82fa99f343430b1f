package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"marketchat/pkg/apperrors"
	"marketchat/pkg/users"
)

const maxSubjectLength = 200

func (s *chatService) CreateSupportTicket(ctx context.Context, userID string, in CreateTicketInput) (*TicketDetail, error) {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return nil, apperrors.BadRequest("subject is required")
	}
	if utf8.RuneCountInString(subject) > maxSubjectLength {
		return nil, apperrors.BadRequest("subject is too long")
	}
	// Reject a bad first message before anything is persisted.
	initial := strings.TrimSpace(in.InitialMessage)
	if initial != "" {
		if _, err := validateContent(initial); err != nil {
			return nil, err
		}
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = DefaultTicketCategory
	}

	var orderID *string
	if in.OrderID != nil && *in.OrderID != "" {
		order, err := s.loadOrder(ctx, *in.OrderID)
		if err != nil {
			return nil, err
		}
		if !order.HasParticipant(userID) {
			return nil, apperrors.Forbidden("not authorized for this order")
		}
		orderID = &order.ID
	}

	now := s.now()
	ticketID := uuid.NewString()
	room := &Room{
		ID:        uuid.NewString(),
		Type:      RoomTypeCustomerSupport,
		Status:    RoomActive,
		TicketID:  &ticketID,
		Title:     &subject,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ticket := &SupportTicket{
		ID:         ticketID,
		CustomerID: userID,
		Subject:    subject,
		Category:   category,
		Priority:   PriorityNormal,
		Status:     TicketOpen,
		OrderID:    orderID,
		RoomID:     room.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	customer := Participant{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		UserID:   userID,
		Role:     RoleCustomer,
		JoinedAt: now,
	}
	if err := s.store.CreateTicket(ctx, ticket, room, customer); err != nil {
		return nil, apperrors.Internal("failed to create ticket", err)
	}

	if _, err := s.systemMessage(ctx, room.ID, "Support ticket created: "+subject, map[string]any{
		"event":     "ticket_created",
		"ticket_id": ticketID,
	}); err != nil {
		return nil, err
	}
	if initial != "" {
		if _, err := s.SendMessage(ctx, userID, SendMessageInput{RoomID: room.ID, Content: initial}); err != nil {
			return nil, err
		}
	}
	s.log.Info().Str("ticket_id", ticketID).Str("room_id", room.ID).Str("customer_id", userID).Msg("support ticket created")

	fresh, err := s.store.GetRoom(ctx, room.ID)
	if err != nil {
		return nil, storeErr(err, "room")
	}
	return &TicketDetail{Ticket: *ticket, Room: *fresh}, nil
}

// requireAdmin checks the role recorded in the user directory. Any admin may
// act on any ticket.
func (s *chatService) requireAdmin(ctx context.Context, userID string) (users.User, error) {
	u, err := s.users.GetUserByUUID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return users.User{}, apperrors.Forbidden("admin role required")
		}
		return users.User{}, apperrors.Internal("failed to load user", err)
	}
	if !u.IsAdmin() {
		return users.User{}, apperrors.Forbidden("admin role required")
	}
	return u, nil
}

func (s *chatService) AssignTicket(ctx context.Context, ticketID, adminID, assignedBy string) (*SupportTicket, error) {
	if ticketID == "" || adminID == "" {
		return nil, apperrors.BadRequest("ticket id and admin id are required")
	}
	if _, err := s.requireAdmin(ctx, assignedBy); err != nil {
		return nil, err
	}
	admin, err := s.users.GetUserByUUID(ctx, adminID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, apperrors.NotFound("user")
		}
		return nil, apperrors.Internal("failed to load user", err)
	}
	if !admin.IsAdmin() {
		return nil, apperrors.BadRequest("assignee must be an admin")
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, storeErr(err, "ticket")
	}
	if isFinal(ticket.Status) {
		return nil, apperrors.BadRequest("cannot assign a resolved or closed ticket")
	}

	now := s.now()
	ticket.AssignedAdminID = &adminID
	ticket.Status = TicketInProgress
	ticket.UpdatedAt = now
	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, apperrors.Internal("failed to update ticket", err)
	}

	_, err = s.store.GetActiveParticipant(ctx, ticket.RoomID, adminID)
	switch {
	case errors.Is(err, ErrNotFound):
		p := &Participant{
			ID:       uuid.NewString(),
			RoomID:   ticket.RoomID,
			UserID:   adminID,
			Role:     RoleAdmin,
			JoinedAt: now,
		}
		if err := s.store.AddParticipant(ctx, p); err != nil && !errors.Is(err, ErrConflict) {
			return nil, apperrors.Internal("failed to add agent to room", err)
		}
		name := strings.TrimSpace(admin.Name)
		if name == "" {
			name = "A support agent"
		}
		if _, err := s.systemMessage(ctx, ticket.RoomID, name+" joined the conversation", map[string]any{
			"event":    "agent_joined",
			"admin_id": adminID,
		}); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, apperrors.Internal("failed to load participant", err)
	}

	s.log.Info().Str("ticket_id", ticketID).Str("admin_id", adminID).Str("assigned_by", assignedBy).Msg("ticket assigned")
	return ticket, nil
}

func (s *chatService) UpdateTicket(ctx context.Context, ticketID, adminID string, in UpdateTicketInput) (*SupportTicket, error) {
	if _, err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if in.Priority != nil && !ValidTicketPriority(*in.Priority) {
		return nil, apperrors.BadRequest("invalid ticket priority")
	}
	if in.Status != nil && !ValidTicketStatus(*in.Status) {
		return nil, apperrors.BadRequest("invalid ticket status")
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, storeErr(err, "ticket")
	}

	wasFinal := isFinal(ticket.Status)
	if wasFinal && in.Status != nil && !isFinal(*in.Status) {
		return nil, apperrors.BadRequest("a resolved or closed ticket cannot be reopened")
	}

	now := s.now()
	if in.Priority != nil {
		ticket.Priority = *in.Priority
	}
	if in.Resolution != nil {
		r := strings.TrimSpace(*in.Resolution)
		ticket.Resolution = &r
	}
	if in.Status != nil {
		ticket.Status = *in.Status
	}
	final := isFinal(ticket.Status)
	if final && ticket.ResolvedAt == nil {
		ticket.ResolvedAt = &now
	}
	ticket.UpdatedAt = now

	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, apperrors.Internal("failed to update ticket", err)
	}

	// A final ticket never keeps an open room, including one left open by an
	// earlier failed close.
	if final {
		room, err := s.store.GetRoom(ctx, ticket.RoomID)
		if err != nil {
			return nil, storeErr(err, "room")
		}
		if room.Status != RoomClosed {
			reason := "Ticket " + strings.ToLower(string(ticket.Status))
			if ticket.Resolution != nil && *ticket.Resolution != "" {
				reason = *ticket.Resolution
			}
			if err := s.closeRoom(ctx, room, reason, adminID, "ticket"); err != nil {
				return nil, err
			}
		}
	}
	return ticket, nil
}

func isFinal(st TicketStatus) bool {
	return st == TicketResolved || st == TicketClosed
}

func (s *chatService) GetTicket(ctx context.Context, ticketID, userID string) (*TicketDetail, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, storeErr(err, "ticket")
	}
	if ticket.CustomerID != userID {
		if _, err := s.store.GetActiveParticipant(ctx, ticket.RoomID, userID); err != nil {
			if _, aerr := s.requireAdmin(ctx, userID); aerr != nil {
				return nil, apperrors.NotFound("ticket")
			}
		}
	}
	room, err := s.store.GetRoom(ctx, ticket.RoomID)
	if err != nil {
		return nil, storeErr(err, "room")
	}
	return &TicketDetail{Ticket: *ticket, Room: *room}, nil
}

// ListTickets shows customers their own tickets; admins see every ticket
// matching the filter.
func (s *chatService) ListTickets(ctx context.Context, userID string, role string, filter TicketFilter, page, limit int) (TicketPage, error) {
	if filter.Status != nil && !ValidTicketStatus(*filter.Status) {
		return TicketPage{}, apperrors.BadRequest("invalid ticket status")
	}
	if role != users.RoleAdmin {
		filter.CustomerID = &userID
		filter.AssignedAdminID = nil
	}
	page, limit, offset := pageBounds(page, limit, defaultRoomPageLimit)
	items, total, err := s.store.ListTickets(ctx, filter, limit, offset)
	if err != nil {
		return TicketPage{}, apperrors.Internal("failed to list tickets", err)
	}
	return TicketPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}
