package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"marketchat/pkg/apperrors"
	"marketchat/pkg/auth"
	"marketchat/pkg/response"
	"marketchat/pkg/users"
)

// Publisher pushes messages persisted over HTTP to realtime subscribers.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *Message, clientMessageID string)
	PublishRead(roomID, userID string, lastReadMessageID *string, count int)
}

type Presence interface {
	OnlineUsers() []string
}

type ChatHandler struct {
	service   ChatService
	publisher Publisher
	presence  Presence
}

func NewChatHandler(service ChatService, publisher Publisher, presence Presence) *ChatHandler {
	return &ChatHandler{service: service, publisher: publisher, presence: presence}
}

// RegisterRoutes mounts the chat API under /chat behind authMiddleware.
func (h *ChatHandler) RegisterRoutes(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	g := router.Group("/chat", authMiddleware)

	g.GET("/rooms", h.listRooms)
	g.POST("/rooms", h.createRoom)
	g.GET("/rooms/:id", h.getRoom)
	g.POST("/rooms/:id/close", h.closeRoom)
	g.GET("/rooms/:id/messages", h.getMessages)
	g.POST("/rooms/:id/messages", h.sendMessage)
	g.POST("/rooms/:id/read", h.markRead)
	g.DELETE("/messages/:id", h.deleteMessage)
	g.GET("/unread-count", h.unreadCount)
	g.GET("/orders/:orderId/status", h.chatStatus)
	g.GET("/online", h.onlineUsers)

	g.POST("/tickets", h.createTicket)
	g.GET("/tickets", h.listTickets)
	g.GET("/tickets/:id", h.getTicket)
	g.POST("/tickets/:id/assign", auth.RequireRole(users.RoleAdmin), h.assignTicket)
	g.PATCH("/tickets/:id", auth.RequireRole(users.RoleAdmin), h.updateTicket)
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// bindJSON writes the 400 itself and reports whether the handler may go on.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.SendError(c, err)
		} else {
			response.SendError(c, apperrors.BadRequest("invalid request payload"))
		}
		return false
	}
	return true
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type createRoomRequest struct {
	OrderID string   `json:"order_id" binding:"required"`
	Type    RoomType `json:"type" binding:"required"`
}

type closeRoomRequest struct {
	Reason *string `json:"reason"`
}

type sendMessageRequest struct {
	Content         string         `json:"content" binding:"required"`
	Type            MessageType    `json:"type"`
	Metadata        map[string]any `json:"metadata"`
	ReplyToID       *string        `json:"reply_to_id"`
	ClientMessageID string         `json:"client_message_id" binding:"max=128"`
}

type markReadRequest struct {
	LastReadMessageID *string `json:"last_read_message_id"`
}

type assignTicketRequest struct {
	AdminID string `json:"admin_id"`
}

// @Summary      List chat rooms
// @Description  Rooms the caller actively participates in, most recent activity first
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Param        status query string false "ACTIVE, CLOSED or ARCHIVED"
// @Param        type   query string false "CUSTOMER_MERCHANT, CUSTOMER_DRIVER or CUSTOMER_SUPPORT"
// @Param        page   query int    false "Page number" default(1)
// @Param        limit  query int    false "Page size (max 100)" default(20)
// @Success      200  {object}  response.APIResponse{data=RoomPage}
// @Failure      400  {object}  response.APIResponse
// @Failure      401  {object}  response.APIResponse
// @Router       /chat/rooms [get]
func (h *ChatHandler) listRooms(c *gin.Context) {
	var filter RoomFilter
	if s := c.Query("status"); s != "" {
		st := RoomStatus(s)
		if st != RoomActive && st != RoomClosed && st != RoomArchived {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid status", nil)
			return
		}
		filter.Status = &st
	}
	if t := c.Query("type"); t != "" {
		rt := RoomType(t)
		if !ValidRoomType(rt) {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid room type", nil)
			return
		}
		filter.Type = &rt
	}
	page, ok := queryInt(c, "page", 1)
	if !ok {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid page", nil)
		return
	}
	limit, ok := queryInt(c, "limit", defaultRoomPageLimit)
	if !ok {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid limit", nil)
		return
	}

	rooms, err := h.service.ListRoomsForUser(c.Request.Context(), auth.UserID(c), filter, page, limit)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "rooms fetched", rooms)
}

// @Summary      Get or create an order chat room
// @Tags         chat
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body createRoomRequest true "Order and room type"
// @Success      200  {object}  response.APIResponse{data=Room}
// @Failure      400  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/rooms [post]
func (h *ChatHandler) createRoom(c *gin.Context) {
	var req createRoomRequest
	if !bindJSON(c, &req) {
		return
	}
	if !ValidRoomType(req.Type) || req.Type == RoomTypeCustomerSupport {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "type must be CUSTOMER_MERCHANT or CUSTOMER_DRIVER", nil)
		return
	}

	room, err := h.service.GetOrCreateRoom(c.Request.Context(), req.OrderID, req.Type, auth.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "room ready", room)
}

// @Summary      Get a chat room
// @Description  Room, active participants and the latest page of history
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Room ID"
// @Success      200  {object}  response.APIResponse{data=RoomDetail}
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/rooms/{id} [get]
func (h *ChatHandler) getRoom(c *gin.Context) {
	detail, err := h.service.GetRoom(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "room fetched", detail)
}

// @Summary      Close a chat room
// @Tags         chat
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Room ID"
// @Param        request body closeRoomRequest false "Optional reason"
// @Success      200  {object}  response.APIResponse{data=Room}
// @Failure      400  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/rooms/{id}/close [post]
func (h *ChatHandler) closeRoom(c *gin.Context) {
	var req closeRoomRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.SendError(c, apperrors.BadRequest("invalid request payload"))
		return
	}
	room, err := h.service.CloseRoom(c.Request.Context(), c.Param("id"), auth.UserID(c), req.Reason)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "room closed", room)
}

// @Summary      List messages
// @Description  Newest page by default; before/after page relative to a message id
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Param        id     path  string true  "Room ID"
// @Param        limit  query int    false "Page size (max 100)" default(50)
// @Param        before query string false "Message ID cursor"
// @Param        after  query string false "Message ID cursor"
// @Success      200  {object}  response.APIResponse{data=MessagePage}
// @Failure      400  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/rooms/{id}/messages [get]
func (h *ChatHandler) getMessages(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultMessagePageLimit)
	if !ok {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid limit", nil)
		return
	}
	page, err := h.service.GetMessages(c.Request.Context(), c.Param("id"), auth.UserID(c), MessageQueryInput{
		Limit:  limit,
		Before: c.Query("before"),
		After:  c.Query("after"),
	})
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "messages fetched", page)
}

// @Summary      Send a message
// @Tags         chat
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Room ID"
// @Param        request body sendMessageRequest true "Message"
// @Success      201  {object}  response.APIResponse{data=Message}
// @Failure      400  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse "Not a participant, or the chat is closed (code CHAT_CLOSED)"
// @Router       /chat/rooms/{id}/messages [post]
func (h *ChatHandler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.service.SendMessage(c.Request.Context(), auth.UserID(c), SendMessageInput{
		RoomID:          c.Param("id"),
		Content:         req.Content,
		Type:            req.Type,
		Metadata:        req.Metadata,
		ReplyToID:       req.ReplyToID,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		response.SendError(c, err)
		return
	}
	if h.publisher != nil {
		h.publisher.PublishMessage(c.Request.Context(), msg, req.ClientMessageID)
	}
	response.SendAPIResponse(c, http.StatusCreated, true, "message sent", msg)
}

// @Summary      Mark messages as read
// @Tags         chat
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Room ID"
// @Param        request body markReadRequest false "Read up to this message; defaults to everything"
// @Success      200  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/rooms/{id}/read [post]
func (h *ChatHandler) markRead(c *gin.Context) {
	var req markReadRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.SendError(c, apperrors.BadRequest("invalid request payload"))
		return
	}
	roomID := c.Param("id")
	userID := auth.UserID(c)
	n, err := h.service.MarkMessagesAsRead(c.Request.Context(), roomID, userID, req.LastReadMessageID)
	if err != nil {
		response.SendError(c, err)
		return
	}
	if n > 0 && h.publisher != nil {
		h.publisher.PublishRead(roomID, userID, req.LastReadMessageID, n)
	}
	response.SendAPIResponse(c, http.StatusOK, true, "messages marked as read", gin.H{"marked": n})
}

// @Summary      Delete a message
// @Description  Soft delete by the sender or an admin participant
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Message ID"
// @Success      200  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/messages/{id} [delete]
func (h *ChatHandler) deleteMessage(c *gin.Context) {
	if err := h.service.DeleteMessage(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "message deleted", nil)
}

// @Summary      Unread message count
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.APIResponse
// @Router       /chat/unread-count [get]
func (h *ChatHandler) unreadCount(c *gin.Context) {
	n, err := h.service.GetUnreadCount(c.Request.Context(), auth.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "unread count", gin.H{"unread_count": n})
}

// @Summary      Chat availability for an order
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Param        orderId path string true "Order ID"
// @Success      200  {object}  response.APIResponse{data=ChatStatus}
// @Failure      403  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/orders/{orderId}/status [get]
func (h *ChatHandler) chatStatus(c *gin.Context) {
	status, err := h.service.GetChatStatus(c.Request.Context(), c.Param("orderId"), auth.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "chat status", status)
}

// @Summary      Online users
// @Description  Users with at least one live websocket connection on this instance
// @Tags         chat
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.APIResponse
// @Router       /chat/online [get]
func (h *ChatHandler) onlineUsers(c *gin.Context) {
	online := []string{}
	if h.presence != nil {
		online = h.presence.OnlineUsers()
	}
	response.SendAPIResponse(c, http.StatusOK, true, "online status", gin.H{
		"online_users": online,
		"count":        len(online),
	})
}

// @Summary      Open a support ticket
// @Tags         support
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CreateTicketInput true "Ticket"
// @Success      201  {object}  response.APIResponse{data=TicketDetail}
// @Failure      400  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse
// @Router       /chat/tickets [post]
func (h *ChatHandler) createTicket(c *gin.Context) {
	var req CreateTicketInput
	if !bindJSON(c, &req) {
		return
	}
	detail, err := h.service.CreateSupportTicket(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusCreated, true, "ticket created", detail)
}

// @Summary      List support tickets
// @Description  Customers see their own tickets; admins see all
// @Tags         support
// @Produce      json
// @Security     BearerAuth
// @Param        status            query string false "Ticket status"
// @Param        assigned_admin_id query string false "Admin only"
// @Param        page              query int    false "Page number" default(1)
// @Param        limit             query int    false "Page size (max 100)" default(20)
// @Success      200  {object}  response.APIResponse{data=TicketPage}
// @Failure      400  {object}  response.APIResponse
// @Router       /chat/tickets [get]
func (h *ChatHandler) listTickets(c *gin.Context) {
	var filter TicketFilter
	if s := c.Query("status"); s != "" {
		st := TicketStatus(s)
		filter.Status = &st
	}
	if a := c.Query("assigned_admin_id"); a != "" {
		filter.AssignedAdminID = &a
	}
	page, ok := queryInt(c, "page", 1)
	if !ok {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid page", nil)
		return
	}
	limit, ok := queryInt(c, "limit", defaultRoomPageLimit)
	if !ok {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid limit", nil)
		return
	}

	tickets, err := h.service.ListTickets(c.Request.Context(), auth.UserID(c), auth.Role(c), filter, page, limit)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "tickets fetched", tickets)
}

// @Summary      Get a support ticket
// @Tags         support
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Ticket ID"
// @Success      200  {object}  response.APIResponse{data=TicketDetail}
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/tickets/{id} [get]
func (h *ChatHandler) getTicket(c *gin.Context) {
	detail, err := h.service.GetTicket(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "ticket fetched", detail)
}

// @Summary      Assign a support ticket
// @Description  Admin only. Omitting admin_id assigns the ticket to the caller.
// @Tags         support
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Ticket ID"
// @Param        request body assignTicketRequest false "Assignee"
// @Success      200  {object}  response.APIResponse{data=SupportTicket}
// @Failure      400  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/tickets/{id}/assign [post]
func (h *ChatHandler) assignTicket(c *gin.Context) {
	var req assignTicketRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.SendError(c, apperrors.BadRequest("invalid request payload"))
		return
	}
	caller := auth.UserID(c)
	if req.AdminID == "" {
		req.AdminID = caller
	}
	ticket, err := h.service.AssignTicket(c.Request.Context(), c.Param("id"), req.AdminID, caller)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "ticket assigned", ticket)
}

// @Summary      Update a support ticket
// @Description  Admin only. Moving to RESOLVED or CLOSED also closes the ticket's room.
// @Tags         support
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Ticket ID"
// @Param        request body UpdateTicketInput true "Fields to change"
// @Success      200  {object}  response.APIResponse{data=SupportTicket}
// @Failure      400  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse
// @Router       /chat/tickets/{id} [patch]
func (h *ChatHandler) updateTicket(c *gin.Context) {
	var req UpdateTicketInput
	if !bindJSON(c, &req) {
		return
	}
	ticket, err := h.service.UpdateTicket(c.Request.Context(), c.Param("id"), auth.UserID(c), req)
	if err != nil {
		response.SendError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "ticket updated", ticket)
}
