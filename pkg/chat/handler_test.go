package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/apperrors"
	"marketchat/pkg/auth"
	"marketchat/pkg/response"
)

type mockChatService struct {
	mock.Mock
}

func (m *mockChatService) ListRoomsForUser(ctx context.Context, userID string, filter RoomFilter, page, limit int) (RoomPage, error) {
	args := m.Called(ctx, userID, filter, page, limit)
	p, _ := args.Get(0).(RoomPage)
	return p, args.Error(1)
}

func (m *mockChatService) GetRoom(ctx context.Context, roomID, userID string) (*RoomDetail, error) {
	args := m.Called(ctx, roomID, userID)
	d, _ := args.Get(0).(*RoomDetail)
	return d, args.Error(1)
}

func (m *mockChatService) GetOrCreateRoom(ctx context.Context, orderID string, roomType RoomType, userID string) (*Room, error) {
	args := m.Called(ctx, orderID, roomType, userID)
	r, _ := args.Get(0).(*Room)
	return r, args.Error(1)
}

func (m *mockChatService) CloseRoom(ctx context.Context, roomID, userID string, reason *string) (*Room, error) {
	args := m.Called(ctx, roomID, userID, reason)
	r, _ := args.Get(0).(*Room)
	return r, args.Error(1)
}

func (m *mockChatService) SendMessage(ctx context.Context, userID string, in SendMessageInput) (*Message, error) {
	args := m.Called(ctx, userID, in)
	msg, _ := args.Get(0).(*Message)
	return msg, args.Error(1)
}

func (m *mockChatService) GetMessages(ctx context.Context, roomID, userID string, q MessageQueryInput) (*MessagePage, error) {
	args := m.Called(ctx, roomID, userID, q)
	p, _ := args.Get(0).(*MessagePage)
	return p, args.Error(1)
}

func (m *mockChatService) MarkMessagesAsRead(ctx context.Context, roomID, userID string, lastReadMessageID *string) (int, error) {
	args := m.Called(ctx, roomID, userID, lastReadMessageID)
	return args.Int(0), args.Error(1)
}

func (m *mockChatService) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockChatService) AcknowledgeDelivery(ctx context.Context, messageID, userID string) (*Message, bool, error) {
	args := m.Called(ctx, messageID, userID)
	msg, _ := args.Get(0).(*Message)
	return msg, args.Bool(1), args.Error(2)
}

func (m *mockChatService) DeleteMessage(ctx context.Context, messageID, userID string) error {
	return m.Called(ctx, messageID, userID).Error(0)
}

func (m *mockChatService) RoomRecipients(ctx context.Context, roomID, excludeUserID string) ([]string, error) {
	args := m.Called(ctx, roomID, excludeUserID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockChatService) GetChatStatus(ctx context.Context, orderID, userID string) (*ChatStatus, error) {
	args := m.Called(ctx, orderID, userID)
	st, _ := args.Get(0).(*ChatStatus)
	return st, args.Error(1)
}

func (m *mockChatService) CreateSupportTicket(ctx context.Context, userID string, in CreateTicketInput) (*TicketDetail, error) {
	args := m.Called(ctx, userID, in)
	d, _ := args.Get(0).(*TicketDetail)
	return d, args.Error(1)
}

func (m *mockChatService) AssignTicket(ctx context.Context, ticketID, adminID, assignedBy string) (*SupportTicket, error) {
	args := m.Called(ctx, ticketID, adminID, assignedBy)
	t, _ := args.Get(0).(*SupportTicket)
	return t, args.Error(1)
}

func (m *mockChatService) UpdateTicket(ctx context.Context, ticketID, adminID string, in UpdateTicketInput) (*SupportTicket, error) {
	args := m.Called(ctx, ticketID, adminID, in)
	t, _ := args.Get(0).(*SupportTicket)
	return t, args.Error(1)
}

func (m *mockChatService) GetTicket(ctx context.Context, ticketID, userID string) (*TicketDetail, error) {
	args := m.Called(ctx, ticketID, userID)
	d, _ := args.Get(0).(*TicketDetail)
	return d, args.Error(1)
}

func (m *mockChatService) ListTickets(ctx context.Context, userID string, role string, filter TicketFilter, page, limit int) (TicketPage, error) {
	args := m.Called(ctx, userID, role, filter, page, limit)
	p, _ := args.Get(0).(TicketPage)
	return p, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishMessage(ctx context.Context, msg *Message, clientMessageID string) {
	m.Called(ctx, msg, clientMessageID)
}

func (m *mockPublisher) PublishRead(roomID, userID string, lastReadMessageID *string, count int) {
	m.Called(roomID, userID, lastReadMessageID, count)
}

type staticPresence []string

func (p staticPresence) OnlineUsers() []string { return p }

// testIdentity stands in for the real auth middleware: the caller is taken
// from X-Test-User / X-Test-Role.
func testIdentity(c *gin.Context) {
	if c.GetHeader("X-Test-User") == "" {
		response.SendAPIResponse(c, http.StatusUnauthorized, false, "unauthorized", nil)
		c.Abort()
		return
	}
	auth.SetIdentity(c, auth.Identity{UserID: c.GetHeader("X-Test-User"), Role: c.GetHeader("X-Test-Role")})
	c.Next()
}

func setupRouter(svc ChatService, pub Publisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewChatHandler(svc, pub, staticPresence{"u-1", "u-2"}).RegisterRoutes(r, testIdentity)
	return r
}

func do(r *gin.Engine, method, path, body, user, role string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResp(t *testing.T, w *httptest.ResponseRecorder) response.APIResponse {
	t.Helper()
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestChatHandler_RequiresIdentity(t *testing.T) {
	svc := new(mockChatService)
	r := setupRouter(svc, nil)

	w := do(r, http.MethodGet, "/chat/rooms", "", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	svc.AssertNotCalled(t, "ListRoomsForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChatHandler_ListRooms(t *testing.T) {
	svc := new(mockChatService)
	r := setupRouter(svc, nil)

	svc.On("ListRoomsForUser", mock.Anything, "u-1", mock.MatchedBy(func(f RoomFilter) bool {
		return f.Status != nil && *f.Status == RoomActive && f.Type == nil
	}), 2, 10).Return(RoomPage{Total: 0, Page: 2, Limit: 10}, nil)

	w := do(r, http.MethodGet, "/chat/rooms?status=ACTIVE&page=2&limit=10", "", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decodeResp(t, w).Success)
	svc.AssertExpectations(t)

	w = do(r, http.MethodGet, "/chat/rooms?status=OPEN", "", "u-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodGet, "/chat/rooms?limit=abc", "", "u-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_CreateRoom(t *testing.T) {
	svc := new(mockChatService)
	r := setupRouter(svc, nil)

	room := &Room{ID: "room-1", Type: RoomTypeCustomerMerchant, Status: RoomActive}
	svc.On("GetOrCreateRoom", mock.Anything, "order-1", RoomTypeCustomerMerchant, "u-1").Return(room, nil).Once()
	w := do(r, http.MethodPost, "/chat/rooms", `{"order_id":"order-1","type":"CUSTOMER_MERCHANT"}`, "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	svc.On("GetOrCreateRoom", mock.Anything, "order-2", RoomTypeCustomerDriver, "u-1").
		Return(nil, apperrors.Forbidden("chat only available while the order is on delivery")).Once()
	w = do(r, http.MethodPost, "/chat/rooms", `{"order_id":"order-2","type":"CUSTOMER_DRIVER"}`, "u-1", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "chat only available while the order is on delivery", decodeResp(t, w).Message)

	w = do(r, http.MethodPost, "/chat/rooms", `{"order_id":"order-1","type":"CUSTOMER_SUPPORT"}`, "u-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/chat/rooms", `{"type":"CUSTOMER_MERCHANT"}`, "u-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "order_id is required", decodeResp(t, w).Message)

	w = do(r, http.MethodPost, "/chat/rooms", `{not json`, "u-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}

func TestChatHandler_SendMessagePublishes(t *testing.T) {
	svc := new(mockChatService)
	pub := new(mockPublisher)
	r := setupRouter(svc, pub)

	msg := &Message{ID: "m-1", RoomID: "room-1", SenderID: "u-1", Content: "hi", Type: MessageText, Status: StatusSent}
	svc.On("SendMessage", mock.Anything, "u-1", SendMessageInput{
		RoomID:          "room-1",
		Content:         "hi",
		ClientMessageID: "c-1",
	}).Return(msg, nil).Once()
	pub.On("PublishMessage", mock.Anything, msg, "c-1").Return().Once()

	w := do(r, http.MethodPost, "/chat/rooms/room-1/messages", `{"content":"hi","client_message_id":"c-1"}`, "u-1", "")
	require.Equal(t, http.StatusCreated, w.Code)
	svc.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestChatHandler_SendMessageErrors(t *testing.T) {
	svc := new(mockChatService)
	pub := new(mockPublisher)
	r := setupRouter(svc, pub)

	svc.On("SendMessage", mock.Anything, "u-1", mock.Anything).
		Return(nil, apperrors.ChatClosed("order is on delivery")).Once()
	w := do(r, http.MethodPost, "/chat/rooms/room-1/messages", `{"content":"hi"}`, "u-1", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	resp := decodeResp(t, w)
	require.Equal(t, apperrors.CodeChatClosed, resp.Code)

	svc.On("SendMessage", mock.Anything, "u-2", mock.Anything).
		Return(nil, apperrors.Internal("failed to send message", context.DeadlineExceeded)).Once()
	w = do(r, http.MethodPost, "/chat/rooms/room-1/messages", `{"content":"hi"}`, "u-2", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "internal server error", decodeResp(t, w).Message)

	w = do(r, http.MethodPost, "/chat/rooms/room-1/messages", `{}`, "u-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	pub.AssertNotCalled(t, "PublishMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestChatHandler_MarkRead(t *testing.T) {
	svc := new(mockChatService)
	pub := new(mockPublisher)
	r := setupRouter(svc, pub)

	svc.On("MarkMessagesAsRead", mock.Anything, "room-1", "u-1", (*string)(nil)).Return(3, nil).Once()
	pub.On("PublishRead", "room-1", "u-1", (*string)(nil), 3).Return().Once()
	w := do(r, http.MethodPost, "/chat/rooms/room-1/read", "", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	last := "m-9"
	svc.On("MarkMessagesAsRead", mock.Anything, "room-1", "u-1", &last).Return(0, nil).Once()
	w = do(r, http.MethodPost, "/chat/rooms/room-1/read", `{"last_read_message_id":"m-9"}`, "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	svc.AssertExpectations(t)
	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "PublishRead", 1)
}

func TestChatHandler_GetMessages(t *testing.T) {
	svc := new(mockChatService)
	r := setupRouter(svc, nil)

	svc.On("GetMessages", mock.Anything, "room-1", "u-1", MessageQueryInput{Limit: 25, Before: "m-5"}).
		Return(&MessagePage{HasMore: true}, nil).Once()
	w := do(r, http.MethodGet, "/chat/rooms/room-1/messages?limit=25&before=m-5", "", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	svc.On("GetMessages", mock.Anything, "room-2", "u-1", MessageQueryInput{Limit: defaultMessagePageLimit}).
		Return(nil, apperrors.NotFound("room")).Once()
	w = do(r, http.MethodGet, "/chat/rooms/room-2/messages", "", "u-1", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	svc.AssertExpectations(t)
}

func TestChatHandler_UnreadCountAndOnline(t *testing.T) {
	svc := new(mockChatService)
	r := setupRouter(svc, nil)

	svc.On("GetUnreadCount", mock.Anything, "u-1").Return(int64(7), nil).Once()
	w := do(r, http.MethodGet, "/chat/unread-count", "", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeResp(t, w).Data.(map[string]any)
	require.EqualValues(t, 7, data["unread_count"])

	w = do(r, http.MethodGet, "/chat/online", "", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeResp(t, w).Data.(map[string]any)
	require.EqualValues(t, 2, data["count"])
}

func TestChatHandler_TicketAdminRoutes(t *testing.T) {
	svc := new(mockChatService)
	r := setupRouter(svc, nil)

	w := do(r, http.MethodPost, "/chat/tickets/t-1/assign", "", "u-1", "CUSTOMER")
	require.Equal(t, http.StatusForbidden, w.Code)

	svc.On("AssignTicket", mock.Anything, "t-1", "admin-1", "admin-1").
		Return(&SupportTicket{ID: "t-1", Status: TicketInProgress}, nil).Once()
	w = do(r, http.MethodPost, "/chat/tickets/t-1/assign", "", "admin-1", "ADMIN")
	require.Equal(t, http.StatusOK, w.Code)

	resolved := TicketResolved
	resolution := "Refund issued"
	svc.On("UpdateTicket", mock.Anything, "t-1", "admin-1", UpdateTicketInput{Status: &resolved, Resolution: &resolution}).
		Return(&SupportTicket{ID: "t-1", Status: TicketResolved}, nil).Once()
	w = do(r, http.MethodPatch, "/chat/tickets/t-1", `{"status":"RESOLVED","resolution":"Refund issued"}`, "admin-1", "ADMIN")
	require.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestChatHandler_CreateAndListTickets(t *testing.T) {
	svc := new(mockChatService)
	r := setupRouter(svc, nil)

	svc.On("CreateSupportTicket", mock.Anything, "u-1", CreateTicketInput{Subject: "Missing item", InitialMessage: "No fries"}).
		Return(&TicketDetail{Ticket: SupportTicket{ID: "t-1"}}, nil).Once()
	w := do(r, http.MethodPost, "/chat/tickets", `{"subject":"Missing item","initial_message":"No fries"}`, "u-1", "CUSTOMER")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/chat/tickets", `{"initial_message":"No fries"}`, "u-1", "CUSTOMER")
	require.Equal(t, http.StatusBadRequest, w.Code)

	open := TicketOpen
	svc.On("ListTickets", mock.Anything, "u-1", "CUSTOMER", TicketFilter{Status: &open}, 1, defaultRoomPageLimit).
		Return(TicketPage{Page: 1, Limit: defaultRoomPageLimit}, nil).Once()
	w = do(r, http.MethodGet, "/chat/tickets?status=OPEN", "", "u-1", "CUSTOMER")
	require.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestChatHandler_DeleteMessageAndStatus(t *testing.T) {
	svc := new(mockChatService)
	r := setupRouter(svc, nil)

	svc.On("DeleteMessage", mock.Anything, "m-1", "u-1").Return(apperrors.Forbidden("only the sender or an admin can delete this message")).Once()
	w := do(r, http.MethodDelete, "/chat/messages/m-1", "", "u-1", "")
	require.Equal(t, http.StatusForbidden, w.Code)

	svc.On("GetChatStatus", mock.Anything, "order-1", "u-1").
		Return(&ChatStatus{OrderID: "order-1", CanChatWithMerchant: true}, nil).Once()
	w = do(r, http.MethodGet, "/chat/orders/order-1/status", "", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	svc.On("CloseRoom", mock.Anything, "room-1", "u-1", (*string)(nil)).Return(nil, apperrors.BadRequest("room is already closed")).Once()
	w = do(r, http.MethodPost, "/chat/rooms/room-1/close", "", "u-1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}
