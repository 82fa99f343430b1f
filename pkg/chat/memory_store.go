package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store used in development mode and tests.
// Everything it returns is a copy.
type MemoryStore struct {
	mu           sync.RWMutex
	rooms        map[string]*Room
	participants map[string][]*Participant // room id -> rows, including departed ones
	messages     map[string]*Message
	roomMessages map[string][]string // room id -> message ids in insertion order
	receipts     map[string]map[string]time.Time
	tickets      map[string]*SupportTicket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:        make(map[string]*Room),
		participants: make(map[string][]*Participant),
		messages:     make(map[string]*Message),
		roomMessages: make(map[string][]string),
		receipts:     make(map[string]map[string]time.Time),
		tickets:      make(map[string]*SupportTicket),
	}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, room *Room, participants []Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRoomLocked(room, participants)
}

func (s *MemoryStore) createRoomLocked(room *Room, participants []Participant) error {
	if _, ok := s.rooms[room.ID]; ok {
		return ErrConflict
	}
	if room.OrderID != nil && room.Status != RoomClosed {
		for _, r := range s.rooms {
			if r.OrderID != nil && *r.OrderID == *room.OrderID && r.Type == room.Type && r.Status != RoomClosed {
				return ErrConflict
			}
		}
	}
	cp := *room
	s.rooms[room.ID] = &cp
	for i := range participants {
		p := participants[i]
		s.participants[room.ID] = append(s.participants[room.ID], &p)
	}
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) FindRoomByOrder(ctx context.Context, orderID string, roomType RoomType) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Room
	for _, r := range s.rooms {
		if r.OrderID == nil || *r.OrderID != orderID || r.Type != roomType {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		bestOpen, rOpen := best.Status != RoomClosed, r.Status != RoomClosed
		if rOpen && !bestOpen || rOpen == bestOpen && r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *MemoryStore) ListRoomsForUser(ctx context.Context, userID string, filter RoomFilter, limit, offset int) ([]RoomSummary, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RoomSummary
	for roomID, rows := range s.participants {
		p := activeRow(rows, userID)
		if p == nil {
			continue
		}
		r := s.rooms[roomID]
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && r.Type != *filter.Type {
			continue
		}
		out = append(out, RoomSummary{Room: *r, UnreadCount: s.unreadLocked(roomID, userID, p.LastReadAt)})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	total := int64(len(out))
	if offset >= len(out) {
		return []RoomSummary{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (s *MemoryStore) UpdateRoomStatus(ctx context.Context, roomID string, status RoomStatus, closedAt *time.Time, reason *string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	if status != RoomClosed && r.OrderID != nil {
		for _, other := range s.rooms {
			if other.ID != r.ID && other.OrderID != nil && *other.OrderID == *r.OrderID && other.Type == r.Type && other.Status != RoomClosed {
				return ErrConflict
			}
		}
	}
	r.Status = status
	r.ClosedAt = closedAt
	r.ClosedReason = reason
	r.UpdatedAt = updatedAt
	return nil
}

func (s *MemoryStore) GetActiveParticipant(ctx context.Context, roomID, userID string) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := activeRow(s.participants[roomID], userID)
	if p == nil {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListActiveParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.participants[roomID]))
	for _, p := range s.participants[roomID] {
		if p.LeftAt == nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) AddParticipant(ctx context.Context, p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[p.RoomID]; !ok {
		return ErrNotFound
	}
	if activeRow(s.participants[p.RoomID], p.UserID) != nil {
		return ErrConflict
	}
	cp := *p
	s.participants[p.RoomID] = append(s.participants[p.RoomID], &cp)
	return nil
}

func (s *MemoryStore) TouchParticipant(ctx context.Context, roomID, userID string, update ParticipantUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := activeRow(s.participants[roomID], userID)
	if p == nil {
		return ErrNotFound
	}
	seen := update.SeenAt
	p.LastSeenAt = &seen
	if update.ReadAt != nil && (p.LastReadAt == nil || update.ReadAt.After(*p.LastReadAt)) {
		readAt := *update.ReadAt
		p.LastReadAt = &readAt
		if update.LastReadMessageID != nil {
			id := *update.LastReadMessageID
			p.LastReadMessageID = &id
		}
	}
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[msg.RoomID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := s.messages[msg.ID]; exists {
		return ErrConflict
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	s.roomMessages[msg.RoomID] = append(s.roomMessages[msg.RoomID], msg.ID)

	id, at := msg.ID, msg.CreatedAt
	r.LastMessageID = &id
	r.LastMessageAt = &at
	r.UpdatedAt = at
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomID string, q MessageQuery) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedLocked(roomID)
	var out []Message
	if q.After != nil {
		after := Message{CreatedAt: q.After.CreatedAt, ID: q.After.ID}
		for _, m := range all {
			if after.Before(m) {
				out = append(out, m)
			}
		}
	} else {
		for i := len(all) - 1; i >= 0; i-- {
			m := all[i]
			if q.Before != nil && !m.Before(Message{CreatedAt: q.Before.CreatedAt, ID: q.Before.ID}) {
				continue
			}
			out = append(out, m)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if m.DeletedAt == nil {
		m.DeletedAt = &at
	}
	return nil
}

func (s *MemoryStore) AdvanceMessageStatus(ctx context.Context, messageID string, status MessageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, ErrNotFound
	}
	if status.Rank() <= m.Status.Rank() {
		return false, nil
	}
	m.Status = status
	return true, nil
}

func (s *MemoryStore) ListUnreceiptedMessages(ctx context.Context, roomID, userID string, horizon time.Time) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.sortedLocked(roomID) {
		if m.SenderID == userID || m.DeletedAt != nil || m.CreatedAt.After(horizon) {
			continue
		}
		if _, read := s.receipts[m.ID][userID]; read {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) InsertReadReceipts(ctx context.Context, userID string, messageIDs []string, readAt time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []string
	for _, id := range messageIDs {
		if _, ok := s.messages[id]; !ok {
			continue
		}
		byUser, ok := s.receipts[id]
		if !ok {
			byUser = make(map[string]time.Time)
			s.receipts[id] = byUser
		}
		if _, exists := byUser[userID]; exists {
			continue
		}
		byUser[userID] = readAt
		inserted = append(inserted, id)
	}
	return inserted, nil
}

func (s *MemoryStore) CountReadReceipts(ctx context.Context, messageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts[messageID]), nil
}

func (s *MemoryStore) CountUnreadForUser(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for roomID, rows := range s.participants {
		p := activeRow(rows, userID)
		if p == nil || s.rooms[roomID].Status == RoomArchived {
			continue
		}
		total += s.unreadLocked(roomID, userID, p.LastReadAt)
	}
	return total, nil
}

func (s *MemoryStore) CreateTicket(ctx context.Context, t *SupportTicket, room *Room, participant Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return ErrConflict
	}
	if err := s.createRoomLocked(room, []Participant{participant}); err != nil {
		return err
	}
	cp := *t
	s.tickets[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, ticketID string) (*SupportTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, filter TicketFilter, limit, offset int) ([]SupportTicket, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SupportTicket
	for _, t := range s.tickets {
		if filter.CustomerID != nil && t.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.AssignedAdminID != nil && (t.AssignedAdminID == nil || *t.AssignedAdminID != *filter.AssignedAdminID) {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	total := int64(len(out))
	if offset >= len(out) {
		return []SupportTicket{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (s *MemoryStore) UpdateTicket(ctx context.Context, t *SupportTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	s.tickets[t.ID] = &cp
	return nil
}

func activeRow(rows []*Participant, userID string) *Participant {
	for _, p := range rows {
		if p.UserID == userID && p.LeftAt == nil {
			return p
		}
	}
	return nil
}

func (s *MemoryStore) sortedLocked(roomID string) []Message {
	ids := s.roomMessages[roomID]
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.messages[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *MemoryStore) unreadLocked(roomID, userID string, lastReadAt *time.Time) int64 {
	var n int64
	for _, id := range s.roomMessages[roomID] {
		m := s.messages[id]
		if m.SenderID == userID || m.DeletedAt != nil {
			continue
		}
		if lastReadAt == nil || m.CreatedAt.After(*lastReadAt) {
			n++
		}
	}
	return n
}
