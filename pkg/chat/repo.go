package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 5 * time.Second

const pgUniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type scanner interface {
	Scan(dest ...any) error
}

const roomColumns = `id, type, status, order_id, ticket_id, title, last_message_id, last_message_at,
	closed_at, closed_reason, created_at, updated_at`

func scanRoom(row scanner) (*Room, error) {
	var r Room
	var roomType, status string
	err := row.Scan(&r.ID, &roomType, &status, &r.OrderID, &r.TicketID, &r.Title, &r.LastMessageID,
		&r.LastMessageAt, &r.ClosedAt, &r.ClosedReason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = RoomType(roomType)
	r.Status = RoomStatus(status)
	return &r, nil
}

const participantColumns = `id, room_id, user_id, role, joined_at, left_at, last_seen_at, last_read_at, last_read_message_id`

func scanParticipant(row scanner) (*Participant, error) {
	var p Participant
	var role string
	err := row.Scan(&p.ID, &p.RoomID, &p.UserID, &role, &p.JoinedAt, &p.LeftAt, &p.LastSeenAt, &p.LastReadAt, &p.LastReadMessageID)
	if err != nil {
		return nil, err
	}
	p.Role = ParticipantRole(role)
	return &p, nil
}

const messageColumns = `id, room_id, sender_id, content, type, status, metadata, reply_to_id, deleted_at, created_at`

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var msgType, status string
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &msgType, &status, &m.Metadata, &m.ReplyToID, &m.DeletedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Type = MessageType(msgType)
	m.Status = MessageStatus(status)
	return &m, nil
}

const ticketColumns = `id, customer_id, subject, category, priority, status, assigned_admin_id, order_id, room_id,
	resolution, resolved_at, created_at, updated_at`

func scanTicket(row scanner) (*SupportTicket, error) {
	var t SupportTicket
	var priority, status string
	err := row.Scan(&t.ID, &t.CustomerID, &t.Subject, &t.Category, &priority, &status, &t.AssignedAdminID, &t.OrderID,
		&t.RoomID, &t.Resolution, &t.ResolvedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Priority = TicketPriority(priority)
	t.Status = TicketStatus(status)
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *PostgresStore) CreateRoom(ctx context.Context, room *Room, participants []Participant) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create room: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertRoom(ctx, tx, room); err != nil {
		return err
	}
	for i := range participants {
		if err := insertParticipant(ctx, tx, &participants[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create room: %w", err)
	}
	return nil
}

func insertRoom(ctx context.Context, tx pgx.Tx, room *Room) error {
	const insertSQL = `
		INSERT INTO chat_rooms (id, type, status, order_id, ticket_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, insertSQL, room.ID, string(room.Type), string(room.Status), room.OrderID, room.TicketID,
		room.Title, room.CreatedAt, room.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func insertParticipant(ctx context.Context, q interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}, p *Participant) error {
	const insertSQL = `
		INSERT INTO chat_participants (id, room_id, user_id, role, joined_at, last_seen_at, last_read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, insertSQL, p.ID, p.RoomID, p.UserID, string(p.Role), p.JoinedAt, p.LastSeenAt, p.LastReadAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	room, err := scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1`, roomID))
	if err != nil {
		return nil, notFoundOr(err, "get room")
	}
	return room, nil
}

func (r *PostgresStore) FindRoomByOrder(ctx context.Context, orderID string, roomType RoomType) (*Room, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const querySQL = `
		SELECT ` + roomColumns + `
		FROM chat_rooms
		WHERE order_id = $1 AND type = $2
		ORDER BY (status <> 'CLOSED') DESC, created_at DESC
		LIMIT 1
	`
	room, err := scanRoom(r.pool.QueryRow(ctx, querySQL, orderID, string(roomType)))
	if err != nil {
		return nil, notFoundOr(err, "find room by order")
	}
	return room, nil
}

func (r *PostgresStore) ListRoomsForUser(ctx context.Context, userID string, filter RoomFilter, limit, offset int) ([]RoomSummary, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var status, roomType *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	if filter.Type != nil {
		t := string(*filter.Type)
		roomType = &t
	}

	const where = `
		FROM chat_rooms r
		JOIN chat_participants p ON p.room_id = r.id AND p.user_id = $1 AND p.left_at IS NULL
		WHERE ($2::text IS NULL OR r.status = $2)
		  AND ($3::text IS NULL OR r.type = $3)
	`

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+where, userID, status, roomType).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rooms: %w", err)
	}

	querySQL := `
		SELECT r.id, r.type, r.status, r.order_id, r.ticket_id, r.title, r.last_message_id, r.last_message_at,
			r.closed_at, r.closed_reason, r.created_at, r.updated_at,
			(SELECT COUNT(*) FROM chat_messages m
			  WHERE m.room_id = r.id
			    AND m.sender_id <> $1
			    AND m.deleted_at IS NULL
			    AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)) AS unread
		` + where + `
		ORDER BY r.last_message_at DESC NULLS LAST, r.updated_at DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, querySQL, userID, status, roomType, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	result := make([]RoomSummary, 0, limit)
	for rows.Next() {
		var s RoomSummary
		var rt, st string
		if err := rows.Scan(&s.ID, &rt, &st, &s.OrderID, &s.TicketID, &s.Title, &s.LastMessageID, &s.LastMessageAt,
			&s.ClosedAt, &s.ClosedReason, &s.CreatedAt, &s.UpdatedAt, &s.UnreadCount); err != nil {
			return nil, 0, fmt.Errorf("scan room: %w", err)
		}
		s.Type = RoomType(rt)
		s.Status = RoomStatus(st)
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}
	return result, total, nil
}

func (r *PostgresStore) UpdateRoomStatus(ctx context.Context, roomID string, status RoomStatus, closedAt *time.Time, reason *string, updatedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const updateSQL = `
		UPDATE chat_rooms
		SET status = $2, closed_at = $3, closed_reason = $4, updated_at = $5
		WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, updateSQL, roomID, string(status), closedAt, reason, updatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update room status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) GetActiveParticipant(ctx context.Context, roomID, userID string) (*Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const querySQL = `SELECT ` + participantColumns + ` FROM chat_participants
		WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL`
	p, err := scanParticipant(r.pool.QueryRow(ctx, querySQL, roomID, userID))
	if err != nil {
		return nil, notFoundOr(err, "get participant")
	}
	return p, nil
}

func (r *PostgresStore) ListActiveParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const querySQL = `SELECT ` + participantColumns + ` FROM chat_participants
		WHERE room_id = $1 AND left_at IS NULL
		ORDER BY joined_at ASC`
	rows, err := r.pool.Query(ctx, querySQL, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	result := make([]Participant, 0, 2)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func (r *PostgresStore) AddParticipant(ctx context.Context, p *Participant) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return insertParticipant(ctx, r.pool, p)
}

func (r *PostgresStore) TouchParticipant(ctx context.Context, roomID, userID string, update ParticipantUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// SET expressions all read the pre-update row, so the CASE guards see the
	// old last_read_at.
	const updateSQL = `
		UPDATE chat_participants
		SET last_seen_at = $3,
			last_read_message_id = CASE
				WHEN $4::timestamptz IS NOT NULL AND (last_read_at IS NULL OR $4 > last_read_at)
				THEN COALESCE($5, last_read_message_id)
				ELSE last_read_message_id END,
			last_read_at = CASE
				WHEN $4::timestamptz IS NOT NULL AND (last_read_at IS NULL OR $4 > last_read_at)
				THEN $4
				ELSE last_read_at END
		WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL
	`
	cmd, err := r.pool.Exec(ctx, updateSQL, roomID, userID, update.SeenAt, update.ReadAt, update.LastReadMessageID)
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create message: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO chat_messages (id, room_id, sender_id, content, type, status, metadata, reply_to_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.Exec(ctx, insertSQL, msg.ID, msg.RoomID, msg.SenderID, msg.Content, string(msg.Type),
		string(msg.Status), msg.Metadata, msg.ReplyToID, msg.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}

	const bumpSQL = `
		UPDATE chat_rooms
		SET last_message_id = $2, last_message_at = $3, updated_at = $3
		WHERE id = $1
	`
	cmd, err := tx.Exec(ctx, bumpSQL, msg.RoomID, msg.ID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("update room last message: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create message: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	m, err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, messageID))
	if err != nil {
		return nil, notFoundOr(err, "get message")
	}
	return m, nil
}

func (r *PostgresStore) ListMessages(ctx context.Context, roomID string, q MessageQuery) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`SELECT ` + messageColumns + ` FROM chat_messages WHERE room_id = $1`)
	args := []any{roomID}

	switch {
	case q.After != nil:
		sb.WriteString(` AND (created_at, id) > ($2, $3) ORDER BY created_at ASC, id ASC`)
		args = append(args, q.After.CreatedAt, q.After.ID)
	case q.Before != nil:
		sb.WriteString(` AND (created_at, id) < ($2, $3) ORDER BY created_at DESC, id DESC`)
		args = append(args, q.Before.CreatedAt, q.Before.ID)
	default:
		sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows, q.Limit)
}

func collectMessages(rows pgx.Rows, capHint int) ([]Message, error) {
	if capHint <= 0 {
		capHint = 16
	}
	result := make([]Message, 0, capHint)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func (r *PostgresStore) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cmd, err := r.pool.Exec(ctx, `UPDATE chat_messages SET deleted_at = COALESCE(deleted_at, $2) WHERE id = $1`, messageID, at)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) AdvanceMessageStatus(ctx context.Context, messageID string, status MessageStatus) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const updateSQL = `
		UPDATE chat_messages
		SET status = $2
		WHERE id = $1
		  AND (CASE status WHEN 'SENT' THEN 1 WHEN 'DELIVERED' THEN 2 WHEN 'READ' THEN 3 ELSE 0 END) < $3
	`
	cmd, err := r.pool.Exec(ctx, updateSQL, messageID, string(status), status.Rank())
	if err != nil {
		return false, fmt.Errorf("advance message status: %w", err)
	}
	if cmd.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id = $1)`, messageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check message: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PostgresStore) ListUnreceiptedMessages(ctx context.Context, roomID, userID string, horizon time.Time) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const querySQL = `
		SELECT ` + messageColumns + `
		FROM chat_messages m
		WHERE m.room_id = $1
		  AND m.sender_id <> $2
		  AND m.deleted_at IS NULL
		  AND m.created_at <= $3
		  AND NOT EXISTS (
			SELECT 1 FROM chat_read_receipts rr WHERE rr.message_id = m.id AND rr.user_id = $2
		  )
		ORDER BY m.created_at ASC, m.id ASC
	`
	rows, err := r.pool.Query(ctx, querySQL, roomID, userID, horizon)
	if err != nil {
		return nil, fmt.Errorf("list unreceipted messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows, 0)
}

func (r *PostgresStore) InsertReadReceipts(ctx context.Context, userID string, messageIDs []string, readAt time.Time) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const insertSQL = `
		INSERT INTO chat_read_receipts (message_id, user_id, read_at)
		SELECT id, $2, $3 FROM unnest($1::text[]) AS id
		ON CONFLICT (message_id, user_id) DO NOTHING
		RETURNING message_id
	`
	rows, err := r.pool.Query(ctx, insertSQL, messageIDs, userID, readAt)
	if err != nil {
		return nil, fmt.Errorf("insert read receipts: %w", err)
	}
	defer rows.Close()

	inserted := make([]string, 0, len(messageIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		inserted = append(inserted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return inserted, nil
}

func (r *PostgresStore) CountReadReceipts(ctx context.Context, messageID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_read_receipts WHERE message_id = $1`, messageID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return n, nil
}

func (r *PostgresStore) CountUnreadForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const querySQL = `
		SELECT COUNT(*)
		FROM chat_participants p
		JOIN chat_rooms r ON r.id = p.room_id
		JOIN chat_messages m ON m.room_id = p.room_id
		WHERE p.user_id = $1
		  AND p.left_at IS NULL
		  AND r.status <> 'ARCHIVED'
		  AND m.sender_id <> $1
		  AND m.deleted_at IS NULL
		  AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)
	`
	var n int64
	if err := r.pool.QueryRow(ctx, querySQL, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *PostgresStore) CreateTicket(ctx context.Context, t *SupportTicket, room *Room, participant Participant) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create ticket: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertRoom(ctx, tx, room); err != nil {
		return err
	}
	if err := insertParticipant(ctx, tx, &participant); err != nil {
		return err
	}

	const insertSQL = `
		INSERT INTO support_tickets (id, customer_id, subject, category, priority, status, assigned_admin_id,
			order_id, room_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if _, err := tx.Exec(ctx, insertSQL, t.ID, t.CustomerID, t.Subject, t.Category, string(t.Priority), string(t.Status),
		t.AssignedAdminID, t.OrderID, t.RoomID, t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create ticket: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetTicket(ctx context.Context, ticketID string) (*SupportTicket, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1`, ticketID))
	if err != nil {
		return nil, notFoundOr(err, "get ticket")
	}
	return t, nil
}

func (r *PostgresStore) ListTickets(ctx context.Context, filter TicketFilter, limit, offset int) ([]SupportTicket, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	const where = `
		FROM support_tickets
		WHERE ($1::text IS NULL OR customer_id = $1)
		  AND ($2::text IS NULL OR assigned_admin_id = $2)
		  AND ($3::text IS NULL OR status = $3)
	`

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+where, filter.CustomerID, filter.AssignedAdminID, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+ticketColumns+where+` ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		filter.CustomerID, filter.AssignedAdminID, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	result := make([]SupportTicket, 0, limit)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ticket: %w", err)
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}
	return result, total, nil
}

func (r *PostgresStore) UpdateTicket(ctx context.Context, t *SupportTicket) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const updateSQL = `
		UPDATE support_tickets
		SET priority = $2, status = $3, assigned_admin_id = $4, resolution = $5, resolved_at = $6, updated_at = $7
		WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, updateSQL, t.ID, string(t.Priority), string(t.Status), t.AssignedAdminID,
		t.Resolution, t.ResolvedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
