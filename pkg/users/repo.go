package users

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

// Directory is the read side of the user service that chat needs: role
// checks for admin actions and contact details for notifications.
type Directory interface {
	GetUserByUUID(ctx context.Context, uuid string) (User, error)
}

type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (r *PostgresDirectory) GetUserByUUID(ctx context.Context, uuid string) (User, error) {
	query := `SELECT id, uuid, name, email, role, created_at
              FROM users
              WHERE uuid = $1 AND is_deleted = false`
	row := r.pool.QueryRow(ctx, query, uuid)

	var u User
	if err := row.Scan(&u.ID, &u.UUID, &u.Name, &u.Email, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryDirectory(seed ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User)}
	for _, u := range seed {
		d.users[u.UUID] = u
	}
	return d
}

func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.UUID] = u
}

func (d *MemoryDirectory) GetUserByUUID(ctx context.Context, uuid string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[uuid]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
