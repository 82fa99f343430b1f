package testhelpers

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

var uniqueCounter int64

func nextSuffix() int64 {
	return atomic.AddInt64(&uniqueCounter, 1)
}

// CreateTestUser inserts a minimal valid user row and returns its UUID.
func CreateTestUser(t *testing.T, db *pgxpool.Pool, role string) string {
	t.Helper()

	ctx := context.Background()
	id := uuid.NewString()
	name := fmt.Sprintf("test-user-%d", nextSuffix())
	email := fmt.Sprintf("%s-%s@example.com", name, id[:8])

	_, err := db.Exec(ctx, "INSERT INTO users (uuid, name, email, role) VALUES ($1, $2, $3, $4)", id, name, email, role)
	require.NoError(t, err)
	return id
}

// CreateTestOrder inserts an order and returns its ID. driverID may be empty.
func CreateTestOrder(t *testing.T, db *pgxpool.Pool, status, customerID, merchantID, driverID string) string {
	t.Helper()

	ctx := context.Background()
	id := uuid.NewString()
	var driver *string
	if driverID != "" {
		driver = &driverID
	}

	_, err := db.Exec(ctx,
		"INSERT INTO orders (id, status, user_id, merchant_owner_id, driver_user_id) VALUES ($1, $2, $3, $4, $5)",
		id, status, customerID, merchantID, driver)
	require.NoError(t, err)
	return id
}

// SetOrderStatus moves an order and stamps updated_at.
func SetOrderStatus(t *testing.T, db *pgxpool.Pool, orderID, status string, at time.Time) {
	t.Helper()

	_, err := db.Exec(context.Background(), "UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1", orderID, status, at)
	require.NoError(t, err)
}

// CreateTestSession stores a session row for an already hashed token.
func CreateTestSession(t *testing.T, db *pgxpool.Pool, userUUID, tokenHash string, expiresAt time.Time) {
	t.Helper()

	_, err := db.Exec(context.Background(),
		"INSERT INTO user_sessions (token_hash, user_uuid, expires_at) VALUES ($1, $2, $3)",
		tokenHash, userUUID, expiresAt)
	require.NoError(t, err)
}
