package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/testhelpers"
)

func TestPostgresSessions_LookupSession(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL_FOR_TEST")
	if dsn == "" {
		t.Skip("DATABASE_URL_FOR_TEST not set; skipping DB-backed test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	userID := testhelpers.CreateTestUser(t, pool, "MERCHANT")
	live, expired := "live-"+userID, "old-"+userID
	testhelpers.CreateTestSession(t, pool, userID, HashToken(live), time.Now().Add(time.Hour))
	testhelpers.CreateTestSession(t, pool, userID, HashToken(expired), time.Now().Add(-time.Hour))

	sessions := NewPostgresSessions(pool)

	id, err := sessions.LookupSession(ctx, live)
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: userID, Role: "MERCHANT"}, id)

	_, err = sessions.LookupSession(ctx, expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = sessions.LookupSession(ctx, "unknown-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
