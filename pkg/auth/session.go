package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessions resolves opaque session tokens. Only the SHA-256 of a
// token is stored.
type PostgresSessions struct {
	pool *pgxpool.Pool
}

func NewPostgresSessions(pool *pgxpool.Pool) *PostgresSessions {
	return &PostgresSessions{pool: pool}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *PostgresSessions) LookupSession(ctx context.Context, token string) (Identity, error) {
	const query = `
		SELECT u.uuid, u.role
		FROM user_sessions s
		JOIN users u ON u.uuid = s.user_uuid
		WHERE s.token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > NOW()
		  AND u.is_deleted = false
	`
	ctxTimeout, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id Identity
	if err := s.pool.QueryRow(ctxTimeout, query, HashToken(token)).Scan(&id.UserID, &id.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("lookup session: %w", err)
	}
	return id, nil
}
