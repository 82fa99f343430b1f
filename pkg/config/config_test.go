package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/chat")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.ServerPort)
	require.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	require.Equal(t, 60, cfg.RateLimitMessages)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
	require.Equal(t, 5*time.Minute, cfg.DedupTTL)
	require.Equal(t, 10*time.Second, cfg.WSAuthTimeout)
	require.Equal(t, 15*time.Minute, cfg.DriverChatGrace)
	require.Zero(t, cfg.MerchantChatGrace)
	require.False(t, cfg.WSAllowLegacyUserID)
	require.Equal(t, ":8080", cfg.Addr())
}

func TestParse_RequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := Parse()
	require.Error(t, err)
}

func TestParse_MemoryStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestParse_RejectsUnknownBackends(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/chat")

	t.Run("dedup", func(t *testing.T) {
		t.Setenv("DEDUP_BACKEND", "memcached")
		_, err := Parse()
		require.Error(t, err)
	})
	t.Run("notify", func(t *testing.T) {
		t.Setenv("NOTIFY_BACKEND", "sms")
		_, err := Parse()
		require.Error(t, err)
	})
	t.Run("email without key", func(t *testing.T) {
		t.Setenv("NOTIFY_BACKEND", "email")
		t.Setenv("SENDGRID_API_KEY", "")
		_, err := Parse()
		require.Error(t, err)
	})
}
