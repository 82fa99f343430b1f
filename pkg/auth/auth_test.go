package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type stubSessions struct {
	ids map[string]Identity
	err error
}

func (s stubSessions) LookupSession(ctx context.Context, token string) (Identity, error) {
	if s.err != nil {
		return Identity{}, s.err
	}
	id, ok := s.ids[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")
	token, err := v.IssueToken("user-1", "CUSTOMER", time.Minute)
	require.NoError(t, err)

	id, err := v.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: "user-1", Role: "CUSTOMER"}, id)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("secret")

	expired, err := v.IssueToken("user-1", "CUSTOMER", -time.Minute)
	require.NoError(t, err)
	_, err = v.VerifyToken(context.Background(), expired)
	require.Error(t, err)

	other, err := NewJWTVerifier("other").IssueToken("user-1", "CUSTOMER", time.Minute)
	require.NoError(t, err)
	_, err = v.VerifyToken(context.Background(), other)
	require.Error(t, err)

	// HS512 with the right key is still refused.
	claims := &Claims{Role: "ADMIN", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.VerifyToken(context.Background(), wrongAlg)
	require.Error(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.VerifyToken(context.Background(), noSub)
	require.Error(t, err)
}

func TestAuthenticator_FallsBackToSessions(t *testing.T) {
	v := NewJWTVerifier("secret")
	a := NewAuthenticator(v, stubSessions{ids: map[string]Identity{
		"opaque-token": {UserID: "user-2", Role: "MERCHANT"},
	}})

	token, err := v.IssueToken("user-1", "CUSTOMER", time.Minute)
	require.NoError(t, err)
	id, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.UserID)

	id, err = a.Authenticate(context.Background(), "opaque-token")
	require.NoError(t, err)
	require.Equal(t, "user-2", id.UserID)

	_, err = a.Authenticate(context.Background(), "nope")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Authenticate(context.Background(), "  ")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestAuthenticator_PropagatesDeadline(t *testing.T) {
	a := NewAuthenticator(nil, stubSessions{err: context.DeadlineExceeded})
	_, err := a.Authenticate(context.Background(), "token")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHashToken(t *testing.T) {
	require.Equal(t, "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae", HashToken("foo"))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/chat?token=query-token", nil)
	require.Equal(t, "query-token", BearerToken(r))

	r.Header.Set("Authorization", "Bearer header-token")
	require.Equal(t, "header-token", BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	require.Equal(t, "query-token", BearerToken(r))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewJWTVerifier("secret")
	router := gin.New()
	router.Use(Middleware(NewAuthenticator(v, nil)))
	router.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c)+"/"+Role(c))
	})
	router.GET("/admin", RequireRole("ADMIN"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := v.IssueToken("user-1", "CUSTOMER", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1/CUSTOMER", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	adminToken, err := v.IssueToken("admin-1", "ADMIN", time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
}
