package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("room"), http.StatusNotFound},
		{"bad request", BadRequest("content is required"), http.StatusBadRequest},
		{"forbidden", Forbidden("not a participant"), http.StatusForbidden},
		{"chat closed", ChatClosed("order delivered"), http.StatusForbidden},
		{"rate limited", RateLimited("slow down"), http.StatusTooManyRequests},
		{"unauthorized", Unauthorized("bad token", nil), http.StatusUnauthorized},
		{"wrapped", fmt.Errorf("send: %w", NotFound("message")), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestChatClosedCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", ChatClosed("order is ON_DELIVERY"))

	require.True(t, Is(err, CodeChatClosed))
	require.False(t, Is(err, CodeForbidden))

	appErr, ok := As(err)
	require.True(t, ok)
	require.Equal(t, "chat is closed: order is ON_DELIVERY", appErr.Message)
}

func TestInternalUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("failed to persist message", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection reset")
}
