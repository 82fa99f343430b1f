package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketchat/pkg/response"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "user_role"
)

// BearerToken returns the token from the Authorization header, falling back
// to the token query parameter for clients that cannot set headers.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[len("bearer "):])
		}
	}
	return r.URL.Query().Get("token")
}

func Middleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Authenticate(c.Request.Context(), BearerToken(c.Request))
		if err != nil {
			response.SendAPIResponse(c, http.StatusUnauthorized, false, "unauthorized", nil)
			c.Abort()
			return
		}
		c.Set(ctxUserID, id.UserID)
		c.Set(ctxRole, id.Role)
		c.Next()
	}
}

// RequireRole must run after Middleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c) != role {
			response.SendAPIResponse(c, http.StatusForbidden, false, "forbidden: "+strings.ToLower(role)+" role required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

func Role(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// SetIdentity is used by tests and by routes that authenticate on their own.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(ctxUserID, id.UserID)
	c.Set(ctxRole, id.Role)
}
