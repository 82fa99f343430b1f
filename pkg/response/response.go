package response

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"marketchat/pkg/apperrors"
)

type APIResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Code      string    `json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func SendAPIResponse(c *gin.Context, code int, success bool, message string, data any) {
	resp := APIResponse{
		Success:   success,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}

	c.JSON(code, resp)
}

// SendError maps service and binding errors onto the response envelope.
// Internal causes are never echoed to the client.
func SendError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success:   false,
			Message:   validationMessage(verrs),
			Code:      apperrors.CodeBadRequest,
			CreatedAt: time.Now(),
		})
		return
	}

	appErr, ok := apperrors.As(err)
	if !ok || appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, APIResponse{
			Success:   false,
			Message:   "internal server error",
			Code:      apperrors.CodeInternal,
			CreatedAt: time.Now(),
		})
		return
	}
	c.JSON(appErr.Status, APIResponse{
		Success:   false,
		Message:   appErr.Message,
		Code:      appErr.Code,
		CreatedAt: time.Now(),
	})
}

func validationMessage(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := snakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "max":
			parts = append(parts, field+" must be at most "+fe.Param()+" characters")
		case "oneof":
			parts = append(parts, field+" must be one of: "+fe.Param())
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

// snakeCase maps a Go field name to its wire name: OrderID -> order_id.
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
