package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/apperrors"
)

func sendErr(t *testing.T, err error) (int, APIResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	SendError(c, err)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestSendError(t *testing.T) {
	code, resp := sendErr(t, apperrors.NotFound("room"))
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "room not found", resp.Message)
	require.False(t, resp.Success)

	code, resp = sendErr(t, apperrors.ChatClosed("order completed"))
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, apperrors.CodeChatClosed, resp.Code)

	code, resp = sendErr(t, apperrors.Internal("failed to load room", errors.New("conn refused")))
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal server error", resp.Message)

	code, _ = sendErr(t, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, code)
}

func TestSendError_BindingValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	type body struct {
		Subject string `json:"subject" binding:"required"`
	}

	router := gin.New()
	router.POST("/", func(c *gin.Context) {
		var b body
		if err := c.ShouldBindJSON(&b); err != nil {
			SendError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", jsonBody(`{}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "subject is required", resp.Message)
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}

func TestSnakeCase(t *testing.T) {
	require.Equal(t, "order_id", snakeCase("OrderID"))
	require.Equal(t, "client_message_id", snakeCase("ClientMessageID"))
	require.Equal(t, "subject", snakeCase("Subject"))
}
