package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/realtime"
	"marketchat/pkg/response"
)

func TestTLSSettings_Validate(t *testing.T) {
	require.NoError(t, TLSSettings{Env: "development"}.Validate())
	require.Error(t, TLSSettings{Env: "production"}.Validate())
	require.Error(t, TLSSettings{Env: "production", EnableTLS: true}.Validate())
	require.NoError(t, TLSSettings{Env: "production", EnableTLS: true, CertPath: "c", KeyPath: "k"}.Validate())
}

func TestBuildTLSConfig_SelfSignedFallback(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.pem")

	cfg, certFile, keyFile, err := buildTLSConfigWithSettings(TLSSettings{
		EnableTLS: true, CertPath: missing, KeyPath: missing, Env: "development", AllowSelfSigned: true,
	})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.Empty(t, certFile)
	require.Empty(t, keyFile)

	_, _, _, err = buildTLSConfigWithSettings(TLSSettings{EnableTLS: true, CertPath: missing, KeyPath: missing, Env: "production"})
	require.Error(t, err)
}

func TestHealthHandler_WithoutDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/healthz", healthHandler(nil, realtime.NewRegistry()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
}
