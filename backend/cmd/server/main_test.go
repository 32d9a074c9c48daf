package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bimoi/backend/internal/api"
	"bimoi/backend/internal/app"
	"bimoi/backend/pkg/config"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.StoreBackend = config.StoreMemory

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	return api.NewRouter(api.Config{Core: a.Core, Metrics: a.Metrics, Health: a.Health})
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestResolveEndpoint_InvalidRequest(t *testing.T) {
	router := newRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/identity/resolve", bytes.NewBuffer([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateContactEndpoint_RequiresContext(t *testing.T) {
	router := newRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/contacts", bytes.NewBuffer([]byte(`{"name":"Ann"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-External-Id", "u1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
