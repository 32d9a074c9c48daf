package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bimoi/backend/internal/core"
	"bimoi/backend/internal/memory"
	"bimoi/backend/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	c := core.New(memory.NewStore(), core.Options{Channels: []string{"web", "telegram"}})
	return NewRouter(Config{Core: c, Metrics: metrics.NewCollector("bimoi_test")})
}

func do(t *testing.T, r *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(headerExternalID, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestHealthReportsStoreOutage(t *testing.T) {
	c := core.New(memory.NewStore(), core.Options{})
	r := NewRouter(Config{Core: c, Health: func(ctx context.Context) error { return errors.New("down") }})
	w := do(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	do(t, r, http.MethodGet, "/health", "", nil)
	w := do(t, r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bimoi_test_http_requests_total")
}

func TestRequiresExternalID(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/api/contacts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResolveIdentity(t *testing.T) {
	r := newTestRouter(t)
	first := do(t, r, http.MethodPost, "/api/identity/resolve", "", gin.H{"channel": "telegram", "external_id": "1", "name": "Ann"})
	require.Equal(t, http.StatusOK, first.Code)
	second := do(t, r, http.MethodPost, "/api/identity/resolve", "", gin.H{"channel": "telegram", "external_id": "1"})
	require.Equal(t, http.StatusOK, second.Code)

	a, b := decode(t, first), decode(t, second)
	assert.Equal(t, a["account_id"], b["account_id"])
	assert.Equal(t, true, a["is_new_account"])
	assert.Equal(t, false, b["is_new_account"])

	bad := do(t, r, http.MethodPost, "/api/identity/resolve", "", gin.H{"channel": "fax", "external_id": "1"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestContactsCRUD(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/contacts", "u1", gin.H{
		"name": "Ann", "phone_number": "+15550100", "context": "Frontend engineer, very strong in React",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["contact"].(map[string]any)["id"].(string)

	w = do(t, r, http.MethodPost, "/api/contacts", "u1", gin.H{
		"name": "Annie", "phone_number": "+15550100", "context": "again",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	dup := decode(t, w)
	assert.Equal(t, id, dup["existing_contact_id"])
	assert.Equal(t, "phone_number", dup["matched_on"])

	w = do(t, r, http.MethodPost, "/api/contacts", "u1", gin.H{"name": "Bo", "context": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/contacts", "u1", gin.H{"name": "Bo", "context": "Designer, great at UX"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodGet, "/api/contacts/search?q=react", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["contacts"], 1)

	w = do(t, r, http.MethodGet, "/api/contacts", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["contacts"], 2)

	w = do(t, r, http.MethodGet, "/api/contacts", "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["contacts"], 0)

	w = do(t, r, http.MethodGet, "/api/contacts/"+id, "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodGet, "/api/contacts/"+id, "u2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/contacts/"+id+"/context", "u1", gin.H{"text": "moved to Berlin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "moved to Berlin")
}

func TestFlowEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/flows/chat", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", decode(t, w)["state"])

	w = do(t, r, http.MethodPost, "/api/flows/chat/context", "u1", gin.H{"text": "orphan"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no_pending_flow", decode(t, w)["error"])

	w = do(t, r, http.MethodPost, "/api/flows/chat/card", "u1", gin.H{"name": "Cy", "phone_number": "+15550199"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "card_received", decode(t, w)["state"])

	w = do(t, r, http.MethodPost, "/api/flows/chat/context", "u1", gin.H{"text": "met at the climbing gym"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPost, "/api/flows/chat/card", "u1", gin.H{"name": "Dee"})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = do(t, r, http.MethodDelete, "/api/flows/chat", "u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/api/flows/chat", "u1", nil)
	assert.Equal(t, "idle", decode(t, w)["state"])
}

func TestProfileEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPatch, "/api/profile", "u1", gin.H{"name": "Eve", "bio": "designer"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/profile", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode(t, w)
	assert.Equal(t, "Eve", profile["name"])
	assert.Equal(t, "designer", profile["bio"])

	w = do(t, r, http.MethodPatch, "/api/profile", "u1", gin.H{"phone_number": "not a phone"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
