package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetperm/pkg/contextkeys"
)

func newTestRouter(t *testing.T) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(seedMemory(t)).RegisterRoutes(router)
	return router
}

func orgRequest(method, target, org string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if org != "" {
		req = req.WithContext(contextkeys.WithOrganizationID(context.Background(), org))
	}
	return req
}

func TestHandlers_ListEntries(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/logs?actor=u1&limit=10", "org-1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
		Limit   int     `json:"limit"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, 2, response.Count)
	assert.Equal(t, 10, response.Limit)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/logs?limit=abc", "org-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/logs", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "organization is required")
}

func TestHandlers_GetEntry(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/logs/2", "org-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	var entry Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entry))
	assert.Equal(t, "u2", entry.Actor)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/logs/2", "org-2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/logs/abc", "org-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_Export(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		format      string
		contentType string
	}{
		{"json", "application/json"},
		{"csv", "text/csv"},
		{"ndjson", "application/x-ndjson"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, orgRequest("GET", "/audit/export?format="+tt.format, "org-1"))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("Content-Disposition"), "permission-audit."+tt.format)
		})
	}
}

func TestHandlers_Stats(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/stats?start_time=2024-01-01T00:00:00Z", "org-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	var stats Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.EntriesByResult[ResultFailure])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/stats?start_time=yesterday", "org-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, orgRequest("GET", "/audit/stats?window=-1h", "org-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_NoWriteRoutes(t *testing.T) {
	router := newTestRouter(t)
	for _, method := range []string{"POST", "PUT", "DELETE", "PATCH"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, orgRequest(method, "/audit/logs/1", "org-1"))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
	}
}
