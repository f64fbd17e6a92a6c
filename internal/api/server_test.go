package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"automation-engine/internal/config"
)

// Every /v1 route is tenant-scoped. Event reads and retries in particular
// must reject requests without an org before touching storage, so one org
// can never inspect or requeue another org's events.
func TestOrgHeaderIsRequired(t *testing.T) {
	router := New(config.Config{}, nil, nil, nil).Router()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/events"},
		{http.MethodGet, "/v1/events/e1"},
		{http.MethodPost, "/v1/events/e1/retry"},
		{http.MethodGet, "/v1/workflows"},
		{http.MethodGet, "/v1/webhooks"},
		{http.MethodGet, "/v1/audit"},
		{http.MethodGet, "/v1/stats"},
	}
	for _, rt := range routes {
		req := httptest.NewRequest(rt.method, rt.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s without X-Org-ID = %d, want %d", rt.method, rt.path, rec.Code, http.StatusBadRequest)
		}
	}
}
