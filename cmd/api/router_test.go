package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"commhub-backend/pkg/realtime"

	"github.com/gin-gonic/gin"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewHandler(realtime.NewHub(), nil, nil, nil, nil, nil).Router()
}

func TestHealth(t *testing.T) {
	r := newTestRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != `{"status":"ok"}` {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", nil)
	req.Header.Set("Origin", "https://agents.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://agents.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestRoutesRegistered(t *testing.T) {
	r := newTestRouter()

	want := map[string]bool{
		"GET /api/conversations/:id/messages":      false,
		"POST /api/conversations/:id/messages":     false,
		"POST /api/ingest/dead-letters/:id/replay": false,
		"GET /api/sync/cursors":                    false,
		"POST /webhooks/cloudpbx/cdr":              false,
		"GET /webhooks/cloudpbx/callback":          false,
		"GET /api/calls/:call_id":                  false,
	}
	for _, route := range r.Routes() {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, found := range want {
		if !found {
			t.Fatalf("route %s not registered", key)
		}
	}
}
