package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/go-chi/chi/v5"
	"github.com/jshsakura/oc-terminal-list/internal/logging"
	"github.com/jshsakura/oc-terminal-list/internal/metrics"
)

type staticResolver map[string]string

func (s staticResolver) Resolve(token string) (string, error) {
	if user, ok := s[token]; ok {
		return user, nil
	}
	return "", errors.New("unknown token")
}

func whoami(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetUser(r)))
}

func TestRequireAuth(t *testing.T) {
	h := RequireAuth(staticResolver{"good": "alice"}, false, "admin")(http.HandlerFunc(whoami))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer bad", http.StatusUnauthorized, ""},
		{"valid token", "Bearer good", http.StatusOK, "alice"},
		{"lowercase scheme", "bearer good", http.StatusOK, "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireAuth_Disabled(t *testing.T) {
	h := RequireAuth(staticResolver{}, true, "admin")(http.HandlerFunc(whoami))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "admin" {
		t.Errorf("got %d %q, want 200 admin", rec.Code, rec.Body.String())
	}
}

func TestRequestLogger_UsesRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(RequestLogger(logging.Nop(), m))
	r.Get("/api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/abc", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	mrec := httptest.NewRecorder()
	m.Handler().ServeHTTP(mrec, httptest.NewRequest("GET", "/metrics", nil))
	want := `termlist_http_requests_total{method="GET",route="/api/sessions/{id}",status="418"} 1`
	if !strings.Contains(mrec.Body.String(), want) {
		t.Errorf("metrics missing %s", want)
	}
}

func TestSPAHandler(t *testing.T) {
	h := NewSPAHandler(fstest.MapFS{
		"index.html":    {Data: []byte("<html>app</html>")},
		"assets/app.js": {Data: []byte("console.log(1)")},
	})

	tests := []struct {
		name   string
		method string
		path   string
		status int
		body   string
	}{
		{"index", "GET", "/", http.StatusOK, "<html>app</html>"},
		{"asset", "GET", "/assets/app.js", http.StatusOK, "console.log(1)"},
		{"client route", "GET", "/sessions/abc", http.StatusOK, "<html>app</html>"},
		{"directory", "GET", "/assets", http.StatusOK, "<html>app</html>"},
		{"api stays 404", "GET", "/api/unknown", http.StatusNotFound, ""},
		{"ws stays 404", "GET", "/ws/", http.StatusNotFound, ""},
		{"post rejected", "POST", "/", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestSPAHandler_NoIndex(t *testing.T) {
	h := NewSPAHandler(fstest.MapFS{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
