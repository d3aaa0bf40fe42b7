package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobrunner/osmacc/internal/config"
)

func TestExtractHost(t *testing.T) {
	tests := []struct {
		origin   string
		expected string
	}{
		{"https://example.com", "example.com"},
		{"https://example.com:8080", "example.com"},
		{"https://example.com:443/path", "example.com"},
		{"https://deep.sub.example.com", "deep.sub.example.com"},
		{"http://localhost:3000", "localhost"},
		{"http://192.168.1.1:8080", "192.168.1.1"},
		{"example.com", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := extractHost(tt.origin); got != tt.expected {
				t.Errorf("extractHost(%q) = %q; want %q", tt.origin, got, tt.expected)
			}
		})
	}
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		name     string
		origin   string
		pattern  string
		expected bool
	}{
		{"exact match", "https://gis.example.org", "https://gis.example.org", true},
		{"different protocol", "http://gis.example.org", "https://gis.example.org", false},
		{"different port", "https://gis.example.org:8443", "https://gis.example.org", false},
		{"wildcard subdomain", "https://maps.example.org", "*.example.org", true},
		{"wildcard deep subdomain", "https://a.b.example.org", "*.example.org", true},
		{"wildcard skips root domain", "https://example.org", "*.example.org", false},
		{"wildcard skips lookalike", "https://badexample.org", "*.example.org", false},
		{"empty origin", "", "https://example.org", false},
		{"empty pattern", "https://example.org", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchOrigin(tt.origin, tt.pattern); got != tt.expected {
				t.Errorf("matchOrigin(%q, %q) = %v; want %v", tt.origin, tt.pattern, got, tt.expected)
			}
		})
	}
}

func corsServer(origins ...string) *Server {
	return &Server{
		config: config.ServerConfig{
			CORS: config.CORSConfig{AllowedOrigins: origins},
		},
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		origins       []string
		origin        string
		method        string
		preflight     bool
		wantStatus    int
		wantAllowed   string
		wantNextCalls int
	}{
		{
			name:          "allowed origin POST",
			origins:       []string{"https://gis.example.org"},
			origin:        "https://gis.example.org",
			method:        http.MethodPost,
			wantStatus:    http.StatusOK,
			wantAllowed:   "https://gis.example.org",
			wantNextCalls: 1,
		},
		{
			name:        "preflight answered without next",
			origins:     []string{"*.example.org"},
			origin:      "https://maps.example.org",
			method:      http.MethodOptions,
			preflight:   true,
			wantStatus:  http.StatusNoContent,
			wantAllowed: "https://maps.example.org",
		},
		{
			name:          "plain OPTIONS reaches the route",
			origins:       []string{"https://gis.example.org"},
			origin:        "https://gis.example.org",
			method:        http.MethodOptions,
			wantStatus:    http.StatusOK,
			wantAllowed:   "https://gis.example.org",
			wantNextCalls: 1,
		},
		{
			name:          "foreign origin gets no headers",
			origins:       []string{"https://gis.example.org"},
			origin:        "https://evil.example.com",
			method:        http.MethodGet,
			wantStatus:    http.StatusOK,
			wantNextCalls: 1,
		},
		{
			name:          "no origin header",
			origins:       []string{"https://gis.example.org"},
			method:        http.MethodGet,
			wantStatus:    http.StatusOK,
			wantNextCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls++
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/api/v1/sweeps", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rr := httptest.NewRecorder()
			corsServer(tt.origins...).corsMiddleware(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status code = %d; want %d", rr.Code, tt.wantStatus)
			}
			if calls != tt.wantNextCalls {
				t.Errorf("next handler calls = %d; want %d", calls, tt.wantNextCalls)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Access-Control-Allow-Origin = %q; want %q", got, tt.wantAllowed)
			}
			if tt.wantAllowed == "" {
				return
			}
			if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
				t.Errorf("Access-Control-Allow-Methods = %q", got)
			}
			if got := rr.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q; want Origin", got)
			}
		})
	}
}

func TestServer_isOriginAllowed(t *testing.T) {
	s := corsServer("https://gis.example.org", "*.maps.example.org")

	if !s.isOriginAllowed("https://tiles.maps.example.org") {
		t.Error("wildcard origin not allowed")
	}
	if s.isOriginAllowed("https://example.org") {
		t.Error("unlisted origin allowed")
	}
	if corsServer().isOriginAllowed("https://gis.example.org") {
		t.Error("origin allowed without configuration")
	}
}
