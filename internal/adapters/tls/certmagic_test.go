package tls

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jobrunner/osmacc/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewServer_Validation(t *testing.T) {
	dns := config.DNSConfig{SubscriptionID: "sub", ResourceGroupName: "rg"}
	tests := []struct {
		name    string
		cfg     config.TLSConfig
		wantErr string
	}{
		{"no domains", config.TLSConfig{Enabled: true, Email: "ops@example.org", DNS: dns}, "no domains"},
		{"no email", config.TLSConfig{Enabled: true, Domains: []string{"acc.example.org"}, DNS: dns}, "no email"},
		{"no dns zone", config.TLSConfig{Enabled: true, Domains: []string{"acc.example.org"}, Email: "ops@example.org"}, "Azure DNS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(tt.cfg, config.ServerConfig{Port: 8443}, http.NotFoundHandler(), testLogger())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewServer() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestServer_PlainHTTP(t *testing.T) {
	srv, err := NewServer(config.TLSConfig{}, config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Minute,
	}, http.NotFoundHandler(), testLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.Enabled() {
		t.Error("Enabled() = true for a disabled config")
	}
	if srv.server.WriteTimeout != time.Minute {
		t.Errorf("WriteTimeout = %v, want 1m", srv.server.WriteTimeout)
	}
	if err := srv.ManageCertificates(context.Background()); err != nil {
		t.Errorf("ManageCertificates() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	time.Sleep(50 * time.Millisecond)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() after Shutdown = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}
}
