// Package tls serves the HTTP API over HTTPS with certificates obtained by
// CertMagic through Azure DNS-01 challenges.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/osmacc/internal/config"
)

// Server wraps an HTTP server with automatic TLS. With TLS disabled it
// serves plain HTTP.
type Server struct {
	config    config.TLSConfig
	server    *http.Server
	logger    *slog.Logger
	tlsConfig *tls.Config
}

// NewServer creates the server. Timeouts come from the HTTP server
// configuration; accuracy runs answer only after every cell is written.
func NewServer(cfg config.TLSConfig, srv config.ServerConfig, handler http.Handler, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logger,
		server: &http.Server{
			Addr:              srv.Address(),
			Handler:           handler,
			ReadTimeout:       srv.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      srv.WriteTimeout,
		},
	}
	if !cfg.Enabled {
		return s, nil
	}

	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("TLS enabled but no email specified")
	}
	if cfg.DNS.SubscriptionID == "" || cfg.DNS.ResourceGroupName == "" {
		return nil, fmt.Errorf("TLS enabled but Azure DNS subscription or resource group missing")
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	// Empty ClientId selects the system assigned managed identity.
	certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
		DNSManager: certmagic.DNSManager{
			DNSProvider: &azure.Provider{
				SubscriptionId:    cfg.DNS.SubscriptionID,
				ResourceGroupName: cfg.DNS.ResourceGroupName,
				ClientId:          cfg.DNS.ClientID,
			},
		},
	}

	tlsConfig, err := certmagic.TLS(cfg.Domains)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}
	s.tlsConfig = tlsConfig
	s.server.TLSConfig = tlsConfig
	return s, nil
}

// Start serves until Shutdown is called. A server closed by Shutdown
// returns nil.
func (s *Server) Start() error {
	var err error
	if s.config.Enabled {
		s.logger.Info("starting HTTPS server", "address", s.server.Addr, "domains", s.config.Domains)
		err = s.server.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP server (TLS disabled)", "address", s.server.Addr)
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting for running requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.server.Shutdown(ctx)
}

// Enabled reports whether the server terminates TLS.
func (s *Server) Enabled() bool {
	return s.config.Enabled
}

// ManageCertificates obtains certificates for the configured domains
// before the listener starts, so the first client does not wait on ACME.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.logger.Info("obtaining certificates", "domains", s.config.Domains)
	if err := certmagic.ManageSync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	s.logger.Info("certificates obtained")
	return nil
}
