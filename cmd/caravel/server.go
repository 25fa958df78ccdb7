package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caravel-sh/caravel/internal/core/crypto"
	"github.com/caravel-sh/caravel/internal/core/domain"
	"github.com/caravel-sh/caravel/internal/shell/api"
	"github.com/caravel-sh/caravel/internal/shell/deployer"
	"github.com/caravel-sh/caravel/internal/shell/sshexec"
	"github.com/caravel-sh/caravel/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitSeedError       = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Caravel application server.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	deployer   *deployer.Deployer
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	encryptionKey := []byte(cfg.Security.EncryptionKey)
	if len(encryptionKey) != 32 {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      errors.New("security.encryption_key must be exactly 32 bytes for AES-256-GCM"),
			ExitCode: ExitConfigError,
		}
	}

	// Seed the configured host and its SSH key
	if cfg.Host.Name != "" {
		if err := seedHost(context.Background(), s, cfg, encryptionKey, logger); err != nil {
			s.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitSeedError,
			}
		}
	} else {
		logger.Warn("no host configured, webhook deliveries will be ignored")
	}

	// Create the release worker
	d := deployer.New(
		s,
		deployer.FileSecretsSource{Path: cfg.Secrets.File},
		deployer.SSHRunnerFactory(sshexec.Config{
			CommandTimeout: cfg.Deploy.CommandTimeout,
			ConnectTimeout: cfg.Deploy.ConnectTimeout,
		}),
		encryptionKey,
		deployer.Config{
			QueueSize:      cfg.Deploy.QueueSize,
			ReleaseTimeout: cfg.Deploy.ReleaseTimeout,
		},
		logger,
	)

	// Create HTTP handler
	handler := api.NewHandler(s, d, cfg.Webhook.Secret, logger)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		deployer:   d,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start the release worker
	s.deployer.Start()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop the release worker; the in-flight release finishes first
	s.deployer.Stop()

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Host Seeding
// =============================================================================

// seedHost upserts the configured host and its SSH key so the store is the
// single source the deployer reads from. Reboots with an unchanged key file
// reuse the stored key record.
func seedHost(ctx context.Context, s store.Store, cfg *Config, encryptionKey []byte, logger *slog.Logger) error {
	if cfg.Host.SSHKeyFile == "" {
		return errors.New("host.ssh_key_file is required when a host is configured")
	}
	privateKey, err := os.ReadFile(cfg.Host.SSHKeyFile)
	if err != nil {
		return fmt.Errorf("read SSH key file: %w", err)
	}
	if err := crypto.ValidateSSHPrivateKey(privateKey); err != nil {
		return fmt.Errorf("invalid SSH key in %s: %w", cfg.Host.SSHKeyFile, err)
	}

	fingerprint, err := crypto.GetSSHPublicKeyFingerprint(privateKey)
	if err != nil {
		return fmt.Errorf("fingerprint SSH key: %w", err)
	}

	host, err := domain.NewHost(
		cfg.Host.Name,
		cfg.Host.SSHHost,
		cfg.Host.SSHUser,
		cfg.Host.SSHPort,
		cfg.Host.RepoURL,
		cfg.Host.Branch,
		cfg.Host.CheckoutDir,
	)
	if err != nil {
		return fmt.Errorf("invalid host configuration: %w", err)
	}
	host.ComposeFile = cfg.Host.ComposeFile
	host.Secrets = domain.SecretsSpec{
		Dir:  cfg.Host.SecretsDir,
		File: cfg.Host.SecretsFile,
	}
	if err := host.Validate(); err != nil {
		return fmt.Errorf("invalid host configuration: %w", err)
	}

	existing, err := s.GetHostByName(ctx, host.Name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	keyID, err := ensureSSHKey(ctx, s, existing, privateKey, fingerprint, encryptionKey, logger)
	if err != nil {
		return err
	}
	host.SSHKeyID = keyID

	if existing != nil {
		host.ID = existing.ID
		host.CreatedAt = existing.CreatedAt
		host.UpdatedAt = time.Now().UTC()
		if err := s.UpdateHost(ctx, host); err != nil {
			return err
		}
		logger.Info("host updated", "host", host.Name, "branch", host.Branch)
		return nil
	}

	if err := s.CreateHost(ctx, host); err != nil {
		return err
	}
	logger.Info("host created", "host", host.Name, "branch", host.Branch, "fingerprint", fingerprint)
	return nil
}

// ensureSSHKey reuses the stored key when its fingerprint matches the key
// file, otherwise encrypts and stores the new key.
func ensureSSHKey(ctx context.Context, s store.Store, existing *domain.Host, privateKey []byte, fingerprint string, encryptionKey []byte, logger *slog.Logger) (string, error) {
	if existing != nil && existing.SSHKeyID != "" {
		stored, err := s.GetSSHKey(ctx, existing.SSHKeyID)
		if err == nil && stored.Fingerprint == fingerprint {
			return stored.ID, nil
		}
		if err == nil {
			// Key file changed, drop the stale record
			if derr := s.DeleteSSHKey(ctx, stored.ID); derr != nil {
				logger.Warn("failed to delete stale SSH key", "key_id", stored.ID, "error", derr)
			}
		}
	}

	encrypted, err := crypto.EncryptSSHKey(privateKey, encryptionKey)
	if err != nil {
		return "", fmt.Errorf("encrypt SSH key: %w", err)
	}

	key := &domain.SSHKey{
		ID:                  domain.GenerateSSHKeyID(),
		Name:                "deploy-key",
		PrivateKeyEncrypted: encrypted,
		Fingerprint:         fingerprint,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.CreateSSHKey(ctx, key); err != nil {
		return "", err
	}
	logger.Info("SSH key stored", "key_id", key.ID, "fingerprint", fingerprint)
	return key.ID, nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
