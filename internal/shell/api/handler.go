// Package api provides HTTP handlers for the Caravel API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/caravel-sh/caravel/internal/core/domain"
	"github.com/caravel-sh/caravel/internal/core/webhook"
	"github.com/caravel-sh/caravel/internal/shell/deployer"
	"github.com/caravel-sh/caravel/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

// Enqueuer queues releases. *deployer.Deployer satisfies this.
type Enqueuer interface {
	Enqueue(ctx context.Context, req deployer.Request) (*domain.Release, error)
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	store         store.Store
	enqueuer      Enqueuer
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates a new API handler. webhookSecret signs GitHub
// deliveries; an empty secret rejects all webhook traffic.
func NewHandler(s store.Store, e Enqueuer, webhookSecret string, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:         s,
		enqueuer:      e,
		webhookSecret: webhookSecret,
		logger:        l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// Webhook receiver
	r.Post("/hooks/github", h.handleGitHubWebhook)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/hosts", func(r chi.Router) {
			r.Get("/", h.handleListHosts)
			r.Get("/{name}", h.handleGetHost)
			r.Delete("/{name}", h.handleDeleteHost)
			r.Post("/{name}/deploy", h.handleDeploy)
			r.Get("/{name}/releases/latest", h.handleLatestRelease)
		})

		r.Route("/releases", func(r chi.Router) {
			r.Get("/", h.handleListReleases)
			r.Get("/{id}", h.handleGetRelease)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if _, err := h.store.ListHosts(r.Context(), store.ListOptions{Limit: 1}); err != nil {
		checks["database"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Webhook Handler
// =============================================================================

func (h *Handler) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, webhook.MaxPayloadSize+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read payload", "invalid_payload")
		return
	}
	if len(payload) > webhook.MaxPayloadSize {
		h.writeError(w, http.StatusRequestEntityTooLarge, "payload too large", "invalid_payload")
		return
	}

	sig := r.Header.Get("X-Hub-Signature-256")
	if err := webhook.ValidateSignature(payload, sig, h.webhookSecret); err != nil {
		h.logger.Warn("webhook signature rejected", "error", err, "remote", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "signature verification failed", "invalid_signature")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	event, err := webhook.ParseGitHubPush(payload, eventType)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid push payload", "invalid_payload")
		return
	}
	if event == nil {
		// Ping and other non-push events are acknowledged and ignored.
		h.writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
		return
	}

	repo := event.FullName
	hosts, err := h.store.ListHosts(r.Context(), store.DefaultListOptions())
	if err != nil {
		h.logger.Error("failed to list hosts for webhook", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to resolve host", "internal_error")
		return
	}

	for i := range hosts {
		host := &hosts[i]
		if !event.TriggersDeploy(host.Branch) || !repoMatches(host.RepoURL, event.FullName) {
			continue
		}

		release, err := h.enqueuer.Enqueue(r.Context(), deployer.Request{
			HostName:  host.Name,
			Trigger:   domain.TriggerPush,
			Branch:    event.Branch(),
			CommitSHA: event.HeadSHA,
			Pusher:    event.Pusher,
		})
		if err != nil {
			h.logger.Error("failed to queue release", "host", host.Name, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "failed to queue release", "queue_error")
			return
		}

		h.logger.Info("webhook accepted", "repo", repo, "host", host.Name, "commit", event.HeadSHA)
		h.writeJSON(w, http.StatusAccepted, WebhookResponse{Status: "queued", ReleaseID: release.ID})
		return
	}

	// Pushes to other branches are valid deliveries that trigger nothing.
	h.writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
}

// =============================================================================
// Host Handlers
// =============================================================================

func (h *Handler) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.store.ListHosts(r.Context(), parseListOptions(r))
	if err != nil {
		h.logger.Error("failed to list hosts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list hosts", "internal_error")
		return
	}

	resp := make([]HostResponse, 0, len(hosts))
	for i := range hosts {
		resp = append(resp, hostToResponse(&hosts[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetHost(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	host, err := h.store.GetHostByName(r.Context(), name)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "host not found", "host_not_found")
			return
		}
		h.logger.Error("failed to get host", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get host", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, hostToResponse(host))
}

// handleDeleteHost removes a host and its key in one transaction. Release
// history is kept; a host declared in the agent config reappears on restart.
func (h *Handler) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	host, err := h.store.GetHostByName(r.Context(), name)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "host not found", "host_not_found")
			return
		}
		h.logger.Error("failed to get host", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get host", "internal_error")
		return
	}

	err = h.store.WithTx(r.Context(), func(tx store.Store) error {
		if host.SSHKeyID != "" {
			if err := tx.DeleteSSHKey(r.Context(), host.SSHKeyID); err != nil && !isNotFound(err) {
				return err
			}
		}
		return tx.DeleteHost(r.Context(), host.ID)
	})
	if err != nil {
		h.logger.Error("failed to delete host", "host", host.Name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete host", "internal_error")
		return
	}

	h.logger.Info("host deleted", "host", host.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	host, err := h.store.GetHostByName(r.Context(), name)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "host not found", "host_not_found")
			return
		}
		h.logger.Error("failed to get host", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get host", "internal_error")
		return
	}

	release, err := h.enqueuer.Enqueue(r.Context(), deployer.Request{
		HostName: host.Name,
		Trigger:  domain.TriggerManual,
		Branch:   host.Branch,
	})
	if err != nil {
		h.logger.Error("failed to queue release", "host", host.Name, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "failed to queue release", "queue_error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, DeployResponse{ReleaseID: release.ID, Status: string(release.Status)})
}

// handleLatestRelease answers "what is deployed right now" for one host.
func (h *Handler) handleLatestRelease(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if _, err := h.store.GetHostByName(r.Context(), name); err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "host not found", "host_not_found")
			return
		}
		h.logger.Error("failed to get host", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get host", "internal_error")
		return
	}

	release, err := h.store.GetLatestRelease(r.Context(), name)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "no releases for host", "release_not_found")
			return
		}
		h.logger.Error("failed to get latest release", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get latest release", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, releaseToResponse(release))
}

// =============================================================================
// Release Handlers
// =============================================================================

func (h *Handler) handleListReleases(w http.ResponseWriter, r *http.Request) {
	opts := parseListOptions(r)

	var (
		releases []domain.Release
		err      error
	)
	if hostName := r.URL.Query().Get("host"); hostName != "" {
		releases, err = h.store.ListReleasesByHost(r.Context(), hostName, opts)
	} else {
		releases, err = h.store.ListReleases(r.Context(), opts)
	}
	if err != nil {
		h.logger.Error("failed to list releases", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list releases", "internal_error")
		return
	}

	resp := ReleaseListResponse{
		Releases: make([]ReleaseResponse, 0, len(releases)),
		Count:    len(releases),
	}
	for i := range releases {
		resp.Releases = append(resp.Releases, releaseToResponse(&releases[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	release, err := h.store.GetRelease(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "release not found", "release_not_found")
			return
		}
		h.logger.Error("failed to get release", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get release", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, releaseToResponse(release))
}

// =============================================================================
// Helpers
// =============================================================================

// repoMatches reports whether a host's clone URL points at the pushed
// repository. Clone URLs come in SSH and HTTPS forms, so the check is on
// the "owner/name" path, with an optional .git suffix.
func repoMatches(repoURL, fullName string) bool {
	if fullName == "" {
		return false
	}
	trimmed := strings.TrimSuffix(repoURL, ".git")
	return strings.HasSuffix(trimmed, "/"+fullName) || strings.HasSuffix(trimmed, ":"+fullName)
}

func parseListOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	return opts.Normalize()
}

func hostToResponse(host *domain.Host) HostResponse {
	return HostResponse{
		ID:          host.ID,
		Name:        host.Name,
		SSHHost:     host.SSHHost,
		SSHPort:     host.SSHPort,
		SSHUser:     host.SSHUser,
		RepoURL:     host.RepoURL,
		Branch:      host.Branch,
		CheckoutDir: host.CheckoutDir,
		ComposeFile: host.ComposeFile,
		CreatedAt:   host.CreatedAt,
		UpdatedAt:   host.UpdatedAt,
	}
}

func releaseToResponse(release *domain.Release) ReleaseResponse {
	steps := make([]StepResponse, 0, len(release.Steps))
	for _, s := range release.Steps {
		steps = append(steps, StepResponse{
			Name:       s.Name,
			Status:     string(s.Status),
			Output:     s.Output,
			Error:      s.Error,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		})
	}

	return ReleaseResponse{
		ID:           release.ID,
		HostName:     release.HostName,
		Trigger:      string(release.Trigger),
		Branch:       release.Branch,
		CommitSHA:    release.CommitSHA,
		Pusher:       release.Pusher,
		Status:       string(release.Status),
		Steps:        steps,
		ErrorMessage: release.ErrorMessage,
		CreatedAt:    release.CreatedAt,
		StartedAt:    release.StartedAt,
		FinishedAt:   release.FinishedAt,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return false
}
