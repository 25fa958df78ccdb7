package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caravel-sh/caravel/internal/core/domain"
	"github.com/caravel-sh/caravel/internal/core/pipeline"
	"github.com/caravel-sh/caravel/internal/core/webhook"
	"github.com/caravel-sh/caravel/internal/shell/deployer"
	"github.com/caravel-sh/caravel/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "test-webhook-secret"

// =============================================================================
// Test Helpers
// =============================================================================

// fakeEnqueuer records requests and returns pending releases.
type fakeEnqueuer struct {
	requests []deployer.Request
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req deployer.Request) (*domain.Release, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return domain.NewRelease(req.HostName, req.Trigger, req.Branch, pipeline.StepNames())
}

func setupHandler(t *testing.T) (*Handler, store.Store, *fakeEnqueuer) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	enq := &fakeEnqueuer{}
	return NewHandler(s, enq, testWebhookSecret, nil), s, enq
}

func seedHost(t *testing.T, s store.Store) *domain.Host {
	t.Helper()
	host, err := domain.NewHost(
		"prod-dashboard",
		"203.0.113.10",
		"deploy",
		22,
		"git@github.com:acme/dashboard.git",
		"main",
		"/home/deploy/app",
	)
	require.NoError(t, err)
	require.NoError(t, s.CreateHost(context.Background(), host))
	return host
}

func pushPayload(ref, fullName, after string) []byte {
	return []byte(fmt.Sprintf(`{
		"ref": %q,
		"after": %q,
		"deleted": false,
		"repository": {"name": "dashboard", "full_name": %q},
		"pusher": {"name": "octocat"}
	}`, ref, after, fullName))
}

func postWebhook(h *Handler, payload []byte, event, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(payload))
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Webhook Tests
// =============================================================================

func TestWebhook_ValidPushQueuesRelease(t *testing.T) {
	h, s, enq := setupHandler(t)
	seedHost(t, s)

	payload := pushPayload("refs/heads/main", "acme/dashboard", "abc1234")
	rec := postWebhook(h, payload, "push", webhook.Sign(payload, testWebhookSecret))

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.ReleaseID)

	require.Len(t, enq.requests, 1)
	assert.Equal(t, "prod-dashboard", enq.requests[0].HostName)
	assert.Equal(t, domain.TriggerPush, enq.requests[0].Trigger)
	assert.Equal(t, "abc1234", enq.requests[0].CommitSHA)
	assert.Equal(t, "octocat", enq.requests[0].Pusher)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	h, s, enq := setupHandler(t)
	seedHost(t, s)

	payload := pushPayload("refs/heads/main", "acme/dashboard", "abc1234")
	rec := postWebhook(h, payload, "push", "sha256=deadbeef")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, enq.requests)
}

func TestWebhook_MissingSignature(t *testing.T) {
	h, s, enq := setupHandler(t)
	seedHost(t, s)

	payload := pushPayload("refs/heads/main", "acme/dashboard", "abc1234")
	rec := postWebhook(h, payload, "push", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, enq.requests)
}

func TestWebhook_PingIsIgnored(t *testing.T) {
	h, _, enq := setupHandler(t)

	payload := []byte(`{"zen": "Keep it logically awesome."}`)
	rec := postWebhook(h, payload, "ping", webhook.Sign(payload, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ignored", resp.Status)
	assert.Empty(t, enq.requests)
}

func TestWebhook_OtherBranchIsIgnored(t *testing.T) {
	h, s, enq := setupHandler(t)
	seedHost(t, s)

	payload := pushPayload("refs/heads/feature/new-chart", "acme/dashboard", "abc1234")
	rec := postWebhook(h, payload, "push", webhook.Sign(payload, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, enq.requests)
}

func TestWebhook_OtherRepoIsIgnored(t *testing.T) {
	h, s, enq := setupHandler(t)
	seedHost(t, s)

	payload := pushPayload("refs/heads/main", "acme/other-repo", "abc1234")
	rec := postWebhook(h, payload, "push", webhook.Sign(payload, testWebhookSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, enq.requests)
}

// =============================================================================
// Host Endpoint Tests
// =============================================================================

func TestListHosts(t *testing.T) {
	h, s, _ := setupHandler(t)
	seedHost(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp []HostResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "prod-dashboard", resp[0].Name)
}

func TestGetHost_NotFound(t *testing.T) {
	h, _, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts/missing", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "host_not_found", resp.Code)
}

func TestManualDeploy(t *testing.T) {
	h, s, enq := setupHandler(t)
	seedHost(t, s)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts/prod-dashboard/deploy", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp DeployResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ReleaseID)

	require.Len(t, enq.requests, 1)
	assert.Equal(t, domain.TriggerManual, enq.requests[0].Trigger)
	assert.Equal(t, "main", enq.requests[0].Branch)
}

// =============================================================================
// Release Endpoint Tests
// =============================================================================

func TestDeleteHost(t *testing.T) {
	h, s, _ := setupHandler(t)
	host := seedHost(t, s)

	key := &domain.SSHKey{
		ID:                  domain.GenerateSSHKeyID(),
		Name:                "deploy-key",
		PrivateKeyEncrypted: []byte("ciphertext"),
	}
	require.NoError(t, s.CreateSSHKey(context.Background(), key))
	host.SSHKeyID = key.ID
	require.NoError(t, s.UpdateHost(context.Background(), host))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/hosts/prod-dashboard", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := s.GetHostByName(context.Background(), host.Name)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetSSHKey(context.Background(), key.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteHost_NotFound(t *testing.T) {
	h, _, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/hosts/ghost", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestRelease(t *testing.T) {
	h, s, _ := setupHandler(t)
	host := seedHost(t, s)

	older, err := domain.NewRelease(host.Name, domain.TriggerPush, "main", pipeline.StepNames())
	require.NoError(t, err)
	require.NoError(t, s.CreateRelease(context.Background(), older))

	newer, err := domain.NewRelease(host.Name, domain.TriggerPush, "main", pipeline.StepNames())
	require.NoError(t, err)
	newer.CreatedAt = newer.CreatedAt.Add(time.Second)
	newer.UpdatedAt = newer.CreatedAt
	require.NoError(t, s.CreateRelease(context.Background(), newer))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts/prod-dashboard/releases/latest", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReleaseResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, newer.ID, resp.ID)
}

func TestLatestRelease_NoReleases(t *testing.T) {
	h, s, _ := setupHandler(t)
	seedHost(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts/prod-dashboard/releases/latest", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReleases(t *testing.T) {
	h, s, _ := setupHandler(t)
	host := seedHost(t, s)

	release, err := domain.NewRelease(host.Name, domain.TriggerPush, "main", pipeline.StepNames())
	require.NoError(t, err)
	require.NoError(t, s.CreateRelease(context.Background(), release))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/releases/?host=prod-dashboard", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReleaseListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Releases, 1)
	assert.Equal(t, release.ID, resp.Releases[0].ID)
	assert.Len(t, resp.Releases[0].Steps, len(pipeline.StepNames()))
}

func TestGetRelease(t *testing.T) {
	h, s, _ := setupHandler(t)
	host := seedHost(t, s)

	release, err := domain.NewRelease(host.Name, domain.TriggerPush, "main", pipeline.StepNames())
	require.NoError(t, err)
	require.NoError(t, s.CreateRelease(context.Background(), release))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/releases/"+release.ID, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReleaseResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, release.ID, resp.ID)
	assert.Equal(t, "pending", resp.Status)
}

func TestGetRelease_NotFound(t *testing.T) {
	h, _, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/releases/rel_missing", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealth(t *testing.T) {
	h, _, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestReady(t *testing.T) {
	h, _, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
}
