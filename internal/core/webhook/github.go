// Package webhook parses push notifications from the source repository.
// This is part of the Functional Core - all functions are pure with no I/O.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidSignature is returned when the HMAC does not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNoSecret is returned when signature validation is attempted
	// without a configured secret.
	ErrNoSecret = errors.New("webhook secret is not configured")
)

// MaxPayloadSize caps stored raw payloads.
const MaxPayloadSize = 10 * 1024 * 1024 // 10MB

// =============================================================================
// Push Event
// =============================================================================

// PushEvent is a normalized push notification.
type PushEvent struct {
	// Ref is the full git ref that was pushed, e.g. "refs/heads/main".
	Ref string

	// HeadSHA is the commit the ref now points at.
	HeadSHA string

	// Repository information
	Repo     string
	FullName string

	// Pusher is the account that pushed.
	Pusher string

	// Deleted is true when the push removed the ref.
	Deleted bool

	// Raw payload for debugging
	RawPayload json.RawMessage

	// When the event was received
	Timestamp time.Time
}

// Branch returns the branch name for a branch push, or "" for tags and
// other refs.
func (e *PushEvent) Branch() string {
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

// TriggersDeploy returns true if this push should start a release for the
// given branch: a non-deleting push to exactly refs/heads/<branch>.
func (e *PushEvent) TriggersDeploy(branch string) bool {
	return !e.Deleted && e.Ref == "refs/heads/"+branch
}

// =============================================================================
// GitHub Payload
// =============================================================================

// gitHubPush is the subset of the GitHub push payload we consume.
type gitHubPush struct {
	Ref     string `json:"ref"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`

	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"repository"`

	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// ParseGitHubPush parses a GitHub webhook delivery. Non-push events (ping
// and everything else) return (nil, nil).
func ParseGitHubPush(data []byte, eventType string) (*PushEvent, error) {
	if eventType != "push" {
		return nil, nil
	}

	var payload gitHubPush
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse GitHub payload: %w", err)
	}

	if payload.Ref == "" {
		return nil, fmt.Errorf("push payload has no ref")
	}

	raw := data
	if len(raw) > MaxPayloadSize {
		raw = raw[:MaxPayloadSize]
	}

	return &PushEvent{
		Ref:        payload.Ref,
		HeadSHA:    payload.After,
		Repo:       payload.Repository.Name,
		FullName:   payload.Repository.FullName,
		Pusher:     payload.Pusher.Name,
		Deleted:    payload.Deleted,
		RawPayload: raw,
	}, nil
}

// =============================================================================
// Signature Validation
// =============================================================================

// ValidateSignature checks the X-Hub-Signature-256 header against the
// payload using HMAC-SHA256 with a constant-time compare.
func ValidateSignature(payload []byte, sigHeader, secret string) error {
	if secret == "" {
		return ErrNoSecret
	}
	if sigHeader == "" {
		return ErrMissingSignature
	}

	want := strings.TrimPrefix(sigHeader, "sha256=")
	if want == sigHeader {
		// Header did not carry the expected scheme prefix.
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	got := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature header value for a payload. Used by tests and
// by callers that need to forward deliveries.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
