package api

import "time"

// =============================================================================
// Response Types
// =============================================================================

// HostResponse is the response for host operations. SSH key material is
// never included.
type HostResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SSHHost     string    `json:"ssh_host"`
	SSHPort     int       `json:"ssh_port"`
	SSHUser     string    `json:"ssh_user"`
	RepoURL     string    `json:"repo_url"`
	Branch      string    `json:"branch"`
	CheckoutDir string    `json:"checkout_dir"`
	ComposeFile string    `json:"compose_file"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StepResponse is one pipeline step within a release response.
type StepResponse struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ReleaseResponse is the response for release operations.
type ReleaseResponse struct {
	ID           string         `json:"id"`
	HostName     string         `json:"host_name"`
	Trigger      string         `json:"trigger"`
	Branch       string         `json:"branch"`
	CommitSHA    string         `json:"commit_sha,omitempty"`
	Pusher       string         `json:"pusher,omitempty"`
	Status       string         `json:"status"`
	Steps        []StepResponse `json:"steps"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// ReleaseListResponse wraps a release list.
type ReleaseListResponse struct {
	Releases []ReleaseResponse `json:"releases"`
	Count    int               `json:"count"`
}

// WebhookResponse is returned for accepted webhook deliveries.
type WebhookResponse struct {
	Status    string `json:"status"`
	ReleaseID string `json:"release_id,omitempty"`
}

// DeployResponse is returned when a manual release is queued.
type DeployResponse struct {
	ReleaseID string `json:"release_id"`
	Status    string `json:"status"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
