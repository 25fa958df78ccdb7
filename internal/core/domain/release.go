package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Release Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrHostRequired      = errors.New("host must be set before a release can run")
	ErrReleaseNotFound   = errors.New("release not found")
	ErrUnknownStep       = errors.New("unknown step name")
)

// =============================================================================
// Release Status
// =============================================================================

// ReleaseStatus is the lifecycle state of a release run.
type ReleaseStatus string

const (
	ReleasePending   ReleaseStatus = "pending"
	ReleaseRunning   ReleaseStatus = "running"
	ReleaseSucceeded ReleaseStatus = "succeeded"
	ReleaseFailed    ReleaseStatus = "failed"
)

// IsTerminal returns true once a release can no longer change state.
func (s ReleaseStatus) IsTerminal() bool {
	return s == ReleaseSucceeded || s == ReleaseFailed
}

// =============================================================================
// Trigger
// =============================================================================

// Trigger identifies what started a release.
type Trigger string

const (
	TriggerPush   Trigger = "push"
	TriggerManual Trigger = "manual"
)

// =============================================================================
// Steps
// =============================================================================

// StepStatus is the state of a single pipeline step within a release.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepRecord captures the outcome of one pipeline step.
// Output is stored after secret masking; raw remote output is never persisted.
type StepRecord struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// =============================================================================
// Release
// =============================================================================

// Release represents one run of the deployment pipeline against a host.
type Release struct {
	ID           string        `json:"id"`
	HostName     string        `json:"host_name"`
	Trigger      Trigger       `json:"trigger"`
	Branch       string        `json:"branch"`
	CommitSHA    string        `json:"commit_sha,omitempty"`
	Pusher       string        `json:"pusher,omitempty"`
	Status       ReleaseStatus `json:"status"`
	Steps        []StepRecord  `json:"steps"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// GenerateReleaseID generates a new release ID with "rel_" prefix.
func GenerateReleaseID() string {
	return "rel_" + uuid.New().String()[:8]
}

// NewRelease creates a pending release for a host. stepNames fixes the step
// set up front so progress is visible before any step has run.
func NewRelease(hostName string, trigger Trigger, branch string, stepNames []string) (*Release, error) {
	if hostName == "" {
		return nil, ErrHostRequired
	}
	if err := ValidateBranch(branch); err != nil {
		return nil, err
	}

	steps := make([]StepRecord, 0, len(stepNames))
	for _, name := range stepNames {
		steps = append(steps, StepRecord{Name: name, Status: StepPending})
	}

	now := time.Now().UTC()
	return &Release{
		ID:        GenerateReleaseID(),
		HostName:  hostName,
		Trigger:   trigger,
		Branch:    branch,
		Status:    ReleasePending,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition attempts to transition the release to a new status.
func (r *Release) Transition(to ReleaseStatus) error {
	if err := ValidateReleaseTransition(r.Status, to); err != nil {
		return err
	}

	r.Status = to
	now := time.Now().UTC()
	r.UpdatedAt = now

	if to == ReleaseRunning {
		r.StartedAt = &now
	}
	if to.IsTerminal() {
		r.FinishedAt = &now
	}

	return nil
}

// TransitionToFailed transitions to failed status with an error message.
func (r *Release) TransitionToFailed(errorMessage string) error {
	if err := r.Transition(ReleaseFailed); err != nil {
		return err
	}
	r.ErrorMessage = errorMessage
	return nil
}

// Step returns a pointer to the named step record.
func (r *Release) Step(name string) (*StepRecord, error) {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i], nil
		}
	}
	return nil, ErrUnknownStep
}

// StartStep marks the named step as running.
func (r *Release) StartStep(name string) error {
	step, err := r.Step(name)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	step.Status = StepRunning
	step.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

// FinishStep records the result of the named step. A failure marks all later
// pending steps as skipped: the pipeline never continues past a failed step.
func (r *Release) FinishStep(name, output string, stepErr error) error {
	step, err := r.Step(name)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	step.Output = output
	step.FinishedAt = &now
	r.UpdatedAt = now

	if stepErr != nil {
		step.Status = StepFailed
		step.Error = stepErr.Error()
		r.skipRemaining(name)
		return nil
	}
	step.Status = StepSucceeded
	return nil
}

// skipRemaining marks every pending step after the named one as skipped.
func (r *Release) skipRemaining(after string) {
	seen := false
	for i := range r.Steps {
		if r.Steps[i].Name == after {
			seen = true
			continue
		}
		if seen && r.Steps[i].Status == StepPending {
			r.Steps[i].Status = StepSkipped
		}
	}
}

// =============================================================================
// State Machine
// =============================================================================

// validReleaseTransitions defines the allowed state transitions.
var validReleaseTransitions = map[ReleaseStatus][]ReleaseStatus{
	ReleasePending:   {ReleaseRunning, ReleaseFailed},
	ReleaseRunning:   {ReleaseSucceeded, ReleaseFailed},
	ReleaseSucceeded: {}, // Terminal state
	ReleaseFailed:    {}, // Terminal state
}

// ValidateReleaseTransition checks if a status transition is valid.
func ValidateReleaseTransition(from, to ReleaseStatus) error {
	allowed, exists := validReleaseTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}
