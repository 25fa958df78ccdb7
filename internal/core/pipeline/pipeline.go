// Package pipeline builds the ordered remote command plan for a release.
// This is part of the Functional Core - all functions are pure with no I/O.
//
// A release always runs the same three steps in the same order:
//
//	secrets  - materialize the secrets file with restrictive permissions
//	sync     - clone the repository, or hard-reset an existing checkout
//	rebuild  - tear down and rebuild the compose stack
//
// A failed step halts the plan. There is no retry, rollback, or compensation.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caravel-sh/caravel/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNilHost is returned when a plan is requested without a host.
	ErrNilHost = errors.New("host is required")

	// ErrNoSecrets is returned when the secrets content is empty.
	ErrNoSecrets = errors.New("secrets content is empty")
)

// =============================================================================
// Steps
// =============================================================================

// StepKind identifies a pipeline step.
type StepKind string

const (
	StepSecrets StepKind = "secrets"
	StepSync    StepKind = "sync"
	StepRebuild StepKind = "rebuild"
)

// StepNames returns the fixed step names in execution order.
func StepNames() []string {
	return []string{string(StepSecrets), string(StepSync), string(StepRebuild)}
}

// Step is one remote command in a release plan.
type Step struct {
	Kind    StepKind
	Command string
	// Stdin is piped to the remote command. Secret content travels here,
	// never on the command line.
	Stdin []byte
	// Sensitive marks steps whose stdin must not appear in logs or output.
	Sensitive bool
}

// Name returns the step name used in release records.
func (s Step) Name() string {
	return string(s.Kind)
}

// =============================================================================
// Plan
// =============================================================================

// Plan produces the ordered steps for one release against a host.
// secretsContent is the raw secrets file body to materialize on the host.
func Plan(host *domain.Host, secretsContent []byte) ([]Step, error) {
	if host == nil {
		return nil, ErrNilHost
	}
	if err := host.Validate(); err != nil {
		return nil, err
	}
	if len(secretsContent) == 0 {
		return nil, ErrNoSecrets
	}

	return []Step{
		{
			Kind:      StepSecrets,
			Command:   SecretsCommand(host.SecretsDir(), host.SecretsPath()),
			Stdin:     secretsContent,
			Sensitive: true,
		},
		{
			Kind:    StepSync,
			Command: SyncCommand(host.RepoURL, host.Branch, host.CheckoutDir),
		},
		{
			Kind:    StepRebuild,
			Command: RebuildCommand(host.CheckoutDir, host.ComposePath()),
		},
	}, nil
}

// =============================================================================
// Command Rendering
// =============================================================================

// SecretsCommand renders the secrets provisioning command. The directory is
// created with mode 0700 and the file written from stdin with mode 0600.
func SecretsCommand(secretsDir, secretsPath string) string {
	dir := Quote(secretsDir)
	file := Quote(secretsPath)
	return fmt.Sprintf("mkdir -p %s && chmod 700 %s && cat > %s && chmod 600 %s",
		dir, dir, file, file)
}

// SyncCommand renders the source synchronization command: clone when no
// checkout exists, otherwise fetch and hard-reset to the remote branch.
// The reset discards any local divergence. Running it twice converges the
// checkout to origin/<branch> both times.
func SyncCommand(repoURL, branch, checkoutDir string) string {
	dir := Quote(checkoutDir)
	ref := Quote("origin/" + branch)
	return fmt.Sprintf(
		"if [ -d %s/.git ]; then git -C %s fetch origin %s && git -C %s reset --hard %s; else git clone --branch %s %s %s; fi",
		dir, dir, Quote(branch), dir, ref, Quote(branch), Quote(repoURL), dir)
}

// RebuildCommand renders the stack rebuild command: stop the running
// containers, rebuild images, and start the stack detached.
func RebuildCommand(checkoutDir, composeFile string) string {
	dir := Quote(checkoutDir)
	compose := fmt.Sprintf("docker compose -f %s", Quote(composeFile))
	return fmt.Sprintf("cd %s && %s down && %s build && %s up -d",
		dir, compose, compose, compose)
}

// Quote single-quotes a value for POSIX shells. Embedded single quotes are
// closed, escaped, and reopened.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
