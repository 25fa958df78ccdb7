// Package recipe renders and lints the container image build recipe for the
// dashboard runtime. This is part of the Functional Core - all functions are
// pure with no I/O.
package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrEntrypointRequired = errors.New("entrypoint script is required")
	ErrManifestRequired   = errors.New("dependency manifest is required")
	ErrPortInvalid        = errors.New("serve port must be between 1 and 65535")

	// Lint findings
	ErrMissingExpose      = errors.New("image does not expose the serve port")
	ErrMissingPortFlag    = errors.New("startup command does not set the server port")
	ErrMissingBindFlag    = errors.New("startup command does not bind all interfaces")
	ErrMissingNoBytecode  = errors.New("bytecode caching is not disabled")
	ErrMissingUnbuffered  = errors.New("unbuffered output is not enabled")
	ErrMissingWorkdir     = errors.New("no working directory is set")
	ErrMissingEntrypoint  = errors.New("startup command does not run the entrypoint")
)

// =============================================================================
// Recipe
// =============================================================================

// Defaults mirror the deployed dashboard artifact.
const (
	DefaultBaseImage   = "python:3.11-slim"
	DefaultManifest    = "requirements.txt"
	DefaultWorkdir     = "/app"
	DefaultServePort   = 8501
	DefaultBindAddress = "0.0.0.0"
)

// Recipe describes the container image build for a dashboard entrypoint.
type Recipe struct {
	BaseImage   string
	Manifest    string
	Workdir     string
	Entrypoint  string
	ServePort   int
	BindAddress string
}

// New returns a recipe for the given entrypoint with all defaults applied.
func New(entrypoint string) Recipe {
	return Recipe{
		BaseImage:   DefaultBaseImage,
		Manifest:    DefaultManifest,
		Workdir:     DefaultWorkdir,
		Entrypoint:  entrypoint,
		ServePort:   DefaultServePort,
		BindAddress: DefaultBindAddress,
	}
}

// Validate checks the recipe fields.
func (r Recipe) Validate() error {
	if r.Entrypoint == "" {
		return ErrEntrypointRequired
	}
	if r.Manifest == "" {
		return ErrManifestRequired
	}
	if r.ServePort < 1 || r.ServePort > 65535 {
		return ErrPortInvalid
	}
	return nil
}

// Command returns the container startup command: the dashboard server bound
// to the configured port on all interfaces.
func (r Recipe) Command() []string {
	return []string{
		"streamlit", "run", r.Entrypoint,
		fmt.Sprintf("--server.port=%d", r.ServePort),
		fmt.Sprintf("--server.address=%s", r.BindAddress),
	}
}

// Render produces the Dockerfile text. Output is deterministic: the same
// recipe always renders byte-identical text.
func (r Recipe) Render() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n\n", r.BaseImage)
	b.WriteString("ENV PYTHONDONTWRITEBYTECODE=1 \\\n    PYTHONUNBUFFERED=1\n\n")
	fmt.Fprintf(&b, "WORKDIR %s\n\n", r.Workdir)
	fmt.Fprintf(&b, "COPY %s .\n", r.Manifest)
	fmt.Fprintf(&b, "RUN pip install --no-cache-dir -r %s\n\n", r.Manifest)
	b.WriteString("COPY . .\n\n")
	fmt.Fprintf(&b, "EXPOSE %d\n\n", r.ServePort)

	quoted := make([]string, 0, 5)
	for _, arg := range r.Command() {
		quoted = append(quoted, `"`+arg+`"`)
	}
	fmt.Fprintf(&b, "CMD [%s]\n", strings.Join(quoted, ", "))

	return b.String(), nil
}

// =============================================================================
// Lint
// =============================================================================

// Lint checks an existing Dockerfile against the recipe's contract:
// exposed serve port, port and bind flags on the startup command, build env
// disabling bytecode caching and enabling unbuffered output, a working
// directory, and the entrypoint itself. All findings are returned, not just
// the first.
func (r Recipe) Lint(dockerfile string) []error {
	var findings []error

	checks := []struct {
		needle string
		err    error
	}{
		{fmt.Sprintf("EXPOSE %d", r.ServePort), ErrMissingExpose},
		{fmt.Sprintf("--server.port=%d", r.ServePort), ErrMissingPortFlag},
		{fmt.Sprintf("--server.address=%s", r.BindAddress), ErrMissingBindFlag},
		{"PYTHONDONTWRITEBYTECODE=1", ErrMissingNoBytecode},
		{"PYTHONUNBUFFERED=1", ErrMissingUnbuffered},
		{"WORKDIR ", ErrMissingWorkdir},
		{r.Entrypoint, ErrMissingEntrypoint},
	}

	for _, c := range checks {
		if !strings.Contains(dockerfile, c.needle) {
			findings = append(findings, c.err)
		}
	}

	return findings
}
