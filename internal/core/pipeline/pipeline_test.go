package pipeline

import (
	"strings"
	"testing"

	"github.com/caravel-sh/caravel/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHost(t *testing.T) *domain.Host {
	t.Helper()
	host, err := domain.NewHost("prod-dashboard", "203.0.113.10", "deploy", 22,
		"git@github.com:acme/dashboard.git", "main", "/home/deploy/app")
	require.NoError(t, err)
	return host
}

// =============================================================================
// Plan
// =============================================================================

func TestPlan_StepOrder(t *testing.T) {
	steps, err := Plan(testHost(t), []byte("NOTION_TOKEN=abc\n"))
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, StepSecrets, steps[0].Kind)
	assert.Equal(t, StepSync, steps[1].Kind)
	assert.Equal(t, StepRebuild, steps[2].Kind)
}

func TestPlan_Validation(t *testing.T) {
	_, err := Plan(nil, []byte("x"))
	assert.ErrorIs(t, err, ErrNilHost)

	_, err = Plan(testHost(t), nil)
	assert.ErrorIs(t, err, ErrNoSecrets)

	bad := testHost(t)
	bad.ComposeFile = "/etc/docker-compose.yml"
	_, err = Plan(bad, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrComposeFileEscapes)
}

func TestPlan_SecretsTravelOnStdinOnly(t *testing.T) {
	content := []byte("NOTION_TOKEN=super-secret-value\n")
	steps, err := Plan(testHost(t), content)
	require.NoError(t, err)

	secrets := steps[0]
	assert.True(t, secrets.Sensitive)
	assert.Equal(t, content, secrets.Stdin)
	assert.NotContains(t, secrets.Command, "super-secret-value")

	for _, s := range steps[1:] {
		assert.Nil(t, s.Stdin)
		assert.False(t, s.Sensitive)
	}
}

// =============================================================================
// Secrets Command
// =============================================================================

func TestSecretsCommand_Permissions(t *testing.T) {
	cmd := SecretsCommand("/home/deploy/app/.streamlit", "/home/deploy/app/.streamlit/secrets.toml")

	assert.Contains(t, cmd, "mkdir -p '/home/deploy/app/.streamlit'")
	assert.Contains(t, cmd, "chmod 700 '/home/deploy/app/.streamlit'")
	assert.Contains(t, cmd, "cat > '/home/deploy/app/.streamlit/secrets.toml'")
	assert.Contains(t, cmd, "chmod 600 '/home/deploy/app/.streamlit/secrets.toml'")

	// chmod 600 must come after the write so the file never widens.
	write := strings.Index(cmd, "cat >")
	tighten := strings.Index(cmd, "chmod 600")
	assert.Less(t, write, tighten)
}

// =============================================================================
// Sync Command
// =============================================================================

func TestSyncCommand_CloneAndResetBranches(t *testing.T) {
	cmd := SyncCommand("git@github.com:acme/dashboard.git", "main", "/home/deploy/app")

	// Existing checkout: fetch then hard reset to the remote branch.
	assert.Contains(t, cmd, "if [ -d '/home/deploy/app'/.git ]")
	assert.Contains(t, cmd, "git -C '/home/deploy/app' fetch origin 'main'")
	assert.Contains(t, cmd, "reset --hard 'origin/main'")

	// Fresh host: clone instead.
	assert.Contains(t, cmd, "else git clone --branch 'main' 'git@github.com:acme/dashboard.git' '/home/deploy/app'")
}

func TestSyncCommand_IsDeterministic(t *testing.T) {
	// Same inputs must render the same command: the pipeline relies on
	// hard-reset semantics for idempotent convergence, so a second run
	// against an existing checkout executes exactly the same reset.
	a := SyncCommand("https://github.com/acme/app.git", "main", "/srv/app")
	b := SyncCommand("https://github.com/acme/app.git", "main", "/srv/app")
	assert.Equal(t, a, b)
}

// =============================================================================
// Rebuild Command
// =============================================================================

func TestRebuildCommand_Order(t *testing.T) {
	cmd := RebuildCommand("/home/deploy/app", "docker-compose.yml")

	assert.Contains(t, cmd, "cd '/home/deploy/app'")
	down := strings.Index(cmd, "down")
	build := strings.Index(cmd, "build")
	up := strings.Index(cmd, "up -d")
	require.NotEqual(t, -1, down)
	require.NotEqual(t, -1, build)
	require.NotEqual(t, -1, up)
	assert.Less(t, down, build)
	assert.Less(t, build, up)

	assert.Contains(t, cmd, "docker compose -f 'docker-compose.yml'")
}

// =============================================================================
// Quoting
// =============================================================================

func TestQuote(t *testing.T) {
	assert.Equal(t, "'plain'", Quote("plain"))
	assert.Equal(t, `'with space'`, Quote("with space"))
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
	assert.Equal(t, `'$(whoami)'`, Quote("$(whoami)"))
}
