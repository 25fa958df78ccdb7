package deployer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caravel-sh/caravel/internal/core/crypto"
	"github.com/caravel-sh/caravel/internal/core/domain"
	"github.com/caravel-sh/caravel/internal/shell/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake Runner
// =============================================================================

type fakeCall struct {
	command string
	stdin   []byte
}

// fakeRunner records executed commands and returns canned results.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []fakeCall
	outputs map[string]string // substring match on command
	failOn  string            // command substring that fails
	block   bool              // hang until the context expires, like a wedged remote
	closed  bool
}

func (f *fakeRunner) Run(ctx context.Context, command string, stdin []byte) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{command: command, stdin: stdin})
	block := f.block
	failOn := f.failOn
	var out string
	for substr, o := range f.outputs {
		if strings.Contains(command, substr) {
			out = o
		}
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if failOn != "" && strings.Contains(command, failOn) {
		return "error output", errors.New("remote command failed: exit 1")
	}
	return out, nil
}

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := make([]string, len(f.calls))
	for i, c := range f.calls {
		cmds[i] = c.command
	}
	return cmds
}

// =============================================================================
// Test Helpers
// =============================================================================

const testSecrets = "NOTION_TOKEN=secret_abc123\nDB_PASSWORD=hunter22\n"

// seedStore creates an in-memory store with one host and its encrypted key.
func seedStore(t *testing.T) (store.Store, *domain.Host, []byte) {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	encryptionKey := crypto.DeriveKey("test-passphrase")

	privPEM, _, err := crypto.GenerateSSHKeyPair()
	require.NoError(t, err)
	encrypted, err := crypto.EncryptSSHKey(privPEM, encryptionKey)
	require.NoError(t, err)

	key := &domain.SSHKey{
		ID:                  domain.GenerateSSHKeyID(),
		Name:                "deploy-key",
		PrivateKeyEncrypted: encrypted,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, s.CreateSSHKey(context.Background(), key))

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
	host.SSHKeyID = key.ID
	require.NoError(t, s.CreateHost(context.Background(), host))

	return s, host, encryptionKey
}

func startDeployer(t *testing.T, s store.Store, runner *fakeRunner, encryptionKey []byte, config Config) *Deployer {
	t.Helper()

	factory := func(_ *domain.Host, _ []byte) (CommandRunner, error) {
		return runner, nil
	}

	d := New(s, StaticSecretsSource(testSecrets), factory, encryptionKey, config, nil)
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func setupDeployer(t *testing.T, runner *fakeRunner) (*Deployer, store.Store, *domain.Host) {
	t.Helper()
	s, host, encryptionKey := seedStore(t)
	d := startDeployer(t, s, runner, encryptionKey, DefaultConfig())
	return d, s, host
}

func waitForTerminal(t *testing.T, s store.Store, releaseID string) *domain.Release {
	t.Helper()
	var release *domain.Release
	require.Eventually(t, func() bool {
		got, err := s.GetRelease(context.Background(), releaseID)
		if err != nil {
			return false
		}
		release = got
		return got.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return release
}

// =============================================================================
// Tests
// =============================================================================

func TestDeployer_SuccessfulRelease(t *testing.T) {
	runner := &fakeRunner{}
	d, s, host := setupDeployer(t, runner)

	release, err := d.Enqueue(context.Background(), Request{
		HostName:  host.Name,
		Trigger:   domain.TriggerPush,
		Branch:    "main",
		CommitSHA: "abc1234",
		Pusher:    "octocat",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReleasePending, release.Status)

	got := waitForTerminal(t, s, release.ID)
	assert.Equal(t, domain.ReleaseSucceeded, got.Status)
	assert.Equal(t, "abc1234", got.CommitSHA)
	for _, step := range got.Steps {
		assert.Equal(t, domain.StepSucceeded, step.Status, "step %s", step.Name)
	}

	cmds := runner.commands()
	require.Len(t, cmds, 3)
	assert.Contains(t, cmds[0], "mkdir -p")
	assert.Contains(t, cmds[1], "git")
	assert.Contains(t, cmds[2], "docker compose")
	assert.True(t, runner.closed)
}

func TestDeployer_SecretsTravelOnStdinOnly(t *testing.T) {
	runner := &fakeRunner{}
	d, s, host := setupDeployer(t, runner)

	release, err := d.Enqueue(context.Background(), Request{
		HostName: host.Name,
		Trigger:  domain.TriggerManual,
		Branch:   "main",
	})
	require.NoError(t, err)
	waitForTerminal(t, s, release.ID)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.calls, 3)
	assert.Equal(t, []byte(testSecrets), runner.calls[0].stdin)
	for _, call := range runner.calls {
		assert.NotContains(t, call.command, "secret_abc123")
		assert.NotContains(t, call.command, "hunter22")
	}
}

func TestDeployer_MasksSecretsInStepOutput(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{
			"git": "cloning with token secret_abc123 done",
		},
	}
	d, s, host := setupDeployer(t, runner)

	release, err := d.Enqueue(context.Background(), Request{
		HostName: host.Name,
		Trigger:  domain.TriggerPush,
		Branch:   "main",
	})
	require.NoError(t, err)

	got := waitForTerminal(t, s, release.ID)
	require.Equal(t, domain.ReleaseSucceeded, got.Status)

	syncStep := got.Steps[1]
	assert.NotContains(t, syncStep.Output, "secret_abc123")
	assert.Contains(t, syncStep.Output, "********")
}

func TestDeployer_FailedStepSkipsRemaining(t *testing.T) {
	runner := &fakeRunner{failOn: "git"}
	d, s, host := setupDeployer(t, runner)

	release, err := d.Enqueue(context.Background(), Request{
		HostName: host.Name,
		Trigger:  domain.TriggerPush,
		Branch:   "main",
	})
	require.NoError(t, err)

	got := waitForTerminal(t, s, release.ID)
	assert.Equal(t, domain.ReleaseFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)

	require.Len(t, got.Steps, 3)
	assert.Equal(t, domain.StepSucceeded, got.Steps[0].Status)
	assert.Equal(t, domain.StepFailed, got.Steps[1].Status)
	assert.Equal(t, domain.StepSkipped, got.Steps[2].Status)

	// docker compose never ran after the sync failure
	cmds := runner.commands()
	require.Len(t, cmds, 2)
}

func TestDeployer_UnknownHostFailsRelease(t *testing.T) {
	runner := &fakeRunner{}
	d, s, _ := setupDeployer(t, runner)

	release, err := domain.NewRelease("ghost-host", domain.TriggerPush, "main", []string{"secrets", "sync", "rebuild"})
	require.NoError(t, err)
	require.NoError(t, s.CreateRelease(context.Background(), release))

	d.queue <- queued{releaseID: release.ID}

	got := waitForTerminal(t, s, release.ID)
	assert.Equal(t, domain.ReleaseFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "host not found")
	assert.Empty(t, runner.commands())
}

func TestDeployer_SerialExecution(t *testing.T) {
	runner := &fakeRunner{}
	d, s, host := setupDeployer(t, runner)

	first, err := d.Enqueue(context.Background(), Request{
		HostName: host.Name,
		Trigger:  domain.TriggerPush,
		Branch:   "main",
	})
	require.NoError(t, err)
	second, err := d.Enqueue(context.Background(), Request{
		HostName: host.Name,
		Trigger:  domain.TriggerPush,
		Branch:   "main",
	})
	require.NoError(t, err)

	gotFirst := waitForTerminal(t, s, first.ID)
	gotSecond := waitForTerminal(t, s, second.ID)
	assert.Equal(t, domain.ReleaseSucceeded, gotFirst.Status)
	assert.Equal(t, domain.ReleaseSucceeded, gotSecond.Status)

	// Both pipelines ran to completion, one after the other.
	assert.Len(t, runner.commands(), 6)
	assert.False(t, gotSecond.FinishedAt.Before(*gotFirst.FinishedAt))
}

func TestDeployer_TimedOutReleaseIsMarkedFailed(t *testing.T) {
	runner := &fakeRunner{block: true}
	s, host, encryptionKey := seedStore(t)
	d := startDeployer(t, s, runner, encryptionKey, Config{
		QueueSize:      16,
		ReleaseTimeout: 100 * time.Millisecond,
	})

	release, err := d.Enqueue(context.Background(), Request{
		HostName: host.Name,
		Trigger:  domain.TriggerPush,
		Branch:   "main",
	})
	require.NoError(t, err)

	// The terminal state must land in the store even though the release
	// context is already expired when it gets written.
	got := waitForTerminal(t, s, release.ID)
	assert.Equal(t, domain.ReleaseFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "context deadline exceeded")
	require.NotNil(t, got.FinishedAt)

	require.Len(t, got.Steps, 3)
	assert.Equal(t, domain.StepFailed, got.Steps[0].Status)
	assert.Equal(t, domain.StepSkipped, got.Steps[1].Status)
	assert.Equal(t, domain.StepSkipped, got.Steps[2].Status)
}

func TestDeployer_StartReconcilesLeftoverReleases(t *testing.T) {
	runner := &fakeRunner{}
	s, host, encryptionKey := seedStore(t)

	// A run the previous process died in the middle of.
	interrupted, err := domain.NewRelease(host.Name, domain.TriggerPush, "main", []string{"secrets", "sync", "rebuild"})
	require.NoError(t, err)
	require.NoError(t, s.CreateRelease(context.Background(), interrupted))
	require.NoError(t, interrupted.Transition(domain.ReleaseRunning))
	require.NoError(t, s.UpdateRelease(context.Background(), interrupted))

	// A run that never left the queue.
	leftover, err := domain.NewRelease(host.Name, domain.TriggerPush, "main", []string{"secrets", "sync", "rebuild"})
	require.NoError(t, err)
	leftover.CreatedAt = leftover.CreatedAt.Add(time.Second)
	leftover.UpdatedAt = leftover.CreatedAt
	require.NoError(t, s.CreateRelease(context.Background(), leftover))

	startDeployer(t, s, runner, encryptionKey, DefaultConfig())

	gotInterrupted := waitForTerminal(t, s, interrupted.ID)
	assert.Equal(t, domain.ReleaseFailed, gotInterrupted.Status)
	assert.Contains(t, gotInterrupted.ErrorMessage, "interrupted")

	gotLeftover := waitForTerminal(t, s, leftover.ID)
	assert.Equal(t, domain.ReleaseSucceeded, gotLeftover.Status)
	assert.Len(t, runner.commands(), 3)
}

func TestDeployer_EnqueueWhenStopped(t *testing.T) {
	runner := &fakeRunner{}
	d, _, host := setupDeployer(t, runner)
	d.Stop()

	_, err := d.Enqueue(context.Background(), Request{
		HostName: host.Name,
		Trigger:  domain.TriggerPush,
		Branch:   "main",
	})
	assert.ErrorIs(t, err, ErrNotRunning)
}
