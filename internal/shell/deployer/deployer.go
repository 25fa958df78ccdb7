// Package deployer executes release pipelines against remote hosts.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/caravel-sh/caravel/internal/core/crypto"
	"github.com/caravel-sh/caravel/internal/core/domain"
	"github.com/caravel-sh/caravel/internal/core/pipeline"
	"github.com/caravel-sh/caravel/internal/core/secrets"
	"github.com/caravel-sh/caravel/internal/shell/sshexec"
	"github.com/caravel-sh/caravel/internal/shell/store"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrQueueFull is returned when the release queue cannot accept more work.
	ErrQueueFull = errors.New("release queue is full")

	// ErrNotRunning is returned when enqueueing on a stopped deployer.
	ErrNotRunning = errors.New("deployer is not running")
)

// =============================================================================
// Command Execution Abstraction
// =============================================================================

// CommandRunner executes commands on a remote host.
// *sshexec.Runner satisfies this; tests substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, command string, stdin []byte) (string, error)
	Close() error
}

// RunnerFactory builds a CommandRunner for a host using its decrypted
// private key.
type RunnerFactory func(host *domain.Host, privateKey []byte) (CommandRunner, error)

// SSHRunnerFactory returns the production factory backed by sshexec.
func SSHRunnerFactory(config sshexec.Config) RunnerFactory {
	return func(host *domain.Host, privateKey []byte) (CommandRunner, error) {
		return sshexec.NewRunner(host, privateKey, config)
	}
}

// =============================================================================
// Secrets Source
// =============================================================================

// SecretsSource supplies the secrets content that gets materialized on the
// host during a release.
type SecretsSource interface {
	Load(ctx context.Context) ([]byte, error)
}

// FileSecretsSource reads secrets from a local file on every release, so
// edits take effect without a restart.
type FileSecretsSource struct {
	Path string
}

func (f FileSecretsSource) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	return data, nil
}

// StaticSecretsSource serves fixed content. Used in tests and one-shot runs.
type StaticSecretsSource []byte

func (s StaticSecretsSource) Load(_ context.Context) ([]byte, error) {
	return []byte(s), nil
}

// =============================================================================
// Deployer
// =============================================================================

// Config configures the deployer worker.
type Config struct {
	QueueSize      int
	ReleaseTimeout time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:      16,
		ReleaseTimeout: 15 * time.Minute,
	}
}

// Request asks for a release against a named host.
type Request struct {
	HostName  string
	Trigger   domain.Trigger
	Branch    string
	CommitSHA string
	Pusher    string
}

// Deployer drains a release queue and runs the pipeline for each request.
// A single worker goroutine drains the queue, so releases against the same
// host never overlap and a half-finished docker compose rebuild is never
// raced by the next push.
type Deployer struct {
	store         store.Store
	secretsSource SecretsSource
	newRunner     RunnerFactory
	encryptionKey []byte
	config        Config
	logger        *slog.Logger

	queue  chan queued
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

type queued struct {
	releaseID string
}

// New creates a deployer. The encryption key decrypts stored SSH private keys.
func New(s store.Store, secretsSource SecretsSource, newRunner RunnerFactory, encryptionKey []byte, config Config, logger *slog.Logger) *Deployer {
	if config.QueueSize == 0 {
		config.QueueSize = 16
	}
	if config.ReleaseTimeout == 0 {
		config.ReleaseTimeout = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Deployer{
		store:         s,
		secretsSource: secretsSource,
		newRunner:     newRunner,
		encryptionKey: encryptionKey,
		config:        config,
		logger:        logger.With("component", "deployer"),
		queue:         make(chan queued, config.QueueSize),
	}
}

// Start begins the deployer background goroutine. Releases left non-terminal
// by a previous run are reconciled first: interrupted runs are marked failed
// and still-pending ones rejoin the queue.
func (d *Deployer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.reconcile()
	d.running = true
	d.wg.Add(1)
	go d.run()
	d.logger.Info("deployer started", "queue_size", d.config.QueueSize, "release_timeout", d.config.ReleaseTimeout)
}

// Stop gracefully stops the deployer. The in-flight release finishes;
// queued releases stay pending in the store until the next Start requeues
// them.
func (d *Deployer) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.logger.Info("deployer stopped")
}

// Enqueue creates a pending release and queues it for execution.
// Returns the created release so callers can report its ID immediately.
func (d *Deployer) Enqueue(ctx context.Context, req Request) (*domain.Release, error) {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	release, err := domain.NewRelease(req.HostName, req.Trigger, req.Branch, pipeline.StepNames())
	if err != nil {
		return nil, err
	}
	release.CommitSHA = req.CommitSHA
	release.Pusher = req.Pusher

	if err := d.store.CreateRelease(ctx, release); err != nil {
		return nil, err
	}

	select {
	case d.queue <- queued{releaseID: release.ID}:
		d.logger.Info("release queued", "release_id", release.ID, "host", req.HostName, "trigger", req.Trigger)
		return release, nil
	default:
		release.TransitionToFailed("release queue is full")
		if uerr := d.store.UpdateRelease(ctx, release); uerr != nil {
			d.logger.Error("failed to mark release failed", "release_id", release.ID, "error", uerr)
		}
		return nil, ErrQueueFull
	}
}

// reconcile sweeps releases a previous run left non-terminal. Runs that were
// interrupted mid-flight cannot be resumed (their pipeline state on the host
// is unknown), so they fail; pending ones simply rejoin the queue.
func (d *Deployer) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	releases, err := d.store.ListUnfinishedReleases(ctx)
	if err != nil {
		d.logger.Error("failed to list unfinished releases", "error", err)
		return
	}

	for i := range releases {
		release := &releases[i]
		switch release.Status {
		case domain.ReleaseRunning:
			if err := release.TransitionToFailed("interrupted by agent restart"); err != nil {
				d.logger.Error("failed to transition interrupted release", "release_id", release.ID, "error", err)
				continue
			}
			if err := d.persistRelease(release); err != nil {
				d.logger.Error("failed to persist interrupted release", "release_id", release.ID, "error", err)
				continue
			}
			d.logger.Warn("interrupted release marked failed", "release_id", release.ID, "host", release.HostName)
		case domain.ReleasePending:
			select {
			case d.queue <- queued{releaseID: release.ID}:
				d.logger.Info("pending release requeued", "release_id", release.ID, "host", release.HostName)
			default:
				release.TransitionToFailed("release queue is full")
				if err := d.persistRelease(release); err != nil {
					d.logger.Error("failed to persist release failure", "release_id", release.ID, "error", err)
				}
			}
		}
	}
}

func (d *Deployer) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case q := <-d.queue:
			d.processRelease(q.releaseID)
		}
	}
}

// =============================================================================
// Release Execution
// =============================================================================

// persistTimeout bounds store writes made outside a request context. Step
// results and terminal state are written under fresh contexts so an expired
// release deadline cannot leave a run stuck in running.
const persistTimeout = 10 * time.Second

func (d *Deployer) processRelease(releaseID string) {
	// The release context is deliberately not derived from d.ctx: Stop()
	// cancels d.ctx but the in-flight release runs to completion.
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ReleaseTimeout)
	defer cancel()

	release, err := d.store.GetRelease(ctx, releaseID)
	if err != nil {
		d.logger.Error("failed to load queued release", "release_id", releaseID, "error", err)
		return
	}

	logger := d.logger.With("release_id", release.ID, "host", release.HostName)

	host, err := d.store.GetHostByName(ctx, release.HostName)
	if err != nil {
		d.failRelease(release, "host not found: "+err.Error(), logger)
		return
	}

	if err := release.Transition(domain.ReleaseRunning); err != nil {
		logger.Error("invalid release state", "status", release.Status, "error", err)
		return
	}
	if err := d.persistRelease(release); err != nil {
		logger.Error("failed to persist release start", "error", err)
		return
	}

	logger.Info("release started", "branch", release.Branch, "commit", release.CommitSHA)

	if err := d.executeSteps(ctx, release, host, logger); err != nil {
		d.failRelease(release, err.Error(), logger)
		return
	}

	if err := release.Transition(domain.ReleaseSucceeded); err != nil {
		logger.Error("failed to finish release", "error", err)
		return
	}
	if err := d.persistRelease(release); err != nil {
		logger.Error("failed to persist release result", "error", err)
		return
	}

	logger.Info("release succeeded")
}

func (d *Deployer) executeSteps(ctx context.Context, release *domain.Release, host *domain.Host, logger *slog.Logger) error {
	secretsContent, err := d.secretsSource.Load(ctx)
	if err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}
	entries := secrets.Parse(secretsContent)

	steps, err := pipeline.Plan(host, secretsContent)
	if err != nil {
		return fmt.Errorf("plan release: %w", err)
	}

	privateKey, err := d.loadPrivateKey(ctx, host)
	if err != nil {
		return fmt.Errorf("load SSH key: %w", err)
	}

	runner, err := d.newRunner(host, privateKey)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}
	defer runner.Close()

	for _, step := range steps {
		name := step.Name()
		if err := release.StartStep(name); err != nil {
			return err
		}
		if err := d.persistRelease(release); err != nil {
			logger.Error("failed to persist step start", "step", name, "error", err)
		}

		logger.Info("step started", "step", name)
		output, runErr := runner.Run(ctx, step.Command, step.Stdin)
		masked := secrets.Mask(output, entries)

		// ExecError messages embed remote output, so the error is masked too
		// before anything touches the store or the logs.
		if runErr != nil {
			runErr = errors.New(secrets.Mask(runErr.Error(), entries))
		}

		if finishErr := release.FinishStep(name, masked, runErr); finishErr != nil {
			return finishErr
		}
		if err := d.persistRelease(release); err != nil {
			logger.Error("failed to persist step result", "step", name, "error", err)
		}

		if runErr != nil {
			logger.Error("step failed", "step", name, "error", runErr)
			return fmt.Errorf("step %s: %w", name, runErr)
		}
		logger.Info("step succeeded", "step", name)
	}

	return nil
}

// loadPrivateKey fetches and decrypts the host's SSH private key.
func (d *Deployer) loadPrivateKey(ctx context.Context, host *domain.Host) ([]byte, error) {
	if host.SSHKeyID == "" {
		return nil, fmt.Errorf("host %s has no SSH key configured", host.Name)
	}

	key, err := d.store.GetSSHKey(ctx, host.SSHKeyID)
	if err != nil {
		return nil, err
	}

	return crypto.DecryptSSHKey(key.PrivateKeyEncrypted, d.encryptionKey)
}

func (d *Deployer) failRelease(release *domain.Release, errMsg string, logger *slog.Logger) {
	logger.Error("release failed", "error", errMsg)
	if err := release.TransitionToFailed(errMsg); err != nil {
		logger.Error("failed to transition release", "error", err)
		return
	}
	if err := d.persistRelease(release); err != nil {
		logger.Error("failed to persist release failure", "error", err)
	}
}

// persistRelease writes the release under a fresh bounded context. The
// release's own context may already be expired or cancelled when a terminal
// state needs recording; that must not block the write.
func (d *Deployer) persistRelease(release *domain.Release) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return d.store.UpdateRelease(ctx, release)
}
