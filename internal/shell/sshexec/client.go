package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caravel-sh/caravel/internal/core/domain"
	"golang.org/x/crypto/ssh"
)

// Runner executes commands on one host over SSH. Each command runs in its own
// session; the underlying connection is established lazily and reused while
// it stays alive.
type Runner struct {
	host           *domain.Host
	signer         ssh.Signer
	timeout        time.Duration
	connectTimeout time.Duration

	mu        sync.Mutex // Protects sshClient and closed
	sshClient *ssh.Client
	closed    bool
}

// Config configures the SSH runner.
type Config struct {
	CommandTimeout time.Duration // Default: 5 minutes
	ConnectTimeout time.Duration // Default: 10 seconds
}

// DefaultConfig returns the default configuration. The command timeout is
// generous: an image rebuild on a small host routinely takes minutes.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 5 * time.Minute,
		ConnectTimeout: 10 * time.Second,
	}
}

// NewRunner creates an SSH runner for the host.
// privateKey is the decrypted SSH private key in PEM format.
func NewRunner(host *domain.Host, privateKey []byte, config Config) (*Runner, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("parse SSH private key: %w", err)
	}

	if config.CommandTimeout == 0 {
		config.CommandTimeout = 5 * time.Minute
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	return &Runner{
		host:           host,
		signer:         signer,
		timeout:        config.CommandTimeout,
		connectTimeout: config.ConnectTimeout,
	}, nil
}

// =============================================================================
// Connection Management
// =============================================================================

// connect establishes the SSH connection if not already connected.
func (r *Runner) connect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if r.sshClient != nil {
		// Check if connection is still alive
		_, _, err := r.sshClient.SendRequest("keepalive@caravel", true, nil)
		if err == nil {
			return nil
		}
		// Connection dead, reconnect
		r.sshClient.Close()
		r.sshClient = nil
	}

	config := &ssh.ClientConfig{
		User:            r.host.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(r.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: record host keys on first contact and verify after
		Timeout:         r.connectTimeout,
	}

	addr := r.host.SSHAddress()
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return NewExecError("connect", "", "", fmt.Errorf("%w: dial %s: %v", ErrConnectFailed, addr, err))
	}

	r.sshClient = client
	return nil
}

// Close closes the SSH connection. The runner cannot be reused afterwards.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.sshClient != nil {
		err := r.sshClient.Close()
		r.sshClient = nil
		return err
	}
	return nil
}

// =============================================================================
// Command Execution
// =============================================================================

// Run executes a command on the host. stdin, when non-nil, is piped to the
// remote process - secret content travels this way, never on the command line.
// Combined stdout and stderr output is returned even when the command fails.
func (r *Runner) Run(ctx context.Context, command string, stdin []byte) (string, error) {
	if err := r.connect(ctx); err != nil {
		return "", err
	}

	r.mu.Lock()
	session, err := r.sshClient.NewSession()
	r.mu.Unlock()
	if err != nil {
		return "", NewExecError("Run", command, "", fmt.Errorf("create SSH session: %w", err))
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	// The session goroutine keeps writing remote output until the deferred
	// Close tears it down, so reads on the timeout and cancel paths race a
	// plain bytes.Buffer.
	var output syncBuffer
	session.Stdout = &output
	session.Stderr = &output

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		return output.String(), ctx.Err()
	case <-time.After(r.timeout):
		return output.String(), NewExecError("Run", command, output.String(),
			fmt.Errorf("%w: after %v", ErrCommandTimeout, r.timeout))
	case err := <-done:
		if err != nil {
			return output.String(), NewExecError("Run", command, output.String(),
				fmt.Errorf("%w: %v", ErrCommandFailed, err))
		}
		return output.String(), nil
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent Write and String. The SSH
// session writes stdout and stderr into it from its own goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
