package sshexec

import (
	"context"
	"testing"
	"time"

	"github.com/caravel-sh/caravel/internal/core/crypto"
	"github.com/caravel-sh/caravel/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHost(t *testing.T) *domain.Host {
	t.Helper()
	host, err := domain.NewHost("prod-dashboard", "203.0.113.10", "deploy", 22,
		"https://github.com/acme/dashboard.git", "main", "/home/deploy/app")
	require.NoError(t, err)
	return host
}

func TestNewRunner_InvalidKey(t *testing.T) {
	_, err := NewRunner(testHost(t), []byte("not a key"), DefaultConfig())
	assert.Error(t, err)
}

func TestNewRunner_Defaults(t *testing.T) {
	privPEM, _, err := crypto.GenerateSSHKeyPair()
	require.NoError(t, err)

	r, err := NewRunner(testHost(t), privPEM, Config{})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, r.timeout)
	assert.Equal(t, 10*time.Second, r.connectTimeout)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestRunner_ClosedRejectsRuns(t *testing.T) {
	privPEM, _, err := crypto.GenerateSSHKeyPair()
	require.NoError(t, err)

	r, err := NewRunner(testHost(t), privPEM, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Run(context.Background(), "true", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSyncBuffer_ConcurrentWriteAndRead(t *testing.T) {
	var buf syncBuffer

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_, err := buf.Write([]byte("chunk "))
			assert.NoError(t, err)
		}
	}()

	// Reads interleave with the writer, as Run does when a timeout or
	// cancellation wins the select while the session is still streaming.
	for i := 0; i < 100; i++ {
		_ = buf.String()
	}
	<-done

	assert.Len(t, buf.String(), 1000*len("chunk "))
}

func TestExecError(t *testing.T) {
	err := NewExecError("Run", "git fetch", "fatal: not found", ErrCommandFailed)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, err.Error(), "fatal: not found")

	bare := NewExecError("connect", "", "", ErrConnectFailed)
	assert.Contains(t, bare.Error(), "connect")
}
