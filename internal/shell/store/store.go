package store

import (
	"context"

	"github.com/caravel-sh/caravel/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for Caravel entities.
type Store interface {
	// Host operations
	CreateHost(ctx context.Context, host *domain.Host) error
	GetHostByName(ctx context.Context, name string) (*domain.Host, error)
	UpdateHost(ctx context.Context, host *domain.Host) error
	DeleteHost(ctx context.Context, id string) error
	ListHosts(ctx context.Context, opts ListOptions) ([]domain.Host, error)

	// SSH Key operations
	CreateSSHKey(ctx context.Context, key *domain.SSHKey) error
	GetSSHKey(ctx context.Context, id string) (*domain.SSHKey, error)
	DeleteSSHKey(ctx context.Context, id string) error

	// Release operations
	CreateRelease(ctx context.Context, release *domain.Release) error
	GetRelease(ctx context.Context, id string) (*domain.Release, error)
	UpdateRelease(ctx context.Context, release *domain.Release) error
	ListReleases(ctx context.Context, opts ListOptions) ([]domain.Release, error)
	ListReleasesByHost(ctx context.Context, hostName string, opts ListOptions) ([]domain.Release, error)
	ListUnfinishedReleases(ctx context.Context) ([]domain.Release, error)
	GetLatestRelease(ctx context.Context, hostName string) (*domain.Release, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
