package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caravel-sh/caravel/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Host Operations
// =============================================================================

// hostRow represents a host row in the database.
type hostRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	SSHHost     string `db:"ssh_host"`
	SSHPort     int    `db:"ssh_port"`
	SSHUser     string `db:"ssh_user"`
	SSHKeyID    string `db:"ssh_key_id"`
	RepoURL     string `db:"repo_url"`
	Branch      string `db:"branch"`
	CheckoutDir string `db:"checkout_dir"`
	ComposeFile string `db:"compose_file"`
	SecretsDir  string `db:"secrets_dir"`
	SecretsFile string `db:"secrets_file"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (s *SQLiteStore) CreateHost(ctx context.Context, host *domain.Host) error {
	return createHost(ctx, s.db, host)
}

func (s *SQLiteStore) GetHostByName(ctx context.Context, name string) (*domain.Host, error) {
	return getHostByName(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateHost(ctx context.Context, host *domain.Host) error {
	return updateHost(ctx, s.db, host)
}

func (s *SQLiteStore) DeleteHost(ctx context.Context, id string) error {
	return deleteHost(ctx, s.db, id)
}

func (s *SQLiteStore) ListHosts(ctx context.Context, opts ListOptions) ([]domain.Host, error) {
	return listHosts(ctx, s.db, opts)
}

// =============================================================================
// SSH Key Operations
// =============================================================================

// sshKeyRow represents an SSH key row in the database.
type sshKeyRow struct {
	ID                  string `db:"id"`
	Name                string `db:"name"`
	PrivateKeyEncrypted []byte `db:"private_key_encrypted"`
	Fingerprint         string `db:"fingerprint"`
	CreatedAt           string `db:"created_at"`
}

func (s *SQLiteStore) CreateSSHKey(ctx context.Context, key *domain.SSHKey) error {
	return createSSHKey(ctx, s.db, key)
}

func (s *SQLiteStore) GetSSHKey(ctx context.Context, id string) (*domain.SSHKey, error) {
	return getSSHKey(ctx, s.db, id)
}

func (s *SQLiteStore) DeleteSSHKey(ctx context.Context, id string) error {
	return deleteSSHKey(ctx, s.db, id)
}

// =============================================================================
// Release Operations
// =============================================================================

// releaseRow represents a release row in the database.
// Steps are stored as a JSON array; the history API returns them verbatim.
type releaseRow struct {
	ID           string  `db:"id"`
	HostName     string  `db:"host_name"`
	TriggerKind  string  `db:"trigger_kind"`
	Branch       string  `db:"branch"`
	CommitSHA    string  `db:"commit_sha"`
	Pusher       string  `db:"pusher"`
	Status       string  `db:"status"`
	Steps        string  `db:"steps"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	return createRelease(ctx, s.db, release)
}

func (s *SQLiteStore) GetRelease(ctx context.Context, id string) (*domain.Release, error) {
	return getRelease(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateRelease(ctx context.Context, release *domain.Release) error {
	return updateRelease(ctx, s.db, release)
}

func (s *SQLiteStore) ListReleases(ctx context.Context, opts ListOptions) ([]domain.Release, error) {
	return listReleases(ctx, s.db, opts)
}

func (s *SQLiteStore) ListReleasesByHost(ctx context.Context, hostName string, opts ListOptions) ([]domain.Release, error) {
	return listReleasesByHost(ctx, s.db, hostName, opts)
}

func (s *SQLiteStore) ListUnfinishedReleases(ctx context.Context) ([]domain.Release, error) {
	return listUnfinishedReleases(ctx, s.db)
}

func (s *SQLiteStore) GetLatestRelease(ctx context.Context, hostName string) (*domain.Release, error) {
	return getLatestRelease(ctx, s.db, hostName)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateHost(ctx context.Context, host *domain.Host) error {
	return createHost(ctx, s.tx, host)
}

func (s *txSQLiteStore) GetHostByName(ctx context.Context, name string) (*domain.Host, error) {
	return getHostByName(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateHost(ctx context.Context, host *domain.Host) error {
	return updateHost(ctx, s.tx, host)
}

func (s *txSQLiteStore) DeleteHost(ctx context.Context, id string) error {
	return deleteHost(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListHosts(ctx context.Context, opts ListOptions) ([]domain.Host, error) {
	return listHosts(ctx, s.tx, opts)
}

func (s *txSQLiteStore) CreateSSHKey(ctx context.Context, key *domain.SSHKey) error {
	return createSSHKey(ctx, s.tx, key)
}

func (s *txSQLiteStore) GetSSHKey(ctx context.Context, id string) (*domain.SSHKey, error) {
	return getSSHKey(ctx, s.tx, id)
}

func (s *txSQLiteStore) DeleteSSHKey(ctx context.Context, id string) error {
	return deleteSSHKey(ctx, s.tx, id)
}

func (s *txSQLiteStore) CreateRelease(ctx context.Context, release *domain.Release) error {
	return createRelease(ctx, s.tx, release)
}

func (s *txSQLiteStore) GetRelease(ctx context.Context, id string) (*domain.Release, error) {
	return getRelease(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateRelease(ctx context.Context, release *domain.Release) error {
	return updateRelease(ctx, s.tx, release)
}

func (s *txSQLiteStore) ListReleases(ctx context.Context, opts ListOptions) ([]domain.Release, error) {
	return listReleases(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListReleasesByHost(ctx context.Context, hostName string, opts ListOptions) ([]domain.Release, error) {
	return listReleasesByHost(ctx, s.tx, hostName, opts)
}

func (s *txSQLiteStore) ListUnfinishedReleases(ctx context.Context) ([]domain.Release, error) {
	return listUnfinishedReleases(ctx, s.tx)
}

func (s *txSQLiteStore) GetLatestRelease(ctx context.Context, hostName string) (*domain.Release, error) {
	return getLatestRelease(ctx, s.tx, hostName)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createHost(ctx context.Context, exec executor, host *domain.Host) error {
	query := `
		INSERT INTO hosts (
			id, name, ssh_host, ssh_port, ssh_user, ssh_key_id,
			repo_url, branch, checkout_dir, compose_file,
			secrets_dir, secrets_file, created_at, updated_at
		) VALUES (
			:id, :name, :ssh_host, :ssh_port, :ssh_user, :ssh_key_id,
			:repo_url, :branch, :checkout_dir, :compose_file,
			:secrets_dir, :secrets_file, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":           host.ID,
		"name":         host.Name,
		"ssh_host":     host.SSHHost,
		"ssh_port":     host.SSHPort,
		"ssh_user":     host.SSHUser,
		"ssh_key_id":   host.SSHKeyID,
		"repo_url":     host.RepoURL,
		"branch":       host.Branch,
		"checkout_dir": host.CheckoutDir,
		"compose_file": host.ComposeFile,
		"secrets_dir":  host.Secrets.Dir,
		"secrets_file": host.Secrets.File,
		"created_at":   host.CreatedAt.Format(time.RFC3339),
		"updated_at":   host.UpdatedAt.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: hosts.id") {
			return NewStoreError("CreateHost", "host", host.ID, "host with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: hosts.name") {
			return NewStoreError("CreateHost", "host", host.ID, "host with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateHost", "host", host.ID, err.Error(), err)
	}

	return nil
}

func getHostByName(ctx context.Context, exec executor, name string) (*domain.Host, error) {
	query := `SELECT * FROM hosts WHERE name = ?`

	var row hostRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetHostByName", "host", name, "host not found", ErrNotFound)
		}
		return nil, NewStoreError("GetHostByName", "host", name, err.Error(), err)
	}

	return rowToHost(&row)
}

func updateHost(ctx context.Context, exec executor, host *domain.Host) error {
	query := `
		UPDATE hosts SET
			name = :name,
			ssh_host = :ssh_host,
			ssh_port = :ssh_port,
			ssh_user = :ssh_user,
			ssh_key_id = :ssh_key_id,
			repo_url = :repo_url,
			branch = :branch,
			checkout_dir = :checkout_dir,
			compose_file = :compose_file,
			secrets_dir = :secrets_dir,
			secrets_file = :secrets_file,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":           host.ID,
		"name":         host.Name,
		"ssh_host":     host.SSHHost,
		"ssh_port":     host.SSHPort,
		"ssh_user":     host.SSHUser,
		"ssh_key_id":   host.SSHKeyID,
		"repo_url":     host.RepoURL,
		"branch":       host.Branch,
		"checkout_dir": host.CheckoutDir,
		"compose_file": host.ComposeFile,
		"secrets_dir":  host.Secrets.Dir,
		"secrets_file": host.Secrets.File,
		"updated_at":   host.UpdatedAt.Format(time.RFC3339),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateHost", "host", host.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateHost", "host", host.ID, "host not found", ErrNotFound)
	}

	return nil
}

func deleteHost(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM hosts WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteHost", "host", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteHost", "host", id, "host not found", ErrNotFound)
	}

	return nil
}

func listHosts(ctx context.Context, exec executor, opts ListOptions) ([]domain.Host, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM hosts ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []hostRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListHosts", "host", "", err.Error(), err)
	}

	hosts := make([]domain.Host, 0, len(rows))
	for _, row := range rows {
		host, err := rowToHost(&row)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, *host)
	}

	return hosts, nil
}

func createSSHKey(ctx context.Context, exec executor, key *domain.SSHKey) error {
	query := `
		INSERT INTO ssh_keys (id, name, private_key_encrypted, fingerprint, created_at)
		VALUES (:id, :name, :private_key_encrypted, :fingerprint, :created_at)`

	row := map[string]any{
		"id":                    key.ID,
		"name":                  key.Name,
		"private_key_encrypted": key.PrivateKeyEncrypted,
		"fingerprint":           key.Fingerprint,
		"created_at":            key.CreatedAt.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: ssh_keys.id") {
			return NewStoreError("CreateSSHKey", "ssh_key", key.ID, "SSH key with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateSSHKey", "ssh_key", key.ID, err.Error(), err)
	}

	return nil
}

func getSSHKey(ctx context.Context, exec executor, id string) (*domain.SSHKey, error) {
	query := `SELECT * FROM ssh_keys WHERE id = ?`

	var row sshKeyRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetSSHKey", "ssh_key", id, "SSH key not found", ErrNotFound)
		}
		return nil, NewStoreError("GetSSHKey", "ssh_key", id, err.Error(), err)
	}

	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("GetSSHKey", "ssh_key", id, "invalid created_at", ErrInvalidData)
	}

	return &domain.SSHKey{
		ID:                  row.ID,
		Name:                row.Name,
		PrivateKeyEncrypted: row.PrivateKeyEncrypted,
		Fingerprint:         row.Fingerprint,
		CreatedAt:           createdAt,
	}, nil
}

func deleteSSHKey(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM ssh_keys WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteSSHKey", "ssh_key", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteSSHKey", "ssh_key", id, "SSH key not found", ErrNotFound)
	}

	return nil
}

func createRelease(ctx context.Context, exec executor, release *domain.Release) error {
	stepsJSON, err := json.Marshal(release.Steps)
	if err != nil {
		return NewStoreError("CreateRelease", "release", release.ID, "failed to serialize steps", ErrInvalidData)
	}

	query := `
		INSERT INTO releases (
			id, host_name, trigger_kind, branch, commit_sha, pusher,
			status, steps, error_message,
			created_at, updated_at, started_at, finished_at
		) VALUES (
			:id, :host_name, :trigger_kind, :branch, :commit_sha, :pusher,
			:status, :steps, :error_message,
			:created_at, :updated_at, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            release.ID,
		"host_name":     release.HostName,
		"trigger_kind":  string(release.Trigger),
		"branch":        release.Branch,
		"commit_sha":    release.CommitSHA,
		"pusher":        release.Pusher,
		"status":        string(release.Status),
		"steps":         string(stepsJSON),
		"error_message": release.ErrorMessage,
		"created_at":    release.CreatedAt.Format(time.RFC3339),
		"updated_at":    release.UpdatedAt.Format(time.RFC3339),
		"started_at":    formatTimePtr(release.StartedAt),
		"finished_at":   formatTimePtr(release.FinishedAt),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: releases.id") {
			return NewStoreError("CreateRelease", "release", release.ID, "release with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRelease", "release", release.ID, err.Error(), err)
	}

	return nil
}

func getRelease(ctx context.Context, exec executor, id string) (*domain.Release, error) {
	query := `SELECT * FROM releases WHERE id = ?`

	var row releaseRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRelease", "release", id, "release not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRelease", "release", id, err.Error(), err)
	}

	return rowToRelease(&row)
}

func updateRelease(ctx context.Context, exec executor, release *domain.Release) error {
	stepsJSON, err := json.Marshal(release.Steps)
	if err != nil {
		return NewStoreError("UpdateRelease", "release", release.ID, "failed to serialize steps", ErrInvalidData)
	}

	query := `
		UPDATE releases SET
			status = :status,
			steps = :steps,
			error_message = :error_message,
			commit_sha = :commit_sha,
			updated_at = :updated_at,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            release.ID,
		"status":        string(release.Status),
		"steps":         string(stepsJSON),
		"error_message": release.ErrorMessage,
		"commit_sha":    release.CommitSHA,
		"updated_at":    release.UpdatedAt.Format(time.RFC3339),
		"started_at":    formatTimePtr(release.StartedAt),
		"finished_at":   formatTimePtr(release.FinishedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateRelease", "release", release.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRelease", "release", release.ID, "release not found", ErrNotFound)
	}

	return nil
}

func listReleases(ctx context.Context, exec executor, opts ListOptions) ([]domain.Release, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM releases ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	var rows []releaseRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListReleases", "release", "", err.Error(), err)
	}

	return rowsToReleases(rows)
}

func listReleasesByHost(ctx context.Context, exec executor, hostName string, opts ListOptions) ([]domain.Release, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM releases WHERE host_name = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	var rows []releaseRow
	err := exec.SelectContext(ctx, &rows, query, hostName, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListReleasesByHost", "release", "", err.Error(), err)
	}

	return rowsToReleases(rows)
}

// listUnfinishedReleases returns pending and running releases in creation
// order, for the startup reconciliation sweep.
func listUnfinishedReleases(ctx context.Context, exec executor) ([]domain.Release, error) {
	query := `SELECT * FROM releases WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC`

	var rows []releaseRow
	err := exec.SelectContext(ctx, &rows, query, string(domain.ReleasePending), string(domain.ReleaseRunning))
	if err != nil {
		return nil, NewStoreError("ListUnfinishedReleases", "release", "", err.Error(), err)
	}

	return rowsToReleases(rows)
}

func getLatestRelease(ctx context.Context, exec executor, hostName string) (*domain.Release, error) {
	query := `SELECT * FROM releases WHERE host_name = ? ORDER BY created_at DESC, id DESC LIMIT 1`

	var row releaseRow
	err := exec.GetContext(ctx, &row, query, hostName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetLatestRelease", "release", hostName, "release not found", ErrNotFound)
		}
		return nil, NewStoreError("GetLatestRelease", "release", hostName, err.Error(), err)
	}

	return rowToRelease(&row)
}

// =============================================================================
// Row Conversion Helpers
// =============================================================================

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func rowToHost(row *hostRow) (*domain.Host, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToHost", "host", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToHost", "host", row.ID, "invalid updated_at", ErrInvalidData)
	}

	return &domain.Host{
		ID:          row.ID,
		Name:        row.Name,
		SSHHost:     row.SSHHost,
		SSHPort:     row.SSHPort,
		SSHUser:     row.SSHUser,
		SSHKeyID:    row.SSHKeyID,
		RepoURL:     row.RepoURL,
		Branch:      row.Branch,
		CheckoutDir: row.CheckoutDir,
		ComposeFile: row.ComposeFile,
		Secrets: domain.SecretsSpec{
			Dir:  row.SecretsDir,
			File: row.SecretsFile,
		},
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func rowToRelease(row *releaseRow) (*domain.Release, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRelease", "release", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRelease", "release", row.ID, "invalid updated_at", ErrInvalidData)
	}
	startedAt, err := parseTimePtr(row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToRelease", "release", row.ID, "invalid started_at", ErrInvalidData)
	}
	finishedAt, err := parseTimePtr(row.FinishedAt)
	if err != nil {
		return nil, NewStoreError("rowToRelease", "release", row.ID, "invalid finished_at", ErrInvalidData)
	}

	var steps []domain.StepRecord
	if row.Steps != "" && row.Steps != "null" {
		if err := json.Unmarshal([]byte(row.Steps), &steps); err != nil {
			return nil, NewStoreError("rowToRelease", "release", row.ID, "failed to parse steps", ErrInvalidData)
		}
	}

	return &domain.Release{
		ID:           row.ID,
		HostName:     row.HostName,
		Trigger:      domain.Trigger(row.TriggerKind),
		Branch:       row.Branch,
		CommitSHA:    row.CommitSHA,
		Pusher:       row.Pusher,
		Status:       domain.ReleaseStatus(row.Status),
		Steps:        steps,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}, nil
}

func rowsToReleases(rows []releaseRow) ([]domain.Release, error) {
	releases := make([]domain.Release, 0, len(rows))
	for _, row := range rows {
		release, err := rowToRelease(&row)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *release)
	}
	return releases, nil
}
