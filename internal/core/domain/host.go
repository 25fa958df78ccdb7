// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"net"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Host Errors
// =============================================================================

var (
	// Host name validation errors
	ErrHostNameRequired = errors.New("host name is required")
	ErrHostNameTooShort = errors.New("host name must be at least 3 characters")
	ErrHostNameTooLong  = errors.New("host name must be at most 100 characters")

	// SSH validation errors
	ErrSSHHostRequired = errors.New("SSH host is required")
	ErrSSHHostInvalid  = errors.New("SSH host must be a valid hostname or IP address")
	ErrSSHPortInvalid  = errors.New("SSH port must be between 1 and 65535")
	ErrSSHUserRequired = errors.New("SSH user is required")

	// Stack validation errors
	ErrRepoURLRequired    = errors.New("repository URL is required")
	ErrRepoURLInvalid     = errors.New("repository URL must be an ssh, git, http or https URL")
	ErrBranchRequired     = errors.New("branch is required")
	ErrBranchInvalid      = errors.New("branch contains invalid characters")
	ErrCheckoutDirEmpty   = errors.New("checkout directory is required")
	ErrComposeFileEmpty   = errors.New("compose file path is required")
	ErrComposeFileEscapes = errors.New("compose file path must stay inside the checkout directory")
	ErrSecretsDirEmpty    = errors.New("secrets directory is required")
	ErrSecretsFileEmpty   = errors.New("secrets file name is required")
	ErrSecretsFileNested  = errors.New("secrets file name must not contain path separators")

	// Host operation errors
	ErrHostNotFound = errors.New("host not found")
)

// =============================================================================
// Host
// =============================================================================

// SecretsSpec describes where the secrets file is materialized on the host.
// The directory is created with mode 0700 and the file with mode 0600.
type SecretsSpec struct {
	// Dir is the secrets directory, relative to the checkout directory.
	Dir string `json:"dir"`
	// File is the file name inside Dir.
	File string `json:"file"`
}

// Host represents a deployment target: a machine reachable over SSH that
// holds one source checkout and one compose stack.
type Host struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	SSHHost     string      `json:"ssh_host"`
	SSHPort     int         `json:"ssh_port"`
	SSHUser     string      `json:"ssh_user"`
	SSHKeyID    string      `json:"ssh_key_id,omitempty"`
	RepoURL     string      `json:"repo_url"`
	Branch      string      `json:"branch"`
	CheckoutDir string      `json:"checkout_dir"`
	ComposeFile string      `json:"compose_file"`
	Secrets     SecretsSpec `json:"secrets"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// GenerateHostID generates a new host ID with "host_" prefix.
func GenerateHostID() string {
	return "host_" + uuid.New().String()[:8]
}

// NewHost creates a new host with validated fields.
// Returns error if any validation fails.
func NewHost(name, sshHost, sshUser string, sshPort int, repoURL, branch, checkoutDir string) (*Host, error) {
	if err := ValidateHostName(name); err != nil {
		return nil, err
	}
	if err := ValidateSSHHost(sshHost); err != nil {
		return nil, err
	}
	if err := ValidateSSHPort(sshPort); err != nil {
		return nil, err
	}
	if err := ValidateSSHUser(sshUser); err != nil {
		return nil, err
	}
	if err := ValidateRepoURL(repoURL); err != nil {
		return nil, err
	}
	if err := ValidateBranch(branch); err != nil {
		return nil, err
	}
	if checkoutDir == "" {
		return nil, ErrCheckoutDirEmpty
	}

	now := time.Now().UTC()
	return &Host{
		ID:          GenerateHostID(),
		Name:        name,
		SSHHost:     sshHost,
		SSHPort:     sshPort,
		SSHUser:     sshUser,
		RepoURL:     repoURL,
		Branch:      branch,
		CheckoutDir: checkoutDir,
		ComposeFile: DefaultComposeFile,
		Secrets:     DefaultSecretsSpec(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate checks all host fields, including the ones not covered by NewHost.
func (h *Host) Validate() error {
	if err := ValidateHostName(h.Name); err != nil {
		return err
	}
	if err := ValidateSSHHost(h.SSHHost); err != nil {
		return err
	}
	if err := ValidateSSHPort(h.SSHPort); err != nil {
		return err
	}
	if err := ValidateSSHUser(h.SSHUser); err != nil {
		return err
	}
	if err := ValidateRepoURL(h.RepoURL); err != nil {
		return err
	}
	if err := ValidateBranch(h.Branch); err != nil {
		return err
	}
	if h.CheckoutDir == "" {
		return ErrCheckoutDirEmpty
	}
	if err := ValidateComposeFile(h.ComposeFile); err != nil {
		return err
	}
	return h.Secrets.Validate()
}

// Validate checks the secrets spec.
func (s SecretsSpec) Validate() error {
	if s.Dir == "" {
		return ErrSecretsDirEmpty
	}
	if s.File == "" {
		return ErrSecretsFileEmpty
	}
	if strings.ContainsRune(s.File, '/') {
		return ErrSecretsFileNested
	}
	return nil
}

// SSHAddress returns the SSH connection address (host:port).
func (h *Host) SSHAddress() string {
	return net.JoinHostPort(h.SSHHost, strconv.Itoa(h.SSHPort))
}

// SecretsDir returns the absolute secrets directory on the host.
func (h *Host) SecretsDir() string {
	return path.Join(h.CheckoutDir, h.Secrets.Dir)
}

// SecretsPath returns the absolute secrets file path on the host.
func (h *Host) SecretsPath() string {
	return path.Join(h.SecretsDir(), h.Secrets.File)
}

// ComposePath returns the compose file path relative to the checkout directory.
func (h *Host) ComposePath() string {
	return h.ComposeFile
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultComposeFile is the compose file path relative to the checkout.
	DefaultComposeFile = "docker-compose.yml"
	// DefaultSSHPort is the SSH port used when none is configured.
	DefaultSSHPort = 22
)

// DefaultSecretsSpec returns the default secrets location: the dashboard
// runtime reads its secrets from .streamlit/secrets.toml inside the checkout.
func DefaultSecretsSpec() SecretsSpec {
	return SecretsSpec{Dir: ".streamlit", File: "secrets.toml"}
}

// =============================================================================
// SSH Key
// =============================================================================

// SSHKey represents an encrypted SSH private key.
type SSHKey struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	PrivateKeyEncrypted []byte    `json:"-"` // Never serialize
	Fingerprint         string    `json:"fingerprint"`
	CreatedAt           time.Time `json:"created_at"`
}

// GenerateSSHKeyID generates a new SSH key ID with "sshkey_" prefix.
func GenerateSSHKeyID() string {
	return "sshkey_" + uuid.New().String()[:8]
}

// =============================================================================
// Validation Functions
// =============================================================================

// ValidateHostName validates a host name.
func ValidateHostName(name string) error {
	if name == "" {
		return ErrHostNameRequired
	}
	if len(name) < 3 {
		return ErrHostNameTooShort
	}
	if len(name) > 100 {
		return ErrHostNameTooLong
	}
	return nil
}

// ValidateSSHHost validates an SSH host (hostname or IP).
func ValidateSSHHost(host string) error {
	if host == "" {
		return ErrSSHHostRequired
	}

	// Check if it's a valid IP address
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}

	// Check if it's a valid hostname
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
	if hostnameRegex.MatchString(host) {
		return nil
	}

	return ErrSSHHostInvalid
}

// ValidateSSHPort validates an SSH port.
func ValidateSSHPort(port int) error {
	if port < 1 || port > 65535 {
		return ErrSSHPortInvalid
	}
	return nil
}

// ValidateSSHUser validates an SSH username.
func ValidateSSHUser(user string) error {
	if user == "" {
		return ErrSSHUserRequired
	}
	return nil
}

// ValidateRepoURL validates a git remote URL. SCP-style remotes
// (git@github.com:owner/repo.git) are accepted alongside URL schemes.
func ValidateRepoURL(repoURL string) error {
	if repoURL == "" {
		return ErrRepoURLRequired
	}

	// SCP-style: user@host:path
	scpRegex := regexp.MustCompile(`^[a-zA-Z0-9_.\-]+@[a-zA-Z0-9.\-]+:[^\s]+$`)
	if scpRegex.MatchString(repoURL) {
		return nil
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return ErrRepoURLInvalid
	}
	switch u.Scheme {
	case "ssh", "git", "http", "https":
		if u.Host == "" {
			return ErrRepoURLInvalid
		}
		return nil
	default:
		return ErrRepoURLInvalid
	}
}

// branchRegex matches git branch names we accept. Deliberately stricter than
// git's own rules: refs here end up interpolated into remote commands.
var branchRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-/]*$`)

// ValidateBranch validates a git branch name.
func ValidateBranch(branch string) error {
	if branch == "" {
		return ErrBranchRequired
	}
	if strings.Contains(branch, "..") || !branchRegex.MatchString(branch) {
		return ErrBranchInvalid
	}
	return nil
}

// ValidateComposeFile validates a compose file path relative to the checkout.
func ValidateComposeFile(p string) error {
	if p == "" {
		return ErrComposeFileEmpty
	}
	if path.IsAbs(p) || strings.HasPrefix(path.Clean(p), "..") {
		return ErrComposeFileEscapes
	}
	return nil
}
