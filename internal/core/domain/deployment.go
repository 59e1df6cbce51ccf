package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment
// =============================================================================

// Deployment is one managed container bound to one domain.
//
// The ID is generated once when the deployment is created and stays the
// same across every subsequent update of the same domain. HostPort is
// assigned on first deploy and re-read from the stored record on update
// so the proxy binding never moves underneath a live vhost.
type Deployment struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	Repo       string    `json:"repo"` // canonical host/path form
	BuildPath  string    `json:"build_path,omitempty"`
	HostPort   int       `json:"host_port"`
	VolumeName string    `json:"volume_name"`
	Insecure   bool      `json:"insecure,omitempty"` // repo cloned over plain HTTP
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewDeployment creates a fresh deployment for a domain that has no
// existing record. The ID is immutable from this point on.
func NewDeployment(domainName, repo string) *Deployment {
	now := time.Now().UTC()
	return &Deployment{
		ID:        uuid.New().String(),
		Domain:    domainName,
		Repo:      repo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the modification timestamp.
func (d *Deployment) Touch() {
	d.UpdatedAt = time.Now().UTC()
}

// =============================================================================
// Service Bindings
// =============================================================================

// ServiceBinding pairs an auxiliary service name with its generated
// root credential. Bindings exist only for the duration of a build/run
// invocation and are never persisted.
type ServiceBinding struct {
	Name         string `json:"name"`
	RootPassword string `json:"-"`
}

// =============================================================================
// Credential Tokens
// =============================================================================

// Token providers.
const (
	// ProviderGitHub is special-cased: clones authenticate with a fixed
	// username and the stored token.
	ProviderGitHub = "github"

	// GitHubHost is the host prefix matched for the GitHub special case.
	GitHubHost = "github.com"

	// GitHubCloneUser is the username GitHub accepts for token auth.
	GitHubCloneUser = "x-access-token"
)

// Token is a stored VCS credential, created by an out-of-band login
// flow and read-only to the orchestrator.
type Token struct {
	HostPrefix string `json:"host_prefix"`
	Provider   string `json:"provider,omitempty"`
	Username   string `json:"username"`
	Token      string `json:"token"`
}
