// Package proxy installs per-domain reverse-proxy configuration and
// reloads the proxy daemon. The daemon itself is a collaborator, not
// part of berth.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/berthd/berth/internal/core/proxyconf"
)

// =============================================================================
// Reloader
// =============================================================================

// Reloader triggers the proxy daemon to re-read its configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ExecReloader reloads nginx by invoking its control command.
type ExecReloader struct {
	// Command and arguments, e.g. ["nginx", "-s", "reload"].
	Command []string
}

// NewExecReloader returns the default nginx reloader.
func NewExecReloader() *ExecReloader {
	return &ExecReloader{Command: []string{"nginx", "-s", "reload"}}
}

// NopReloader skips reloading, for hosts where the proxy daemon is
// managed externally.
type NopReloader struct{}

func (NopReloader) Reload(context.Context) error { return nil }

func (r *ExecReloader) Reload(ctx context.Context) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("reload command not configured")
	}
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("proxy reload: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// =============================================================================
// Installer
// =============================================================================

// Installer writes vhost files and reloads the daemon.
type Installer struct {
	sitesDir string
	reloader Reloader
	logger   *slog.Logger
}

// NewInstaller creates a proxy config installer. sitesDir is the
// directory the daemon includes vhost files from.
func NewInstaller(sitesDir string, reloader Reloader, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		sitesDir: sitesDir,
		reloader: reloader,
		logger:   logger,
	}
}

// Install renders nothing itself: it writes the already-rendered config
// to the domain's deterministic path and triggers a reload. A reload
// failure is reported but the written file is kept; the config takes
// effect on the next successful reload.
func (i *Installer) Install(ctx context.Context, domain, configText string) error {
	if err := os.MkdirAll(i.sitesDir, 0o755); err != nil {
		return fmt.Errorf("create sites directory: %w", err)
	}

	path := proxyconf.SitePath(i.sitesDir, domain)
	if err := os.WriteFile(path, []byte(configText), 0o644); err != nil {
		return fmt.Errorf("write vhost %s: %w", path, err)
	}
	i.logger.Info("installed proxy config", "domain", domain, "path", path)

	if err := i.reloader.Reload(ctx); err != nil {
		i.logger.Warn("proxy reload failed, config stays installed for the next reload",
			"domain", domain,
			"error", err,
		)
		return err
	}

	return nil
}

// Remove deletes a domain's vhost file and reloads. A missing file is
// not an error.
func (i *Installer) Remove(ctx context.Context, domain string) error {
	path := proxyconf.SitePath(i.sitesDir, domain)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove vhost %s: %w", path, err)
	}
	return i.reloader.Reload(ctx)
}

// ProvisionTLS is a placeholder for certificate issuance. Callers must
// not assume certificates are issued.
func (i *Installer) ProvisionTLS(ctx context.Context, domain string) error {
	i.logger.Info("tls provisioning not implemented, skipping", "domain", domain)
	return nil
}
