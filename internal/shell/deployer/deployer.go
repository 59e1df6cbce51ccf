// Package deployer runs the deployment pipeline: resolve the target,
// materialize the working copy, build the image, configure the proxy,
// launch the container, and register the result.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/berthd/berth/internal/core/deploy"
	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/core/gitref"
	"github.com/berthd/berth/internal/core/proxyconf"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/master"
	"github.com/berthd/berth/internal/shell/ports"
	"github.com/berthd/berth/internal/shell/store"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// GitClient materializes and refreshes repository working copies.
type GitClient interface {
	Clone(ctx context.Context, url, dest string) error
	Pull(ctx context.Context, path string) error
}

// ProxyInstaller manages reverse-proxy vhost configuration.
type ProxyInstaller interface {
	Install(ctx context.Context, domainName, configText string) error
	Remove(ctx context.Context, domainName string) error
	ProvisionTLS(ctx context.Context, domainName string) error
}

// MasterClient reports deployments and resolves auxiliary services.
type MasterClient interface {
	RegisterDeployment(ctx context.Context, reg master.Registration) error
	GetOrCreateService(ctx context.Context, name string) (domain.ServiceBinding, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds deployer tuning knobs.
type Config struct {
	// ScratchDir is the base directory for per-deployment working
	// copies.
	ScratchDir string

	CloneTimeout    time.Duration
	BuildTimeout    time.Duration
	LaunchTimeout   time.Duration
	RegisterTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CloneTimeout == 0 {
		c.CloneTimeout = 5 * time.Minute
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = 20 * time.Minute
	}
	if c.LaunchTimeout == 0 {
		c.LaunchTimeout = 2 * time.Minute
	}
	if c.RegisterTimeout == 0 {
		c.RegisterTimeout = 30 * time.Second
	}
	return c
}

// =============================================================================
// Deployer
// =============================================================================

// Request describes one deployment invocation.
type Request struct {
	RepoRef    string   // repository reference in any accepted form
	Domain     string   // target domain the app will serve
	PinnedPort int      // container port to publish; 0 picks the lowest exposed
	BuildPath  string   // build context subdirectory within the repo
	Services   []string // auxiliary services to bind (e.g. "mysql")
	SSL        bool     // provision TLS for the vhost after install
}

// Result is the outcome of a completed pipeline run. Warning is set
// when the container is live but registration did not fully succeed.
type Result struct {
	Deployment *domain.Deployment
	Warning    string
}

// Deployer executes the deployment pipeline against its collaborators.
type Deployer struct {
	store  store.Store
	docker docker.Client
	git    GitClient
	proxy  ProxyInstaller
	master MasterClient
	ports  *ports.Allocator
	logger *slog.Logger
	cfg    Config
}

// New creates a Deployer.
func New(st store.Store, dc docker.Client, gc GitClient, pi ProxyInstaller, mc MasterClient, pa *ports.Allocator, cfg Config, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		store:  st,
		docker: dc,
		git:    gc,
		proxy:  pi,
		master: mc,
		ports:  pa,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// Deploy runs the full pipeline for one request. A nil error with a
// non-empty Result.Warning means the container is serving but the
// deployment record could not be fully registered.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	// --- resolve target ---
	if !domain.ValidDomain(req.Domain) {
		return nil, domain.NewStageError(domain.StageResolvingTarget,
			fmt.Sprintf("domain %q is not a valid hostname", req.Domain), domain.ErrInvalidDomain)
	}

	ref, err := gitref.Normalize(req.RepoRef)
	if err != nil {
		return nil, domain.NewStageError(domain.StageResolvingTarget,
			fmt.Sprintf("repository reference %q", req.RepoRef), err)
	}

	tokens, err := d.store.ListTokens(ctx)
	if err != nil {
		return nil, domain.NewStageError(domain.StageResolvingTarget, "load stored credentials", err)
	}
	cloneURL := gitref.CloneURL(ref, gitref.ResolveToken(ref, tokens))

	d.logger.Info("resolved deployment target",
		"domain", req.Domain,
		"repo", ref.Canonical,
		"insecure", ref.Insecure,
	)

	// --- create or update ---
	dep, fresh, err := d.materialize(ctx, req, ref, cloneURL)
	if err != nil {
		return nil, err
	}

	// --- auxiliary services ---
	bindings, err := d.resolveServices(ctx, req.Services)
	if err != nil {
		stage := domain.StageUpdating
		if fresh {
			stage = domain.StageCreating
		}
		d.releaseIfFresh(dep, fresh)
		return nil, domain.NewStageError(stage, "resolve auxiliary services", err)
	}

	// --- build ---
	if err := d.build(ctx, dep, req.BuildPath, bindings); err != nil {
		d.releaseIfFresh(dep, fresh)
		return nil, err
	}

	// --- host port ---
	if dep.HostPort == 0 {
		port, err := d.ports.Allocate()
		if err != nil {
			return nil, domain.NewStageError(domain.StageConfiguringProxy, "allocate host port", err)
		}
		dep.HostPort = port
	}

	// --- proxy ---
	if err := d.configureProxy(ctx, dep, req.SSL); err != nil {
		d.releaseIfFresh(dep, fresh)
		return nil, err
	}

	// --- launch ---
	if err := d.launch(ctx, dep, req.PinnedPort, bindings); err != nil {
		d.releaseIfFresh(dep, fresh)
		return nil, err
	}

	// --- register ---
	warning := d.register(ctx, dep, fresh)

	d.logger.Info("deployment complete",
		"domain", dep.Domain,
		"deployment_id", dep.ID,
		"host_port", dep.HostPort,
		"warning", warning != "",
	)
	return &Result{Deployment: dep, Warning: warning}, nil
}

// =============================================================================
// Pipeline Stages
// =============================================================================

// materialize decides between the create and update paths and leaves a
// current working copy under the scratch directory. fresh reports
// whether a new deployment record was minted.
func (d *Deployer) materialize(ctx context.Context, req Request, ref gitref.Ref, cloneURL string) (*domain.Deployment, bool, error) {
	existing, err := d.store.FindDeploymentByDomain(ctx, req.Domain)
	switch {
	case err == nil:
		if uerr := d.update(ctx, existing, req, ref, cloneURL); uerr != nil {
			return nil, false, uerr
		}
		return existing, false, nil
	case errors.Is(err, store.ErrNotFound):
		dep, cerr := d.create(ctx, req, ref, cloneURL)
		if cerr != nil {
			return nil, false, cerr
		}
		return dep, true, nil
	default:
		return nil, false, domain.NewStageError(domain.StageResolvingTarget,
			fmt.Sprintf("look up domain %s", req.Domain), err)
	}
}

func (d *Deployer) create(ctx context.Context, req Request, ref gitref.Ref, cloneURL string) (*domain.Deployment, error) {
	dep := domain.NewDeployment(req.Domain, ref.Canonical)
	dep.BuildPath = req.BuildPath
	dep.Insecure = ref.Insecure
	dep.VolumeName = deploy.VolumeName(dep.ID)

	if err := d.docker.CreateVolume(ctx, dep.VolumeName); err != nil {
		return nil, domain.NewStageError(domain.StageCreating,
			fmt.Sprintf("create volume %s", dep.VolumeName), err)
	}
	vol, err := d.docker.InspectVolume(ctx, dep.VolumeName)
	if err != nil {
		return nil, domain.NewStageError(domain.StageCreating,
			fmt.Sprintf("inspect volume %s", dep.VolumeName), err)
	}
	d.logger.Debug("volume ready", "volume", vol.Name, "mountpoint", vol.Mountpoint)

	scratch := deploy.ScratchDir(d.cfg.ScratchDir, dep.ID)
	cloneCtx, cancel := context.WithTimeout(ctx, d.cfg.CloneTimeout)
	defer cancel()
	if err := d.git.Clone(cloneCtx, cloneURL, scratch); err != nil {
		return nil, domain.NewStageError(domain.StageCreating,
			fmt.Sprintf("clone into %s: %v (private repositories need a stored credential)", scratch, err),
			domain.ErrCloneFailed)
	}

	d.logger.Info("created deployment", "domain", dep.Domain, "deployment_id", dep.ID)
	return dep, nil
}

func (d *Deployer) update(ctx context.Context, dep *domain.Deployment, req Request, ref gitref.Ref, cloneURL string) error {
	// The repository reference and build path may move between deploys
	// of the same domain; identity, port, and volume never do.
	dep.Repo = ref.Canonical
	dep.Insecure = ref.Insecure
	dep.BuildPath = req.BuildPath
	if dep.VolumeName == "" {
		dep.VolumeName = deploy.VolumeName(dep.ID)
		if err := d.docker.CreateVolume(ctx, dep.VolumeName); err != nil {
			return domain.NewStageError(domain.StageUpdating,
				fmt.Sprintf("create volume %s", dep.VolumeName), err)
		}
	}
	if dep.HostPort != 0 {
		d.ports.Reserve(dep.HostPort)
	}

	// Best-effort stop of the running container. Absence is fine.
	name := deploy.ContainerName(dep.ID)
	stopTimeout := 30 * time.Second
	if err := d.docker.StopContainer(ctx, name, &stopTimeout); err != nil {
		if !errors.Is(err, docker.ErrContainerNotFound) && !errors.Is(err, docker.ErrContainerNotRunning) {
			d.logger.Warn("stop before update failed", "container", name, "error", err)
		}
	}

	scratch := deploy.ScratchDir(d.cfg.ScratchDir, dep.ID)
	pullCtx, cancel := context.WithTimeout(ctx, d.cfg.CloneTimeout)
	defer cancel()
	if err := d.git.Pull(pullCtx, scratch); err != nil {
		// The working copy may be gone (host rotation, manual cleanup).
		// Re-clone from scratch before giving up.
		d.logger.Warn("pull failed, falling back to fresh clone", "path", scratch, "error", err)
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			return domain.NewStageError(domain.StageUpdating,
				fmt.Sprintf("clear stale working copy %s", scratch), rmErr)
		}
		if cloneErr := d.git.Clone(pullCtx, cloneURL, scratch); cloneErr != nil {
			return domain.NewStageError(domain.StageUpdating,
				fmt.Sprintf("refresh %s: %v", scratch, cloneErr), domain.ErrCloneFailed)
		}
	}

	d.logger.Info("updating deployment", "domain", dep.Domain, "deployment_id", dep.ID)
	return nil
}

func (d *Deployer) resolveServices(ctx context.Context, names []string) ([]domain.ServiceBinding, error) {
	bindings := make([]domain.ServiceBinding, 0, len(names))
	for _, name := range names {
		binding, err := d.master.GetOrCreateService(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

func (d *Deployer) build(ctx context.Context, dep *domain.Deployment, buildPath string, bindings []domain.ServiceBinding) error {
	scratch := deploy.ScratchDir(d.cfg.ScratchDir, dep.ID)
	contextDir := deploy.ContextDir(scratch, buildPath)
	tag := deploy.ImageTag(dep.ID)

	networkMode := ""
	if networks := deploy.ServiceNetworks(bindings); len(networks) > 0 {
		networkMode = networks[0]
	}

	buildCtx, cancel := context.WithTimeout(ctx, d.cfg.BuildTimeout)
	defer cancel()
	if err := d.docker.BuildImage(buildCtx, contextDir, tag, deploy.ServiceBuildArgs(bindings), networkMode); err != nil {
		return domain.NewStageError(domain.StageBuilding,
			fmt.Sprintf("build %s from %s: %v", tag, contextDir, err), domain.ErrBuildFailed)
	}
	d.logger.Info("image built", "tag", tag, "deployment_id", dep.ID)
	return nil
}

func (d *Deployer) configureProxy(ctx context.Context, dep *domain.Deployment, ssl bool) error {
	configText := proxyconf.Render(dep.Domain, dep.HostPort)
	if err := d.proxy.Install(ctx, dep.Domain, configText); err != nil {
		return domain.NewStageError(domain.StageConfiguringProxy,
			fmt.Sprintf("install vhost for %s: %v", dep.Domain, err), domain.ErrProxyWriteFailed)
	}
	if ssl {
		if err := d.proxy.ProvisionTLS(ctx, dep.Domain); err != nil {
			d.logger.Warn("TLS provisioning failed, serving over HTTP", "domain", dep.Domain, "error", err)
		}
	}
	return nil
}

func (d *Deployer) launch(ctx context.Context, dep *domain.Deployment, pinnedPort int, bindings []domain.ServiceBinding) error {
	tag := deploy.ImageTag(dep.ID)
	name := deploy.ContainerName(dep.ID)

	launchCtx, cancel := context.WithTimeout(ctx, d.cfg.LaunchTimeout)
	defer cancel()

	info, err := d.docker.InspectImage(launchCtx, tag)
	if err != nil {
		return domain.NewStageError(domain.StageLaunching,
			fmt.Sprintf("inspect image %s: %v", tag, err), domain.ErrLaunchFailed)
	}

	containerPort, err := deploy.PublishedPort(pinnedPort, info.ExposedPorts)
	if err != nil {
		return domain.NewStageError(domain.StageLaunching,
			fmt.Sprintf("image %s: %v", tag, err), domain.ErrLaunchFailed)
	}

	volumeTarget := info.WorkingDir
	if volumeTarget == "" {
		volumeTarget = "/data"
	}

	// A previous container under this name would collide on create.
	if err := d.docker.RemoveContainer(launchCtx, name); err != nil {
		return domain.NewStageError(domain.StageLaunching,
			fmt.Sprintf("remove previous container %s: %v", name, err), domain.ErrLaunchFailed)
	}

	spec := docker.ContainerSpec{
		Name:          name,
		Image:         tag,
		Env:           deploy.ServiceEnv(bindings),
		HostPort:      dep.HostPort,
		ContainerPort: containerPort,
		VolumeName:    dep.VolumeName,
		VolumeTarget:  volumeTarget,
		Networks:      deploy.ServiceNetworks(bindings),
	}
	containerID, err := d.docker.RunContainer(launchCtx, spec)
	if err != nil {
		// The vhost already points at this port. Flag it so the
		// operator knows the proxy is serving a dead upstream.
		return domain.NewStageError(domain.StageLaunching,
			fmt.Sprintf("start %s (proxy for %s already configured): %v", name, dep.Domain, err),
			domain.ErrLaunchFailed)
	}

	d.logger.Info("container launched",
		"container", name,
		"container_id", containerID,
		"host_port", dep.HostPort,
		"container_port", containerPort,
	)
	return nil
}

// register persists the record and notifies the master. The container
// is already serving by now, so failures degrade to a warning instead
// of failing the deploy.
func (d *Deployer) register(ctx context.Context, dep *domain.Deployment, fresh bool) string {
	regCtx, cancel := context.WithTimeout(ctx, d.cfg.RegisterTimeout)
	defer cancel()

	var warnings []string

	dep.Touch()
	err := d.store.WithTx(regCtx, func(tx store.Store) error {
		if fresh {
			return tx.CreateDeployment(regCtx, dep)
		}
		return tx.UpdateDeployment(regCtx, dep)
	})
	if err != nil {
		d.logger.Warn("persisting deployment record failed", "domain", dep.Domain, "error", err)
		warnings = append(warnings, fmt.Sprintf("local record not saved: %v", err))
	}

	if err := d.master.RegisterDeployment(regCtx, master.Registration{
		Domain:       dep.Domain,
		DeploymentID: dep.ID,
		Repo:         dep.Repo,
	}); err != nil {
		d.logger.Warn("master registration failed", "domain", dep.Domain, "error", err)
		warnings = append(warnings, fmt.Sprintf("master not notified: %v", err))
	}

	if len(warnings) == 0 {
		return ""
	}
	warning := warnings[0]
	for _, w := range warnings[1:] {
		warning += "; " + w
	}
	return warning
}

// releaseIfFresh returns a just-allocated host port to the pool when a
// fresh deployment fails before its record is persisted. Ports of
// existing deployments stay reserved.
func (d *Deployer) releaseIfFresh(dep *domain.Deployment, fresh bool) {
	if fresh && dep.HostPort != 0 {
		d.ports.Release(dep.HostPort)
	}
}
