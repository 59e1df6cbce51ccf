package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/berthd/berth/internal/shell/api"
	"github.com/berthd/berth/internal/shell/deployer"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/git"
	"github.com/berthd/berth/internal/shell/master"
	"github.com/berthd/berth/internal/shell/ports"
	"github.com/berthd/berth/internal/shell/proxy"
	"github.com/berthd/berth/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitDeployError     = 1
	ExitConfigError     = 2
	ExitDatabaseError   = 3
	ExitDockerError     = 4
	ExitHTTPServerError = 5
)

// ServerError carries an exit code alongside the failing operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Stack Construction
// =============================================================================

// stack is the assembled set of collaborators both the CLI and the
// daemon run on.
type stack struct {
	store    store.Store
	docker   docker.Client
	deployer *deployer.Deployer
}

func (s *stack) Close() {
	s.docker.Close()
	s.store.Close()
}

// buildStack connects the store and the Docker daemon and wires the
// deployment pipeline. Host ports of existing deployments are reserved
// up front so new allocations never collide with them.
func buildStack(ctx context.Context, cfg *Config, logger *slog.Logger) (*stack, error) {
	st, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{Op: "buildStack", Err: err, ExitCode: ExitDatabaseError}
	}

	dc, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		st.Close()
		return nil, &ServerError{Op: "buildStack", Err: err, ExitCode: ExitDockerError}
	}
	if err := dc.Ping(); err != nil {
		st.Close()
		dc.Close()
		return nil, &ServerError{Op: "buildStack", Err: err, ExitCode: ExitDockerError}
	}

	allocator := ports.NewAllocator()
	existing, err := st.ListDeployments(ctx, store.ListOptions{Limit: 1000})
	if err != nil {
		st.Close()
		dc.Close()
		return nil, &ServerError{Op: "buildStack", Err: err, ExitCode: ExitDatabaseError}
	}
	for _, dep := range existing {
		if dep.HostPort != 0 {
			allocator.Reserve(dep.HostPort)
		}
	}

	var reloader proxy.Reloader = proxy.NopReloader{}
	if len(cfg.Proxy.ReloadCommand) > 0 {
		reloader = &proxy.ExecReloader{Command: cfg.Proxy.ReloadCommand}
	}
	installer := proxy.NewInstaller(cfg.Proxy.SitesDir, reloader, logger)

	masterClient := master.NewClient(master.Config{
		BaseURL: cfg.Master.URL,
		APIKey:  cfg.Master.APIKey,
		Timeout: cfg.Master.Timeout,
	}, logger)

	d := deployer.New(st, dc, git.NewClient(), installer, masterClient, allocator,
		deployer.Config{
			ScratchDir:      cfg.Deploy.ScratchDir,
			CloneTimeout:    cfg.Deploy.CloneTimeout,
			BuildTimeout:    cfg.Deploy.BuildTimeout,
			LaunchTimeout:   cfg.Deploy.LaunchTimeout,
			RegisterTimeout: cfg.Deploy.RegisterTimeout,
		}, logger)

	return &stack{store: st, docker: dc, deployer: d}, nil
}

// =============================================================================
// Serve Command
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)
	logger.Info("starting berth daemon",
		"version", Version,
		"addr", cfg.Server.Address(),
	)

	ctx := context.Background()
	stk, err := buildStack(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		if sErr, ok := err.(*ServerError); ok {
			return sErr.ExitCode
		}
		return ExitConfigError
	}
	defer stk.Close()

	handler := api.SetupAPI(api.Config{
		Store:    stk.store,
		Docker:   stk.docker,
		Deployer: stk.deployer,
		Logger:   logger,
		APIKey:   cfg.Server.APIKey,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server error", "error", err)
		return ExitHTTPServerError
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return ExitHTTPServerError
	}

	logger.Info("stopped")
	return ExitSuccess
}
