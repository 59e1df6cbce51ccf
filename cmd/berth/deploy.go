package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/deployer"
)

// stringSlice is a repeatable flag value.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// =============================================================================
// Deploy Command
// =============================================================================

func runDeploy(args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	repo := fs.String("repo", "", "Repository reference (URL or host/path)")
	domainName := fs.String("domain", "", "Domain the app will serve")
	port := fs.Int("port", 0, "Container port to publish (default: lowest exposed)")
	buildPath := fs.String("path", "", "Build context subdirectory within the repository")
	ssl := fs.Bool("ssl", false, "Provision TLS for the domain after install")
	var services stringSlice
	fs.Var(&services, "service", "Auxiliary service to bind (repeatable)")
	fs.Parse(args)

	if *repo == "" || *domainName == "" {
		fmt.Fprintln(os.Stderr, "berth deploy: -repo and -domain are required")
		fs.Usage()
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)

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

	result, err := stk.deployer.Deploy(ctx, deployer.Request{
		RepoRef:    *repo,
		Domain:     *domainName,
		PinnedPort: *port,
		BuildPath:  *buildPath,
		Services:   services,
		SSL:        *ssl,
	})
	if err != nil {
		var stageErr *domain.StageError
		if errors.As(err, &stageErr) {
			fmt.Fprintf(os.Stderr, "deploy failed during %s: %s\n", stageErr.Stage, stageErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "deploy failed: %v\n", err)
		}
		return ExitDeployError
	}

	dep := result.Deployment
	fmt.Printf("deployed %s\n", dep.Domain)
	fmt.Printf("  deployment: %s\n", dep.ID)
	fmt.Printf("  repository: %s\n", dep.Repo)
	fmt.Printf("  upstream:   127.0.0.1:%d\n", dep.HostPort)
	if result.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", result.Warning)
	}
	return ExitSuccess
}
