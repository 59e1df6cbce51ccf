package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/store"
)

// =============================================================================
// Login Command
// =============================================================================

// runLogin stores a repository-host credential. Deploys consult stored
// credentials by host prefix; the github provider clones with the fixed
// x-access-token user.
func runLogin(args []string) int {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	host := fs.String("host", "", "Host prefix the credential applies to (e.g. github.com)")
	provider := fs.String("provider", "", "Provider shorthand (e.g. github)")
	username := fs.String("username", "", "Username for the host (ignored for github)")
	token := fs.String("token", "", "Access token")
	fs.Parse(args)

	if *host == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "berth login: -host and -token are required")
		fs.Usage()
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	st, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store error: %v\n", err)
		return ExitDatabaseError
	}
	defer st.Close()

	err = st.PutToken(context.Background(), &domain.Token{
		HostPrefix: *host,
		Provider:   *provider,
		Username:   *username,
		Token:      *token,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "storing credential failed: %v\n", err)
		return ExitDatabaseError
	}

	fmt.Printf("credential stored for %s\n", *host)
	return ExitSuccess
}
