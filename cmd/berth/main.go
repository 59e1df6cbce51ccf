package main

import (
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `usage: berth <command> [flags]

commands:
  deploy   clone, build, and launch a repository behind a domain
  serve    run the deployment API daemon
  login    store a repository-host credential
  version  print version and exit

run "berth <command> -h" for command flags
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return ExitConfigError
	}

	switch args[0] {
	case "deploy":
		return runDeploy(args[1:])
	case "serve":
		return runServe(args[1:])
	case "login":
		return runLogin(args[1:])
	case "version", "-version", "--version":
		fmt.Printf("berth %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	case "-h", "--help", "help":
		fmt.Print(usage)
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "berth: unknown command %q\n\n%s", args[0], usage)
		return ExitConfigError
	}
}
