// Package git invokes the git binary for clone and pull operations.
// The VCS is a collaborator: berth drives it, it never reimplements it.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	// ErrEmptyURL is returned when the clone URL is blank.
	ErrEmptyURL = errors.New("repository URL cannot be empty")

	// ErrEmptyPath is returned when the destination path is blank.
	ErrEmptyPath = errors.New("repository path cannot be empty")
)

// CommandError carries the subprocess output alongside the exec error
// so clone failures surface a usable diagnostic.
type CommandError struct {
	Op     string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", e.Op, e.Err, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Client runs git subprocesses.
type Client struct{}

// NewClient creates a git client.
func NewClient() *Client {
	return &Client{}
}

// Clone clones the repository at url into dest. The destination
// directory is created if needed. Interactive credential prompts are
// disabled: an unauthenticated clone of a private repository fails
// instead of hanging.
func (c *Client) Clone(ctx context.Context, url, dest string) error {
	if url == "" {
		return ErrEmptyURL
	}
	if dest == "" {
		return ErrEmptyPath
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create clone destination: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", url, ".")
	cmd.Dir = dest
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CommandError{Op: "clone", Output: string(output), Err: err}
	}
	return nil
}

// Pull fetches and merges the latest changes in an existing checkout.
func (c *Client) Pull(ctx context.Context, path string) error {
	if path == "" {
		return ErrEmptyPath
	}

	cmd := exec.CommandContext(ctx, "git", "pull")
	cmd.Dir = path
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &CommandError{Op: "pull", Output: string(output), Err: err}
	}
	return nil
}
