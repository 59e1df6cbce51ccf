package git

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClone_Validation(t *testing.T) {
	c := NewClient()
	ctx := context.Background()

	assert.ErrorIs(t, c.Clone(ctx, "", t.TempDir()), ErrEmptyURL)
	assert.ErrorIs(t, c.Clone(ctx, "https://example.com/repo", ""), ErrEmptyPath)
}

func TestPull_Validation(t *testing.T) {
	c := NewClient()

	assert.ErrorIs(t, c.Pull(context.Background(), ""), ErrEmptyPath)
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Op: "clone", Output: "fatal: repository not found\n", Err: assert.AnError}

	assert.Contains(t, err.Error(), "git clone")
	assert.Contains(t, err.Error(), "repository not found")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCommandError_NoOutput(t *testing.T) {
	err := &CommandError{Op: "pull", Err: assert.AnError}
	assert.Equal(t, "git pull: "+assert.AnError.Error(), err.Error())
}
