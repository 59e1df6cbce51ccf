package proxy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthd/berth/internal/core/proxyconf"
)

// fakeReloader records reload calls and optionally fails.
type fakeReloader struct {
	calls int
	err   error
}

func (r *fakeReloader) Reload(ctx context.Context) error {
	r.calls++
	return r.err
}

func TestInstaller_Install(t *testing.T) {
	dir := t.TempDir()
	reloader := &fakeReloader{}
	installer := NewInstaller(dir, reloader, nil)

	text := proxyconf.Render("app.example.com", 32768)
	require.NoError(t, installer.Install(context.Background(), "app.example.com", text))

	written, err := os.ReadFile(filepath.Join(dir, "app.example.com.conf"))
	require.NoError(t, err)
	assert.Equal(t, text, string(written))
	assert.Equal(t, 1, reloader.calls)
}

func TestInstaller_Install_ReloadFailureKeepsConfig(t *testing.T) {
	dir := t.TempDir()
	reloader := &fakeReloader{err: assert.AnError}
	installer := NewInstaller(dir, reloader, nil)

	err := installer.Install(context.Background(), "app.example.com", "server {}")
	require.ErrorIs(t, err, assert.AnError)

	// The written file survives the failed reload.
	_, statErr := os.Stat(filepath.Join(dir, "app.example.com.conf"))
	assert.NoError(t, statErr)
}

func TestInstaller_Install_Overwrites(t *testing.T) {
	dir := t.TempDir()
	installer := NewInstaller(dir, &fakeReloader{}, nil)
	ctx := context.Background()

	require.NoError(t, installer.Install(ctx, "app.example.com", "old"))
	require.NoError(t, installer.Install(ctx, "app.example.com", "new"))

	written, err := os.ReadFile(filepath.Join(dir, "app.example.com.conf"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(written))
}

func TestInstaller_Remove(t *testing.T) {
	dir := t.TempDir()
	reloader := &fakeReloader{}
	installer := NewInstaller(dir, reloader, nil)
	ctx := context.Background()

	require.NoError(t, installer.Install(ctx, "app.example.com", "server {}"))
	require.NoError(t, installer.Remove(ctx, "app.example.com"))

	_, err := os.Stat(filepath.Join(dir, "app.example.com.conf"))
	assert.True(t, os.IsNotExist(err))

	// Removing an absent vhost is not an error.
	assert.NoError(t, installer.Remove(ctx, "gone.example.com"))
}

func TestInstaller_ProvisionTLS_NoOp(t *testing.T) {
	installer := NewInstaller(t.TempDir(), &fakeReloader{}, nil)
	assert.NoError(t, installer.ProvisionTLS(context.Background(), "app.example.com"))
}
