package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berthd/berth/internal/core/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "berth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testDeployment(domainName string) *domain.Deployment {
	d := domain.NewDeployment(domainName, "github.com/acme/app")
	d.HostPort = 32768
	d.VolumeName = "berth_" + d.ID + "_data"
	return d
}

func TestSQLiteStore_CreateAndGetDeployment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("app.example.com")
	require.NoError(t, s.CreateDeployment(ctx, d))

	got, err := s.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, "app.example.com", got.Domain)
	assert.Equal(t, "github.com/acme/app", got.Repo)
	assert.Equal(t, 32768, got.HostPort)
	assert.Equal(t, d.VolumeName, got.VolumeName)
}

func TestSQLiteStore_GetDeployment_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDeployment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_FindDeploymentByDomain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("app.example.com")
	require.NoError(t, s.CreateDeployment(ctx, d))

	got, err := s.FindDeploymentByDomain(ctx, "app.example.com")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = s.FindDeploymentByDomain(ctx, "other.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DuplicateDomain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDeployment(ctx, testDeployment("app.example.com")))

	err := s.CreateDeployment(ctx, testDeployment("app.example.com"))
	assert.ErrorIs(t, err, ErrDuplicateDomain)
}

func TestSQLiteStore_UpdateDeployment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("app.example.com")
	require.NoError(t, s.CreateDeployment(ctx, d))

	d.Repo = "github.com/acme/other"
	d.Touch()
	require.NoError(t, s.UpdateDeployment(ctx, d))

	got, err := s.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "github.com/acme/other", got.Repo)
	assert.Equal(t, 32768, got.HostPort, "port survives update")
}

func TestSQLiteStore_UpdateDeployment_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateDeployment(context.Background(), testDeployment("app.example.com"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DeleteDeployment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("app.example.com")
	require.NoError(t, s.CreateDeployment(ctx, d))
	require.NoError(t, s.DeleteDeployment(ctx, d.ID))

	_, err := s.GetDeployment(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteDeployment(ctx, d.ID), ErrNotFound)
}

func TestSQLiteStore_ListDeployments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDeployment(ctx, testDeployment("a.example.com")))
	require.NoError(t, s.CreateDeployment(ctx, testDeployment("b.example.com")))

	list, err := s.ListDeployments(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSQLiteStore_Tokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutToken(ctx, &domain.Token{
		HostPrefix: "github.com",
		Provider:   domain.ProviderGitHub,
		Token:      "gh-secret",
	}))
	require.NoError(t, s.PutToken(ctx, &domain.Token{
		HostPrefix: "gitlab.com",
		Username:   "oauth2",
		Token:      "gl-secret",
	}))

	tokens, err := s.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	// Upsert replaces the stored token for the same prefix.
	require.NoError(t, s.PutToken(ctx, &domain.Token{
		HostPrefix: "github.com",
		Provider:   domain.ProviderGitHub,
		Token:      "rotated",
	}))

	tokens, err = s.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "rotated", tokens[0].Token)
}

func TestSQLiteStore_WithTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("app.example.com")

	// A failing transaction rolls everything back.
	err := s.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateDeployment(ctx, d); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.GetDeployment(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A successful transaction commits.
	err = s.WithTx(ctx, func(tx Store) error {
		return tx.CreateDeployment(ctx, d)
	})
	require.NoError(t, err)

	_, err = s.GetDeployment(ctx, d.ID)
	assert.NoError(t, err)
}
