package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/berthd/berth/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations. A
// missing database file is not an error: it is created empty, which the
// orchestrator sees as a directory with no deployments.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Deployment Rows
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	ID         string `db:"id"`
	Domain     string `db:"domain"`
	Repo       string `db:"repo"`
	BuildPath  string `db:"build_path"`
	HostPort   int    `db:"host_port"`
	VolumeName string `db:"volume_name"`
	Insecure   bool   `db:"insecure"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

func toDeploymentRow(d *domain.Deployment) deploymentRow {
	return deploymentRow{
		ID:         d.ID,
		Domain:     d.Domain,
		Repo:       d.Repo,
		BuildPath:  d.BuildPath,
		HostPort:   d.HostPort,
		VolumeName: d.VolumeName,
		Insecure:   d.Insecure,
		CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r deploymentRow) toDomain() domain.Deployment {
	createdAt, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return domain.Deployment{
		ID:         r.ID,
		Domain:     r.Domain,
		Repo:       r.Repo,
		BuildPath:  r.BuildPath,
		HostPort:   r.HostPort,
		VolumeName: r.VolumeName,
		Insecure:   r.Insecure,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
}

// =============================================================================
// Deployment Operations
// =============================================================================

func (s *SQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) FindDeploymentByDomain(ctx context.Context, domainName string) (*domain.Deployment, error) {
	return findDeploymentByDomain(ctx, s.db, domainName)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.db, deployment)
}

func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	return deleteDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.db, opts)
}

func (s *SQLiteStore) PutToken(ctx context.Context, token *domain.Token) error {
	return putToken(ctx, s.db, token)
}

func (s *SQLiteStore) ListTokens(ctx context.Context) ([]domain.Token, error) {
	return listTokens(ctx, s.db)
}

func createDeployment(ctx context.Context, ex executor, deployment *domain.Deployment) error {
	row := toDeploymentRow(deployment)
	_, err := ex.NamedExecContext(ctx, `
		INSERT INTO deployments (id, domain, repo, build_path, host_port, volume_name, insecure, created_at, updated_at)
		VALUES (:id, :domain, :repo, :build_path, :host_port, :volume_name, :insecure, :created_at, :updated_at)`,
		row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.domain") {
			return NewStoreError("CreateDeployment", "deployment", deployment.ID, "domain already bound", ErrDuplicateDomain)
		}
		return NewStoreError("CreateDeployment", "deployment", deployment.ID, err.Error(), err)
	}
	return nil
}

func getDeployment(ctx context.Context, ex executor, id string) (*domain.Deployment, error) {
	var row deploymentRow
	err := ex.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}
	d := row.toDomain()
	return &d, nil
}

func findDeploymentByDomain(ctx context.Context, ex executor, domainName string) (*domain.Deployment, error) {
	var row deploymentRow
	err := ex.GetContext(ctx, &row, `SELECT * FROM deployments WHERE domain = ?`, domainName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("FindDeploymentByDomain", "deployment", domainName, "not found", ErrNotFound)
		}
		return nil, NewStoreError("FindDeploymentByDomain", "deployment", domainName, err.Error(), err)
	}
	d := row.toDomain()
	return &d, nil
}

func updateDeployment(ctx context.Context, ex executor, deployment *domain.Deployment) error {
	row := toDeploymentRow(deployment)
	res, err := ex.NamedExecContext(ctx, `
		UPDATE deployments
		SET domain = :domain, repo = :repo, build_path = :build_path,
		    host_port = :host_port, volume_name = :volume_name,
		    insecure = :insecure, updated_at = :updated_at
		WHERE id = :id`,
		row)
	if err != nil {
		return NewStoreError("UpdateDeployment", "deployment", deployment.ID, err.Error(), err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return NewStoreError("UpdateDeployment", "deployment", deployment.ID, "not found", ErrNotFound)
	}
	return nil
}

func deleteDeployment(ctx context.Context, ex executor, id string) error {
	res, err := ex.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteDeployment", "deployment", id, err.Error(), err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return NewStoreError("DeleteDeployment", "deployment", id, "not found", ErrNotFound)
	}
	return nil
}

func listDeployments(ctx context.Context, ex executor, opts ListOptions) ([]domain.Deployment, error) {
	opts = opts.Normalize()

	var rows []deploymentRow
	err := ex.SelectContext(ctx, &rows, `
		SELECT * FROM deployments ORDER BY created_at LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		deployments = append(deployments, row.toDomain())
	}
	return deployments, nil
}

// =============================================================================
// Token Operations
// =============================================================================

// tokenRow represents a stored credential row.
type tokenRow struct {
	HostPrefix string `db:"host_prefix"`
	Provider   string `db:"provider"`
	Username   string `db:"username"`
	Token      string `db:"token"`
}

func putToken(ctx context.Context, ex executor, token *domain.Token) error {
	row := tokenRow{
		HostPrefix: token.HostPrefix,
		Provider:   token.Provider,
		Username:   token.Username,
		Token:      token.Token,
	}
	_, err := ex.NamedExecContext(ctx, `
		INSERT INTO tokens (host_prefix, provider, username, token)
		VALUES (:host_prefix, :provider, :username, :token)
		ON CONFLICT(host_prefix) DO UPDATE SET
			provider = excluded.provider,
			username = excluded.username,
			token = excluded.token`,
		row)
	if err != nil {
		return NewStoreError("PutToken", "token", token.HostPrefix, err.Error(), err)
	}
	return nil
}

func listTokens(ctx context.Context, ex executor) ([]domain.Token, error) {
	var rows []tokenRow
	err := ex.SelectContext(ctx, &rows, `SELECT * FROM tokens ORDER BY host_prefix`)
	if err != nil {
		return nil, NewStoreError("ListTokens", "token", "", err.Error(), err)
	}

	tokens := make([]domain.Token, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, domain.Token{
			HostPrefix: row.HostPrefix,
			Provider:   row.Provider,
			Username:   row.Username,
			Token:      row.Token,
		})
	}
	return tokens, nil
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return createDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) FindDeploymentByDomain(ctx context.Context, domainName string) (*domain.Deployment, error) {
	return findDeploymentByDomain(ctx, s.tx, domainName)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return updateDeployment(ctx, s.tx, deployment)
}

func (s *txSQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	return deleteDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.Deployment, error) {
	return listDeployments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) PutToken(ctx context.Context, token *domain.Token) error {
	return putToken(ctx, s.tx, token)
}

func (s *txSQLiteStore) ListTokens(ctx context.Context) ([]domain.Token, error) {
	return listTokens(ctx, s.tx)
}

// WithTx on a transaction store reuses the current transaction.
func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	return nil
}
