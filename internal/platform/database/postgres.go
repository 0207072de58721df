package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// PostgreSQL is an implementation of the Database interface using PostgreSQL
type PostgreSQL struct {
	pool *pgxpool.Pool
}

var _ database.Database = (*PostgreSQL)(nil)

// Executor is an interface for executing queries (satisfied by both pgx.Tx and pgxpool.Pool)
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// getExecutor returns the appropriate executor (transaction or pool)
func (db *PostgreSQL) getExecutor(tx pgx.Tx) Executor {
	if tx != nil {
		return tx
	}
	return db.pool
}

// NewPostgreSQL creates a new instance of the PostgreSQL database and
// applies pending migrations.
func NewPostgreSQL(ctx context.Context, connectionURI string, log *slog.Logger) (*PostgreSQL, error) {
	// Parse connection config for pool settings
	config, err := pgxpool.ParseConfig(connectionURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	// Configure pool for stability-focused defaults
	config.MaxConns = 30                      // Handle good concurrent load
	config.MinConns = 5                       // Keep connections warm for fast response
	config.MaxConnIdleTime = 30 * time.Minute // Keep connections available for bursts
	config.MaxConnLifetime = 2 * time.Hour    // Refresh connections regularly for stability

	// Create connection pool with configured settings
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	// Test the connection
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	// Run migrations through goose on the pool
	migrator, err := NewMigrator(pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer func() { _ = migrator.Close() }()

	if err := migrator.Up(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

// Pool exposes the underlying connection pool.
func (db *PostgreSQL) Pool() *pgxpool.Pool {
	return db.pool
}

// mapError converts driver errors into the package's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return database.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", database.ErrAlreadyExists, pgErr.ConstraintName)
		case "23503", "23514", "23502", "22P02":
			return fmt.Errorf("%w: %s", database.ErrInvalidInput, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", database.ErrDatabase, err)
}

// GetServerInstall retrieves the install record for a server in an organization
func (db *PostgreSQL) GetServerInstall(ctx context.Context, tx pgx.Tx, orgID, serverID string) (*models.ServerInstall, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	query := `
		SELECT id, organization_id, server_id, server_title, envs, inputs, root_dir, config_revision
		FROM server_installs
		WHERE organization_id = $1 AND server_id = $2`

	var (
		install models.ServerInstall
		envs    []byte
		inputs  []byte
	)
	err := db.getExecutor(tx).QueryRow(ctx, query, orgID, serverID).Scan(
		&install.ID, &install.OrganizationID, &install.ServerID, &install.ServerTitle,
		&envs, &inputs, &install.RootDir, &install.ConfigRevision,
	)
	if err != nil {
		return nil, mapError(err)
	}
	// Parse the config from JSONB
	if err := json.Unmarshal(envs, &install.Envs); err != nil {
		return nil, fmt.Errorf("decode install envs: %w", err)
	}
	if err := json.Unmarshal(inputs, &install.Inputs); err != nil {
		return nil, fmt.Errorf("decode install inputs: %w", err)
	}
	return &install, nil
}

// PutServerInstall inserts or replaces an install record. Installs are owned
// by the server catalogue; this exists for seeding and tests.
func (db *PostgreSQL) PutServerInstall(ctx context.Context, tx pgx.Tx, install *models.ServerInstall) error {
	envs, err := json.Marshal(nonNilEnvs(install.Envs))
	if err != nil {
		return err
	}
	inputs, err := json.Marshal(nonNilInputs(install.Inputs))
	if err != nil {
		return err
	}
	_, err = db.getExecutor(tx).Exec(ctx, `
		INSERT INTO server_installs (id, organization_id, server_id, server_title, envs, inputs, root_dir, config_revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			server_title = EXCLUDED.server_title,
			envs = EXCLUDED.envs,
			inputs = EXCLUDED.inputs,
			root_dir = EXCLUDED.root_dir,
			config_revision = EXCLUDED.config_revision`,
		install.ID, install.OrganizationID, install.ServerID, install.ServerTitle,
		string(envs), string(inputs), install.RootDir, install.ConfigRevision,
	)
	return mapError(err)
}

// FindGitHubInstallation retrieves an organization's installation of a GitHub App
// by account login, case-insensitively
func (db *PostgreSQL) FindGitHubInstallation(ctx context.Context, tx pgx.Tx, orgID string, appID int64, accountLogin string) (*models.GitHubInstallation, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	query := `
		SELECT organization_id, app_id, account_login, installation_id, suspended
		FROM github_installations
		WHERE organization_id = $1 AND app_id = $2 AND LOWER(account_login) = LOWER($3)`

	var inst models.GitHubInstallation
	err := db.getExecutor(tx).QueryRow(ctx, query, orgID, appID, accountLogin).Scan(
		&inst.OrganizationID, &inst.AppID, &inst.AccountLogin, &inst.InstallationID, &inst.Suspended,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &inst, nil
}

// PutGitHubInstallation records an installation. Installations are written
// by the GitHub App setup flow; this exists for seeding and tests.
func (db *PostgreSQL) PutGitHubInstallation(ctx context.Context, tx pgx.Tx, inst *models.GitHubInstallation) error {
	_, err := db.getExecutor(tx).Exec(ctx, `
		INSERT INTO github_installations (organization_id, app_id, account_login, installation_id, suspended)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, app_id, (LOWER(account_login))) DO UPDATE SET
			installation_id = EXCLUDED.installation_id,
			suspended = EXCLUDED.suspended`,
		inst.OrganizationID, inst.AppID, inst.AccountLogin, inst.InstallationID, inst.Suspended,
	)
	return mapError(err)
}

// CreateBuild inserts a new build with its source and config snapshot
func (db *PostgreSQL) CreateBuild(ctx context.Context, tx pgx.Tx, build *models.Build) error {
	// Marshal the config snapshot to JSONB
	envs, err := json.Marshal(nonNilEnvs(build.Config.Envs))
	if err != nil {
		return err
	}
	inputs, err := json.Marshal(nonNilInputs(build.Config.Inputs))
	if err != nil {
		return err
	}

	// Only the columns of the supplied source are set
	var owner, repo, ref, commit, artifact *string
	if gh := build.Source.GitHub; gh != nil {
		owner, repo, ref, commit = &gh.Owner, &gh.Repo, &gh.Ref, &gh.CommitHash
	}
	if a := build.Source.Artifact; a != nil {
		artifact = &a.URI
	}

	err = db.getExecutor(tx).QueryRow(ctx, `
		INSERT INTO builds (
			id, server_id, organization_id, trigger_type,
			github_owner, github_repo, github_ref, github_commit, artifact_uri,
			status, config_envs, config_inputs, config_hash, config_revision, root_dir
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		build.ID, build.ServerID, build.OrganizationID, string(build.TriggerType),
		owner, repo, ref, commit, artifact,
		string(build.Status), string(envs), string(inputs),
		build.Config.ConfigHash, build.Config.ConfigRevision, build.Config.RootDir,
	).Scan(&build.CreatedAt, &build.UpdatedAt)
	return mapError(err)
}

// CreateDeployment inserts a new deployment of a build
func (db *PostgreSQL) CreateDeployment(ctx context.Context, tx pgx.Tx, d *models.Deployment) error {
	err := db.getExecutor(tx).QueryRow(ctx, `
		INSERT INTO deployments (id, build_id, server_id, organization_id, install_id, status, target)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.BuildID, d.ServerID, d.OrganizationID, d.InstallID, string(d.Status), string(d.Target),
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return mapError(err)
}

// CreateRevision inserts a new revision for a deployment
func (db *PostgreSQL) CreateRevision(ctx context.Context, tx pgx.Tx, r *models.Revision) error {
	err := db.getExecutor(tx).QueryRow(ctx, `
		INSERT INTO revisions (id, build_id, deployment_id, server_id, organization_id, version, current, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		r.ID, r.BuildID, r.DeploymentID, r.ServerID, r.OrganizationID, r.Version, r.Current, string(r.Status),
	).Scan(&r.CreatedAt)
	return mapError(err)
}

const buildColumns = `
	id, server_id, organization_id, trigger_type,
	github_owner, github_repo, github_ref, github_commit, artifact_uri,
	status, image_ref, image_digest, built_at,
	config_envs, config_inputs, config_hash, config_revision, root_dir,
	created_at, updated_at`

func scanBuild(row pgx.Row) (*models.Build, error) {
	var (
		b                        models.Build
		trigger, status          string
		owner, repo, ref, commit *string
		artifact                 *string
		envs, inputs             []byte
	)
	err := row.Scan(
		&b.ID, &b.ServerID, &b.OrganizationID, &trigger,
		&owner, &repo, &ref, &commit, &artifact,
		&status, &b.ImageRef, &b.ImageDigest, &b.BuiltAt,
		&envs, &inputs, &b.Config.ConfigHash, &b.Config.ConfigRevision, &b.Config.RootDir,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	// Rebuild the source from whichever columns are set
	b.TriggerType = models.TriggerType(trigger)
	b.Status = models.Status(status)
	if repo != nil {
		b.Source.GitHub = &models.GitHubSource{
			Owner:      deref(owner),
			Repo:       *repo,
			Ref:        deref(ref),
			CommitHash: deref(commit),
		}
	}
	if artifact != nil {
		b.Source.Artifact = &models.ArtifactSource{URI: *artifact}
	}
	if err := json.Unmarshal(envs, &b.Config.Envs); err != nil {
		return nil, fmt.Errorf("decode build envs: %w", err)
	}
	if err := json.Unmarshal(inputs, &b.Config.Inputs); err != nil {
		return nil, fmt.Errorf("decode build inputs: %w", err)
	}
	return &b, nil
}

// GetBuild retrieves a build by ID
func (db *PostgreSQL) GetBuild(ctx context.Context, tx pgx.Tx, buildID string) (*models.Build, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	row := db.getExecutor(tx).QueryRow(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = $1`, buildID)
	return scanBuild(row)
}

const deploymentColumns = `id, build_id, server_id, organization_id, install_id, status, target, created_at, updated_at`

func scanDeployment(row pgx.Row) (*models.Deployment, error) {
	var (
		d              models.Deployment
		status, target string
	)
	err := row.Scan(&d.ID, &d.BuildID, &d.ServerID, &d.OrganizationID, &d.InstallID, &status, &target, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	d.Status = models.Status(status)
	d.Target = models.Target(target)
	return &d, nil
}

// GetDeployment retrieves a deployment by ID
func (db *PostgreSQL) GetDeployment(ctx context.Context, tx pgx.Tx, deploymentID string) (*models.Deployment, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	row := db.getExecutor(tx).QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, deploymentID)
	return scanDeployment(row)
}

// ListDeployments returns deployments matching the filter, oldest first
func (db *PostgreSQL) ListDeployments(ctx context.Context, tx pgx.Tx, filter models.DeploymentFilter) ([]*models.Deployment, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Build WHERE clause conditions
	var whereConditions []string
	args := []any{}
	argIndex := 1

	if filter.OrganizationID != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("organization_id = $%d", argIndex))
		args = append(args, *filter.OrganizationID)
		argIndex++
	}
	if filter.Status != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, string(*filter.Status))
		argIndex++
	}
	if filter.CreatedBefore != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	// Build the complete query
	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	if len(whereConditions) > 0 {
		query += " WHERE " + strings.Join(whereConditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	// Add limit
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := db.getExecutor(tx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	// Process results
	var out []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

const revisionColumns = `id, build_id, deployment_id, server_id, organization_id, version, current, status, created_at`

func scanRevision(row pgx.Row) (*models.Revision, error) {
	var (
		r      models.Revision
		status string
	)
	err := row.Scan(&r.ID, &r.BuildID, &r.DeploymentID, &r.ServerID, &r.OrganizationID, &r.Version, &r.Current, &status, &r.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	r.Status = models.RevisionStatus(status)
	return &r, nil
}

// GetRevision retrieves a revision by ID
func (db *PostgreSQL) GetRevision(ctx context.Context, tx pgx.Tx, revisionID string) (*models.Revision, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	row := db.getExecutor(tx).QueryRow(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE id = $1`, revisionID)
	return scanRevision(row)
}

// GetRevisionByDeployment retrieves the revision created for a deployment
func (db *PostgreSQL) GetRevisionByDeployment(ctx context.Context, tx pgx.Tx, deploymentID string) (*models.Revision, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	row := db.getExecutor(tx).QueryRow(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE deployment_id = $1`, deploymentID)
	return scanRevision(row)
}

// ApplyBuildEvent updates the build and deployment named by a build event in
// one statement. It reports whether either row matched.
func (db *PostgreSQL) ApplyBuildEvent(ctx context.Context, tx pgx.Tx, event models.BuildEvent) (bool, error) {
	query := `
		WITH b AS (
			UPDATE builds SET
				status = $3,
				built_at = COALESCE($4, built_at),
				image_ref = COALESCE($5, image_ref),
				image_digest = COALESCE($6, image_digest),
				updated_at = NOW()
			WHERE id = $1
			RETURNING id
		), d AS (
			UPDATE deployments SET status = $3, updated_at = NOW()
			WHERE id = $2
			RETURNING id
		)
		SELECT (SELECT COUNT(*) FROM b) + (SELECT COUNT(*) FROM d)`

	var matched int64
	err := db.getExecutor(tx).QueryRow(ctx, query,
		event.BuildID, event.DeploymentID, string(event.Status),
		event.BuiltAt, event.ImageRef, event.ImageDigest,
	).Scan(&matched)
	if err != nil {
		return false, mapError(err)
	}
	return matched > 0, nil
}

// SetBuildStatus updates the status of a build and of every deployment of it
func (db *PostgreSQL) SetBuildStatus(ctx context.Context, tx pgx.Tx, buildID string, status models.Status) error {
	query := `
		WITH b AS (
			UPDATE builds SET
				status = $2,
				built_at = CASE WHEN $3 THEN NOW() ELSE built_at END,
				updated_at = NOW()
			WHERE id = $1
			RETURNING id
		), d AS (
			UPDATE deployments SET status = $2, updated_at = NOW()
			WHERE build_id = $1
			RETURNING id
		)
		SELECT COUNT(*) FROM b`

	var matched int64
	err := db.getExecutor(tx).QueryRow(ctx, query, buildID, string(status), status.IsTerminal()).Scan(&matched)
	if err != nil {
		return mapError(err)
	}
	if matched == 0 {
		return database.ErrNotFound
	}
	return nil
}

// InTransaction executes a function within a database transaction
func (db *PostgreSQL) InTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	//nolint:contextcheck // Intentionally using separate context for rollback to ensure cleanup even if request is cancelled
	defer func() {
		rollbackCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if rbErr := tx.Rollback(rollbackCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Default().Error("failed to rollback transaction", "error", rbErr)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the pool can reach the database
func (db *PostgreSQL) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the database connection
func (db *PostgreSQL) Close() error {
	db.pool.Close()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNilEnvs(envs []models.EnvVar) []models.EnvVar {
	if envs == nil {
		return []models.EnvVar{}
	}
	return envs
}

func nonNilInputs(inputs map[string]string) map[string]string {
	if inputs == nil {
		return map[string]string{}
	}
	return inputs
}
