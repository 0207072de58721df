package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/riverly-dev/riverly/pkg/models"
)

// Common database errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
)

// Database defines the storage contract used by deployment orchestration.
// Every method takes an explicit transaction handle; a nil tx runs the
// statement outside any transaction.
type Database interface {
	// GetServerInstall returns the install record for a server within an
	// organization, or ErrNotFound when the server is not installed.
	GetServerInstall(ctx context.Context, tx pgx.Tx, orgID, serverID string) (*models.ServerInstall, error)
	// FindGitHubInstallation looks up a GitHub App installation by account
	// login (case-insensitive). It returns ErrNotFound when none exists.
	FindGitHubInstallation(ctx context.Context, tx pgx.Tx, orgID string, appID int64, accountLogin string) (*models.GitHubInstallation, error)

	CreateBuild(ctx context.Context, tx pgx.Tx, build *models.Build) error
	CreateDeployment(ctx context.Context, tx pgx.Tx, deployment *models.Deployment) error
	CreateRevision(ctx context.Context, tx pgx.Tx, revision *models.Revision) error

	GetBuild(ctx context.Context, tx pgx.Tx, buildID string) (*models.Build, error)
	GetDeployment(ctx context.Context, tx pgx.Tx, deploymentID string) (*models.Deployment, error)
	GetRevision(ctx context.Context, tx pgx.Tx, revisionID string) (*models.Revision, error)
	GetRevisionByDeployment(ctx context.Context, tx pgx.Tx, deploymentID string) (*models.Revision, error)
	ListDeployments(ctx context.Context, tx pgx.Tx, filter models.DeploymentFilter) ([]*models.Deployment, error)

	// ApplyBuildEvent writes a reconciled status event to a build and its
	// deployment in one statement. It reports whether any row matched.
	// The write is unconditional: existing terminal statuses are overwritten.
	ApplyBuildEvent(ctx context.Context, tx pgx.Tx, event models.BuildEvent) (bool, error)
	// SetBuildStatus sets the status of a build and the deployment built
	// from it. It returns ErrNotFound when the build does not exist.
	SetBuildStatus(ctx context.Context, tx pgx.Tx, buildID string, status models.Status) error

	// InTransaction executes fn inside a transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close closes the database connection
	Close() error
}

// StalePlacedFilter selects deployments still placed after the given age.
func StalePlacedFilter(olderThan time.Duration, now time.Time) models.DeploymentFilter {
	status := models.StatusPlaced
	before := now.Add(-olderThan)
	return models.DeploymentFilter{
		Status:        &status,
		CreatedBefore: &before,
	}
}

// InTransactionT is a generic helper that wraps InTransaction for functions returning a value
// This exists because Go does not support generic methods on interfaces - only the Database interface
// method InTransaction (without generics) can exist, so we provide this generic wrapper function.
func InTransactionT[T any](ctx context.Context, db Database, fn func(ctx context.Context, tx pgx.Tx) (T, error)) (T, error) {
	var result T
	var fnErr error

	err := db.InTransaction(ctx, func(txCtx context.Context, tx pgx.Tx) error {
		result, fnErr = fn(txCtx, tx)
		return fnErr
	})

	if err != nil {
		var zero T
		return zero, err
	}

	return result, nil
}
