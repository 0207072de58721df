// Package github resolves GitHub App installations for organizations and
// mints repository-scoped installation tokens.
package github

import (
	"context"
	"errors"
	"fmt"

	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// Resolver answers which GitHub App installation an organization has
// connected for an account.
type Resolver struct {
	db database.Database
}

func NewResolver(db database.Database) *Resolver {
	return &Resolver{db: db}
}

// ResolveInstallation returns the installation connected by orgID for
// accountLogin under the given app. It returns nil, nil when the
// organization has not connected that account or the installation is
// suspended. Login matching is case-insensitive.
func (r *Resolver) ResolveInstallation(ctx context.Context, orgID string, appID int64, accountLogin string) (*models.GitHubInstallation, error) {
	if orgID == "" || accountLogin == "" {
		return nil, nil
	}
	inst, err := r.db.FindGitHubInstallation(ctx, nil, orgID, appID, accountLogin)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup github installation: %w", err)
	}
	if inst.Suspended {
		return nil, nil
	}
	return inst, nil
}
