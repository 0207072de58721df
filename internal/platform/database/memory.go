package database

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// MemoryDB is an in-process Database used for local development
// (DATABASE_URL=memory) and tests. Transactions stage their writes and
// publish them on commit, so a failed transaction leaves no trace.
type MemoryDB struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *memState
	now   func() time.Time
}

var _ database.Database = (*MemoryDB)(nil)

type memState struct {
	installs    map[string]*models.ServerInstall
	ghInstalls  map[string]*models.GitHubInstallation
	builds      map[string]*models.Build
	deployments map[string]*models.Deployment
	revisions   map[string]*models.Revision
}

func newMemState() *memState {
	return &memState{
		installs:    map[string]*models.ServerInstall{},
		ghInstalls:  map[string]*models.GitHubInstallation{},
		builds:      map[string]*models.Build{},
		deployments: map[string]*models.Deployment{},
		revisions:   map[string]*models.Revision{},
	}
}

// memTx is the transaction handle passed to callbacks. Only the staged state
// is used; the embedded pgx.Tx is nil and must never be called.
type memTx struct {
	pgx.Tx
	staged *memState
}

// NewMemoryDB returns an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{state: newMemState(), now: time.Now}
}

// SetClock overrides the time source used for timestamps.
func (db *MemoryDB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

func staged(tx pgx.Tx) *memState {
	if t, ok := tx.(*memTx); ok && t != nil {
		return t.staged
	}
	return nil
}

func installKey(orgID, serverID string) string {
	return orgID + "\x00" + serverID
}

func ghKey(orgID string, appID int64, login string) string {
	return fmt.Sprintf("%s\x00%d\x00%s", orgID, appID, strings.ToLower(login))
}

// lookup helpers check staged writes before committed state. Callers hold mu.

func (db *MemoryDB) build(tx pgx.Tx, id string) *models.Build {
	if s := staged(tx); s != nil {
		if b, ok := s.builds[id]; ok {
			return b
		}
	}
	return db.state.builds[id]
}

func (db *MemoryDB) deployment(tx pgx.Tx, id string) *models.Deployment {
	if s := staged(tx); s != nil {
		if d, ok := s.deployments[id]; ok {
			return d
		}
	}
	return db.state.deployments[id]
}

func (db *MemoryDB) allRevisions(tx pgx.Tx) map[string]*models.Revision {
	out := maps.Clone(db.state.revisions)
	if s := staged(tx); s != nil {
		maps.Copy(out, s.revisions)
	}
	return out
}

func (db *MemoryDB) allDeployments(tx pgx.Tx) map[string]*models.Deployment {
	out := maps.Clone(db.state.deployments)
	if s := staged(tx); s != nil {
		maps.Copy(out, s.deployments)
	}
	return out
}

func (db *MemoryDB) target(tx pgx.Tx) *memState {
	if s := staged(tx); s != nil {
		return s
	}
	return db.state
}

func (db *MemoryDB) GetServerInstall(ctx context.Context, tx pgx.Tx, orgID, serverID string) (*models.ServerInstall, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	install, ok := db.state.installs[installKey(orgID, serverID)]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *install
	return &cp, nil
}

// PutServerInstall inserts or replaces an install record.
func (db *MemoryDB) PutServerInstall(_ context.Context, _ pgx.Tx, install *models.ServerInstall) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *install
	db.state.installs[installKey(install.OrganizationID, install.ServerID)] = &cp
	return nil
}

func (db *MemoryDB) installExists(id string) bool {
	for _, in := range db.state.installs {
		if in.ID == id {
			return true
		}
	}
	return false
}

func (db *MemoryDB) FindGitHubInstallation(ctx context.Context, _ pgx.Tx, orgID string, appID int64, accountLogin string) (*models.GitHubInstallation, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	inst, ok := db.state.ghInstalls[ghKey(orgID, appID, accountLogin)]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

// PutGitHubInstallation records an installation.
func (db *MemoryDB) PutGitHubInstallation(_ context.Context, _ pgx.Tx, inst *models.GitHubInstallation) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *inst
	db.state.ghInstalls[ghKey(inst.OrganizationID, inst.AppID, inst.AccountLogin)] = &cp
	return nil
}

func (db *MemoryDB) CreateBuild(ctx context.Context, tx pgx.Tx, build *models.Build) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.build(tx, build.ID) != nil {
		return fmt.Errorf("%w: builds_pkey", database.ErrAlreadyExists)
	}
	if build.Source.GitHub != nil && build.Source.Artifact != nil {
		return fmt.Errorf("%w: builds_single_source", database.ErrInvalidInput)
	}
	now := db.now()
	cp := *build
	cp.CreatedAt, cp.UpdatedAt = now, now
	db.target(tx).builds[build.ID] = &cp
	build.CreatedAt, build.UpdatedAt = now, now
	return nil
}

func (db *MemoryDB) CreateDeployment(ctx context.Context, tx pgx.Tx, d *models.Deployment) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.deployment(tx, d.ID) != nil {
		return fmt.Errorf("%w: deployments_pkey", database.ErrAlreadyExists)
	}
	if db.build(tx, d.BuildID) == nil {
		return fmt.Errorf("%w: deployments_build_id_fkey", database.ErrInvalidInput)
	}
	if !db.installExists(d.InstallID) {
		return fmt.Errorf("%w: deployments_install_id_fkey", database.ErrInvalidInput)
	}
	for _, existing := range db.allDeployments(tx) {
		if existing.BuildID == d.BuildID {
			return fmt.Errorf("%w: deployments_build_id_key", database.ErrAlreadyExists)
		}
	}
	now := db.now()
	cp := *d
	cp.CreatedAt, cp.UpdatedAt = now, now
	db.target(tx).deployments[d.ID] = &cp
	d.CreatedAt, d.UpdatedAt = now, now
	return nil
}

func (db *MemoryDB) CreateRevision(ctx context.Context, tx pgx.Tx, r *models.Revision) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.build(tx, r.BuildID) == nil {
		return fmt.Errorf("%w: revisions_build_id_fkey", database.ErrInvalidInput)
	}
	if db.deployment(tx, r.DeploymentID) == nil {
		return fmt.Errorf("%w: revisions_deployment_id_fkey", database.ErrInvalidInput)
	}
	for _, existing := range db.allRevisions(tx) {
		switch {
		case existing.ID == r.ID:
			return fmt.Errorf("%w: revisions_pkey", database.ErrAlreadyExists)
		case existing.DeploymentID == r.DeploymentID:
			return fmt.Errorf("%w: revisions_deployment_id_key", database.ErrAlreadyExists)
		case r.Version != nil && existing.Version != nil &&
			existing.ServerID == r.ServerID && *existing.Version == *r.Version:
			return fmt.Errorf("%w: revisions_server_version_idx", database.ErrAlreadyExists)
		}
	}
	cp := *r
	cp.CreatedAt = db.now()
	db.target(tx).revisions[r.ID] = &cp
	r.CreatedAt = cp.CreatedAt
	return nil
}

func (db *MemoryDB) GetBuild(ctx context.Context, tx pgx.Tx, buildID string) (*models.Build, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	b := db.build(tx, buildID)
	if b == nil {
		return nil, database.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (db *MemoryDB) GetDeployment(ctx context.Context, tx pgx.Tx, deploymentID string) (*models.Deployment, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	d := db.deployment(tx, deploymentID)
	if d == nil {
		return nil, database.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (db *MemoryDB) GetRevision(ctx context.Context, tx pgx.Tx, revisionID string) (*models.Revision, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.allRevisions(tx)[revisionID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (db *MemoryDB) GetRevisionByDeployment(ctx context.Context, tx pgx.Tx, deploymentID string) (*models.Revision, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, r := range db.allRevisions(tx) {
		if r.DeploymentID == deploymentID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (db *MemoryDB) ListDeployments(ctx context.Context, tx pgx.Tx, filter models.DeploymentFilter) ([]*models.Deployment, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []*models.Deployment
	for _, d := range db.allDeployments(tx) {
		if filter.OrganizationID != nil && d.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.CreatedBefore != nil && !d.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *MemoryDB) ApplyBuildEvent(ctx context.Context, tx pgx.Tx, event models.BuildEvent) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	matched := false
	if b := db.build(tx, event.BuildID); b != nil {
		cp := *b
		cp.Status = event.Status
		if event.BuiltAt != nil {
			cp.BuiltAt = event.BuiltAt
		}
		if event.ImageRef != nil {
			cp.ImageRef = event.ImageRef
		}
		if event.ImageDigest != nil {
			cp.ImageDigest = event.ImageDigest
		}
		cp.UpdatedAt = now
		db.target(tx).builds[cp.ID] = &cp
		matched = true
	}
	if d := db.deployment(tx, event.DeploymentID); d != nil {
		cp := *d
		cp.Status = event.Status
		cp.UpdatedAt = now
		db.target(tx).deployments[cp.ID] = &cp
		matched = true
	}
	return matched, nil
}

func (db *MemoryDB) SetBuildStatus(ctx context.Context, tx pgx.Tx, buildID string, status models.Status) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	b := db.build(tx, buildID)
	if b == nil {
		return database.ErrNotFound
	}
	now := db.now()
	cp := *b
	cp.Status = status
	if status.IsTerminal() {
		cp.BuiltAt = &now
	}
	cp.UpdatedAt = now
	db.target(tx).builds[cp.ID] = &cp

	for _, d := range db.allDeployments(tx) {
		if d.BuildID == buildID {
			dcp := *d
			dcp.Status = status
			dcp.UpdatedAt = now
			db.target(tx).deployments[dcp.ID] = &dcp
		}
	}
	return nil
}

// InTransaction runs fn against a staging area that is published only when
// fn succeeds. Transactions are serialised.
func (db *MemoryDB) InTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()

	tx := &memTx{staged: newMemState()}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	maps.Copy(db.state.installs, tx.staged.installs)
	maps.Copy(db.state.ghInstalls, tx.staged.ghInstalls)
	maps.Copy(db.state.builds, tx.staged.builds)
	maps.Copy(db.state.deployments, tx.staged.deployments)
	maps.Copy(db.state.revisions, tx.staged.revisions)
	return nil
}

func (db *MemoryDB) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (db *MemoryDB) Close() error {
	return nil
}

// Counts reports the number of committed builds, deployments and revisions.
func (db *MemoryDB) Counts() (builds, deployments, revisions int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.state.builds), len(db.state.deployments), len(db.state.revisions)
}
