package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/riverly-dev/riverly/internal/platform/cloudbuild"
	"github.com/riverly-dev/riverly/internal/platform/correlation"
	"github.com/riverly-dev/riverly/internal/platform/ratelimit"
	"github.com/riverly-dev/riverly/internal/platform/telemetry"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// Options carries the collaborators of the deployment service. Limiter and
// Metrics may be nil.
type Options struct {
	DB           database.Database
	Resolver     InstallationResolver
	Submitter    Submitter
	Limiter      ratelimit.Limiter
	Metrics      *telemetry.Metrics
	Log          *slog.Logger
	DefaultAppID int64
	// NewID generates record ids. Defaults to random UUIDs.
	NewID func() string
}

type deploymentServiceImpl struct {
	db           database.Database
	resolver     InstallationResolver
	submitter    Submitter
	limiter      ratelimit.Limiter
	metrics      *telemetry.Metrics
	log          *slog.Logger
	validate     *validator.Validate
	defaultAppID int64
	newID        func() string
}

var _ DeploymentService = (*deploymentServiceImpl)(nil)

// NewDeploymentService creates a new deployment service
func NewDeploymentService(opts Options) DeploymentService {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &deploymentServiceImpl{
		db:           opts.DB,
		resolver:     opts.Resolver,
		submitter:    opts.Submitter,
		limiter:      opts.Limiter,
		metrics:      opts.Metrics,
		log:          log.With("component", "deployments"),
		validate:     newValidator(),
		defaultAppID: opts.DefaultAppID,
		newID:        newID,
	}
}

// resolvedSource is the build source after revision lookup and GitHub
// installation resolution.
type resolvedSource struct {
	build  models.BuildSource
	github *cloudbuild.GitHubJobSource
	config *models.ConfigSnapshot
}

type triplet struct {
	build      *models.Build
	deployment *models.Deployment
	revision   *models.Revision
}

func (s *deploymentServiceImpl) TriggerDeployment(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	result, err := s.triggerDeployment(ctx, req)
	s.metrics.RecordDeployment(ctx, outcome(err))
	return result, err
}

func outcome(err error) string {
	if err == nil {
		return "placed"
	}
	if code, ok := CodeOf(err); ok {
		return string(code)
	}
	return "error"
}

func (s *deploymentServiceImpl) triggerDeployment(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}
	if req.TriggerType == "" {
		req.TriggerType = models.TriggerManual
	}

	if s.limiter != nil {
		if d := s.limiter.Allow(ctx, "deploy:"+req.OrganizationID); !d.Allowed {
			return nil, newError(CodeRateLimited,
				fmt.Sprintf("deployment rate limit reached, retry after %s", d.ResetAt.UTC().Format(time.RFC3339)), nil)
		}
	}

	install, err := s.db.GetServerInstall(ctx, nil, req.OrganizationID, req.ServerID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, newError(CodeServerNotInstalled,
			fmt.Sprintf("server %s is not installed for organization %s", req.ServerID, req.OrganizationID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load server install: %w", err)
	}
	if req.ServerTitle == "" {
		req.ServerTitle = install.ServerTitle
	}

	src, err := s.resolveSource(ctx, &req)
	if err != nil {
		return nil, err
	}

	config := s.snapshot(install, req.Config, src.config)

	records, err := database.InTransactionT(ctx, s.db, func(ctx context.Context, tx pgx.Tx) (*triplet, error) {
		return s.insertTriplet(ctx, tx, &req, install, src.build, config)
	})
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, fmt.Errorf("record deployment: %w", err)
	}

	result := &TriggerResult{
		DeploymentID: records.deployment.ID,
		BuildID:      records.build.ID,
		RevisionID:   records.revision.ID,
	}
	log := s.log.With(
		"organization_id", req.OrganizationID,
		"server_id", req.ServerID,
		"deployment_id", result.DeploymentID,
		"build_id", result.BuildID,
	)

	spec := cloudbuild.JobSpec{
		OrganizationID: req.OrganizationID,
		MemberID:       req.MemberID,
		ServerID:       req.ServerID,
		ServerTitle:    req.ServerTitle,
		BuildID:        records.build.ID,
		DeploymentID:   records.deployment.ID,
		Target:         req.Target,
		Kind:           correlation.KindBuildDeploy,
		GitHub:         src.github,
		Artifact:       src.build.Artifact,
		Config:         config,
	}

	// The records are committed; a failed submission leaves them placed.
	placement, err := s.submitter.Submit(ctx, spec)
	if err != nil {
		log.Error("build job submission failed, deployment left placed", "error", err)
		return result, newError(CodeJobSubmission, "failed to submit build job", err)
	}

	result.Job = JobOutcome{Status: placement.Status, ExternalJobID: placement.ExternalJobID}
	log.Info("deployment triggered", "job_status", placement.Status, "external_job_id", placement.ExternalJobID)
	return result, nil
}

// resolveSource turns the request source into a build source, resolving
// the GitHub installation for repo sources and loading the prior build for
// revision redeploys.
func (s *deploymentServiceImpl) resolveSource(ctx context.Context, req *TriggerRequest) (*resolvedSource, error) {
	switch {
	case req.Source.Repo != nil:
		repo := *req.Source.Repo
		gh, err := s.resolveGitHub(ctx, req, repo)
		if err != nil {
			return nil, err
		}
		return &resolvedSource{build: models.BuildSource{GitHub: &repo}, github: gh}, nil

	case req.Source.Artifact != nil:
		artifact := *req.Source.Artifact
		return &resolvedSource{build: models.BuildSource{Artifact: &artifact}}, nil

	default:
		return s.resolveRevision(ctx, req, *req.Source.RevisionID)
	}
}

func (s *deploymentServiceImpl) resolveGitHub(ctx context.Context, req *TriggerRequest, repo models.GitHubSource) (*cloudbuild.GitHubJobSource, error) {
	appID := req.GitHubAppID
	if appID == 0 {
		appID = s.defaultAppID
	}
	inst, err := s.resolver.ResolveInstallation(ctx, req.OrganizationID, appID, repo.Owner)
	if err != nil {
		return nil, fmt.Errorf("resolve github installation: %w", err)
	}
	if inst == nil {
		return nil, newError(CodeInstallationNotFound,
			fmt.Sprintf("organization has not connected GitHub account %q", repo.Owner), nil)
	}
	return &cloudbuild.GitHubJobSource{
		AppID:          inst.AppID,
		InstallationID: inst.InstallationID,
		Owner:          repo.Owner,
		Repo:           repo.Repo,
		Ref:            repo.Ref,
		CommitHash:     repo.CommitHash,
	}, nil
}

// resolveRevision reuses the source and frozen config of the build behind
// an existing revision.
func (s *deploymentServiceImpl) resolveRevision(ctx context.Context, req *TriggerRequest, revisionID string) (*resolvedSource, error) {
	rev, err := s.db.GetRevision(ctx, nil, revisionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, newError(CodeValidation, fmt.Sprintf("revision %s not found", revisionID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load revision: %w", err)
	}
	if rev.OrganizationID != req.OrganizationID || rev.ServerID != req.ServerID {
		return nil, newError(CodeValidation, fmt.Sprintf("revision %s does not belong to server %s", revisionID, req.ServerID), nil)
	}
	prior, err := s.db.GetBuild(ctx, nil, rev.BuildID)
	if err != nil {
		return nil, fmt.Errorf("load build for revision: %w", err)
	}

	out := &resolvedSource{build: prior.Source, config: &prior.Config}
	if prior.Source.GitHub != nil {
		gh, err := s.resolveGitHub(ctx, req, *prior.Source.GitHub)
		if err != nil {
			return nil, err
		}
		out.github = gh
	}
	return out, nil
}

// snapshot picks the config to freeze on the build: a revision's prior
// config, then an explicit override, then the live install config.
func (s *deploymentServiceImpl) snapshot(install *models.ServerInstall, override, prior *models.ConfigSnapshot) models.ConfigSnapshot {
	var c models.ConfigSnapshot
	switch {
	case prior != nil:
		c = *prior
	case override != nil:
		c = *override
	default:
		c = models.ConfigSnapshot{
			Envs:           install.Envs,
			Inputs:         install.Inputs,
			ConfigRevision: install.ConfigRevision,
			RootDir:        install.RootDir,
		}
	}
	if c.ConfigHash == "" {
		c.ConfigHash = ConfigHash(c.Envs, c.Inputs, c.RootDir)
	}
	return c
}

func (s *deploymentServiceImpl) insertTriplet(ctx context.Context, tx pgx.Tx, req *TriggerRequest, install *models.ServerInstall, source models.BuildSource, config models.ConfigSnapshot) (*triplet, error) {
	build := &models.Build{
		ID:             s.newID(),
		ServerID:       req.ServerID,
		OrganizationID: req.OrganizationID,
		TriggerType:    req.TriggerType,
		Source:         source,
		Status:         models.StatusPlaced,
		Config:         config,
	}
	if err := s.validate.Struct(build); err != nil {
		return nil, newError(CodeBuildInsert, "invalid build", err)
	}
	if err := s.db.CreateBuild(ctx, tx, build); err != nil {
		return nil, newError(CodeBuildInsert, "failed to insert build", err)
	}

	deployment := &models.Deployment{
		ID:             s.newID(),
		BuildID:        build.ID,
		ServerID:       req.ServerID,
		OrganizationID: req.OrganizationID,
		InstallID:      install.ID,
		Status:         build.Status,
		Target:         req.Target,
	}
	if err := s.validate.Struct(deployment); err != nil {
		return nil, newError(CodeDeployInsert, "invalid deployment", err)
	}
	if err := s.db.CreateDeployment(ctx, tx, deployment); err != nil {
		return nil, newError(CodeDeployInsert, "failed to insert deployment", err)
	}

	revision := &models.Revision{
		ID:             s.newID(),
		BuildID:        build.ID,
		DeploymentID:   deployment.ID,
		ServerID:       req.ServerID,
		OrganizationID: req.OrganizationID,
		Version:        req.Version,
		Status:         models.RevisionDraft,
	}
	if err := s.validate.Struct(revision); err != nil {
		return nil, newError(CodeRevisionInsert, "invalid revision", err)
	}
	if err := s.db.CreateRevision(ctx, tx, revision); err != nil {
		return nil, newError(CodeRevisionInsert, "failed to insert revision", err)
	}

	return &triplet{build: build, deployment: deployment, revision: revision}, nil
}

func (s *deploymentServiceImpl) GetDeployment(ctx context.Context, orgID, deploymentID string) (*models.DeploymentDetail, error) {
	d, err := s.db.GetDeployment(ctx, nil, deploymentID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && d.OrganizationID != orgID {
		return nil, database.ErrNotFound
	}
	b, err := s.db.GetBuild(ctx, nil, d.BuildID)
	if err != nil {
		return nil, fmt.Errorf("load build %s: %w", d.BuildID, err)
	}
	detail := &models.DeploymentDetail{Deployment: *d, Build: *b}
	rev, err := s.db.GetRevisionByDeployment(ctx, nil, d.ID)
	switch {
	case err == nil:
		detail.Revision = rev
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("load revision: %w", err)
	}
	return detail, nil
}

func (s *deploymentServiceImpl) ListStaleDeployments(ctx context.Context, orgID *string, olderThan time.Duration) ([]*models.Deployment, error) {
	if olderThan <= 0 {
		return nil, newError(CodeValidation, "olderThan must be positive", nil)
	}
	filter := database.StalePlacedFilter(olderThan, time.Now())
	filter.OrganizationID = orgID
	return s.db.ListDeployments(ctx, nil, filter)
}

func (s *deploymentServiceImpl) SetBuildStatus(ctx context.Context, buildID string, status models.Status) error {
	if buildID == "" {
		return newError(CodeValidation, "build id is required", nil)
	}
	if !status.Valid() {
		return newError(CodeValidation, fmt.Sprintf("invalid status %q", status), nil)
	}
	if err := s.db.SetBuildStatus(ctx, nil, buildID, status); err != nil {
		return err
	}
	s.log.Info("build status set", "build_id", buildID, "status", status)
	return nil
}
