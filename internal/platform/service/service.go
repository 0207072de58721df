package service

import (
	"context"
	"time"

	"github.com/riverly-dev/riverly/internal/platform/cloudbuild"
	"github.com/riverly-dev/riverly/pkg/models"
)

// DeploymentService defines the deployment orchestration operations
type DeploymentService interface {
	// TriggerDeployment records a Build/Deployment/Revision triplet and submits
	// the build job. On a submission failure the committed ids are returned
	// together with a JobSubmissionError.
	TriggerDeployment(ctx context.Context, req TriggerRequest) (*TriggerResult, error)
	// GetDeployment returns a deployment with its build and revision, scoped
	// to the organization.
	GetDeployment(ctx context.Context, orgID, deploymentID string) (*models.DeploymentDetail, error)
	// ListStaleDeployments returns deployments still placed after olderThan.
	// A nil orgID lists across organizations.
	ListStaleDeployments(ctx context.Context, orgID *string, olderThan time.Duration) ([]*models.Deployment, error)
	// SetBuildStatus sets a build and its deployment to status directly.
	SetBuildStatus(ctx context.Context, buildID string, status models.Status) error
}

// TriggerSource selects what to build. Exactly one field must be set.
type TriggerSource struct {
	Repo       *models.GitHubSource   `json:"repo,omitempty"`
	Artifact   *models.ArtifactSource `json:"artifact,omitempty"`
	RevisionID *string                `json:"revisionId,omitempty"`
}

// TriggerRequest is a deploy request from an authenticated member.
type TriggerRequest struct {
	OrganizationID string             `validate:"required"`
	MemberID       string             `validate:"required"`
	ServerID       string             `validate:"required"`
	ServerTitle    string             `validate:"omitempty,max=200"`
	Target         models.Target      `validate:"required,oneof=development preview production"`
	TriggerType    models.TriggerType `validate:"omitempty,oneof=manual git"`
	Source         TriggerSource
	// GitHubAppID selects the app for repo sources; zero uses the default app.
	GitHubAppID int64 `validate:"gte=0"`
	// Config overrides the live server config snapshot when set.
	Config *models.ConfigSnapshot `validate:"-"`
	// Version optionally names the revision.
	Version *string
}

// JobOutcome reports what happened to the external job.
type JobOutcome struct {
	Status        cloudbuild.PlacementStatus `json:"status"`
	ExternalJobID string                     `json:"externalJobId,omitempty"`
}

// TriggerResult identifies the records a trigger created.
type TriggerResult struct {
	DeploymentID string     `json:"deploymentId"`
	BuildID      string     `json:"buildId"`
	RevisionID   string     `json:"revisionId"`
	Job          JobOutcome `json:"job"`
}

// Submitter sends composed jobs to the build system.
type Submitter interface {
	Submit(ctx context.Context, spec cloudbuild.JobSpec) (*cloudbuild.Placement, error)
}

// InstallationResolver finds a GitHub App installation. A nil result means
// the organization has not connected the account.
type InstallationResolver interface {
	ResolveInstallation(ctx context.Context, orgID string, appID int64, accountLogin string) (*models.GitHubInstallation, error)
}
