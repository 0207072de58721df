package models

import "time"

// GitHubSource identifies the commit a build was produced from.
type GitHubSource struct {
	Owner      string `json:"owner" validate:"required,github_login" pattern:"^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$" doc:"GitHub account that owns the repository"`
	Repo       string `json:"repo" validate:"required,github_repo" pattern:"^[A-Za-z0-9._-]{1,100}$" doc:"Repository name"`
	Ref        string `json:"ref" validate:"required"`
	CommitHash string `json:"commitHash" validate:"required,hexadecimal,min=7,max=40" pattern:"^[0-9a-fA-F]{7,40}$" doc:"Commit to build, full or abbreviated SHA"`
}

// ArtifactSource points at an uploaded source archive.
type ArtifactSource struct {
	URI string `json:"uri" validate:"required,gcs_uri" pattern:"^gs://[a-z0-9][a-z0-9._-]{1,61}[a-z0-9]/[A-Za-z0-9._/-]{1,1024}$" doc:"Cloud Storage object holding a gzipped tarball"`
}

// BuildSource describes where a build's code came from. At most one of the
// fields is populated.
type BuildSource struct {
	GitHub   *GitHubSource   `json:"github,omitempty" validate:"required_without=Artifact,excluded_with=Artifact,omitempty"`
	Artifact *ArtifactSource `json:"artifact,omitempty" validate:"required_without=GitHub,excluded_with=GitHub,omitempty"`
}

// EnvVar is a single environment variable handed to the running server.
type EnvVar struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// ConfigSnapshot is the server configuration frozen at trigger time.
// ConfigHash and ConfigRevision never change once written.
type ConfigSnapshot struct {
	Envs           []EnvVar          `json:"envs" validate:"dive"`
	Inputs         map[string]string `json:"inputs"`
	ConfigHash     string            `json:"configHash" validate:"required"`
	ConfigRevision int               `json:"configRevision" validate:"gte=0"`
	RootDir        string            `json:"rootDir"`
}

// Build is one attempt to produce a container image from a source.
type Build struct {
	ID             string         `json:"id" validate:"required"`
	ServerID       string         `json:"serverId" validate:"required"`
	OrganizationID string         `json:"organizationId" validate:"required"`
	TriggerType    TriggerType    `json:"triggerType" validate:"required,oneof=manual git"`
	Source         BuildSource    `json:"source"`
	Status         Status         `json:"status" validate:"required,oneof=pending placed running ready error aborted"`
	ImageRef       *string        `json:"imageRef,omitempty"`
	ImageDigest    *string        `json:"imageDigest,omitempty"`
	BuiltAt        *time.Time     `json:"builtAt,omitempty"`
	Config         ConfigSnapshot `json:"config"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Deployment is one attempt to run a build in a target environment.
type Deployment struct {
	ID             string    `json:"id" validate:"required"`
	BuildID        string    `json:"buildId" validate:"required"`
	ServerID       string    `json:"serverId" validate:"required"`
	OrganizationID string    `json:"organizationId" validate:"required"`
	InstallID      string    `json:"installId" validate:"required"`
	Status         Status    `json:"status" validate:"required,oneof=pending placed running ready error aborted"`
	Target         Target    `json:"target" validate:"required,oneof=development preview production"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Revision is a versionable pointer at a deployment.
type Revision struct {
	ID             string         `json:"id" validate:"required"`
	BuildID        string         `json:"buildId" validate:"required"`
	DeploymentID   string         `json:"deploymentId" validate:"required"`
	ServerID       string         `json:"serverId" validate:"required"`
	OrganizationID string         `json:"organizationId" validate:"required"`
	Version        *string        `json:"version,omitempty" validate:"omitempty,semver"`
	Current        bool           `json:"current"`
	Status         RevisionStatus `json:"status" validate:"required,oneof=draft published deprecated"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// DeploymentDetail is a deployment together with its build and revision.
type DeploymentDetail struct {
	Deployment Deployment `json:"deployment"`
	Build      Build      `json:"build"`
	Revision   *Revision  `json:"revision,omitempty"`
}

// DeploymentFilter narrows deployment listings.
type DeploymentFilter struct {
	OrganizationID *string
	Status         *Status
	CreatedBefore  *time.Time
	Limit          int
}

// ServerInstall links a server to the organization that installed it.
type ServerInstall struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organizationId"`
	ServerID       string            `json:"serverId"`
	ServerTitle    string            `json:"serverTitle"`
	Envs           []EnvVar          `json:"envs"`
	Inputs         map[string]string `json:"inputs"`
	RootDir        string            `json:"rootDir"`
	ConfigRevision int               `json:"configRevision"`
}

// GitHubInstallation is a GitHub App's grant on one account.
type GitHubInstallation struct {
	OrganizationID string `json:"organizationId"`
	AppID          int64  `json:"appId"`
	AccountLogin   string `json:"accountLogin"`
	InstallationID int64  `json:"installationId"`
	Suspended      bool   `json:"suspended"`
}

// BuildEvent is the combined status change applied by webhook reconciliation.
type BuildEvent struct {
	BuildID      string
	DeploymentID string
	Status       Status
	BuiltAt      *time.Time
	ImageRef     *string
	ImageDigest  *string
}
