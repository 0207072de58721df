package cloudbuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	cbapi "cloud.google.com/go/cloudbuild/apiv1/v2"
	"cloud.google.com/go/cloudbuild/apiv1/v2/cloudbuildpb"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/riverly-dev/riverly/internal/platform/github"
)

// Scope is the OAuth scope needed to create builds and secrets.
const Scope = "https://www.googleapis.com/auth/cloud-platform"

// DefaultAPIURL is the public Cloud Build endpoint.
const DefaultAPIURL = "https://cloudbuild.googleapis.com"

// PlacementStatus says what happened to a submitted job.
type PlacementStatus string

const (
	PlacementPlaced PlacementStatus = "placed"
	PlacementDryRun PlacementStatus = "dry_run"
)

// Placement acknowledges a job. The job itself runs asynchronously.
type Placement struct {
	Status        PlacementStatus `json:"status"`
	ExternalJobID string          `json:"externalJobId,omitempty"`
	OperationName string          `json:"operationName,omitempty"`
	// Job is the composed resource, kept for logging and tests only.
	Job *cloudbuildpb.Build `json:"-"`
}

// TokenIssuer mints repository-scoped GitHub tokens for the clone step.
type TokenIssuer interface {
	IssueRepositoryToken(ctx context.Context, installationID int64, repo string) (*github.RepositoryToken, error)
}

// Options configures a Client.
type Options struct {
	ProjectID      string
	Region         string
	APIURL         string
	ServiceAccount string
	DryRun         bool

	// ProjectNamespace is the image registry project. Defaults to ProjectID.
	ProjectNamespace string
}

// Client submits jobs to Cloud Build.
type Client struct {
	opts    Options
	builds  *cbapi.Client
	secrets SecretStore
	tokens  TokenIssuer
	log     *slog.Logger
}

// DefaultClientOptions returns API options authorised with application
// default credentials.
func DefaultClientOptions(ctx context.Context) ([]option.ClientOption, error) {
	creds, err := google.FindDefaultCredentials(ctx, Scope)
	if err != nil {
		return nil, fmt.Errorf("load google credentials: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// NewBuildsClient opens the Cloud Build REST client. endpoint may be empty
// for the public API.
func NewBuildsClient(ctx context.Context, endpoint string, opts ...option.ClientOption) (*cbapi.Client, error) {
	if endpoint != "" && endpoint != DefaultAPIURL {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	c, err := cbapi.NewRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create cloud build client: %w", err)
	}
	return c, nil
}

// NewClient builds a client. builds, secrets and tokens may be nil in
// dry-run mode.
func NewClient(opts Options, builds *cbapi.Client, secrets SecretStore, tokens TokenIssuer, log *slog.Logger) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{opts: opts, builds: builds, secrets: secrets, tokens: tokens, log: log}
}

// DryRun reports whether the client only composes jobs.
func (c *Client) DryRun() bool {
	return c.opts.DryRun
}

// Close releases the underlying API connections.
func (c *Client) Close() error {
	var errs []error
	if c.builds != nil {
		errs = append(errs, c.builds.Close())
	}
	if closer, ok := c.secrets.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// Submit composes the job for spec and, unless in dry-run mode, creates it.
// It is not idempotent: every call creates a new external job.
func (c *Client) Submit(ctx context.Context, spec JobSpec) (*Placement, error) {
	if spec.Region == "" {
		spec.Region = c.opts.Region
	}
	if spec.ProjectNamespace == "" {
		spec.ProjectNamespace = c.opts.ProjectNamespace
	}
	if spec.ProjectNamespace == "" {
		spec.ProjectNamespace = c.opts.ProjectID
	}

	if c.opts.DryRun {
		job, err := ComposeJob(spec, "", c.opts.ServiceAccount)
		if err != nil {
			return nil, fmt.Errorf("compose job: %w", err)
		}
		c.log.Info("dry run: build job composed, not submitted",
			"deployment_id", spec.DeploymentID, "build_id", spec.BuildID, "steps", len(job.GetSteps()))
		return &Placement{Status: PlacementDryRun, Job: job}, nil
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("compose job: %w", err)
	}
	if c.builds == nil {
		return nil, fmt.Errorf("no cloud build client configured")
	}

	var tokenSecret string
	if spec.GitHub != nil {
		if c.tokens == nil || c.secrets == nil {
			return nil, fmt.Errorf("no github token issuer or secret store configured")
		}
		tok, err := c.tokens.IssueRepositoryToken(ctx, spec.GitHub.InstallationID, spec.GitHub.Repo)
		if err != nil {
			return nil, fmt.Errorf("issue repository token: %w", err)
		}
		tokenSecret, err = c.secrets.StoreToken(ctx, spec.BuildID, tok.Token)
		if err != nil {
			return nil, fmt.Errorf("store repository token: %w", err)
		}
	}

	job, err := ComposeJob(spec, tokenSecret, c.opts.ServiceAccount)
	if err != nil {
		return nil, fmt.Errorf("compose job: %w", err)
	}

	op, err := c.builds.CreateBuild(ctx, &cloudbuildpb.CreateBuildRequest{
		Parent:    fmt.Sprintf("projects/%s/locations/%s", c.opts.ProjectID, c.opts.Region),
		ProjectId: c.opts.ProjectID,
		Build:     job,
	})
	if err != nil {
		return nil, fmt.Errorf("submit build: %w", err)
	}
	meta, err := op.Metadata()
	if err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	externalID := meta.GetBuild().GetId()
	c.log.Info("build job submitted",
		"deployment_id", spec.DeploymentID, "build_id", spec.BuildID, "external_job_id", externalID)

	return &Placement{
		Status:        PlacementPlaced,
		ExternalJobID: externalID,
		OperationName: op.Name(),
		Job:           job,
	}, nil
}
