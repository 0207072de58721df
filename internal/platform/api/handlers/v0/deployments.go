package v0

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// DeployRequest is the body of a deploy call. The organization and member
// come from the authenticated session.
type DeployRequest struct {
	ServerID    string                `json:"serverId" minLength:"1" doc:"Installed server to deploy" example:"srv_1"`
	ServerTitle string                `json:"serverTitle,omitempty" maxLength:"200" doc:"Display title, defaults to the installed title"`
	Target      models.Target         `json:"target" enum:"development,preview,production" doc:"Environment to deploy into" example:"preview"`
	Source      service.TriggerSource `json:"source" doc:"Exactly one of repo, artifact or revisionId"`
	GitHubAppID int64                 `json:"githubAppId,omitempty" minimum:"0" doc:"GitHub App to read the repository with, defaults to the platform app"`
	Version     *string               `json:"version,omitempty" doc:"Semantic version to give the new revision" example:"1.2.0"`
}

// DeploymentInput represents path parameters for deployment operations
type DeploymentInput struct {
	DeploymentID string `path:"deploymentId" json:"deploymentId" doc:"Deployment id"`
}

// DeploymentsListInput represents query parameters for listing deployments
type DeploymentsListInput struct {
	Status    string `query:"status" json:"status,omitempty" default:"placed" enum:"placed" doc:"Only placed deployments can be listed"`
	OlderThan string `query:"olderThan" json:"olderThan,omitempty" default:"30m" doc:"Minimum age as a Go duration" example:"1h"`
}

// DeploymentsListBody represents a list of deployments
type DeploymentsListBody struct {
	Deployments []models.Deployment `json:"deployments" doc:"Deployments still placed after olderThan"`
	Count       int                 `json:"count"`
}

// RegisterDeploymentsEndpoints registers all deployment-related endpoints
func RegisterDeploymentsEndpoints(api huma.API, basePath string, deployments service.DeploymentService) {
	// Trigger a deployment
	huma.Register(api, huma.Operation{
		OperationID:   "trigger-deployment",
		Method:        http.MethodPost,
		Path:          basePath + "/deployments",
		Summary:       "Deploy an installed server",
		Description:   "Record a build, deployment and revision for the server and submit the build job. Build progress is reported asynchronously.",
		Tags:          []string{"deployments"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body DeployRequest
	}) (*Response[service.TriggerResult], error) {
		principal, err := auth.PrincipalFrom(ctx)
		if err != nil {
			return nil, huma.Error401Unauthorized("Authentication required")
		}

		result, err := deployments.TriggerDeployment(ctx, service.TriggerRequest{
			OrganizationID: principal.OrganizationID,
			MemberID:       principal.MemberID,
			ServerID:       input.Body.ServerID,
			ServerTitle:    input.Body.ServerTitle,
			Target:         input.Body.Target,
			TriggerType:    models.TriggerManual,
			Source:         input.Body.Source,
			GitHubAppID:    input.Body.GitHubAppID,
			Version:        input.Body.Version,
		})
		if err != nil {
			return nil, triggerError(err, result)
		}
		return &Response[service.TriggerResult]{Body: *result}, nil
	})

	// Get a specific deployment
	huma.Register(api, huma.Operation{
		OperationID: "get-deployment",
		Method:      http.MethodGet,
		Path:        basePath + "/deployments/{deploymentId}",
		Summary:     "Get deployment details",
		Description: "Retrieve a deployment together with its build and revision",
		Tags:        []string{"deployments"},
	}, func(ctx context.Context, input *DeploymentInput) (*Response[models.DeploymentDetail], error) {
		principal, err := auth.PrincipalFrom(ctx)
		if err != nil {
			return nil, huma.Error401Unauthorized("Authentication required")
		}
		detail, err := deployments.GetDeployment(ctx, principal.OrganizationID, input.DeploymentID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, huma.Error404NotFound("Deployment not found")
			}
			return nil, huma.Error500InternalServerError("Failed to retrieve deployment", err)
		}
		return &Response[models.DeploymentDetail]{Body: *detail}, nil
	})

	// List deployments stuck in placed
	huma.Register(api, huma.Operation{
		OperationID: "list-deployments",
		Method:      http.MethodGet,
		Path:        basePath + "/deployments",
		Summary:     "List stale deployments",
		Description: "List deployments of the organization that are still placed after the given age.",
		Tags:        []string{"deployments"},
	}, func(ctx context.Context, input *DeploymentsListInput) (*Response[DeploymentsListBody], error) {
		principal, err := auth.PrincipalFrom(ctx)
		if err != nil {
			return nil, huma.Error401Unauthorized("Authentication required")
		}
		olderThan, err := time.ParseDuration(input.OlderThan)
		if err != nil || olderThan <= 0 {
			return nil, huma.Error400BadRequest("olderThan must be a positive duration such as 30m")
		}

		org := principal.OrganizationID
		stale, err := deployments.ListStaleDeployments(ctx, &org, olderThan)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to list deployments", err)
		}

		body := DeploymentsListBody{Deployments: make([]models.Deployment, 0, len(stale))}
		for _, d := range stale {
			body.Deployments = append(body.Deployments, *d)
		}
		body.Count = len(body.Deployments)
		return &Response[DeploymentsListBody]{Body: body}, nil
	})
}

// triggerError maps orchestration error codes onto HTTP errors. Ids of
// records that were committed before a submission failure are returned as
// error details.
func triggerError(err error, result *service.TriggerResult) error {
	code, ok := service.CodeOf(err)
	if !ok {
		return huma.Error500InternalServerError("Failed to trigger deployment", err)
	}
	msg := message(err)
	switch code {
	case service.CodeValidation:
		return huma.Error400BadRequest(msg, err)
	case service.CodeInstallationNotFound:
		return huma.Error403Forbidden(msg)
	case service.CodeServerNotInstalled:
		return huma.Error412PreconditionFailed(msg)
	case service.CodeRateLimited:
		return huma.Error429TooManyRequests(msg)
	case service.CodeJobSubmission:
		details := []error{err}
		if result != nil {
			details = append(details,
				&huma.ErrorDetail{Location: "deploymentId", Value: result.DeploymentID, Message: "deployment recorded as placed"},
				&huma.ErrorDetail{Location: "buildId", Value: result.BuildID, Message: "build recorded as placed"},
				&huma.ErrorDetail{Location: "revisionId", Value: result.RevisionID, Message: "revision recorded as draft"},
			)
		}
		return huma.Error502BadGateway(msg, details...)
	default:
		return huma.Error500InternalServerError(string(code)+": "+msg, err)
	}
}

func message(err error) string {
	var e *service.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(err.Error())
}

func operationSuffix(pathPrefix string) string {
	return strings.ReplaceAll(strings.Trim(pathPrefix, "/"), "/", "-")
}
