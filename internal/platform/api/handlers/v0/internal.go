package v0

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// EventHandler consumes build status events.
type EventHandler interface {
	Handle(ctx context.Context, payload []byte) bool
}

// OKBody acknowledges an internal call.
type OKBody struct {
	OK bool `json:"ok"`
}

// BuildEventInput carries the raw event so that malformed bodies still
// reach the reconciler.
type BuildEventInput struct {
	Authorization string `header:"Authorization"`
	RawBody       []byte `contentType:"application/json"`
}

// BuildStatusInput sets a build's status directly.
type BuildStatusInput struct {
	Authorization string `header:"Authorization"`
	BuildID       string `path:"buildId" doc:"Build id"`
	Body          struct {
		Status models.Status `json:"status" enum:"pending,placed,running,ready,error,aborted" doc:"New status"`
	}
}

// RegisterInternalEndpoints registers the endpoints called by the build
// system and by operators. Both use HTTP basic auth.
func RegisterInternalEndpoints(api huma.API, basePath string, creds auth.BasicCredentials, events EventHandler, deployments service.DeploymentService) {
	huma.Register(api, huma.Operation{
		OperationID: "receive-build-event",
		Method:      http.MethodPost,
		Path:        basePath + "/webhooks/build-events",
		Summary:     "Receive a build status event",
		Description: "Reconcile a build system status event onto the build and deployment it is tagged with. Always answers 200 once authenticated.",
		Tags:        []string{"internal"},
	}, func(ctx context.Context, input *BuildEventInput) (*Response[OKBody], error) {
		if !creds.Check(input.Authorization) {
			return nil, huma.Error401Unauthorized("Invalid credentials")
		}
		ok := events.Handle(ctx, input.RawBody)
		return &Response[OKBody]{Body: OKBody{OK: ok}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-build-status",
		Method:      http.MethodPost,
		Path:        basePath + "/builds/{buildId}/status",
		Summary:     "Set a build status",
		Description: "Set the status of a build and its deployment, bypassing webhook reconciliation.",
		Tags:        []string{"internal"},
	}, func(ctx context.Context, input *BuildStatusInput) (*Response[OKBody], error) {
		if !creds.Check(input.Authorization) {
			return nil, huma.Error401Unauthorized("Invalid credentials")
		}
		err := deployments.SetBuildStatus(auth.WithSystemContext(ctx), input.BuildID, input.Body.Status)
		switch {
		case err == nil:
			return &Response[OKBody]{Body: OKBody{OK: true}}, nil
		case errors.Is(err, database.ErrNotFound):
			return nil, huma.Error404NotFound("Build not found")
		case errors.Is(err, service.ErrValidation):
			return nil, huma.Error400BadRequest(message(err))
		default:
			return nil, huma.Error500InternalServerError("Failed to set build status", err)
		}
	})
}
