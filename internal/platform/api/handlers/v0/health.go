package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthBody represents the health check response body
type HealthBody struct {
	Status   string `json:"status" example:"ok" doc:"Health status"`
	Database string `json:"database" example:"ok" doc:"Database connectivity"`
}

// PingBody represents the ping response body
type PingBody struct {
	Pong bool `json:"pong" example:"true" doc:"Ping response"`
}

// VersionBody represents the version information
type VersionBody struct {
	Version   string `json:"version" example:"v1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234d" doc:"Git commit SHA"`
	BuildTime string `json:"build_time" example:"2026-01-01T00:00:00Z" doc:"Build timestamp"`
}

// RegisterHealthEndpoint registers the health check endpoint with a custom path prefix
func RegisterHealthEndpoint(api huma.API, pathPrefix string, db Pinger) {
	huma.Register(api, huma.Operation{
		OperationID: "get-health" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/health",
		Summary:     "Check service health",
		Description: "Check the health status of the API and its database",
		Tags:        []string{"health"},
	}, func(ctx context.Context, _ *struct{}) (*Response[HealthBody], error) {
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				return nil, huma.Error503ServiceUnavailable("Database unavailable", err)
			}
		}
		return &Response[HealthBody]{Body: HealthBody{Status: "ok", Database: "ok"}}, nil
	})
}

// RegisterPingEndpoint registers the ping endpoint with a custom path prefix
func RegisterPingEndpoint(api huma.API, pathPrefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "ping" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/ping",
		Summary:     "Ping",
		Description: "Simple ping endpoint",
		Tags:        []string{"ping"},
	}, func(_ context.Context, _ *struct{}) (*Response[PingBody], error) {
		return &Response[PingBody]{Body: PingBody{Pong: true}}, nil
	})
}

// RegisterVersionEndpoint registers the version endpoint with a custom path prefix
func RegisterVersionEndpoint(api huma.API, pathPrefix string, versionInfo *VersionBody) {
	huma.Register(api, huma.Operation{
		OperationID: "get-version" + operationSuffix(pathPrefix),
		Method:      http.MethodGet,
		Path:        pathPrefix + "/version",
		Summary:     "Get version information",
		Description: "Returns the version, git commit, and build time of the running binary",
		Tags:        []string{"version"},
	}, func(_ context.Context, _ *struct{}) (*Response[VersionBody], error) {
		return &Response[VersionBody]{Body: *versionInfo}, nil
	})
}
