package router

import (
	"github.com/danielgtaylor/huma/v2"

	v0 "github.com/riverly-dev/riverly/internal/platform/api/handlers/v0"
	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/internal/platform/telemetry"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
)

// Dependencies are the services the routes are bound to.
type Dependencies struct {
	Deployments service.DeploymentService
	Events      v0.EventHandler
	Database    v0.Pinger
	Webhook     auth.BasicCredentials
	Metrics     *telemetry.Metrics
	VersionInfo *v0.VersionBody
}

// RegisterRoutes registers all API routes
// This is the single entry point for all route registration
func RegisterRoutes(api huma.API, deps Dependencies) {
	registerCommonEndpoints(api, "/v0", deps)
	v0.RegisterDeploymentsEndpoints(api, "/v0", deps.Deployments)

	v0.RegisterInternalEndpoints(api, "/internal/v0", deps.Webhook, deps.Events, deps.Deployments)
}

// registerCommonEndpoints registers the health, ping and version endpoints
func registerCommonEndpoints(api huma.API, pathPrefix string, deps Dependencies) {
	v0.RegisterHealthEndpoint(api, pathPrefix, deps.Database)
	v0.RegisterPingEndpoint(api, pathPrefix)
	versionInfo := deps.VersionInfo
	if versionInfo == nil {
		versionInfo = &v0.VersionBody{Version: "dev"}
	}
	v0.RegisterVersionEndpoint(api, pathPrefix, versionInfo)
}
