// Package platformserver exposes read-only deployment tools over MCP.
package platformserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/internal/version"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
)

const (
	serverName       = "riverly-mcp"
	defaultOlderThan = 30 * time.Minute
)

// NewServer constructs an MCP server with read-only tools backed by the
// deployment service. Every tool is scoped to the caller's organization.
func NewServer(deployments service.DeploymentService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version.Version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})

	addDeploymentTools(server, deployments)
	addMetaTools(server)

	return server
}

type getDeploymentArgs struct {
	DeploymentID string `json:"deploymentId" jsonschema:"id of the deployment to fetch"`
}

type listStaleArgs struct {
	OlderThan string `json:"olderThan,omitempty" jsonschema:"minimum age as a Go duration, default 30m"`
}

type deploymentsResponse struct {
	Deployments []models.Deployment `json:"deployments"`
	Count       int                 `json:"count"`
}

func addDeploymentTools(server *mcp.Server, deployments service.DeploymentService) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_deployment",
		Description: "Get a deployment with its build and revision",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args getDeploymentArgs) (*mcp.CallToolResult, models.DeploymentDetail, error) {
		principal, err := auth.PrincipalFrom(ctx)
		if err != nil {
			return nil, models.DeploymentDetail{}, err
		}
		if args.DeploymentID == "" {
			return nil, models.DeploymentDetail{}, errors.New("deploymentId is required")
		}
		detail, err := deployments.GetDeployment(ctx, principal.OrganizationID, args.DeploymentID)
		if err != nil {
			return nil, models.DeploymentDetail{}, err
		}
		return nil, *detail, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_stale_deployments",
		Description: "List deployments still placed after the given age",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args listStaleArgs) (*mcp.CallToolResult, deploymentsResponse, error) {
		principal, err := auth.PrincipalFrom(ctx)
		if err != nil {
			return nil, deploymentsResponse{}, err
		}
		olderThan := defaultOlderThan
		if args.OlderThan != "" {
			olderThan, err = time.ParseDuration(args.OlderThan)
			if err != nil {
				return nil, deploymentsResponse{}, fmt.Errorf("invalid olderThan: %w", err)
			}
		}

		org := principal.OrganizationID
		stale, err := deployments.ListStaleDeployments(ctx, &org, olderThan)
		if err != nil {
			return nil, deploymentsResponse{}, err
		}
		resp := deploymentsResponse{
			Deployments: make([]models.Deployment, 0, len(stale)),
		}
		for _, d := range stale {
			resp.Deployments = append(resp.Deployments, *d)
		}
		resp.Count = len(resp.Deployments)
		return nil, resp, nil
	})
}

func addMetaTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "platform_version",
		Description: "Return build metadata of the deployment platform",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, map[string]string, error) {
		return nil, map[string]string{
			"version":    version.Version,
			"gitCommit":  version.GitCommit,
			"serverName": serverName,
		}, nil
	})
}
