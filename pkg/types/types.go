package types

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// DatabaseFactory is a function type that creates a database implementation.
// This allows implementors to wrap the database or supply their own backend.
type DatabaseFactory func(ctx context.Context, databaseURL string) (database.Database, error)

// AppOptions contains configuration for the platform app.
// All fields are optional and allow embedders to extend functionality.
type AppOptions struct {
	// DatabaseFactory is an optional function to create the database.
	// If nil, DATABASE_URL selects PostgreSQL or the in-memory store.
	DatabaseFactory DatabaseFactory

	// Submitter replaces the Cloud Build client, e.g. to route jobs to
	// another build system.
	Submitter service.Submitter

	// OnServiceCreated is an optional callback that receives the created service.
	OnServiceCreated func(service.DeploymentService)

	// OnHTTPServerCreated is an optional callback that receives the created server.
	OnHTTPServerCreated func(Server)

	// AuthnProvider is an optional authentication provider. Defaults to
	// JWT sessions when JWT_PRIVATE_KEY is set.
	AuthnProvider auth.AuthnProvider
}

// Server represents the HTTP server and provides access to the Huma API
// for registering new routes.
type Server interface {
	// HumaAPI returns the Huma API instance, allowing registration of new routes
	// that will appear in the OpenAPI documentation.
	HumaAPI() huma.API

	// Start begins listening for incoming HTTP requests
	Start() error

	// Shutdown gracefully shuts down the server
	Shutdown(ctx context.Context) error
}
