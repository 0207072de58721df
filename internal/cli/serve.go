package cli

import (
	"github.com/spf13/cobra"

	"github.com/riverly-dev/riverly/internal/platform"
	"github.com/riverly-dev/riverly/pkg/types"
)

// NewServeCmd starts the HTTP API, the build webhook and the optional MCP
// endpoint. Configuration comes from the environment.
func NewServeCmd(opts types.AppOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the deployment API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return platform.App(cmd.Context(), opts)
		},
	}
}
