package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/riverly-dev/riverly/internal/cli"
	"github.com/riverly-dev/riverly/pkg/types"
)

// CLIOptions configures the CLI behavior
type CLIOptions struct {
	// AppOptions is passed to the server and to commands that open the
	// database.
	AppOptions types.AppOptions
}

var cliOptions CLIOptions

// Configure applies options to the root command
func Configure(opts CLIOptions) {
	cliOptions = opts
}

// Root builds the riverly command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:           "riverly",
		Short:         "Riverly deployment orchestrator",
		Long:          `riverly builds MCP servers from GitHub or uploaded artifacts and tracks their deployments.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		cli.NewServeCmd(cliOptions.AppOptions),
		cli.NewMigrateCmd(),
		cli.NewSweepCmd(cliOptions.AppOptions),
		cli.NewTokenCmd(),
		cli.NewVersionCmd(),
	)
	return root
}

func Execute() {
	if err := Root().Execute(); err != nil {
		os.Exit(1)
	}
}
