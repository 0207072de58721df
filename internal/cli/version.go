package cli

import (
	"github.com/spf13/cobra"

	"github.com/riverly-dev/riverly/internal/version"
	"github.com/riverly-dev/riverly/pkg/printer"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

// NewVersionCmd prints the build information linked into the binary.
func NewVersionCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputType, err := printer.ParseOutputType(output)
			if err != nil {
				return err
			}
			info := versionInfo{Version: version.Version, GitCommit: version.GitCommit, BuildDate: version.BuildDate}
			p := printer.New(cmd.OutOrStdout(), outputType)
			if done, err := p.Structured(info); done || err != nil {
				return err
			}
			t := p.Table()
			t.SetHeaders("Version", "Commit", "Built")
			t.AddRow(info.Version, info.GitCommit, info.BuildDate)
			return t.Render()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}
