package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/riverly-dev/riverly/internal/platform"
	"github.com/riverly-dev/riverly/internal/platform/config"
	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
	"github.com/riverly-dev/riverly/pkg/printer"
	"github.com/riverly-dev/riverly/pkg/types"
)

// SweepOptions controls a stale deployment sweep.
type SweepOptions struct {
	OlderThan time.Duration
	// Abort marks every stale build aborted instead of only listing it.
	Abort  bool
	Output printer.OutputType
	Now    func() time.Time
}

// NewSweepCmd lists deployments stuck in placed and optionally aborts them.
func NewSweepCmd(opts types.AppOptions) *cobra.Command {
	var (
		olderThan time.Duration
		abort     bool
		output    string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Find deployments whose build never started",
		Long: `Lists deployments that are still placed after --older-than. These are
builds whose callbacks were lost. Pass --abort to mark them aborted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputType, err := printer.ParseOutputType(output)
			if err != nil {
				return err
			}
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.StalePlacedAfter
			}
			log := platform.NewLogger(cfg)

			db, err := platform.OpenDatabase(cmd.Context(), cfg, opts.DatabaseFactory, log)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			svc := service.NewDeploymentService(service.Options{DB: db, Log: log})
			return Sweep(cmd.Context(), cmd.OutOrStdout(), svc, SweepOptions{
				OlderThan: olderThan,
				Abort:     abort,
				Output:    outputType,
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "Age after which a placed deployment is stale (default STALE_PLACED_AFTER)")
	cmd.Flags().BoolVar(&abort, "abort", false, "Mark stale builds and deployments aborted")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

// Sweep lists stale deployments across organizations and writes them to out.
func Sweep(ctx context.Context, out io.Writer, svc service.DeploymentService, opts SweepOptions) error {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	ctx = auth.WithSystemContext(ctx)
	stale, err := svc.ListStaleDeployments(ctx, nil, opts.OlderThan)
	if err != nil {
		return err
	}

	if opts.Abort {
		for _, d := range stale {
			if err := svc.SetBuildStatus(ctx, d.BuildID, models.StatusAborted); err != nil {
				return fmt.Errorf("abort build %s: %w", d.BuildID, err)
			}
			d.Status = models.StatusAborted
		}
	}

	p := printer.New(out, opts.Output)
	if done, err := p.Structured(stale); done || err != nil {
		return err
	}
	if len(stale) == 0 {
		_, _ = fmt.Fprintln(out, "No stale deployments")
		return nil
	}

	t := p.Table()
	t.SetHeaders("Deployment", "Build", "Organization", "Server", "Target", "Status", "Age")
	for _, d := range stale {
		t.AddRow(d.ID, d.BuildID, d.OrganizationID, d.ServerID, d.Target, d.Status, printer.FormatAge(d.CreatedAt, now()))
	}
	if err := t.Render(); err != nil {
		return err
	}
	if opts.Abort {
		p.Success(fmt.Sprintf("Aborted %d deployment(s)", len(stale)))
	}
	return nil
}
