package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gwimport/internal/checkpoint"
	"github.com/roach88/gwimport/internal/model"
)

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear the tenant checkpoint",
		Long: `Inspect or clear the saved import session of the tenant.

Only --tenant and --db are needed; no platform call is made.

Examples:
  gwimport checkpoint show --tenant acme
  gwimport checkpoint clear --tenant acme`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "show",
		Short:         "Show the tenant checkpoint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointShow(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "clear",
		Short:         "Delete the tenant checkpoint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointClear(rootOpts, cmd)
		},
	})

	return cmd
}

// CheckpointView is the output of checkpoint show.
type CheckpointView struct {
	Tenant     string            `json:"tenant"`
	Found      bool              `json:"found"`
	Track      model.Track       `json:"track,omitempty"`
	UpdatedAt  *time.Time        `json:"updated_at,omitempty"`
	Checkpoint *model.Checkpoint `json:"checkpoint,omitempty"`
}

func runCheckpointShow(opts *RootOptions, cmd *cobra.Command) error {
	backend, store, err := opts.openCheckpoints()
	if err != nil {
		return err
	}
	defer closeBackend(opts, backend)

	ctx := cmd.Context()
	tenant := opts.Config.Tenant
	view := CheckpointView{Tenant: tenant}
	if cp, ok := store.Load(ctx, tenant); ok {
		view.Found = true
		cp = redact(cp)
		view.Checkpoint = &cp
		view.Track, _ = cp.Track()
		at, found, err := backend.UpdatedAt(ctx, checkpoint.Key(tenant))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read checkpoint", err)
		}
		if found {
			view.UpdatedAt = &at
		}
	}

	return opts.formatter(cmd).Render(view, func(w io.Writer) {
		writeCheckpoint(w, view)
	})
}

func runCheckpointClear(opts *RootOptions, cmd *cobra.Command) error {
	backend, store, err := opts.openCheckpoints()
	if err != nil {
		return err
	}
	defer closeBackend(opts, backend)

	tenant := opts.Config.Tenant
	if err := store.Clear(cmd.Context(), tenant); err != nil {
		return WrapExitError(ExitCommandError, "failed to clear checkpoint", err)
	}
	opts.logger().Info("checkpoint cleared", "tenant", tenant)

	return opts.formatter(cmd).Render(map[string]string{"tenant": tenant, "cleared": "true"}, func(w io.Writer) {
		fmt.Fprintf(w, "Checkpoint cleared for tenant %s\n", tenant)
	})
}

func writeCheckpoint(w io.Writer, v CheckpointView) {
	if !v.Found {
		fmt.Fprintf(w, "No checkpoint for tenant %s\n", v.Tenant)
		return
	}
	cp := v.Checkpoint
	fmt.Fprintf(w, "Tenant:    %s\n", v.Tenant)
	fmt.Fprintf(w, "Instance:  %s\n", cp.SourceInstanceID)
	fmt.Fprintf(w, "Track:     %s\n", v.Track)
	fmt.Fprintf(w, "Step:      %d\n", cp.StepIndex)
	fmt.Fprintf(w, "Session:   %s\n", cp.SessionID)
	if v.UpdatedAt != nil {
		fmt.Fprintf(w, "Updated:   %s\n", v.UpdatedAt.UTC().Format(time.RFC3339))
	}
	for _, api := range cp.StagedAPIs {
		fmt.Fprintf(w, "  api %s -> %q team %s\n", api.SourceServiceID, api.Name, api.TargetTeamID)
	}
	for _, sub := range cp.StagedSubscriptions {
		fmt.Fprintf(w, "  subscription %s -> api %s plan %s team %s\n",
			sub.ClientName, sub.TargetAPIID, sub.TargetPlanID, sub.TargetTeamID)
	}
	for _, d := range cp.PendingTeams {
		fmt.Fprintf(w, "  pending team %s (%s)\n", d.Name, d.ID)
	}
}

// redact masks the client secrets carried by staged subscriptions.
func redact(cp model.Checkpoint) model.Checkpoint {
	subs := make([]model.StagedSubscription, len(cp.StagedSubscriptions))
	for i, sub := range cp.StagedSubscriptions {
		if sub.ClientSecret != "" {
			sub.ClientSecret = "********"
		}
		subs[i] = sub
	}
	cp.StagedSubscriptions = subs
	return cp
}

func closeBackend(opts *RootOptions, backend *checkpoint.SQLiteBackend) {
	if err := backend.Close(); err != nil {
		opts.logger().Error("error closing database", "error", err)
	}
}
