package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/gwimport/internal/model"
)

// NewInstancesCommand creates the instances command.
func NewInstancesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List gateway instances of the tenant",
		Long: `List the gateway instances registered for the tenant.

Example:
  gwimport instances --platform-url https://platform.example.com --tenant acme`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstances(rootOpts, cmd)
		},
	}
}

func runInstances(opts *RootOptions, cmd *cobra.Command) error {
	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	instances, err := a.connector.ListInstances(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list instances", err)
	}

	return opts.formatter(cmd).Render(instances, func(w io.Writer) {
		writeInstances(w, instances)
	})
}

func writeInstances(w io.Writer, instances []model.SourceInstance) {
	if len(instances) == 0 {
		fmt.Fprintln(w, "No gateway instances.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tURL")
	for _, inst := range instances {
		fmt.Fprintf(tw, "%s\t%s\n", inst.ID, inst.URL)
	}
	tw.Flush()
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		a.logger.Error("error closing", "error", err)
	}
}
