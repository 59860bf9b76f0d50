package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/gwimport/internal/engine"
	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/plan"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	PlanFile string
	Commit   bool
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Stage and commit the decisions of a plan file",
		Long: `Apply a YAML decision plan to a new import session.

The plan is validated, its instance loaded and each decision staged on
the chosen track. Rejected decisions are reported and skipped. The staged
work is checkpointed for the tenant, so an import without --commit (and
without "commit: true" in the plan) can be committed later with resume.

Exit status is 1 when a decision was rejected or an item failed to create.

Examples:
  gwimport import --plan services.yaml
  gwimport import --plan apikeys.yaml --commit --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PlanFile, "plan", "", "path to the decision plan (required)")
	_ = cmd.MarkFlagRequired("plan")
	cmd.Flags().BoolVar(&opts.Commit, "commit", false, "create the staged entities")

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command) error {
	p, err := plan.Load(opts.PlanFile)
	if err != nil {
		var verr *plan.ValidationError
		if errors.As(err, &verr) {
			return &ExitError{Code: ExitCommandError, Message: "invalid plan", Err: err, Kind: "INVALID_PLAN"}
		}
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}

	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	s, err := a.session()
	if err != nil {
		return err
	}
	a.logger.Info("applying plan", "file", opts.PlanFile, "instance", p.Instance, "track", p.Track)

	report, err := plan.Apply(cmd.Context(), s, p, plan.Options{Commit: opts.Commit})
	return finishReport(opts.RootOptions, cmd, s, report, err)
}

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	Commit bool
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the saved session of the tenant",
		Long: `Restore the tenant's checkpoint, reload its instance and show the recap.

With --commit the restored proposals are created. Items that fail stay
checkpointed so the command can be run again.

Examples:
  gwimport resume
  gwimport resume --commit`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Commit, "commit", false, "create the restored entities")

	return cmd
}

func runResume(opts *ResumeOptions, cmd *cobra.Command) error {
	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	s, err := a.session()
	if err != nil {
		return err
	}

	report, err := plan.Resume(cmd.Context(), s, opts.Commit)
	return finishReport(opts.RootOptions, cmd, s, report, err)
}

// ImportResult is the output of import and resume.
type ImportResult struct {
	Session  string      `json:"session"`
	Instance string      `json:"instance"`
	Track    model.Track `json:"track"`
	Step     int         `json:"step"`
	plan.Report
}

// finishReport prints the report and maps the outcome to an exit code.
func finishReport(opts *RootOptions, cmd *cobra.Command, s *engine.Session, report plan.Report, runErr error) error {
	st := s.State()
	result := ImportResult{
		Session:  s.ID(),
		Instance: st.InstanceID,
		Track:    st.Track,
		Step:     st.StepIndex,
		Report:   report,
	}

	f := opts.formatter(cmd)
	if opts.Verbose {
		fmt.Fprint(f.GetErrWriter(), engine.FormatTrace(s.Trace()))
	}

	var exitErr *ExitError
	switch {
	case runErr != nil:
		exitErr = WrapExitError(ExitFailure, "import stopped", runErr)
	case len(report.Rejected) > 0:
		exitErr = &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d decision(s) rejected", len(report.Rejected)), Kind: CodePartial}
	case report.Result != nil && report.Result.HasFailures():
		exitErr = &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d item(s) failed to create", len(report.Result.Failures)), Kind: CodePartial}
	}

	if exitErr == nil {
		return f.Render(result, func(w io.Writer) { writeReport(w, result) })
	}
	// JSON carries the report in the error envelope; text prints it before
	// the error line.
	if f.Format == "json" {
		exitErr.Details = result
	} else {
		writeReport(f.Writer, result)
	}
	return exitErr
}

func writeReport(w io.Writer, r ImportResult) {
	fmt.Fprintf(w, "Session %s: instance %s, track %s, step %d, phase %s\n",
		r.Session, r.Instance, r.Track, r.Step, r.Phase)
	fmt.Fprintf(w, "Staged: %d\n", r.Staged)
	for _, p := range r.Plans {
		fmt.Fprintf(w, "Plan created: %s (%s)\n", p.DisplayName(), p.ID)
	}
	for _, f := range r.Rejected {
		fmt.Fprintf(w, "Rejected %s: %s\n", f.SourceID, f.Reason)
	}
	if r.Result == nil {
		if r.Phase == engine.PhaseServicesRecap || r.Phase == engine.PhaseAPIKeysRecap {
			fmt.Fprintln(w, "Not committed. Run resume --commit to create the staged entities.")
		}
		return
	}
	for _, t := range r.Result.CreatedTeams {
		fmt.Fprintf(w, "Team created: %s (%s)\n", t.Name, t.ID)
	}
	for _, a := range r.Result.CreatedAPIs {
		fmt.Fprintf(w, "API created: %s (%s)\n", a.Name, a.ID)
	}
	for _, sub := range r.Result.CreatedSubscriptions {
		fmt.Fprintf(w, "Subscription created: %s (%s)\n", sub.ClientName, sub.ID)
	}
	for _, f := range r.Result.Failures {
		fmt.Fprintf(w, "Failed %s: %s\n", f.SourceID, f.Reason)
	}
}
