package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/gwimport/internal/model"
)

// CatalogOptions holds flags for the catalog command.
type CatalogOptions struct {
	*RootOptions
	Instance   string
	Authorized string // optional - filter API keys by "group_<id>" or "service_<id>"
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the catalog of a gateway instance",
		Long: `Load the groups, services and API keys of a gateway instance.

Services are listed by group then name, API keys by client name: the order
an import session walks them in.

Examples:
  gwimport catalog --instance oto-1
  gwimport catalog --instance oto-1 --authorized group_g1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Instance, "instance", "", "gateway instance id (required)")
	_ = cmd.MarkFlagRequired("instance")
	cmd.Flags().StringVar(&opts.Authorized, "authorized", "", "only list API keys authorized on group_<id> or service_<id>")

	return cmd
}

func runCatalog(opts *CatalogOptions, cmd *cobra.Command) error {
	var ref *model.EntityRef
	if opts.Authorized != "" {
		r, err := parseEntityRef(opts.Authorized)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --authorized", err)
		}
		ref = &r
	}

	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	catalog, err := a.connector.LoadEntities(cmd.Context(), opts.Instance)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load catalog", err)
	}
	if ref != nil {
		catalog.APIKeys = model.FilterAPIKeys(catalog.APIKeys, *ref)
	}

	return opts.formatter(cmd).Render(catalog, func(w io.Writer) {
		writeCatalog(w, catalog)
	})
}

func parseEntityRef(s string) (model.EntityRef, error) {
	kind, id, ok := strings.Cut(s, "_")
	if !ok || id == "" {
		return model.EntityRef{}, fmt.Errorf("%q is not of the form group_<id> or service_<id>", s)
	}
	switch model.EntityKind(kind) {
	case model.EntityGroup, model.EntityService:
		return model.EntityRef{Kind: model.EntityKind(kind), ID: id}, nil
	}
	return model.EntityRef{}, fmt.Errorf("unknown entity kind %q", kind)
}

func writeCatalog(w io.Writer, c model.Catalog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Services (%d)\n", len(c.Services))
	for i, svc := range c.Services {
		group := svc.GroupID
		if g, ok := c.Group(svc.GroupID); ok {
			group = g.Name
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", i, svc.ID, svc.Name, group)
	}
	fmt.Fprintf(tw, "API keys (%d)\n", len(c.APIKeys))
	for i, key := range c.APIKeys {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", i, key.ClientID, key.ClientName, strings.Join(key.AuthorizedEntities, ","))
	}
	tw.Flush()
}
