package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"profile-backend/internal/admin"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the development tables and seed the section catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := connect(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.store.Bootstrap(ctx, cfg.AdminUserType, logger); err != nil {
			return err
		}
		logger.Info("bootstrap complete")
		return nil
	},
}

var sectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "Print the section catalog and the table each entry resolves to",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := connect(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.loadCatalog(ctx); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUSER TYPE\tTABLE")
		for _, d := range rt.registry.All() {
			table := d.Schema
			if table == "" {
				table = "(unmapped)"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.ID, d.Name, d.UserType, table)
		}
		return w.Flush()
	},
}

var checkSchemasCmd = &cobra.Command{
	Use:   "check-schemas",
	Short: "Probe every catalog entry's table; exits non-zero on drift",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := connect(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.loadCatalog(ctx); err != nil {
			return err
		}

		report := admin.BuildReport(ctx, rt.registry, rt.oracle)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTABLE\tSTATUS")
		for _, s := range report.Sections {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, s.Name, s.Table, status(s))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if report.Drifted > 0 {
			return fmt.Errorf("%d of %d sections drifted", report.Drifted, len(report.Sections))
		}
		return nil
	},
}

func status(s admin.SectionStatus) string {
	switch {
	case !s.Mapped:
		return "unmapped"
	case s.Error != "":
		return "probe failed: " + s.Error
	case !s.Exists:
		return "table missing"
	default:
		return "ok"
	}
}
