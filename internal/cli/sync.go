package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/orgsync/internal/reconcile"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full reconciliation",
		Long: `Pull the source snapshot into the mirror, then converge the cloud
departments and members to it, sweep expired staged deletions and place
members without a department under the root.

Example:
  orgsync sync --config ./orgsync.yaml
  orgsync sync --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needSource)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.output(cmd)
			out.VerboseLog("mirror %s, source %s", a.cfg.Store.Path, a.cfg.Source.Path)
			rep, err := a.svc.Sync(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "sync failed", err)
			}
			return out.Result(rep, formatReport(rep))
		},
	}
}

func formatReport(rep reconcile.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", rep.RunID)
	fmt.Fprintf(&b, "  depts: %d created, %d updated, %d deleted, %d failed\n",
		rep.Depts.Created, rep.Depts.Updated, rep.Depts.Deleted, rep.Depts.Failed)
	fmt.Fprintf(&b, "  users: %d added, %d updated, %d staged, %d deleted, %d rescued, %d bound, %d failed\n",
		rep.Users.Added, rep.Users.Updated, rep.Users.Staged, rep.Users.Deleted,
		rep.Users.Rescued, rep.Users.Bound, rep.Users.Failed)
	fmt.Fprintf(&b, "  swept: %d, tidied: %d", rep.Swept, rep.Tidied)
	return b.String()
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete staged members whose grace period has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needCloud)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.Sweep(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "sweep failed", err)
			}
			return rootOpts.output(cmd).Result(map[string]int{"deleted": n}, fmt.Sprintf("deleted %d staged members", n))
		},
	}
}

// NewDeptsCommand creates the depts command group.
func NewDeptsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depts",
		Short: "Department maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Pull the source and converge departments only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needSource)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			if err := a.svc.PullSource(ctx); err != nil {
				return WrapExitError(ExitFailure, "pull source failed", err)
			}
			stats, err := a.svc.SyncDepts(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "department sync failed", err)
			}
			return rootOpts.output(cmd).Result(stats, fmt.Sprintf("depts: %d created, %d updated, %d deleted, %d failed",
				stats.Created, stats.Updated, stats.Deleted, stats.Failed))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Delete departments that have no members or children",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needCloud)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.DeleteEmptyDepts(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "department cleanup failed", err)
			}
			return rootOpts.output(cmd).Result(map[string]int{"deleted": n}, fmt.Sprintf("deleted %d empty departments", n))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "bind-exid",
		Short: "Write source ids into mapped cloud departments that lack one",
		Long: `Backfill ex_dept_id on cloud departments the mirror already maps to a
source department. Departments bound to a different source id are left
alone and reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needCloud)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.svc.BindDeptExIDs(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "ex id backfill failed", err)
			}
			return rootOpts.output(cmd).Result(stats, fmt.Sprintf("ex ids: %d bound, %d conflict, %d missing, %d failed",
				stats.Bound, stats.Conflict, stats.Missing, stats.Failed))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "orgs",
		Short: "List the mirrored flat organisation rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, 0)
			if err != nil {
				return err
			}
			defer a.Close()

			orgs, err := a.store.ReadOrgs(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list orgs", err)
			}
			rows := make([][]string, len(orgs))
			for i, o := range orgs {
				rows[i] = []string{o.OrgID, o.ParentUnitID, o.OrgName, o.Status}
			}
			return rootOpts.output(cmd).Table(orgs, []string{"ORG ID", "PARENT", "NAME", "STATUS"}, rows)
		},
	})

	return cmd
}
