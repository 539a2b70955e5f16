package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewInitDBCommand creates the init-db command.
func NewInitDBCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create or migrate the local mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, 0)
			if err != nil {
				return err
			}
			defer a.Close()
			path := a.cfg.Store.Path
			return rootOpts.output(cmd).Result(map[string]string{"path": path}, "mirror ready at "+path)
		},
	}
}

// NewStagedCommand creates the staged command group.
func NewStagedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staged",
		Short: "Members in the deletion grace period",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List staged members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, 0)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.store.ListStaged(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list staged members", err)
			}
			rows := make([][]string, len(recs))
			for i, r := range recs {
				rows[i] = []string{r.ID, r.CloudID, r.Name, r.Classification, r.StagedAt.Format(time.DateTime)}
			}
			return rootOpts.output(cmd).Table(recs, []string{"ID", "CLOUD ID", "NAME", "CLASS", "STAGED"}, rows)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <source-id>",
		Short: "Show one staged member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, 0)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.GetStaged(commandContext(cmd), args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return NewExitError(ExitFailure, fmt.Sprintf("%s is not staged", args[0]))
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read staged member", err)
			}
			return rootOpts.output(cmd).Result(rec, fmt.Sprintf("%s (%s) %s, staged %s as %s",
				rec.ID, rec.CloudID, rec.Name, rec.StagedAt.Format(time.DateTime), rec.Classification))
		},
	})
	return cmd
}

// NewDeletedCommand creates the deleted command group.
func NewDeletedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deleted",
		Short: "Members removed from the cloud",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the deletion archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, 0)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.store.ListDeleted(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list deleted members", err)
			}
			rows := make([][]string, len(recs))
			for i, r := range recs {
				rows[i] = []string{r.ID, r.CloudID, r.Name, r.Classification, r.DeletedAt.Format(time.DateTime)}
			}
			return rootOpts.output(cmd).Table(recs, []string{"ID", "CLOUD ID", "NAME", "CLASS", "DELETED"}, rows)
		},
	})
	return cmd
}
