package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/orgsync/internal/cloud"
)

// NewGroupsCommand creates the groups command group.
func NewGroupsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Department chat groups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <cloud-dept-id>",
		Short: "List the groups of a cloud department",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needCloud)
			if err != nil {
				return err
			}
			defer a.Close()

			groups, err := a.client.ListGroups(commandContext(cmd), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list groups", err)
			}
			rows := make([][]string, len(groups))
			for i, g := range groups {
				rows[i] = []string{g.GroupID, g.Name, g.DeptID, g.Type}
			}
			return rootOpts.output(cmd).Table(groups, []string{"GROUP ID", "NAME", "DEPT", "TYPE"}, rows)
		},
	})

	var operator string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a group for every department that has none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needCloud)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.CreateDeptGroups(commandContext(cmd), operator)
			if err != nil {
				return WrapExitError(ExitFailure, "group creation failed", err)
			}
			return rootOpts.output(cmd).Result(map[string]int{"created": n}, fmt.Sprintf("created %d groups", n))
		},
	}
	create.Flags().StringVar(&operator, "operator", "", "company uid of the group owner (required)")
	_ = create.MarkFlagRequired("operator")
	cmd.AddCommand(create)

	return cmd
}

// NewQuotaCommand creates the quota command.
func NewQuotaCommand(rootOpts *RootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show company storage, or one account's usage with --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needCloud)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := commandContext(cmd)
			var usage cloud.SpaceUsage
			label := "company"
			if user != "" {
				label = user
				usage, err = a.client.UserSpaceUsage(ctx, user)
			} else {
				usage, err = a.client.CompanyQuota(ctx)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read quota", err)
			}
			return rootOpts.output(cmd).Result(usage, fmt.Sprintf("%s: %d of %d bytes used", label, usage.Used, usage.Total))
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "company uid to report on")
	return cmd
}
