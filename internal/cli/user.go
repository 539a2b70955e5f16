package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Single-member operations",
	}

	var name string
	activate := &cobra.Command{
		Use:   "activate <source-id>",
		Short: "Create or reactivate the account of a mirrored member",
		Long: `Create the cloud account of a member from the mirror, or activate it
when it exists but was never activated.

Example:
  orgsync user activate 20231001 --name "Zhang San"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needCloud)
			if err != nil {
				return err
			}
			defer a.Close()

			uid, err := a.svc.ActivateUser(commandContext(cmd), args[0], name)
			if err != nil {
				return WrapExitError(ExitFailure, "activation failed", err)
			}
			return rootOpts.output(cmd).Result(map[string]string{"id": args[0], "company_uid": uid},
				fmt.Sprintf("%s is active as %s", args[0], uid))
		},
	}
	activate.Flags().StringVar(&name, "name", "", "override the display name")
	cmd.AddCommand(activate)

	cmd.AddCommand(&cobra.Command{
		Use:   "find <name>",
		Short: "List mirrored members with the given name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, 0)
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.store.SearchUsersByName(commandContext(cmd), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to search members", err)
			}
			rows := make([][]string, len(users))
			for i, u := range users {
				depts := make([]string, len(u.Depts))
				for j, d := range u.Depts {
					depts[j] = d.ThirdDeptID
				}
				rows[i] = []string{u.ID, u.Name, u.EmployeeID, strings.Join(depts, ",")}
			}
			return rootOpts.output(cmd).Table(users, []string{"ID", "NAME", "EMPLOYEE ID", "DEPTS"}, rows)
		},
	})

	cmd.AddCommand(enableCommand(rootOpts, true), enableCommand(rootOpts, false))
	return cmd
}

func enableCommand(rootOpts *RootOptions, enabled bool) *cobra.Command {
	use, verb := "disable", "disabled"
	if enabled {
		use, verb = "enable", "enabled"
	}
	return &cobra.Command{
		Use:   use + " <source-id>...",
		Short: fmt.Sprintf("Mark accounts %s by source id", verb),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, needCloud)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.SetUsersEnabled(commandContext(cmd), args, enabled)
			if err != nil {
				return WrapExitError(ExitFailure, use+" failed", err)
			}
			return rootOpts.output(cmd).Result(map[string]int{verb: n}, fmt.Sprintf("%s %d of %d accounts", verb, n, len(args)))
		},
	}
}
