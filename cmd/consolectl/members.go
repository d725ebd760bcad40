package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aura-saas/console/internal/models"
)

func newMembersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Inspect members of the current organization",
	}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List members by status tab",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			tab := models.StatusTab(status)
			if !tab.Valid() {
				return fmt.Errorf("unknown status %q (use active, invited or other)", status)
			}
			s, err := a.authed(ctx)
			if err != nil {
				return err
			}
			orgID := s.CurrentOrganizationID()
			if orgID == "" {
				return fmt.Errorf("no organization selected, run 'consolectl orgs use <id>'")
			}
			all, err := s.API().Members(ctx, orgID)
			if err != nil {
				return describe(err, "could not load members")
			}
			filtered := models.FilterMembers(all, tab)
			if len(filtered) == 0 {
				a.out.info("No %s members", tab)
				return nil
			}
			rows := make([][]string, 0, len(filtered))
			for _, m := range filtered {
				email := ""
				if m.User != nil {
					email = m.User.Email
				}
				rows = append(rows, []string{m.UserID, m.User.Name(), email, string(m.Role), string(m.Status)})
			}
			return a.out.table([]string{"User", "Name", "Email", "Role", "Status"}, rows)
		}),
	}
	list.Flags().StringVar(&status, "status", string(models.TabActive), "status tab: active, invited or other")
	cmd.AddCommand(list)
	return cmd
}
