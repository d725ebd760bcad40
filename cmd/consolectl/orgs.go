package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aura-saas/console/internal/organizations"
)

func newOrgsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "List and switch organizations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List your organizations",
			Args:  cobra.NoArgs,
			RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
				s, err := a.authed(ctx)
				if err != nil {
					return err
				}
				orgs, err := organizations.NewRepository(a.boot).List(ctx, s)
				if err != nil {
					return describe(err, "could not load organizations")
				}
				if len(orgs) == 0 {
					a.out.info("You are not a member of any organization")
					return nil
				}
				current := s.CurrentOrganizationID()
				rows := make([][]string, 0, len(orgs))
				for _, o := range orgs {
					mark := ""
					if o.ID == current {
						mark = "*"
					}
					rows = append(rows, []string{mark, o.ID, o.Name, o.Slug})
				}
				return a.out.table([]string{"", "ID", "Name", "Slug"}, rows)
			}),
		},
		&cobra.Command{
			Use:   "use <organization-id>",
			Short: "Make an organization current",
			Args:  cobra.ExactArgs(1),
			RunE: run(opts, func(ctx context.Context, a *app, args []string) error {
				s, err := a.authed(ctx)
				if err != nil {
					return err
				}
				org, role, err := organizations.NewRepository(a.boot).Switch(ctx, s, args[0])
				switch {
				case errors.Is(err, organizations.ErrNotListed):
					return fmt.Errorf("organization %q is not one of yours", args[0])
				case err != nil && org.ID == "":
					return describe(err, "could not switch organization")
				case err != nil:
					a.out.success("Switched to %s (role unknown)", a.out.bold(org.Name))
					return nil
				}
				a.out.success("Switched to %s (%s)", a.out.bold(org.Name), role)
				return nil
			}),
		},
	)
	return cmd
}
