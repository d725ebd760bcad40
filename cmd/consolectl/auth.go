package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/models"
)

func newLoginCmd(opts *options) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("password is required")
			}
			password = strings.TrimRight(line, "\r\n")
		}
		return run(opts, func(ctx context.Context, a *app, _ []string) error {
			return a.login(ctx, strings.TrimSpace(email), password)
		})(cmd, args)
	}
	return cmd
}

func (a *app) login(ctx context.Context, email, password string) error {
	s := a.open(ctx)
	resp, err := s.API().Login(ctx, models.Credentials{Email: email, Password: password})
	if err != nil {
		return describe(err, "login failed")
	}
	previous := s.UserID()
	if err := s.SessionStore().Login(ctx, resp.User, resp.AccessToken, resp.RefreshToken); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if resp.User == nil {
		if me, err := s.API().Me(ctx); err == nil {
			_ = s.SessionStore().SetUser(ctx, &me)
		}
	}
	if s.UserID() != previous {
		if err := s.TenantStore().ClearOrganizations(ctx); err != nil {
			return fmt.Errorf("reset organizations: %w", err)
		}
		a.boot.ForgetOrganizations(s.Key())
	}
	if err := a.selectDefault(ctx, s); err != nil {
		a.logger.Warn("organization selection failed", zap.Error(err))
	}
	if err := a.jar.Err(); err != nil {
		return fmt.Errorf("session not saved: %w", err)
	}

	user := s.SessionStore().Snapshot().User
	a.out.success("Signed in as %s", a.out.bold(user.DisplayName()))
	if org := s.TenantStore().Snapshot().CurrentOrganization; org != nil {
		a.out.info("Organization: %s (%s)", org.Name, s.TenantStore().Snapshot().CurrentRole)
	}
	return nil
}

// selectDefault loads the organization list and keeps or picks a selection,
// the way the next browser request would.
func (a *app) selectDefault(ctx context.Context, s *console.Session) error {
	orgs, err := a.boot.Organizations(ctx, s.Key(), s.API())
	if err != nil {
		return err
	}
	ten := s.TenantStore()
	if err := ten.SetOrganizations(ctx, orgs); err != nil {
		return err
	}
	tc := ten.Snapshot()
	if len(tc.Organizations) == 0 {
		return nil
	}
	if tc.CurrentOrganization != nil && tc.CurrentRole != models.RoleNone {
		if _, ok := tc.Find(tc.CurrentOrganization.ID); ok {
			return nil
		}
	}
	_, err = bootstrap.SelectOrganization(ctx, ten, s.API(), tc.Organizations[0])
	return err
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			s := a.open(ctx)
			if s.IsAuthenticated() {
				if err := s.API().Logout(ctx); err != nil {
					a.logger.Info("backend logout failed", zap.Error(err))
				}
			}
			if err := s.SessionStore().Logout(ctx); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			if err := s.TenantStore().ClearOrganizations(ctx); err != nil {
				return fmt.Errorf("clear organizations: %w", err)
			}
			a.boot.ForgetOrganizations(s.Key())
			a.out.success("Signed out")
			return nil
		}),
	}
}

func newWhoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and organization",
		Args:  cobra.NoArgs,
		RunE: run(opts, func(ctx context.Context, a *app, _ []string) error {
			s, err := a.authed(ctx)
			if err != nil {
				return err
			}
			me, err := s.API().Me(ctx)
			if err != nil {
				return describe(err, "could not load profile")
			}
			_ = s.SessionStore().SetUser(ctx, &me)

			a.out.info("%s <%s>", a.out.bold(me.DisplayName()), me.Email)
			tc := s.TenantStore().Snapshot()
			if tc.CurrentOrganization == nil {
				a.out.info("No organization selected")
				return nil
			}
			role := string(tc.CurrentRole)
			if role == "" {
				role = "unknown role"
			}
			a.out.info("%s (%s)", tc.CurrentOrganization.Name, role)
			return nil
		}),
	}
}
