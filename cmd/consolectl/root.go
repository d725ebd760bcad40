package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/persist"
)

var errNotLoggedIn = errors.New("not logged in, run 'consolectl login' first")

// options are the global flags.
type options struct {
	apiURL   string
	stateDir string
	timeout  time.Duration
	verbose  bool
	noColor  bool
}

// app is one command invocation: the durable state on disk opened as a
// console session.
type app struct {
	opts    *options
	logger  *zap.Logger
	factory *console.Factory
	boot    *bootstrap.Bootstrapper
	jar     *cookies.FileJar
	out     *printer
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "consolectl")
	}
	return ".consolectl"
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "consolectl",
		Short: "Command line client for the Aura console",
		Long: `consolectl signs in to the console API and keeps the session on disk,
so later commands reuse it and refresh it when it expires.

Example usage:
  consolectl login --email ada@example.com
  consolectl whoami
  consolectl orgs list
  consolectl orgs use <organization-id>
  consolectl members list --status invited`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("API_BASE_URL", "http://localhost:3001/api"), "backend API base URL")
	root.PersistentFlags().StringVar(&opts.stateDir, "state-dir", defaultStateDir(), "directory holding the session state")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newLoginCmd(opts), newLogoutCmd(opts), newWhoamiCmd(opts), newOrgsCmd(opts), newMembersCmd(opts))
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newApp opens the state directory. Session and tenant records live in
// separate directories because they share a storage key.
func newApp(cmd *cobra.Command, opts *options) (*app, error) {
	logger := zap.NewNop()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		logger = l
	}
	sessions, err := persist.NewFileStore(filepath.Join(opts.stateDir, "sessions"))
	if err != nil {
		return nil, err
	}
	tenants, err := persist.NewFileStore(filepath.Join(opts.stateDir, "tenants"))
	if err != nil {
		return nil, err
	}
	jar, err := cookies.NewFileJar(filepath.Join(opts.stateDir, "cookies.json"), logger)
	if err != nil {
		return nil, err
	}

	boot := bootstrap.New(bootstrap.Options{}, logger)
	events := console.Events{
		Refresh: func(_ context.Context, tag, _ string, outcome apiclient.RefreshOutcome) {
			logger.Debug("token refresh", zap.String("session", tag), zap.String("outcome", string(outcome)))
		},
	}
	factory := console.NewFactory(console.Config{
		API:              apiclient.Config{BaseURL: opts.apiURL, Timeout: opts.timeout},
		BootstrapTimeout: opts.timeout,
	}, sessions, tenants, boot, events, logger)

	out := &printer{out: cmd.OutOrStdout(), useColors: !opts.noColor && !color.NoColor}
	return &app{opts: opts, logger: logger, factory: factory, boot: boot, jar: jar, out: out}, nil
}

// open bootstraps the stored session, creating a session id on first use.
func (a *app) open(ctx context.Context) *console.Session {
	id, ok := a.jar.Get(cookies.SessionID)
	if _, err := uuid.Parse(id); !ok || err != nil {
		id = uuid.NewString()
		a.jar.Set(cookies.SessionID, id, cookies.SessionIDTTL)
	}
	return a.factory.Open(ctx, id, a.jar)
}

// authed opens the session and fails when it is not signed in.
func (a *app) authed(ctx context.Context) (*console.Session, error) {
	s := a.open(ctx)
	if !s.IsAuthenticated() {
		return nil, errNotLoggedIn
	}
	return s, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// run wraps a command body with app setup.
func run(opts *options, fn func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, opts)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), a, args)
	}
}

// describe turns an API error into a short message.
func describe(err error, fallback string) error {
	if errors.Is(err, apiclient.ErrRefreshFailed) {
		return errors.New("session expired, run 'consolectl login' again")
	}
	if msg := apiclient.MessageOf(err); msg != "" {
		return fmt.Errorf("%s: %s", fallback, msg)
	}
	return fmt.Errorf("%s: %w", fallback, err)
}
