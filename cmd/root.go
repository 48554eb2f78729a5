// Package cmd defines the mtaalerts CLI.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsdataclinic/mta/internal/app"
	"github.com/tsdataclinic/mta/internal/config"
	"github.com/tsdataclinic/mta/internal/driver"
	"github.com/tsdataclinic/mta/internal/logging"
)

// DefaultYear is scraped when no year (or 0) is given.
const DefaultYear = 2018

// App is the subset of *app.App the commands use; tests swap in a fake.
type App interface {
	Run(ctx context.Context, year int) ([]driver.Outcome, error)
	Plan(ctx context.Context, year int) ([]driver.PlanEntry, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type appKeyType string

const appKey appKeyType = "app"

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "mtaalerts [year]",
		Short: "Scrape the MTA alert message archive one month at a time.",
		Long: `mtaalerts pages through the MTA alert message archive for every month of
a year and writes each month to its own checkpoint. Months that already have a
checkpoint are skipped, so an interrupted run can simply be started again.`,
		Args:          yearArg,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := parseYear(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a App) error {
				if _, err := a.Run(cmd.Context(), year); err != nil {
					return fmt.Errorf("scrape %d: %w", year, err)
				}
				return nil
			})
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")
	cmd.AddCommand(newPlanCmd())
	return cmd
}

// withApp runs fn with the App built in PersistentPreRunE and closes it
// whether or not fn fails.
func withApp(cmd *cobra.Command, fn func(App) error) error {
	a, ok := cmd.Context().Value(appKey).(App)
	if !ok || a == nil {
		return fmt.Errorf("application services not initialized")
	}
	defer a.Close()
	return fn(a)
}

// yearArg rejects a bad year before any services are built.
func yearArg(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
		return err
	}
	_, err := parseYear(args)
	return err
}

// parseYear reads the optional year argument. Missing or 0 means DefaultYear.
func parseYear(args []string) (int, error) {
	if len(args) == 0 {
		return DefaultYear, nil
	}
	year, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return 0, fmt.Errorf("year must be an integer, got %q", args[0])
	}
	if year == 0 {
		return DefaultYear, nil
	}
	if year < 0 {
		return 0, fmt.Errorf("year must be positive, got %d", year)
	}
	return year, nil
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point.
func Execute() {
	// Until config is loaded, failures are reported by a development logger.
	if logger, err := logging.New(true, ""); err == nil {
		zap.ReplaceGlobals(logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stderr); err != nil {
		stop()
		zap.L().Fatal("Command execution failed", zap.Error(err))
	}
}
