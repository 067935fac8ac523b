package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/runwatch/internal/api"
	"github.com/JakeFAU/runwatch/internal/app"
	"github.com/JakeFAU/runwatch/internal/backend"
	"github.com/JakeFAU/runwatch/internal/config"
	"github.com/JakeFAU/runwatch/internal/logging"
	"github.com/JakeFAU/runwatch/internal/runs"
	"github.com/JakeFAU/runwatch/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of *app.App the commands use, so tests can swap the factory.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Backend() *backend.Client
	Exports() runs.BlobStore
	NewSession(runID int64) (*tracker.Session, error)
	APIServer() *api.Server
	Close(ctx context.Context) error
}

var _ App = (*app.App)(nil)

// newApp is the application factory. It's a variable so tests can register
// collectors on a private registry.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type rootFlags struct {
	configFile string
	backendURL string
	logLevel   string
}

// newRootCmd creates the root command and its subcommands. The returned
// closer releases whatever app the invoked command built.
func newRootCmd() (*cobra.Command, func()) {
	flags := &rootFlags{}
	var built App

	cmd := &cobra.Command{
		Use:   "runwatch",
		Short: "Track the progress of long-running research runs.",
		Long: `runwatch follows a multi-stage backend run from execution to completion.
It polls the run and its artifacts, keeps a durable record of when execution
started, and renders a five-step progress view that never moves backwards.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			if flags.backendURL != "" {
				cfg.Backend.BaseURL = flags.backendURL
			}
			if flags.logLevel != "" {
				cfg.Logging.Level = flags.logLevel
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Stderr:      true,
			})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (YAML, optional)")
	cmd.PersistentFlags().StringVar(&flags.backendURL, "backend-url", "", "override backend.base_url")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newWatchCmd(),
		newExecuteCmd(),
		newArtifactsCmd(),
		newRunsCmd(),
		newServeCmd(),
	)

	closer := func() {
		if built == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger := built.Logger()
		if err := built.Close(ctx); err != nil {
			logger.Warn("error closing application services", zap.Error(err))
		}
		_ = logger.Sync()
		built = nil
	}
	return cmd, closer
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services are not initialized")
	}
	return appInstance, nil
}

func parseRunArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, runs.ErrNoRun
	}
	id, err := runs.ParseID(args[0])
	if err != nil {
		return 0, err
	}
	return id, nil
}

// isInterrupt reports whether err only reflects the user stopping the command.
func isInterrupt(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && ctx.Err() != nil
}
