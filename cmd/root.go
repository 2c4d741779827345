// Package cmd defines and implements the CLI commands for the
// nextrequest-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/app"
	"github.com/JakeFAU/nextrequest-crawler/internal/config"
	"github.com/JakeFAU/nextrequest-crawler/internal/dispatcher"
	"github.com/JakeFAU/nextrequest-crawler/internal/logging"
	"github.com/JakeFAU/nextrequest-crawler/internal/store"
	"github.com/JakeFAU/nextrequest-crawler/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. Tests inject
// their own factory through newApp.
type App interface {
	Close(ctx context.Context)
	Logger() *zap.Logger
	Config() config.Config
	Repository() store.Repository
	Worker() *worker.Worker
	Dispatcher(mode dispatcher.Mode, spawner dispatcher.Spawner) (*dispatcher.Dispatcher, error)
	Ready(ctx context.Context) error
	StartMetrics()
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rootOptions struct {
	cfgFile     string
	credentials string
	envFile     string

	app App
}

// forwardArgs returns the global flags a child worker process needs to load
// the same configuration.
func (o *rootOptions) forwardArgs() []string {
	var args []string
	if o.cfgFile != "" {
		args = append(args, "--config", o.cfgFile)
	}
	if o.credentials != "" {
		args = append(args, "--credentials", o.credentials)
	}
	if o.envFile != "" {
		args = append(args, "--env-file", o.envFile)
	}
	return args
}

func (o *rootOptions) close(ctx context.Context) {
	if o.app != nil {
		o.app.Close(ctx)
		o.app = nil
	}
}

// newRootCmd creates and configures the root command.
func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "nextrequest-crawler",
		Short: "Crawls public records requests from NextRequest portals.",
		Long: `nextrequest-crawler walks the request listing of every known NextRequest
subdomain, fetches each request's detail document, and stores the merged
records. Many workers can run at once; leases in the document store keep
them from crawling the same subdomain.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance

			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			opts.close(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.credentials, "credentials", "", "credentials.json used to build the MongoDB URI")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before the configuration (default .env)")

	cmd.AddCommand(
		newCrawlCmd(opts),
		newWorkerCmd(),
		newSourcesCmd(),
		newResetCmd(),
		newServeCmd(),
	)
	return cmd, opts
}

func loadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if opts.credentials != "" {
		creds, err := config.LoadCredentials(opts.credentials)
		if err != nil {
			return config.Config{}, err
		}
		cfg.ApplyCredentials(creds)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command with ctx and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd, opts := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	opts.close(context.WithoutCancel(ctx))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
