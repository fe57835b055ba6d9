// Package cmd defines and implements the CLI commands for the gamecrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/app"
	"github.com/JakeFAU/game-reviews-crawler/internal/config"
	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
	"github.com/JakeFAU/game-reviews-crawler/internal/logging"
	"github.com/JakeFAU/game-reviews-crawler/internal/metrics"
	"github.com/JakeFAU/game-reviews-crawler/internal/sanitizer"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the service container.
// Tests swap in a fake through newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Crawl(ctx context.Context, settings crawler.Config) (crawler.RunResult, error)
	NewSanitizer(ctx context.Context) (*sanitizer.Service, error)
}

// newApp is the application factory.
var newApp = func(cfg config.Config, logger *zap.Logger) App {
	return app.New(cfg, logger)
}

// flagKeys maps command line flags onto the config keys they override.
var flagKeys = map[string]string{
	"data-dir":        "data.dir",
	"fetcher":         "fetcher.mode",
	"log-level":       "logging.level",
	"start-page":      "crawler.start_page",
	"max-pages":       "crawler.max_pages",
	"genre-threshold": "sanitizer.genre_threshold",
	"no-crawl":        "sanitizer.crawl_if_missing",
}

type rootOptions struct {
	cfgFile string
	envFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "gamecrawl",
		Short: "Crawl game review listings and refine them into Parquet.",
		Long: `gamecrawl walks the "all games by metascore" listing, visits each game's
detail and critic review pages, and writes a pipe-delimited raw dataset.
The sanitize command turns that file into a typed, grouped, gzip Parquet file.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.LoadWithOverrides(opts.cfgFile, flagOverrides(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), appKey, newApp(cfg, logger))
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.PersistentFlags().String("data-dir", "", "directory holding raw.csv, refined.parquet and the checkpoint")
	cmd.PersistentFlags().String("fetcher", "", "fetch backend: colly or headless")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newCrawlCmd(), newSanitizeCmd())
	return cmd
}

// flagOverrides collects the flags the user actually set.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		value := flag.Value.String()
		if name == "no-crawl" {
			overrides[key] = value != "true"
			continue
		}
		overrides[key] = value
	}
	return overrides
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp runs fn with the container and always exports metrics and closes
// the container afterwards, including on failure.
func withApp(fn func(cmd *cobra.Command, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		runErr := fn(cmd, a)
		exportMetrics(context.WithoutCancel(cmd.Context()), a.Config().Metrics, a.Logger())
		return runErr
	}
}

func exportMetrics(ctx context.Context, cfg config.MetricsConfig, logger *zap.Logger) {
	if cfg.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Textfile); err != nil {
			logger.Warn("metrics textfile export failed", zap.Error(err))
		}
	}
	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
			logger.Warn("metrics push failed", zap.Error(err))
		}
	}
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	_ = zap.L().Sync()
	if err != nil {
		os.Exit(1)
	}
}
