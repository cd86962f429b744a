package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/app"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/logging"
	"github.com/JakeFAU/listing-crawler/internal/pipeline"
)

// Services is what the commands need from the application container. It
// lets tests inject a fake.
type Services interface {
	Ingest(ctx context.Context) (pipeline.IngestResult, error)
	HTTPServer() (*http.Server, error)
	Logger() *zap.Logger
	Close() error
}

// newServices is the application factory, replaced in tests.
var newServices = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Services, error) {
	return app.New(ctx, cfg, logger)
}

type servicesKey struct{}

type rootOptions struct {
	configFile string
	envFiles   []string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var restoreGlobals func()
	cmd := &cobra.Command{
		Use:   "listing-crawler",
		Short: "Collects real-estate listings into a local property catalog.",
		Long: `listing-crawler fetches a listing search page, extracts the embedded
data island, normalizes (and optionally enriches) each listing, and merges the
results into the configured property store. The serve command exposes the
collection over HTTP together with a scrape trigger.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			logger, err := logging.NewWithLevel(cfg.Logging.Development, opts.logLevel)
			if err != nil {
				return err
			}
			restoreGlobals = logging.Install(logger)

			svc, err := newServices(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), servicesKey{}, svc))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			svc, ok := cmd.Context().Value(servicesKey{}).(Services)
			if !ok || svc == nil {
				return
			}
			logger := svc.Logger()
			if err := svc.Close(); err != nil {
				logger.Warn("error closing services", zap.Error(err))
			}
			_ = logger.Sync()
			if restoreGlobals != nil {
				restoreGlobals()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (environment LISTING_* overrides it)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load first (default .env when present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")

	cmd.AddCommand(newCrawlCmd(), newServeCmd())
	return cmd
}

func resolveServices(ctx context.Context) (Services, error) {
	svc, ok := ctx.Value(servicesKey{}).(Services)
	if !ok || svc == nil {
		return nil, errors.New("application services not initialized")
	}
	return svc, nil
}
