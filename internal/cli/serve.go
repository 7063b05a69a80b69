package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/experiment"
	"github.com/splitpage/splitpage/internal/report"
	"github.com/splitpage/splitpage/internal/server"
	"github.com/splitpage/splitpage/internal/store"
	"go.uber.org/zap"
)

var port int

func init() {
	// SP_SERVER_PORT flows in through the config layer; the flag only
	// overrides an explicitly set value.
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the splitpage HTTP server.

The server provides:
  - /apply and /resolve for variant assignment and page rewriting
  - Beacon endpoint for conversion and funnel events
  - Dashboard for viewing results
  - Health check endpoint

Example:
  splitpage serve --port 8080`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	s, err := store.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	engine, err := buildEngine(cfg, s, log)
	if err != nil {
		return err
	}
	if err := engine.EnsureExperiments(context.Background()); err != nil {
		return fmt.Errorf("failed to sync experiments: %w", err)
	}

	tokenFile := cfg.Server.TokenFile
	if tokenFile != "" && !filepath.IsAbs(tokenFile) {
		tokenFile = filepath.Join(filepath.Dir(cfg.DB.Path), tokenFile)
	}

	srv := server.New(s, engine, cfg.Server.Port, tokenFile, log)
	return srv.Start()
}

// buildEngine wires the configured experiments, conversion routes and
// collectors into a single engine instance.
func buildEngine(cfg *config.Config, s store.Store, log *zap.Logger) (*experiment.Engine, error) {
	experiments, routes, err := experiment.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var collectors []report.Collector
	if s != nil {
		collectors = append(collectors, report.NewStoreCollector(s))
	}
	if cfg.Reporting.LogEvents {
		collectors = append(collectors, report.NewLogCollector(log))
	}
	if cfg.Reporting.WebhookURL != "" {
		collectors = append(collectors, report.NewWebhookCollector(cfg.Reporting.WebhookURL))
	}

	dispatcher := report.NewDispatcher(cfg.Reporting.Enabled, log, collectors...)

	return experiment.New(experiments, routes, experiment.Options{
		Store:    s,
		Prefix:   cfg.Storage.Prefix,
		Reporter: dispatcher,
		Logger:   log,
	}), nil
}
