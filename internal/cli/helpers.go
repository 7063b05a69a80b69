package cli

import (
	"fmt"

	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/store"
	"go.uber.org/zap"
)

// loadConfig reads the config file (if any) and applies the --db override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DB.Path = dbPath
	}
	return cfg, nil
}

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*config.Config, *store.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(cfg, s)
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
