package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/solatis/formkeeper/internal/core/config"
	"github.com/solatis/formkeeper/internal/core/db"
	"github.com/solatis/formkeeper/internal/logging"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "formkeeper",
	Short:        "FormKeeper form state and validation service",
	Long:         `FormKeeper validates, evaluates and stores form submissions against declarative YAML schemas.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...); defaults to sqlite in the data dir")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console); overrides config")
	rootCmd.Version = Version
}

func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and builds the process logger. Flags win over
// the config file and FK_* environment variables.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logging.SetDefault(logger)
	return cfg, logger, nil
}

// openDB opens --db-url, or the sqlite file in the data dir when unset.
func openDB(cfg *config.Config) (*sqlx.DB, error) {
	url := dbURL
	if url == "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		url = "sqlite://" + filepath.Join(cfg.Server.DataDir, "formkeeper.db")
	}
	database, err := db.Open(url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}
