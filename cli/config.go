package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KANAsho116/PromptStorage/ingest"
	"github.com/KANAsho116/PromptStorage/logger"
	"github.com/KANAsho116/PromptStorage/parser"
	"github.com/KANAsho116/PromptStorage/settings"
	"github.com/KANAsho116/PromptStorage/store"
)

// AddPersistentFlags registers the flags every subcommand reads through
// loadSettings.
func AddPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().String("config", settings.DefaultConfigPath, "Path to the TOML config file")
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
}

// loadSettings reads the config file named by --config, applies the
// --verbose and --db overrides and installs the configured logger.
func loadSettings(cmd *cobra.Command) (*settings.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := settings.Load(path)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = logger.LevelDebug
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database.Path = db
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	return cfg, nil
}

func addDatabaseFlag(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "Path to the SQLite database (overrides database.path)")
}

func openStore(cfg *settings.Config) (*store.SQLiteStore, error) {
	if err := cfg.EnsureDatabaseDir(); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.NewSQLiteStore(store.SQLiteStoreConfig{DSN: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	return st, nil
}

func newParser(cfg *settings.Config) *parser.Parser {
	return parser.New(cfg.ParserOptions(logger.Service("parser")))
}

func newIngest(cfg *settings.Config, st ingest.Store) (*ingest.Service, error) {
	return ingest.NewService(ingest.Config{
		Store:  st,
		Parser: newParser(cfg),
		Logger: logger.Service("ingest"),
	})
}
