package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/KANAsho116/PromptStorage/logger"
	"github.com/KANAsho116/PromptStorage/parser"
)

// DefaultConfigPath is read when no path is given.
const DefaultConfigPath = "config.toml"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         3001,
			APIPrefix:    "/api",
			CORSOrigin:   "http://localhost:5173",
			MaxBody:      50 << 20,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Path: filepath.Join("storage", "database", "prompts.db"),
		},
		ComfyUI: ComfyUIConfig{
			URL:       "http://127.0.0.1:8188",
			MaxRetry:  10,
			BaseDelay: time.Second,
			MaxDelay:  30 * time.Second,
		},
		Parser: ParserConfig{
			ResolveLinks: true,
		},
		Logging: logger.DefaultConfig(),
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// Load reads the TOML file at path over the built-in defaults. A missing file
// leaves the defaults in place. Keys absent from the file keep their default.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		path = DefaultConfigPath
	}

	// Get absolute path for better error messages
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	_, err = toml.DecodeFile(path, config)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("No config file, using defaults", "path", absPath)
	} else if err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ParserOptions builds the parser configuration: the built-in node types
// extended with the configured extras.
func (c *Config) ParserOptions(l *slog.Logger) parser.Options {
	types := parser.DefaultNodeTypes().Extend(c.Parser.NodeTypes)
	return parser.Options{
		NodeTypes:                &types,
		LinkIDsAsNodeIDs:         !c.Parser.ResolveLinks,
		SkipControlAfterGenerate: c.Parser.SkipControlAfterGenerate,
		Logger:                   l,
	}
}

// EnsureDatabaseDir creates the directory holding the database file.
func (c *Config) EnsureDatabaseDir() error {
	dir := filepath.Dir(c.Database.Path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
