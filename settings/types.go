package settings

import (
	"time"

	"github.com/KANAsho116/PromptStorage/logger"
	"github.com/KANAsho116/PromptStorage/parser"
)

type (
	Config struct {
		Server   ServerConfig   `toml:"server" validate:"required"`
		Database DatabaseConfig `toml:"database" validate:"required"`
		ComfyUI  ComfyUIConfig  `toml:"comfyui" validate:"required"`
		Parser   ParserConfig   `toml:"parser"`
		Logging  logger.Config  `toml:"logging" validate:"required"`
	}

	ServerConfig struct {
		Host         string        `toml:"host" validate:"required"`
		Port         int           `toml:"port" validate:"required,min=1,max=65535"`
		APIPrefix    string        `toml:"api_prefix" validate:"required,startswith=/"`
		CORSOrigin   string        `toml:"cors_origin"`
		MaxBody      int64         `toml:"max_body" validate:"gt=0"`
		ReadTimeout  time.Duration `toml:"read_timeout" validate:"gte=0"`
		WriteTimeout time.Duration `toml:"write_timeout" validate:"gte=0"`
	}

	DatabaseConfig struct {
		Path string `toml:"path" validate:"required"`
	}

	ComfyUIConfig struct {
		URL       string        `toml:"url" validate:"required,url"`
		ClientID  string        `toml:"client_id" validate:"omitempty,uuid"`
		MaxRetry  int           `toml:"max_retry" validate:"gte=0"`
		BaseDelay time.Duration `toml:"base_delay" validate:"gte=0"`
		MaxDelay  time.Duration `toml:"max_delay" validate:"gte=0"`
	}

	ParserConfig struct {
		ResolveLinks             bool                  `toml:"resolve_links"`
		SkipControlAfterGenerate bool                  `toml:"skip_control_after_generate"`
		NodeTypes                parser.ExtraNodeTypes `toml:"node_types"`
	}
)
