package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if config.Server.Addr() != "127.0.0.1:3001" {
		t.Errorf("Addr() = %q", config.Server.Addr())
	}
	if !config.Parser.ResolveLinks || config.Parser.SkipControlAfterGenerate || config.Server.APIPrefix != "/api" {
		t.Errorf("Unexpected defaults %+v", config)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 8080
read_timeout = "5s"

[database]
path = "/tmp/prompts.db"

[comfyui]
url = "http://gpu-box:8188"
client_id = "0b5f5c06-5f6b-4c9b-9f3c-2c9a3e0d4a11"

[parser]
resolve_links = false
skip_control_after_generate = true

[parser.node_types]
prompt = ["CLIPTextEncodeFlux"]

[logging]
level = "debug"
format = "json"
`)

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if config.Server.Port != 8080 || config.Server.Host != "127.0.0.1" {
		t.Errorf("Unexpected server config %+v", config.Server)
	}
	if config.Server.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v", config.Server.ReadTimeout)
	}
	if config.ComfyUI.URL != "http://gpu-box:8188" || config.ComfyUI.MaxRetry != 10 {
		t.Errorf("Unexpected comfyui config %+v", config.ComfyUI)
	}

	opts := config.ParserOptions(nil)
	if !opts.LinkIDsAsNodeIDs {
		t.Error("Expected resolve_links = false to keep link ids as node ids")
	}
	if !opts.SkipControlAfterGenerate {
		t.Error("Expected skip_control_after_generate to reach the parser options")
	}
	if !opts.NodeTypes.Prompt.Has("CLIPTextEncodeFlux") || !opts.NodeTypes.Prompt.Has("CLIPTextEncode") {
		t.Errorf("Expected extra prompt types on top of the defaults, got %v", opts.NodeTypes.Prompt.Names())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad port":      "[server]\nport = 70000\n",
		"bad prefix":    "[server]\napi_prefix = \"api\"\n",
		"bad url":       "[comfyui]\nurl = \"not a url\"\n",
		"bad client id": "[comfyui]\nclient_id = \"abc\"\n",
		"bad level":     "[logging]\nlevel = \"loud\"\n",
		"syntax":        "[server\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Errorf("Expected an error")
			}
		})
	}
}

func TestEnsureDatabaseDir(t *testing.T) {
	config := Default()
	config.Database.Path = filepath.Join(t.TempDir(), "a", "b", "prompts.db")
	if err := config.EnsureDatabaseDir(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(config.Database.Path)); err != nil {
		t.Errorf("Expected the directory to exist: %v", err)
	}
}
