// Package config assembles runtime configuration from environment
// variables plus an optional strand.yaml file. Env values win over file
// values; every env read is whitespace-trimmed.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/strandlabs/strand/internal/mcp"
)

// Defaults that matter enough to name.
const (
	DefaultAddr         = ":8000"
	DefaultModel        = "gpt-4o"
	DefaultGatewayBase  = "https://api.portkey.ai/v1"
	DefaultProxyBase    = "proxy.daytona.works"
	DefaultLocalDBPath  = "threads.db"
	DefaultDaytonaEnvID = "kafka-lite-vm-0.0.10"
	DevVMAPIKey         = "vm_dev_1234"
)

// Gateway configures the LLM gateway client.
type Gateway struct {
	APIKey      string            `yaml:"api_key"`
	VirtualKey  string            `yaml:"virtual_key"`
	ConfigID    string            `yaml:"config_id"`
	BaseURL     string            `yaml:"base_url"`
	VirtualKeys map[string]string `yaml:"virtual_keys"`
}

// Sandbox configures sandbox provisioning and claiming.
type Sandbox struct {
	DaytonaAPIKey  string `yaml:"daytona_api_key"`
	EnvID          string `yaml:"env_id"`
	Snapshot       string `yaml:"snapshot"`
	ProxyBase      string `yaml:"proxy_base"`
	LocalURL       string `yaml:"local_url"`
	WarmServiceURL string `yaml:"warm_service_url"`
	VMAPIKey       string `yaml:"vm_api_key"`
	MemoryDSN      string `yaml:"memory_dsn"`
	OpenAIKey      string `yaml:"openai_virtual_key"`
}

// Storage selects and configures the thread store.
type Storage struct {
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
	LocalDBPath string `yaml:"local_db_path"`
}

// Config is the full runtime configuration.
type Config struct {
	Addr         string `yaml:"addr"`
	DefaultModel string `yaml:"default_model"`
	Dev          bool   `yaml:"dev"`

	Gateway    Gateway            `yaml:"gateway"`
	Sandbox    Sandbox            `yaml:"sandbox"`
	Storage    Storage            `yaml:"storage"`
	MCPServers []mcp.ServerConfig `yaml:"mcp_servers"`
	Models     []string           `yaml:"models"`
}

// DefaultMCPServers is the stock MCP server list.
func DefaultMCPServers() []mcp.ServerConfig {
	return []mcp.ServerConfig{
		{Name: "fetch", URL: "https://remote.mcpservers.org/fetch/mcp"},
	}
}

// DefaultModels is the static model catalog served by /v1/models.
func DefaultModels() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-5",
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"gemini-2.5-pro",
	}
}

// FromEnv builds the configuration from process environment only.
func FromEnv() *Config {
	dev := envBool("DEV")

	cfg := &Config{
		Addr:         env("STRAND_ADDR", DefaultAddr),
		DefaultModel: env("DEFAULT_MODEL", DefaultModel),
		Dev:          dev,
		Gateway: Gateway{
			APIKey:     env("PORTKEY_API_KEY", ""),
			VirtualKey: env("PORTKEY_VIRTUAL_KEY", ""),
			ConfigID:   env("PORTKEY_CONFIG", ""),
			BaseURL:    env("PORTKEY_BASE_URL", DefaultGatewayBase),
		},
		Sandbox: Sandbox{
			DaytonaAPIKey:  env("DAYTONA_API_KEY", ""),
			EnvID:          env("DAYTONA_ENV_ID", DefaultDaytonaEnvID),
			ProxyBase:      env("PROXY_BASE_URL", DefaultProxyBase),
			LocalURL:       env("LOCAL_SANDBOX_URL", ""),
			WarmServiceURL: env("WARM_SANDBOX_SERVICE_URL", ""),
			VMAPIKey:       env("VM_API_KEY", ""),
			MemoryDSN:      env("MEMORY_DSN", ""),
			OpenAIKey:      env("OPENAI_PK_VIRTUAL_KEY", ""),
		},
		Storage: Storage{
			SupabaseURL: env("SUPABASE_URL", ""),
			SupabaseKey: env("SUPABASE_KEY", ""),
			LocalDBPath: env("LOCAL_DB_PATH", DefaultLocalDBPath),
		},
		MCPServers: DefaultMCPServers(),
		Models:     DefaultModels(),
	}
	if cfg.Sandbox.VMAPIKey == "" && dev {
		cfg.Sandbox.VMAPIKey = DevVMAPIKey
	}
	return cfg
}

// VirtualKeys returns the family -> gateway virtual key map.
func (c *Config) VirtualKeys() map[string]string {
	keys := map[string]string{}
	for family, key := range c.Gateway.VirtualKeys {
		if key != "" {
			keys[family] = key
		}
	}
	if _, ok := keys["openai"]; !ok {
		if k := firstNonEmpty(c.Sandbox.OpenAIKey, c.Gateway.VirtualKey); k != "" {
			keys["openai"] = k
		}
	}
	return keys
}

// UsePostgres reports whether the hosted store is configured.
func (c *Config) UsePostgres() bool {
	return c.Storage.SupabaseURL != "" && c.Storage.SupabaseKey != ""
}

// Validate rejects configurations that cannot serve at all.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("default model is empty")
	}
	return nil
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
