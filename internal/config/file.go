package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/internal/mcp"
)

// DefaultFile is the conventional config file name, looked for in the
// working directory.
const DefaultFile = "strand.yaml"

// fileConfig is the subset of Config settable from YAML.
type fileConfig struct {
	Addr         string             `yaml:"addr"`
	DefaultModel string             `yaml:"default_model"`
	Gateway      *Gateway           `yaml:"gateway"`
	Sandbox      *Sandbox           `yaml:"sandbox"`
	Storage      *Storage           `yaml:"storage"`
	MCPServers   []ServerEntry      `yaml:"mcp_servers"`
	Models       []string           `yaml:"models"`
	VirtualKeys  map[string]string  `yaml:"virtual_keys"`
}

// ServerEntry mirrors mcp.ServerConfig in YAML.
type ServerEntry struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	URL     string            `yaml:"url"`
}

// ApplyFile layers a YAML file under the env-derived config: env values
// that are still at their defaults take the file's value; lists from the
// file extend the defaults. A missing file is not an error.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if c.Addr == DefaultAddr && fc.Addr != "" {
		c.Addr = fc.Addr
	}
	if c.DefaultModel == DefaultModel && fc.DefaultModel != "" {
		c.DefaultModel = fc.DefaultModel
	}
	if fc.Gateway != nil {
		setIfEmpty(&c.Gateway.APIKey, fc.Gateway.APIKey)
		setIfEmpty(&c.Gateway.VirtualKey, fc.Gateway.VirtualKey)
		setIfEmpty(&c.Gateway.ConfigID, fc.Gateway.ConfigID)
		if c.Gateway.BaseURL == DefaultGatewayBase && fc.Gateway.BaseURL != "" {
			c.Gateway.BaseURL = fc.Gateway.BaseURL
		}
	}
	if fc.Sandbox != nil {
		setIfEmpty(&c.Sandbox.Snapshot, fc.Sandbox.Snapshot)
		setIfEmpty(&c.Sandbox.LocalURL, fc.Sandbox.LocalURL)
		setIfEmpty(&c.Sandbox.WarmServiceURL, fc.Sandbox.WarmServiceURL)
		if c.Sandbox.EnvID == DefaultDaytonaEnvID && fc.Sandbox.EnvID != "" {
			c.Sandbox.EnvID = fc.Sandbox.EnvID
		}
	}
	if fc.Storage != nil {
		setIfEmpty(&c.Storage.SupabaseURL, fc.Storage.SupabaseURL)
		setIfEmpty(&c.Storage.SupabaseKey, fc.Storage.SupabaseKey)
		if c.Storage.LocalDBPath == DefaultLocalDBPath && fc.Storage.LocalDBPath != "" {
			c.Storage.LocalDBPath = fc.Storage.LocalDBPath
		}
	}
	for _, entry := range fc.MCPServers {
		c.MCPServers = append(c.MCPServers, entry.toServerConfig())
	}
	c.Models = append(c.Models, fc.Models...)
	if len(fc.VirtualKeys) > 0 {
		if c.Gateway.VirtualKeys == nil {
			c.Gateway.VirtualKeys = map[string]string{}
		}
		for family, key := range fc.VirtualKeys {
			if _, taken := c.Gateway.VirtualKeys[family]; !taken {
				c.Gateway.VirtualKeys[family] = key
			}
		}
	}
	return nil
}

func (e ServerEntry) toServerConfig() mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:    e.Name,
		Command: e.Command,
		Args:    e.Args,
		Env:     e.Env,
		URL:     e.URL,
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
