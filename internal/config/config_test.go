package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"STRAND_ADDR", "DEFAULT_MODEL", "DEV", "VM_API_KEY", "PROXY_BASE_URL", "DAYTONA_ENV_ID"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	if cfg.Addr != ":8000" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.DefaultModel != "gpt-4o" {
		t.Fatalf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Sandbox.ProxyBase != "proxy.daytona.works" {
		t.Fatalf("ProxyBase = %q", cfg.Sandbox.ProxyBase)
	}
	if cfg.Sandbox.EnvID != "kafka-lite-vm-0.0.10" {
		t.Fatalf("EnvID = %q", cfg.Sandbox.EnvID)
	}
	// No dev flag, no default VM key.
	if cfg.Sandbox.VMAPIKey != "" {
		t.Fatalf("VMAPIKey = %q, want empty outside dev", cfg.Sandbox.VMAPIKey)
	}
	if len(cfg.MCPServers) != 1 || cfg.MCPServers[0].Name != "fetch" {
		t.Fatalf("MCPServers = %+v", cfg.MCPServers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFromEnvTrimsAndDevKey(t *testing.T) {
	t.Setenv("STRAND_ADDR", "  :9001  ")
	t.Setenv("DEV", "true")
	t.Setenv("VM_API_KEY", "")

	cfg := FromEnv()
	if cfg.Addr != ":9001" {
		t.Fatalf("Addr = %q, want trimmed value", cfg.Addr)
	}
	if !cfg.Dev {
		t.Fatal("Dev flag not parsed")
	}
	if cfg.Sandbox.VMAPIKey != DevVMAPIKey {
		t.Fatalf("VMAPIKey = %q, want dev default", cfg.Sandbox.VMAPIKey)
	}
}

func TestVirtualKeys(t *testing.T) {
	cfg := &Config{}
	cfg.Gateway.VirtualKey = "pk-fallback"
	keys := cfg.VirtualKeys()
	if keys["openai"] != "pk-fallback" {
		t.Fatalf("keys = %v", keys)
	}

	cfg.Sandbox.OpenAIKey = "pk-openai"
	cfg.Gateway.VirtualKeys = map[string]string{"anthropic": "pk-ant"}
	keys = cfg.VirtualKeys()
	if keys["openai"] != "pk-openai" || keys["anthropic"] != "pk-ant" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestUsePostgres(t *testing.T) {
	cfg := &Config{}
	if cfg.UsePostgres() {
		t.Fatal("empty config should not select postgres")
	}
	cfg.Storage.SupabaseURL = "postgres://db"
	cfg.Storage.SupabaseKey = "key"
	if !cfg.UsePostgres() {
		t.Fatal("configured supabase should select postgres")
	}
}

func TestApplyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strand.yaml")
	contents := `
addr: ":7000"
sandbox:
  snapshot: custom-snapshot
mcp_servers:
  - name: notes
    command: notes-mcp
    args: ["--stdio"]
models:
  - my-custom-model
virtual_keys:
  google: pk-goog
`
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"STRAND_ADDR", "DEFAULT_MODEL"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatal(err)
	}

	if cfg.Addr != ":7000" {
		t.Fatalf("Addr = %q, file should override default", cfg.Addr)
	}
	if cfg.Sandbox.Snapshot != "custom-snapshot" {
		t.Fatalf("Snapshot = %q", cfg.Sandbox.Snapshot)
	}
	if len(cfg.MCPServers) != 2 || cfg.MCPServers[1].Name != "notes" || cfg.MCPServers[1].Command != "notes-mcp" {
		t.Fatalf("MCPServers = %+v", cfg.MCPServers)
	}
	if cfg.Models[len(cfg.Models)-1] != "my-custom-model" {
		t.Fatalf("Models = %v", cfg.Models)
	}
	if cfg.VirtualKeys()["google"] != "pk-goog" {
		t.Fatalf("VirtualKeys = %v", cfg.VirtualKeys())
	}
}

func TestApplyFileEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strand.yaml")
	if err := os.WriteFile(path, []byte("addr: \":7000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("STRAND_ADDR", ":9999")
	cfg := FromEnv()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr = %q, env must win over file", cfg.Addr)
	}
}

func TestApplyFileMissingIsFine(t *testing.T) {
	cfg := FromEnv()
	if err := cfg.ApplyFile(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "mcp_servers") {
		t.Fatalf("schema missing yaml field names:\n%s", data)
	}
}
