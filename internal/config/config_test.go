package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Database.Path != "./tollgate.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./tollgate.db")
	}
	if cfg.Policy.DefaultDecision != "allow" {
		t.Errorf("Policy.DefaultDecision = %q, want %q", cfg.Policy.DefaultDecision, "allow")
	}
	if cfg.Approval.RequestTTL != "24h" {
		t.Errorf("Approval.RequestTTL = %q, want %q", cfg.Approval.RequestTTL, "24h")
	}
	if cfg.Approval.TokenTTL != "1h" {
		t.Errorf("Approval.TokenTTL = %q, want %q", cfg.Approval.TokenTTL, "1h")
	}
	if cfg.Notifier.Kind != "noop" {
		t.Errorf("Notifier.Kind = %q, want %q", cfg.Notifier.Kind, "noop")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:   ServerConfig{HTTPAddr: ":9090"},
		Database: DatabaseConfig{Path: "/var/lib/tollgate/custom.db"},
		Policy:   PolicyConfig{DefaultDecision: "allow"},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q, want %q", cfg.Server.HTTPAddr, ":9090")
	}
	if cfg.Database.Path != "/var/lib/tollgate/custom.db" {
		t.Errorf("Database.Path was overwritten: got %q", cfg.Database.Path)
	}
	if cfg.Policy.DefaultDecision != "allow" {
		t.Errorf("Policy.DefaultDecision was overwritten: got %q, want %q", cfg.Policy.DefaultDecision, "allow")
	}
}

func TestConfig_SetDevDefaults_OnlyAppliesWhenDevMode(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.SetDevDefaults()
	if cfg.Policy.DefaultDecision != "" {
		t.Errorf("dev defaults applied without DevMode: Policy.DefaultDecision = %q", cfg.Policy.DefaultDecision)
	}

	cfg.DevMode = true
	cfg.SetDevDefaults()
	if cfg.Policy.DefaultDecision != "allow" {
		t.Errorf("Policy.DefaultDecision = %q, want %q", cfg.Policy.DefaultDecision, "allow")
	}
	if !cfg.Server.Tracing {
		t.Errorf("Server.Tracing = false, want true under --dev")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tollgate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tollgate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "tollgate" with no extension.
	_ = os.WriteFile(filepath.Join(dir, "tollgate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "tollgate.yaml")
	ymlPath := filepath.Join(dir, "tollgate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
