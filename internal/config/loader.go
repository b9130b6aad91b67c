// Package config provides configuration loading for the tollgate gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for tollgate.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("tollgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOLLGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("TOLLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a tollgate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".tollgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "tollgate"))
		}
	} else {
		paths = append(paths, "/etc/tollgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for tollgate.yaml
// or .yml. Returns the full path of the first match, or empty string.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "tollgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds config keys for environment variable support.
// Example: TOLLGATE_SERVER_HTTP_ADDR overrides server.http_addr.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("database.path")

	_ = viper.BindEnv("policy.default_decision")
	_ = viper.BindEnv("policy.snapshot_ttl")

	_ = viper.BindEnv("approval.request_ttl")
	_ = viper.BindEnv("approval.token_ttl")
	_ = viper.BindEnv("approval.default_lease_duration")

	_ = viper.BindEnv("smart_rule.enabled")
	_ = viper.BindEnv("smart_rule.api_key")
	_ = viper.BindEnv("smart_rule.model")
	_ = viper.BindEnv("smart_rule.timeout")
	_ = viper.BindEnv("smart_rule.max_tokens")

	_ = viper.BindEnv("notifier.kind")
	_ = viper.BindEnv("notifier.webhook_url")

	_ = viper.BindEnv("seed_file")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config. Note: callers should apply any CLI
// flag overrides (e.g. --dev), then call cfg.SetDevDefaults() and
// cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded. Returns an empty string if no config file was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
