package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file at path, starting from Default() so
// unset fields keep their documented defaults, then applies environment
// overrides via LoadFromEnv. An empty path returns Default() with only
// environment overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	LoadFromEnv(&cfg)
	return cfg, nil
}

// LoadFromEnv applies LOADSTORM_*-prefixed environment variable overrides
// on top of cfg, so a container deployment can tweak ports and roles
// without editing the YAML file.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("LOADSTORM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if port := os.Getenv("LOADSTORM_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.MetricsPort = p
		}
	}
	if logLevel := os.Getenv("LOADSTORM_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if role := os.Getenv("LOADSTORM_ROLE"); role != "" {
		cfg.Distributed.Role = role
	}
	if id := os.Getenv("LOADSTORM_WORKER_ID"); id != "" {
		cfg.Distributed.WorkerID = id
	}
	if addr := os.Getenv("LOADSTORM_CONTROLLER_ADDR"); addr != "" {
		cfg.Distributed.ControllerAddr = addr
	}
}

// GetEnvOrDefault returns the environment variable's value, or def if unset.
func GetEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
