package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chatrelay/config.yaml",
}

var envMappings = map[string]string{
	"instance_id":                "instance_id",
	"server_port":                "server.port",
	"allowed_origins":            "server.allowed_origins",
	"max_message_size":           "server.max_message_size",
	"rate_limit_burst":           "server.rate_limit.burst",
	"rate_limit_refill_interval": "server.rate_limit.refill_interval",
	"shutdown_timeout":           "server.shutdown_timeout",
	"jwt_secret":                 "auth.jwt_secret",
	"database_url":               "database.url",
	"database_migrate":           "database.migrate",
	"memory_seed_file":           "database.seed_file",
	"seed_file":                  "database.seed_file",
	"fanout_driver":              "fanout.driver",
	"redis_url":                  "fanout.redis_url",
	"nats_url":                   "fanout.nats_url",
	"nats_embedded":              "fanout.nats_embedded",
	"nats_embedded_port":         "fanout.nats_embedded_port",
	"chat_channel":               "fanout.chat_channel",
	"notifications_channel":      "fanout.notifications_channel",
	"breaker_failure_threshold":  "fanout.breaker.failure_threshold",
	"breaker_open_timeout":       "fanout.breaker.open_timeout",
	"breaker_publish_timeout":    "fanout.breaker.publish_timeout",
	"log_level":                  "logging.level",
	"log_format":                 "logging.format",
}

// envValue maps an environment variable to its config path. Unmapped and
// empty variables are skipped so they never mask file values.
func envValue(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	return envMappings[strings.ToLower(key)], value
}

var sliceKeys = []string{"server.allowed_origins"}

// Load builds the configuration from defaults, file, .env and environment,
// then sanitises and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Sanitize()
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitSlices turns comma separated env values into string slices.
func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(key, out); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}
