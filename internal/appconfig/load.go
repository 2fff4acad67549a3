package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. EXPERTSURVEY_SERVER_ADDR.
const EnvPrefix = "EXPERTSURVEY"

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("client.base_url", cfg.Client.BaseURL)
	v.SetDefault("client.deploy_domain", cfg.Client.DeployDomain)
	v.SetDefault("client.cookie_file", cfg.Client.CookieFile)
	v.SetDefault("client.timeout_seconds", cfg.Client.TimeoutSecs)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.base_path", cfg.Server.BasePath)
	v.SetDefault("server.session_cookie", cfg.Server.SessionCookie)
	v.SetDefault("server.session_ttl_hours", cfg.Server.SessionTTLHours)
	v.SetDefault("server.session_file", cfg.Server.SessionFile)
	v.SetDefault("server.cookie_samesite", cfg.Server.CookieSameSite)
	v.SetDefault("server.cookie_secure", cfg.Server.CookieSecure)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.postgres.dsn", cfg.Storage.Postgres.DSN)
	v.SetDefault("storage.postgres.log_level", cfg.Storage.Postgres.LogLevel)
	v.SetDefault("storage.postgres.slow_threshold_ms", cfg.Storage.Postgres.SlowThresholdMS)
	v.SetDefault("roster.claim_ttl_minutes", cfg.Roster.ClaimTTLMinutes)
	v.SetDefault("roster.import_file", cfg.Roster.ImportFile)
	v.SetDefault("events.kafka.brokers", cfg.Events.Kafka.Brokers)
	v.SetDefault("events.kafka.topic", cfg.Events.Kafka.Topic)
	v.SetDefault("events.kafka.buffer_size", cfg.Events.Kafka.BufferSize)
	v.SetDefault("events.kafka.write_timeout_seconds", cfg.Events.Kafka.WriteTimeoutSeconds)
	v.SetDefault("logging.disable_audit_trails", cfg.Logging.DisableAuditTrails)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if v.GetString("storage.driver") == DriverPostgres && strings.TrimSpace(v.GetString("storage.postgres.dsn")) == "" {
			return Config{}, fmt.Errorf("storage.postgres.dsn is required for driver %q", DriverPostgres)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Events.Kafka.Brokers = splitList(cfg.Events.Kafka.Brokers)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitList flattens comma-separated entries, which is how list overrides
// arrive from the environment.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	switch cfg.Storage.Driver {
	case DriverFile:
		if strings.TrimSpace(cfg.StateDir) == "" {
			return fmt.Errorf("state_dir is required for driver %q", DriverFile)
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return fmt.Errorf("storage.postgres.dsn is required for driver %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}
	if cfg.Client.TimeoutSecs < 0 {
		return fmt.Errorf("client.timeout_seconds must not be negative")
	}
	if cfg.Roster.ClaimTTLMinutes < 0 {
		return fmt.Errorf("roster.claim_ttl_minutes must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Server.CookieSameSite)) {
	case "", "lax", "strict", "none":
	default:
		return fmt.Errorf("server.cookie_samesite must be lax, strict or none")
	}
	if len(cfg.Events.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Events.Kafka.Topic) == "" {
		return fmt.Errorf("events.kafka.topic is required when brokers are set")
	}
	baseURL := strings.TrimSpace(cfg.Client.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("client.base_url must include scheme and host (e.g. https://api.example.com/api)")
		}
	}
	basePath := strings.TrimSpace(cfg.Server.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("server.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("server.base_path must not include query or fragment")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Client.CookieFile = expandEnv(cfg.Client.CookieFile)
	cfg.Client.BaseURL = expandEnv(cfg.Client.BaseURL)
	cfg.Server.SessionFile = expandEnv(cfg.Server.SessionFile)
	cfg.Storage.Postgres.DSN = expandEnv(cfg.Storage.Postgres.DSN)
	cfg.Roster.ImportFile = expandEnv(cfg.Roster.ImportFile)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
