package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	Client        ClientConfig  `mapstructure:"client" yaml:"client"`
	Server        ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage       StorageConfig `mapstructure:"storage" yaml:"storage"`
	Roster        RosterConfig  `mapstructure:"roster" yaml:"roster"`
	Events        EventsConfig  `mapstructure:"events" yaml:"events"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ClientConfig configures the survey client and one-shot commands.
type ClientConfig struct {
	// BaseURL pins the API base. Empty resolves from the environment and
	// deploy domain.
	BaseURL      string `mapstructure:"base_url" yaml:"base_url"`
	DeployDomain string `mapstructure:"deploy_domain" yaml:"deploy_domain"`
	CookieFile   string `mapstructure:"cookie_file" yaml:"cookie_file"`
	// TimeoutSecs caps each API request when positive. Zero leaves
	// cancellation to the caller's context.
	TimeoutSecs  int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `mapstructure:"addr" yaml:"addr"`
	BasePath        string   `mapstructure:"base_path" yaml:"base_path"`
	SessionCookie   string   `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionTTLHours int      `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	SessionFile     string   `mapstructure:"session_file" yaml:"session_file"`
	CookieSameSite  string   `mapstructure:"cookie_samesite" yaml:"cookie_samesite"`
	CookieSecure    bool     `mapstructure:"cookie_secure" yaml:"cookie_secure"`
	AllowedOrigins  []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StorageConfig selects the roster store.
type StorageConfig struct {
	// Driver is file or postgres.
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig configures the gorm-backed store.
type PostgresConfig struct {
	DSN             string `mapstructure:"dsn" yaml:"dsn"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
	SlowThresholdMS int    `mapstructure:"slow_threshold_ms" yaml:"slow_threshold_ms"`
}

// RosterConfig controls claim behavior and initial import.
type RosterConfig struct {
	ClaimTTLMinutes int    `mapstructure:"claim_ttl_minutes" yaml:"claim_ttl_minutes"`
	ImportFile      string `mapstructure:"import_file" yaml:"import_file"`
}

// EventsConfig configures the survey event stream.
type EventsConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaConfig enables the Kafka sink when brokers are set.
type KafkaConfig struct {
	Brokers             []string `mapstructure:"brokers" yaml:"brokers"`
	Topic               string   `mapstructure:"topic" yaml:"topic"`
	BufferSize          int      `mapstructure:"buffer_size" yaml:"buffer_size"`
	WriteTimeoutSeconds int      `mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	root := filepath.Join(home, ".expertsurvey")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(root, "state"),
		Client: ClientConfig{
			BaseURL:      "",
			DeployDomain: "",
			CookieFile:   filepath.Join(root, "cookies.json"),
			TimeoutSecs:  0,
		},
		Server: ServerConfig{
			Addr:            ":5001",
			BasePath:        "/api",
			SessionCookie:   "expertsurvey_session",
			SessionTTLHours: 14 * 24,
			SessionFile:     filepath.Join(root, "state", "sessions.json"),
			CookieSameSite:  "lax",
			CookieSecure:    false,
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		Storage: StorageConfig{
			Driver: DriverFile,
			Postgres: PostgresConfig{
				DSN:             "",
				LogLevel:        "warn",
				SlowThresholdMS: 200,
			},
		},
		Roster: RosterConfig{
			ClaimTTLMinutes: 30,
			ImportFile:      "",
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Brokers:             []string{},
				Topic:               "expertsurvey.events",
				BufferSize:          256,
				WriteTimeoutSeconds: 10,
			},
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".expertsurvey", "config.yaml"), nil
}
