package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Tenant sources.
const (
	TenantSourcePostgres = "postgres"
	TenantSourceFile     = "file"
)

// Ingestion modes, mirrored by the routing package.
const (
	ModeDirectLog  = "direct_log"
	ModeQueuedTask = "queued_task"
)

// Config represents the top-level application config.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Tenants   TenantsConfig   `koanf:"tenants"`
	Ingestion IngestionConfig `koanf:"ingestion"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Tasks     TasksConfig     `koanf:"tasks"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type ServerConfig struct {
	Port          int        `koanf:"port"`
	Host          string     `koanf:"host"`
	MaxBodySizeMB int        `koanf:"max_body_size_mb"`
	Mode          string     `koanf:"mode"`     // debug | release
	SiteURL       string     `koanf:"site_url"` // overrides scheme://host of each request
	CORS          CORSConfig `koanf:"cors"`
}

type CORSConfig struct {
	// AllowedOrigins empty or ["*"] echoes any Origin back.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type TenantsConfig struct {
	Source    string `koanf:"source"` // postgres | file
	Path      string `koanf:"path"`   // fixture file when source is file
	CacheSize int    `koanf:"cache_size"`
	CacheTTL  string `koanf:"cache_ttl"`
}

type IngestionConfig struct {
	Mode                  string `koanf:"mode"` // direct_log | queued_task
	PluginServerIngestion bool   `koanf:"plugin_server_ingestion"`
	IdentifyPathMarker    string `koanf:"identify_path_marker"`
	RecordingChunkSizeKB  int    `koanf:"recording_chunk_size_kb"`
}

type KafkaConfig struct {
	Brokers              []string `koanf:"brokers"`
	EventsTopic          string   `koanf:"events_topic"`
	PluginIngestionTopic string   `koanf:"plugin_ingestion_topic"`
	RequiredAcks         string   `koanf:"required_acks"` // none | one | all
}

type TasksConfig struct {
	RedisURL     string `koanf:"redis_url"`
	TaskName     string `koanf:"task_name"`
	DefaultQueue string `koanf:"default_queue"`
	PluginsQueue string `koanf:"plugins_queue"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
	Prefix  string `koanf:"prefix"`
}

// EffectiveCacheTTL returns the parsed tenants.cache_ttl. Call after Validate.
func (c TenantsConfig) EffectiveCacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// UsesDatabase reports whether a Postgres connection is needed.
func (c *Config) UsesDatabase() bool {
	return c.Tenants.Source == TenantSourcePostgres
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Tenants.Source {
	case TenantSourcePostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when tenants.source is postgres")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	case TenantSourceFile:
		if strings.TrimSpace(c.Tenants.Path) == "" {
			return fmt.Errorf("tenants.path is required when tenants.source is file")
		}
		if _, err := os.Stat(c.Tenants.Path); err != nil {
			return fmt.Errorf("tenants.path %q is not accessible: %w", c.Tenants.Path, err)
		}
	default:
		return fmt.Errorf("unsupported tenants.source %q (must be postgres or file)", c.Tenants.Source)
	}
	if c.Tenants.CacheSize < 0 {
		return fmt.Errorf("tenants.cache_size must be >= 0")
	}
	ttl, err := time.ParseDuration(c.Tenants.CacheTTL)
	if err != nil {
		return fmt.Errorf("invalid tenants.cache_ttl %q: %w", c.Tenants.CacheTTL, err)
	}
	if ttl < 0 {
		return fmt.Errorf("tenants.cache_ttl must be >= 0")
	}

	if strings.TrimSpace(c.Ingestion.IdentifyPathMarker) == "" {
		return fmt.Errorf("ingestion.identify_path_marker is required")
	}
	if c.Ingestion.RecordingChunkSizeKB <= 0 {
		return fmt.Errorf("ingestion.recording_chunk_size_kb must be > 0")
	}

	switch c.Ingestion.Mode {
	case ModeDirectLog:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required in %s mode", ModeDirectLog)
		}
		if c.Kafka.EventsTopic == "" {
			return fmt.Errorf("kafka.events_topic is required")
		}
		if c.Ingestion.PluginServerIngestion && c.Kafka.PluginIngestionTopic == "" {
			return fmt.Errorf("kafka.plugin_ingestion_topic is required when plugin_server_ingestion is on")
		}
		switch c.Kafka.RequiredAcks {
		case "none", "one", "all":
		default:
			return fmt.Errorf("invalid kafka.required_acks %q (must be none, one or all)", c.Kafka.RequiredAcks)
		}
	case ModeQueuedTask:
		if strings.TrimSpace(c.Tasks.RedisURL) == "" {
			return fmt.Errorf("tasks.redis_url is required in %s mode", ModeQueuedTask)
		}
		if c.Tasks.TaskName == "" || c.Tasks.DefaultQueue == "" || c.Tasks.PluginsQueue == "" {
			return fmt.Errorf("tasks.task_name, tasks.default_queue and tasks.plugins_queue are required")
		}
	default:
		return fmt.Errorf("invalid ingestion.mode %q (must be %s or %s)", c.Ingestion.Mode, ModeDirectLog, ModeQueuedTask)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// Load parses config from defaults, file, then CAPTURE_ env vars, and validates it.
// Nested keys use "__" in env names: CAPTURE_KAFKA__EVENTS_TOPIC.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                       8000,
		"server.host":                       "0.0.0.0",
		"server.max_body_size_mb":           20,
		"server.mode":                       "release",
		"server.site_url":                   "",
		"server.cors.allowed_origins":       []string{"*"},
		"database.dsn":                      "",
		"database.max_open_conns":           25,
		"database.max_idle_conns":           25,
		"database.auto_migrate":             true,
		"tenants.source":                    TenantSourcePostgres,
		"tenants.path":                      "",
		"tenants.cache_size":                1000,
		"tenants.cache_ttl":                 "30s",
		"ingestion.mode":                    ModeDirectLog,
		"ingestion.plugin_server_ingestion": false,
		"ingestion.identify_path_marker":    "engage",
		"ingestion.recording_chunk_size_kb": 512,
		"kafka.brokers":                     []string{"localhost:9092"},
		"kafka.events_topic":                "events_wal",
		"kafka.plugin_ingestion_topic":      "events_plugin_ingestion",
		"kafka.required_acks":               "all",
		"tasks.redis_url":                   "redis://localhost:6379/0",
		"tasks.task_name":                   "posthog.tasks.process_event.process_event",
		"tasks.default_queue":               "celery",
		"tasks.plugins_queue":               "posthog-plugins",
		"metrics.enabled":                   true,
		"metrics.path":                      "/metrics",
		"metrics.prefix":                    "capture",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("CAPTURE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CAPTURE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// comma-separated list in env
	if raw, ok := k.Get("kafka.brokers").(string); ok {
		k.Set("kafka.brokers", splitList(raw))
	}
	if raw, ok := k.Get("server.cors.allowed_origins").(string); ok {
		k.Set("server.cors.allowed_origins", splitList(raw))
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
