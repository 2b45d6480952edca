package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// StdoutTraces enables the pretty-printing trace exporter when no OTLP
	// endpoint is configured.
	StdoutTraces bool `yaml:"stdout_traces"`
	// TraceSampleRatio is the fraction of root spans kept, from 0 to 1.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Skill       SkillConfig      `yaml:"skill"`
	Plugins     PluginsConfig    `yaml:"plugins"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	QueueGroup     string   `yaml:"queue_group"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SkillConfig struct {
	// SkillID, when set, must match the application ID of every envelope.
	SkillID          string `yaml:"skill_id"`
	UserAgent        string `yaml:"user_agent"`
	CatalogPath      string `yaml:"catalog_path"`
	FallbackLanguage string `yaml:"fallback_language"`
	LogEnvelopes     bool   `yaml:"log_envelopes"`
	AuditPrivacy     string `yaml:"audit_privacy_scope"`
}

type PluginsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "convertidor",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			OTLPEndpoint:     "",
			OTLPInsecure:     true,
			TraceSampleRatio: 1,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			QueueGroup:     "convertidor",
		},
		Node: NodeConfig{
			ID:                "convertidor-1",
			Role:              "skill",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/convertidor-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Skill: SkillConfig{
			UserAgent:        "sample/convertidor-angy/v1.2",
			FallbackLanguage: "en",
			LogEnvelopes:     true,
			AuditPrivacy:     "internal",
		},
		Plugins: PluginsConfig{
			Enabled:   false,
			Directory: "./plugins",
			TimeoutMS: 5000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "CONVERTIDOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "CONVERTIDOR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CONVERTIDOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CONVERTIDOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CONVERTIDOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CONVERTIDOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CONVERTIDOR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "CONVERTIDOR_TELEMETRY_STDOUT_TRACES")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "CONVERTIDOR_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideBool(&cfg.Bus.Enabled, "CONVERTIDOR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "CONVERTIDOR_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "CONVERTIDOR_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "CONVERTIDOR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "CONVERTIDOR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "CONVERTIDOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CONVERTIDOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CONVERTIDOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CONVERTIDOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CONVERTIDOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CONVERTIDOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.QueueGroup, "CONVERTIDOR_BUS_QUEUE_GROUP")
	overrideString(&cfg.Node.ID, "CONVERTIDOR_NODE_ID")
	overrideString(&cfg.Node.Role, "CONVERTIDOR_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "CONVERTIDOR_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "CONVERTIDOR_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "CONVERTIDOR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "CONVERTIDOR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "CONVERTIDOR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "CONVERTIDOR_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "CONVERTIDOR_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Skill.SkillID, "CONVERTIDOR_SKILL_ID")
	overrideString(&cfg.Skill.UserAgent, "CONVERTIDOR_SKILL_USER_AGENT")
	overrideString(&cfg.Skill.CatalogPath, "CONVERTIDOR_SKILL_CATALOG_PATH")
	overrideString(&cfg.Skill.FallbackLanguage, "CONVERTIDOR_SKILL_FALLBACK_LANGUAGE")
	overrideBool(&cfg.Skill.LogEnvelopes, "CONVERTIDOR_SKILL_LOG_ENVELOPES")
	overrideString(&cfg.Skill.AuditPrivacy, "CONVERTIDOR_SKILL_AUDIT_PRIVACY_SCOPE")
	overrideBool(&cfg.Plugins.Enabled, "CONVERTIDOR_PLUGINS_ENABLED")
	overrideString(&cfg.Plugins.Directory, "CONVERTIDOR_PLUGINS_DIRECTORY")
	overrideInt(&cfg.Plugins.TimeoutMS, "CONVERTIDOR_PLUGINS_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if strings.TrimSpace(cfg.Skill.FallbackLanguage) == "" {
		return errors.New("skill.fallback_language must not be empty")
	}
	if cfg.Skill.AuditPrivacy == "" {
		return errors.New("skill.audit_privacy_scope must not be empty")
	}
	if cfg.Plugins.Enabled {
		if cfg.Plugins.Directory == "" {
			return errors.New("plugins.directory must not be empty when plugins are enabled")
		}
		if cfg.Plugins.TimeoutMS <= 0 {
			return errors.New("plugins.timeout_ms must be positive")
		}
	}
	return nil
}
