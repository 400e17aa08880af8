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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
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
	EventStore  EventStoreConfig `yaml:"event_store"`
	STT         STTConfig        `yaml:"stt"`
	Refiner     RefinerConfig    `yaml:"refiner"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Output      OutputConfig     `yaml:"output"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type RefinerConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

// PipelineConfig tunes ordered reassembly and recovery. The thresholds
// are deployment knobs, not protocol constants.
type PipelineConfig struct {
	GapThreshold     int `yaml:"gap_threshold"`
	StuckTimeoutMS   int `yaml:"stuck_timeout_ms"`
	MaxSkipRetries   int `yaml:"max_skip_retries"`
	CompletedCap     int `yaml:"completed_cap"`
	DedupeWindowMS   int `yaml:"dedupe_window_ms"`
	DedupeMaxEntries int `yaml:"dedupe_max_entries"`
	FlushGraceMS     int `yaml:"flush_grace_ms"`
	ContextChars     int `yaml:"context_chars"`
}

type OutputConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
}

func Default() Config {
	return Config{
		RuntimeName: "kotoba-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/kotoba-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Enabled:        false,
			Mode:           "mock",
			Language:       "ja",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			PublishInterim: true,
		},
		Refiner: RefinerConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.3,
			TimeoutMS:   45000,
		},
		Pipeline: PipelineConfig{
			GapThreshold:     5,
			StuckTimeoutMS:   30000,
			MaxSkipRetries:   10,
			CompletedCap:     20,
			DedupeWindowMS:   60000,
			DedupeMaxEntries: 30,
			FlushGraceMS:     500,
			ContextChars:     200,
		},
		Output: OutputConfig{
			Mode: "mock",
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
	overrideString(&cfg.RuntimeName, "KOTOBA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "KOTOBA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "KOTOBA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "KOTOBA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "KOTOBA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "KOTOBA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "KOTOBA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "KOTOBA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "KOTOBA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "KOTOBA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "KOTOBA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "KOTOBA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "KOTOBA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "KOTOBA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "KOTOBA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "KOTOBA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "KOTOBA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "KOTOBA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "KOTOBA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "KOTOBA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "KOTOBA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.STT.Enabled, "KOTOBA_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "KOTOBA_STT_MODE")
	overrideString(&cfg.STT.Command, "KOTOBA_STT_COMMAND")
	overrideString(&cfg.STT.Language, "KOTOBA_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "KOTOBA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "KOTOBA_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "KOTOBA_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "KOTOBA_STT_PUBLISH_INTERIM")
	overrideString(&cfg.Refiner.Mode, "KOTOBA_REFINER_MODE")
	overrideString(&cfg.Refiner.Endpoint, "KOTOBA_REFINER_ENDPOINT")
	overrideString(&cfg.Refiner.Command, "KOTOBA_REFINER_COMMAND")
	overrideString(&cfg.Refiner.Model, "KOTOBA_REFINER_MODEL")
	overrideInt(&cfg.Refiner.MaxTokens, "KOTOBA_REFINER_MAX_TOKENS")
	overrideFloat(&cfg.Refiner.Temperature, "KOTOBA_REFINER_TEMPERATURE")
	overrideInt(&cfg.Refiner.TimeoutMS, "KOTOBA_REFINER_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.GapThreshold, "KOTOBA_PIPELINE_GAP_THRESHOLD")
	overrideInt(&cfg.Pipeline.StuckTimeoutMS, "KOTOBA_PIPELINE_STUCK_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.MaxSkipRetries, "KOTOBA_PIPELINE_MAX_SKIP_RETRIES")
	overrideInt(&cfg.Pipeline.CompletedCap, "KOTOBA_PIPELINE_COMPLETED_CAP")
	overrideInt(&cfg.Pipeline.DedupeWindowMS, "KOTOBA_PIPELINE_DEDUPE_WINDOW_MS")
	overrideInt(&cfg.Pipeline.DedupeMaxEntries, "KOTOBA_PIPELINE_DEDUPE_MAX_ENTRIES")
	overrideInt(&cfg.Pipeline.FlushGraceMS, "KOTOBA_PIPELINE_FLUSH_GRACE_MS")
	overrideInt(&cfg.Pipeline.ContextChars, "KOTOBA_PIPELINE_CONTEXT_CHARS")
	overrideString(&cfg.Output.Mode, "KOTOBA_OUTPUT_MODE")
	overrideString(&cfg.Output.Command, "KOTOBA_OUTPUT_COMMAND")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
	}
	switch cfg.Refiner.Mode {
	case "mock", "ollama", "exec":
	default:
		return errors.New("refiner.mode must be one of mock|ollama|exec")
	}
	if cfg.Refiner.Mode == "ollama" && cfg.Refiner.Endpoint == "" {
		return errors.New("refiner.endpoint must be set when mode=ollama")
	}
	if cfg.Refiner.Mode == "exec" && cfg.Refiner.Command == "" {
		return errors.New("refiner.command must be set when mode=exec")
	}
	if cfg.Refiner.MaxTokens < 0 {
		return errors.New("refiner.max_tokens must be >= 0")
	}
	if cfg.Refiner.TimeoutMS <= 0 {
		return errors.New("refiner.timeout_ms must be positive")
	}
	if cfg.Pipeline.GapThreshold <= 0 {
		return errors.New("pipeline.gap_threshold must be positive")
	}
	if cfg.Pipeline.StuckTimeoutMS <= 0 {
		return errors.New("pipeline.stuck_timeout_ms must be positive")
	}
	if cfg.Pipeline.MaxSkipRetries <= 0 {
		return errors.New("pipeline.max_skip_retries must be positive")
	}
	if cfg.Pipeline.CompletedCap <= 0 {
		return errors.New("pipeline.completed_cap must be positive")
	}
	if cfg.Pipeline.DedupeWindowMS <= 0 {
		return errors.New("pipeline.dedupe_window_ms must be positive")
	}
	if cfg.Pipeline.DedupeMaxEntries <= 0 {
		return errors.New("pipeline.dedupe_max_entries must be positive")
	}
	if cfg.Pipeline.FlushGraceMS < 0 {
		return errors.New("pipeline.flush_grace_ms must be >= 0")
	}
	if cfg.Pipeline.ContextChars < 0 {
		return errors.New("pipeline.context_chars must be >= 0")
	}
	switch cfg.Output.Mode {
	case "mock", "exec":
	default:
		return errors.New("output.mode must be one of mock|exec")
	}
	if cfg.Output.Mode == "exec" && cfg.Output.Command == "" {
		return errors.New("output.command must be set when mode=exec")
	}
	return nil
}
