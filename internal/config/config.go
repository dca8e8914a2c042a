package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	History     HistoryConfig   `yaml:"history"`
	Composer    ComposerConfig  `yaml:"composer"`
	Synth       SynthConfig     `yaml:"synth"`
	Sampler     SamplerConfig   `yaml:"sampler"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	StatusStream   string   `yaml:"status_stream"`
	MaxPayload     int      `yaml:"max_payload_bytes"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// NodeConfig identifies this process to other composers on the bus.
type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ComposerConfig controls the text-to-notes pipeline.
type ComposerConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Beat            float64 `yaml:"beat"`
	MinDuration     float64 `yaml:"min_duration"`
	MaxDuration     float64 `yaml:"max_duration"`
	MaxEvents       int     `yaml:"max_events"`
	Workers         int     `yaml:"workers"`
	RenderTimeoutMS int     `yaml:"render_timeout_ms"`
}

type SynthConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// SamplerConfig enables the optional SoundFont backend.
type SamplerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Mode          string `yaml:"mode"` // soundfont, exec
	SoundFontPath string `yaml:"soundfont_path"`
	Command       string `yaml:"command"`
}

const (
	DefaultBusMaxPayload = 32 << 20
	// nats-server refuses a max payload above its pending-bytes limit
	maxBusPayload = 64 << 20
	// JSON framing of a compose reply around the base64 audio
	replyOverhead = 4096
)

// ReplyBytes estimates the largest compose reply on the bus: a 16-bit WAV
// covering max_duration plus one second, base64 encoded inside JSON.
func (c Config) ReplyBytes() int {
	ms := math.Ceil((c.Composer.MaxDuration + 1) * 1000)
	frames := int(ms * float64(c.Synth.SampleRate) / 1000)
	wav := 44 + frames*max(c.Synth.Channels, 1)*2
	return base64.StdEncoding.EncodedLen(wav) + replyOverhead
}

const DefaultSamplerCommand = "fluidsynth -ni -F {wav} -r {rate} {soundfont} {midi}"

func Default() Config {
	return Config{
		RuntimeName: "loqa-compose",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			StatusStream:   "COMPOSE_STATUS",
			MaxPayload:     DefaultBusMaxPayload,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "compose-node-1",
			Role:              "composer",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		History: HistoryConfig{
			Path:          "./data/compositions.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxEntries:    10000,
		},
		Composer: ComposerConfig{
			Enabled:         true,
			Beat:            0.55,
			MinDuration:     15,
			MaxDuration:     30,
			MaxEvents:       100,
			Workers:         2,
			RenderTimeoutMS: 120000,
		},
		Synth: SynthConfig{
			SampleRate: 44100,
			Channels:   1,
		},
		Sampler: SamplerConfig{
			Enabled: false,
			Mode:    "soundfont",
			Command: DefaultSamplerCommand,
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideString(&cfg.Bus.StatusStream, "LOQA_BUS_STATUS_STREAM")
	overrideInt(&cfg.Bus.MaxPayload, "LOQA_BUS_MAX_PAYLOAD_BYTES")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "LOQA_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "LOQA_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "LOQA_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "LOQA_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "LOQA_HISTORY_VACUUM_ON_START")
	overrideBool(&cfg.Composer.Enabled, "LOQA_COMPOSER_ENABLED")
	overrideFloat(&cfg.Composer.Beat, "LOQA_COMPOSER_BEAT")
	overrideFloat(&cfg.Composer.MinDuration, "LOQA_COMPOSER_MIN_DURATION")
	overrideFloat(&cfg.Composer.MaxDuration, "LOQA_COMPOSER_MAX_DURATION")
	overrideInt(&cfg.Composer.MaxEvents, "LOQA_COMPOSER_MAX_EVENTS")
	overrideInt(&cfg.Composer.Workers, "LOQA_COMPOSER_WORKERS")
	overrideInt(&cfg.Composer.RenderTimeoutMS, "LOQA_COMPOSER_RENDER_TIMEOUT_MS")
	overrideInt(&cfg.Synth.SampleRate, "LOQA_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.Channels, "LOQA_SYNTH_CHANNELS")
	overrideBool(&cfg.Sampler.Enabled, "LOQA_SAMPLER_ENABLED")
	overrideString(&cfg.Sampler.Mode, "LOQA_SAMPLER_MODE")
	overrideString(&cfg.Sampler.Command, "LOQA_SAMPLER_COMMAND")
	// SOUNDFONT_PATH predates the LOQA_ prefix; setting it alone turns the sampler on.
	if value, ok := os.LookupEnv("SOUNDFONT_PATH"); ok && strings.TrimSpace(value) != "" {
		cfg.Sampler.SoundFontPath = value
		cfg.Sampler.Enabled = true
	}
	overrideString(&cfg.Sampler.SoundFontPath, "LOQA_SAMPLER_SOUNDFONT_PATH")
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
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
			if cfg.Bus.MaxPayload <= 0 || cfg.Bus.MaxPayload > maxBusPayload {
				return fmt.Errorf("bus.max_payload_bytes must be between 1 and %d", maxBusPayload)
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout < cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be >= heartbeat_interval_ms")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("history.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Composer.Beat <= 0 {
		return errors.New("composer.beat must be positive")
	}
	if cfg.Composer.MinDuration <= 0 {
		return errors.New("composer.min_duration must be positive")
	}
	if cfg.Composer.MaxDuration < cfg.Composer.MinDuration {
		return errors.New("composer.max_duration must be >= composer.min_duration")
	}
	if cfg.Composer.MaxEvents <= 0 {
		return errors.New("composer.max_events must be >= 1")
	}
	if cfg.Composer.Workers <= 0 {
		return errors.New("composer.workers must be >= 1")
	}
	if cfg.Composer.RenderTimeoutMS <= 0 {
		return errors.New("composer.render_timeout_ms must be positive")
	}
	if cfg.Synth.SampleRate < 8000 || cfg.Synth.SampleRate > 192000 {
		return errors.New("synth.sample_rate must be between 8000 and 192000")
	}
	if cfg.Synth.Channels != 1 && cfg.Synth.Channels != 2 {
		return errors.New("synth.channels must be 1 or 2")
	}
	if cfg.Bus.Enabled && cfg.Bus.Embedded && cfg.Composer.Enabled {
		if need := cfg.ReplyBytes(); need > cfg.Bus.MaxPayload {
			return fmt.Errorf("a %.0f s track at %d Hz x %d needs %d bytes on the bus, above bus.max_payload_bytes %d",
				cfg.Composer.MaxDuration, cfg.Synth.SampleRate, cfg.Synth.Channels, need, cfg.Bus.MaxPayload)
		}
	}
	if cfg.Sampler.Enabled {
		switch cfg.Sampler.Mode {
		case "soundfont":
		case "exec":
			if strings.TrimSpace(cfg.Sampler.Command) == "" {
				return errors.New("sampler.command must be set when mode=exec")
			}
		default:
			return errors.New("sampler.mode must be one of soundfont|exec")
		}
		if cfg.Sampler.SoundFontPath == "" {
			return errors.New("sampler.soundfont_path must be set when the sampler is enabled")
		}
	}
	return nil
}
