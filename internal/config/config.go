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
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Words       WordsConfig      `yaml:"words"`
	Capture     CaptureConfig    `yaml:"capture"`
	OCR         OCRConfig        `yaml:"ocr"`
	Speech      SpeechConfig     `yaml:"speech"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// WordsConfig points at the newline separated vocabulary of speakable words.
type WordsConfig struct {
	Path string `yaml:"path"`
}

type CaptureConfig struct {
	Mode            string `yaml:"mode"` // mock, directory, exec
	Directory       string `yaml:"directory"`
	Command         string `yaml:"command"`
	RotationDegrees int    `yaml:"rotation_degrees"`
	TargetWidth     int    `yaml:"target_width"`
	TargetHeight    int    `yaml:"target_height"`
	IntervalMS      int    `yaml:"interval_ms"`
	TimeoutMS       int    `yaml:"timeout_ms"`
	AutoStart       bool   `yaml:"auto_start"`
}

type OCRConfig struct {
	Mode      string   `yaml:"mode"` // mock, tesseract, exec
	Command   string   `yaml:"command"`
	Languages []string `yaml:"languages"`
	TimeoutMS int      `yaml:"timeout_ms"`
	MockText  string   `yaml:"mock_text"`
}

type SpeechConfig struct {
	Mode           string  `yaml:"mode"` // mock, exec, bus
	Command        string  `yaml:"command"`
	Player         string  `yaml:"player"`
	SpoolDir       string  `yaml:"spool_dir"`
	SpoolKeep      int     `yaml:"spool_keep"`
	Voice          string  `yaml:"voice"`
	Rate           float64 `yaml:"rate"`
	SampleRate     int     `yaml:"sample_rate"`
	Channels       int     `yaml:"channels"`
	WordDurationMS int     `yaml:"word_duration_ms"`
	Target         string  `yaml:"target"`
	TimeoutMS      int     `yaml:"timeout_ms"`
	Serve          bool    `yaml:"serve"` // answer tts.request with the local voice
}

func Default() Config {
	return Config{
		RuntimeName: "readaloud",
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
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "readaloud-1",
			HeartbeatInterval: 5000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/readaloud-events.db",
			RetentionMode: "session",
			RetentionDays: 7,
			MaxRuns:       100,
		},
		Words: WordsConfig{
			Path: "./data/english_dictionary.txt",
		},
		Capture: CaptureConfig{
			Mode:            "mock",
			RotationDegrees: 90,
			TargetWidth:     720,
			TargetHeight:    1280,
			IntervalMS:      2000,
			TimeoutMS:       10000,
			AutoStart:       false,
		},
		OCR: OCRConfig{
			Mode:      "mock",
			Languages: []string{"eng"},
			TimeoutMS: 30000,
			MockText:  "the quick brown fox",
		},
		Speech: SpeechConfig{
			Mode:           "mock",
			SpoolDir:       "./data/speech",
			Voice:          "en-GB",
			Rate:           1.5,
			SampleRate:     22050,
			Channels:       1,
			WordDurationMS: 400,
			Target:         "default",
			TimeoutMS:      30000,
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
	overrideString(&cfg.RuntimeName, "READALOUD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "READALOUD_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "READALOUD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "READALOUD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "READALOUD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "READALOUD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "READALOUD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "READALOUD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "READALOUD_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "READALOUD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "READALOUD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "READALOUD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "READALOUD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "READALOUD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "READALOUD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "READALOUD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "READALOUD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "READALOUD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "READALOUD_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "READALOUD_NODE_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "READALOUD_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "READALOUD_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "READALOUD_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "READALOUD_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "READALOUD_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Words.Path, "READALOUD_WORDS_PATH")
	overrideString(&cfg.Capture.Mode, "READALOUD_CAPTURE_MODE")
	overrideString(&cfg.Capture.Directory, "READALOUD_CAPTURE_DIRECTORY")
	overrideString(&cfg.Capture.Command, "READALOUD_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.RotationDegrees, "READALOUD_CAPTURE_ROTATION_DEGREES")
	overrideInt(&cfg.Capture.TargetWidth, "READALOUD_CAPTURE_TARGET_WIDTH")
	overrideInt(&cfg.Capture.TargetHeight, "READALOUD_CAPTURE_TARGET_HEIGHT")
	overrideInt(&cfg.Capture.IntervalMS, "READALOUD_CAPTURE_INTERVAL_MS")
	overrideInt(&cfg.Capture.TimeoutMS, "READALOUD_CAPTURE_TIMEOUT_MS")
	overrideBool(&cfg.Capture.AutoStart, "READALOUD_CAPTURE_AUTO_START")
	overrideString(&cfg.OCR.Mode, "READALOUD_OCR_MODE")
	overrideString(&cfg.OCR.Command, "READALOUD_OCR_COMMAND")
	overrideStringSlice(&cfg.OCR.Languages, "READALOUD_OCR_LANGUAGES")
	overrideInt(&cfg.OCR.TimeoutMS, "READALOUD_OCR_TIMEOUT_MS")
	overrideString(&cfg.OCR.MockText, "READALOUD_OCR_MOCK_TEXT")
	overrideString(&cfg.Speech.Mode, "READALOUD_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "READALOUD_SPEECH_COMMAND")
	overrideString(&cfg.Speech.Player, "READALOUD_SPEECH_PLAYER")
	overrideString(&cfg.Speech.SpoolDir, "READALOUD_SPEECH_SPOOL_DIR")
	overrideInt(&cfg.Speech.SpoolKeep, "READALOUD_SPEECH_SPOOL_KEEP")
	overrideString(&cfg.Speech.Voice, "READALOUD_SPEECH_VOICE")
	overrideFloat(&cfg.Speech.Rate, "READALOUD_SPEECH_RATE")
	overrideInt(&cfg.Speech.SampleRate, "READALOUD_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "READALOUD_SPEECH_CHANNELS")
	overrideInt(&cfg.Speech.WordDurationMS, "READALOUD_SPEECH_WORD_DURATION_MS")
	overrideString(&cfg.Speech.Target, "READALOUD_SPEECH_TARGET")
	overrideInt(&cfg.Speech.TimeoutMS, "READALOUD_SPEECH_TIMEOUT_MS")
	overrideBool(&cfg.Speech.Serve, "READALOUD_SPEECH_SERVE")
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
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
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
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Mode {
	case "mock":
	case "directory":
		if cfg.Capture.Directory == "" {
			return errors.New("capture.directory must be set when mode=directory")
		}
	case "exec":
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
	default:
		return errors.New("capture.mode must be one of mock|directory|exec")
	}
	if cfg.Capture.RotationDegrees%90 != 0 {
		return errors.New("capture.rotation_degrees must be a multiple of 90")
	}
	if cfg.Capture.TargetWidth < 0 || cfg.Capture.TargetHeight < 0 {
		return errors.New("capture.target_width and capture.target_height must be >= 0")
	}
	if cfg.Capture.IntervalMS <= 0 {
		return errors.New("capture.interval_ms must be positive")
	}
	switch cfg.OCR.Mode {
	case "mock", "tesseract":
	case "exec":
		if cfg.OCR.Command == "" {
			return errors.New("ocr.command must be set when mode=exec")
		}
	default:
		return errors.New("ocr.mode must be one of mock|tesseract|exec")
	}
	switch cfg.Speech.Mode {
	case "mock":
	case "exec":
		if cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
		if cfg.Speech.SampleRate <= 0 {
			return errors.New("speech.sample_rate must be positive")
		}
		if cfg.Speech.Channels <= 0 {
			return errors.New("speech.channels must be positive")
		}
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("speech.mode=bus requires bus.enabled")
		}
	default:
		return errors.New("speech.mode must be one of mock|exec|bus")
	}
	if cfg.Speech.Rate <= 0 {
		return errors.New("speech.rate must be positive")
	}
	if cfg.Speech.SpoolKeep < 0 {
		return errors.New("speech.spool_keep must not be negative")
	}
	if cfg.Speech.Serve && (!cfg.Bus.Enabled || cfg.Speech.Mode == "bus") {
		return errors.New("speech.serve requires bus.enabled and a local speech.mode")
	}
	return nil
}
