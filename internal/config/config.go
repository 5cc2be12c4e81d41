package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/logging"
)

// Config holds all tre configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Engine    EngineConfig    `yaml:"engine"`
	Output    OutputConfig    `yaml:"output"`
	Control   ControlConfig   `yaml:"control"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Action    ActionConfig    `yaml:"action"`
}

// SourceConfig configures the log stream connection.
type SourceConfig struct {
	Connector      string        `yaml:"connector"` // "tcp" or "file"
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Retries        int           `yaml:"retries"`
	Backoff        time.Duration `yaml:"backoff"`
	Settle         time.Duration `yaml:"settle"`
	RingSize       int           `yaml:"ring_size"`
	Reconnect      bool          `yaml:"reconnect"`
	ReconnectMax   int           `yaml:"reconnect_max"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// EngineConfig configures step evaluation.
type EngineConfig struct {
	Tick             time.Duration `yaml:"tick"`
	HistorySize      int           `yaml:"history_size"`
	Step1Timeout     time.Duration `yaml:"step1_timeout"`
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	ForcePayloadOnly bool          `yaml:"force_payload_only"`
	Strict           bool          `yaml:"strict"` // reject rule files with malformed steps
}

// OutputConfig configures where run events go.
type OutputConfig struct {
	Format      string `yaml:"format"` // "console" or "ndjson"
	Pretty      bool   `yaml:"pretty"`
	Color       bool   `yaml:"color"`
	Verbosity   string `yaml:"verbosity"` // "minimal", "standard", "full"
	File        string `yaml:"file"`
	FileMaxSize int64  `yaml:"file_max_size"`
	Compress    bool   `yaml:"compress"`
	Webhook     string `yaml:"webhook"`
	SQLite      string `yaml:"sqlite"`
	Tap         string `yaml:"tap"`  // payload audit log
	Wire        string `yaml:"wire"` // raw line capture
}

// ControlConfig configures the HTTP control API.
type ControlConfig struct {
	Listen string `yaml:"listen"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// LogConfig configures process logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ActionConfig configures the device action executor.
type ActionConfig struct {
	ADB           string `yaml:"adb"`
	Serial        string `yaml:"serial"`
	ScreenshotDir string `yaml:"screenshot_dir"`
}

// Output formats.
const (
	FormatConsole = "console"
	FormatNDJSON  = "ndjson"
)

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Connector:      "tcp",
			Host:           "127.0.0.1",
			Port:           3490,
			ConnectTimeout: 5 * time.Second,
			Retries:        5,
			Backoff:        500 * time.Millisecond,
			Settle:         3 * time.Second,
			RingSize:       20000,
			Reconnect:      true,
			ReconnectMax:   3,
			ReconnectDelay: time.Second,
		},
		Engine: EngineConfig{
			Tick:             200 * time.Millisecond,
			HistorySize:      5000,
			Step1Timeout:     120 * time.Second,
			ForcePayloadOnly: true,
		},
		Output: OutputConfig{
			Format:    FormatConsole,
			Color:     true,
			Verbosity: "standard",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Action: ActionConfig{
			ADB:           "adb",
			ScreenshotDir: "screenshots",
		},
	}
}

// Load builds the configuration: defaults, then TRE_* environment
// variables, then the YAML file at path (or $TRE_CONFIG when path is empty).
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		path = os.Getenv("TRE_CONFIG")
	}
	if path == "" {
		return cfg, nil
	}
	if err := cfg.loadFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile merges a YAML file into c. Keys absent from the file keep their
// current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// FromEnv returns the defaults overridden by TRE_* environment variables.
func FromEnv() Config {
	d := Default()
	return Config{
		Source: SourceConfig{
			Connector:      getenv("TRE_CONNECTOR", d.Source.Connector),
			Host:           getenv("TRE_HOST", d.Source.Host),
			Port:           getenvInt("TRE_PORT", d.Source.Port),
			ConnectTimeout: getenvDuration("TRE_CONNECT_TIMEOUT", d.Source.ConnectTimeout),
			Retries:        getenvInt("TRE_CONNECT_RETRIES", d.Source.Retries),
			Backoff:        getenvDuration("TRE_CONNECT_BACKOFF", d.Source.Backoff),
			Settle:         getenvDuration("TRE_SETTLE", d.Source.Settle),
			RingSize:       getenvInt("TRE_RING_SIZE", d.Source.RingSize),
			Reconnect:      getenvBool("TRE_RECONNECT", d.Source.Reconnect),
			ReconnectMax:   getenvInt("TRE_RECONNECT_MAX", d.Source.ReconnectMax),
			ReconnectDelay: getenvDuration("TRE_RECONNECT_DELAY", d.Source.ReconnectDelay),
		},
		Engine: EngineConfig{
			Tick:             getenvDuration("TRE_TICK", d.Engine.Tick),
			HistorySize:      getenvInt("TRE_HISTORY_SIZE", d.Engine.HistorySize),
			Step1Timeout:     getenvDuration("TRE_STEP1_TIMEOUT", d.Engine.Step1Timeout),
			DefaultTimeout:   getenvDuration("TRE_DEFAULT_TIMEOUT", d.Engine.DefaultTimeout),
			ForcePayloadOnly: getenvBool("TRE_FORCE_PAYLOAD_ONLY", d.Engine.ForcePayloadOnly),
			Strict:           getenvBool("TRE_STRICT", d.Engine.Strict),
		},
		Output: OutputConfig{
			Format:      getenv("TRE_OUTPUT", d.Output.Format),
			Pretty:      getenvBool("TRE_OUTPUT_PRETTY", d.Output.Pretty),
			Color:       getenvBool("TRE_COLOR", d.Output.Color) && os.Getenv("NO_COLOR") == "",
			Verbosity:   getenv("TRE_VERBOSITY", d.Output.Verbosity),
			File:        getenv("TRE_OUTPUT_FILE", d.Output.File),
			FileMaxSize: int64(getenvInt("TRE_OUTPUT_FILE_MAX_SIZE", int(d.Output.FileMaxSize))),
			Compress:    getenvBool("TRE_OUTPUT_COMPRESS", d.Output.Compress),
			Webhook:     getenv("TRE_WEBHOOK_URL", d.Output.Webhook),
			SQLite:      getenv("TRE_SQLITE_PATH", d.Output.SQLite),
			Tap:         getenv("TRE_TAP_FILE", d.Output.Tap),
			Wire:        getenv("TRE_WIRE_FILE", d.Output.Wire),
		},
		Control: ControlConfig{
			Listen: getenv("TRE_LISTEN", d.Control.Listen),
		},
		Telemetry: TelemetryConfig{
			Endpoint: getenv("TRE_OTLP_ENDPOINT", d.Telemetry.Endpoint),
		},
		Log: LogConfig{
			Level:  getenv("TRE_LOG_LEVEL", d.Log.Level),
			Format: getenv("TRE_LOG_FORMAT", d.Log.Format),
		},
		Action: ActionConfig{
			ADB:           getenv("TRE_ADB", d.Action.ADB),
			Serial:        getenv("TRE_ADB_SERIAL", d.Action.Serial),
			ScreenshotDir: getenv("TRE_SCREENSHOT_DIR", d.Action.ScreenshotDir),
		},
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Source.Connector {
	case "tcp":
		if c.Source.Host == "" {
			add("source.host is required")
		}
		if c.Source.Port < 1 || c.Source.Port > 65535 {
			add("source.port %d out of range 1..65535", c.Source.Port)
		}
	case "file":
	default:
		add("source.connector %q is not one of tcp, file", c.Source.Connector)
	}
	if c.Source.Retries < 1 {
		add("source.retries must be at least 1, got %d", c.Source.Retries)
	}
	if c.Source.RingSize < 1 {
		add("source.ring_size must be at least 1, got %d", c.Source.RingSize)
	}
	for name, d := range map[string]time.Duration{
		"source.connect_timeout": c.Source.ConnectTimeout,
		"source.backoff":         c.Source.Backoff,
		"source.settle":          c.Source.Settle,
		"source.reconnect_delay": c.Source.ReconnectDelay,
		"engine.step1_timeout":   c.Engine.Step1Timeout,
		"engine.default_timeout": c.Engine.DefaultTimeout,
	} {
		if d < 0 {
			add("%s must not be negative, got %s", name, d)
		}
	}
	if c.Engine.Tick <= 0 {
		add("engine.tick must be positive, got %s", c.Engine.Tick)
	}
	if c.Output.Format != FormatConsole && c.Output.Format != FormatNDJSON {
		add("output.format %q is not one of console, ndjson", c.Output.Format)
	}
	if _, err := compactor.ParseVerbosity(c.Output.Verbosity); err != nil {
		errs = append(errs, err)
	}
	if c.Output.FileMaxSize < 0 {
		add("output.file_max_size must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getenvDuration accepts Go durations ("1.5s") or plain milliseconds ("1500").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
