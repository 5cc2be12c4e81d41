package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags binds command-line flags to Config fields. Only flags the user
// actually set are applied, so flags override the file and environment
// without their defaults clobbering them.
type Flags struct {
	fs    *pflag.FlagSet
	v     Config
	apply map[string]func(dst *Config)
}

// BindFlags registers the run flags on fs. Defaults shown in help are the
// values from the environment.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, v: FromEnv(), apply: make(map[string]func(*Config))}

	bind(f, "host", func(c *Config) *string { return &c.Source.Host }, fs.StringVar, "log stream host")
	bind(f, "port", func(c *Config) *int { return &c.Source.Port }, fs.IntVar, "log stream TCP port")
	bind(f, "connect-timeout", func(c *Config) *time.Duration { return &c.Source.ConnectTimeout }, fs.DurationVar, "per-attempt dial timeout")
	bind(f, "retries", func(c *Config) *int { return &c.Source.Retries }, fs.IntVar, "connection attempts before giving up")
	bind(f, "settle", func(c *Config) *time.Duration { return &c.Source.Settle }, fs.DurationVar, "buffer boot logs this long before matching")
	bind(f, "ring-size", func(c *Config) *int { return &c.Source.RingSize }, fs.IntVar, "lines kept while settling or paused")
	bind(f, "reconnect", func(c *Config) *bool { return &c.Source.Reconnect }, fs.BoolVar, "reconnect when the stream drops")
	bind(f, "reconnect-max", func(c *Config) *int { return &c.Source.ReconnectMax }, fs.IntVar, "reconnects allowed per run")

	bind(f, "tick", func(c *Config) *time.Duration { return &c.Engine.Tick }, fs.DurationVar, "read/timeout check interval")
	bind(f, "history-size", func(c *Config) *int { return &c.Engine.HistorySize }, fs.IntVar, "lines kept for catch-up matching")
	bind(f, "step1-timeout", func(c *Config) *time.Duration { return &c.Engine.Step1Timeout }, fs.DurationVar, "timeout of the first step when it has none")
	bind(f, "default-timeout", func(c *Config) *time.Duration { return &c.Engine.DefaultTimeout }, fs.DurationVar, "timeout of later steps when they have none (0 waits forever)")
	bind(f, "force-payload-only", func(c *Config) *bool { return &c.Engine.ForcePayloadOnly }, fs.BoolVar, "match payloads only, ignoring per-rule settings")
	bind(f, "strict", func(c *Config) *bool { return &c.Engine.Strict }, fs.BoolVar, "refuse rule files with malformed steps")

	bind(f, "output", func(c *Config) *string { return &c.Output.Format }, fs.StringVar, "stdout format: console or ndjson")
	bind(f, "pretty", func(c *Config) *bool { return &c.Output.Pretty }, fs.BoolVar, "indent NDJSON output")
	bind(f, "color", func(c *Config) *bool { return &c.Output.Color }, fs.BoolVar, "colorize console output")
	bind(f, "verbosity", func(c *Config) *string { return &c.Output.Verbosity }, fs.StringVar, "minimal, standard or full")
	bind(f, "out-file", func(c *Config) *string { return &c.Output.File }, fs.StringVar, "also write events to this NDJSON file")
	bind(f, "out-file-max-size", func(c *Config) *int64 { return &c.Output.FileMaxSize }, fs.Int64Var, "rotate the event file after this many bytes")
	bind(f, "compress", func(c *Config) *bool { return &c.Output.Compress }, fs.BoolVar, "zstd-compress rotated files")
	bind(f, "webhook", func(c *Config) *string { return &c.Output.Webhook }, fs.StringVar, "POST events to this URL")
	bind(f, "sqlite", func(c *Config) *string { return &c.Output.SQLite }, fs.StringVar, "record runs in this SQLite database")
	bind(f, "tap", func(c *Config) *string { return &c.Output.Tap }, fs.StringVar, "payload audit log path")
	bind(f, "wire", func(c *Config) *string { return &c.Output.Wire }, fs.StringVar, "raw line capture path")

	bind(f, "listen", func(c *Config) *string { return &c.Control.Listen }, fs.StringVar, "serve the control API on this address")
	bind(f, "otlp-endpoint", func(c *Config) *string { return &c.Telemetry.Endpoint }, fs.StringVar, "export run traces to this OTLP/HTTP URL")
	bind(f, "log-level", func(c *Config) *string { return &c.Log.Level }, fs.StringVar, "debug, info, warn or error")
	bind(f, "log-format", func(c *Config) *string { return &c.Log.Format }, fs.StringVar, "text or json")

	bind(f, "adb", func(c *Config) *string { return &c.Action.ADB }, fs.StringVar, "adb executable")
	bind(f, "serial", func(c *Config) *string { return &c.Action.Serial }, fs.StringVar, "adb device serial")
	bind(f, "screenshot-dir", func(c *Config) *string { return &c.Action.ScreenshotDir }, fs.StringVar, "where screenshot actions save images")

	return f
}

func bind[T any](f *Flags, name string, field func(*Config) *T, reg func(p *T, name string, value T, usage string), usage string) {
	reg(field(&f.v), name, *field(&f.v), usage)
	f.apply[name] = func(dst *Config) { *field(dst) = *field(&f.v) }
}

// Apply copies every flag the user set onto cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *pflag.Flag) {
		if set, ok := f.apply[fl.Name]; ok {
			set(cfg)
		}
	})
}
