package config

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// GEPHISERVER_QUEUE_CAPACITY.
const EnvPrefix = "GEPHISERVER"

// Configuration keys.
const (
	KeyListenAddr      = "listen_addr"
	KeyDBPath          = "db_path"
	KeyLogLevel        = "log_level"
	KeyQueueCapacity   = "queue_capacity"
	KeySyncTimeout     = "sync_timeout"
	KeyResultTTL       = "result_ttl"
	KeyRateLimit       = "rate_limit"
	KeyRateBurst       = "rate_burst"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyTraceExporter   = "trace_exporter"
)

// Trace exporters accepted by trace_exporter.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "gephiserver.db"
	defaultLogLevel        = "info"
	defaultQueueCapacity   = 10
	defaultSyncTimeout     = 5 * time.Second
	defaultResultTTL       = 30 * time.Second
	defaultRateBurst       = 20
	defaultShutdownTimeout = 15 * time.Second
	defaultTraceExporter   = TraceExporterNone
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// QueueCapacity bounds the render jobs admitted at once, counting the
	// running one.
	QueueCapacity int
	// SyncTimeout is how long a synchronous render may wait for its result.
	SyncTimeout time.Duration
	// ResultTTL is how long an asynchronous result stays collectable.
	ResultTTL time.Duration

	// RateLimit is the sustained requests per second allowed per client on
	// the render endpoints. Zero disables limiting.
	RateLimit float64
	RateBurst int

	ShutdownTimeout time.Duration

	// TraceExporter selects where render spans go: "none" or "stdout".
	TraceExporter string
}

// rawConfig mirrors the configuration keys for viper.Unmarshal.
type rawConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	DBPath          string        `mapstructure:"db_path"`
	LogLevel        string        `mapstructure:"log_level"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	SyncTimeout     time.Duration `mapstructure:"sync_timeout"`
	ResultTTL       time.Duration `mapstructure:"result_ttl"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TraceExporter   string        `mapstructure:"trace_exporter"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyListenAddr, defaultListenAddr)
	v.SetDefault(KeyDBPath, defaultDBPath)
	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.SetDefault(KeyQueueCapacity, defaultQueueCapacity)
	v.SetDefault(KeySyncTimeout, defaultSyncTimeout)
	v.SetDefault(KeyResultTTL, defaultResultTTL)
	v.SetDefault(KeyRateLimit, 0)
	v.SetDefault(KeyRateBurst, defaultRateBurst)
	v.SetDefault(KeyShutdownTimeout, defaultShutdownTimeout)
	v.SetDefault(KeyTraceExporter, defaultTraceExporter)
}

// New returns a viper instance with defaults set and GEPHISERVER_*
// environment variables bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configFile into v when it is not empty, then decodes and
// validates the result. Precedence, lowest first: defaults, config file,
// environment, flags bound on v.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", configFile)
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}

	cfg := Config{
		ListenAddr:      raw.ListenAddr,
		DBPath:          raw.DBPath,
		LogLevel:        parseLogLevel(raw.LogLevel),
		QueueCapacity:   raw.QueueCapacity,
		SyncTimeout:     raw.SyncTimeout,
		ResultTTL:       raw.ResultTTL,
		RateLimit:       raw.RateLimit,
		RateBurst:       raw.RateBurst,
		ShutdownTimeout: raw.ShutdownTimeout,
		TraceExporter:   strings.ToLower(raw.TraceExporter),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.Newf("%s must not be empty", KeyListenAddr)
	case c.DBPath == "":
		return errors.Newf("%s must not be empty", KeyDBPath)
	case c.QueueCapacity < 1:
		return errors.Newf("%s must be at least 1, got %d", KeyQueueCapacity, c.QueueCapacity)
	case c.SyncTimeout <= 0:
		return errors.Newf("%s must be positive, got %s", KeySyncTimeout, c.SyncTimeout)
	case c.ResultTTL <= 0:
		return errors.Newf("%s must be positive, got %s", KeyResultTTL, c.ResultTTL)
	case c.RateLimit < 0:
		return errors.Newf("%s must not be negative, got %g", KeyRateLimit, c.RateLimit)
	case c.RateLimit > 0 && c.RateBurst < 1:
		return errors.WithHint(
			errors.Newf("%s must be at least 1 when %s is set", KeyRateBurst, KeyRateLimit),
			"set rate_limit to 0 to disable request limiting")
	case c.ShutdownTimeout <= 0:
		return errors.Newf("%s must be positive, got %s", KeyShutdownTimeout, c.ShutdownTimeout)
	case c.TraceExporter != TraceExporterNone && c.TraceExporter != TraceExporterStdout:
		return errors.WithHintf(
			errors.Newf("unknown %s %q", KeyTraceExporter, c.TraceExporter),
			"use %q or %q", TraceExporterNone, TraceExporterStdout)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
