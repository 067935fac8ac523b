// Package config loads and validates runwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/runwatch/internal/poll"
	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/tracker"
)

// Anchor store drivers.
const (
	AnchorMemory   = "memory"
	AnchorSQLite   = "sqlite"
	AnchorPostgres = "postgres"
)

// Export storage drivers.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Backend BackendConfig `mapstructure:"backend"`
	Polling PollingConfig `mapstructure:"polling"`
	Steps   StepsConfig   `mapstructure:"steps"`
	Anchor  AnchorConfig  `mapstructure:"anchor"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Events  EventsConfig  `mapstructure:"events"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API started by `runwatch serve`.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BackendConfig points at the orchestrator API.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Token          string `mapstructure:"token"`
}

// PollingConfig sets the refetch cadence.
type PollingConfig struct {
	RunningSeconds      float64 `mapstructure:"running_seconds"`
	IdleSeconds         float64 `mapstructure:"idle_seconds"`
	ArtifactsSeconds    float64 `mapstructure:"artifacts_seconds"`
	FetchTimeoutSeconds float64 `mapstructure:"fetch_timeout_seconds"`
	TickMillis          int     `mapstructure:"tick_ms"`
}

// StepsConfig holds the simulated durations of every step but the last.
type StepsConfig struct {
	DurationsSeconds []float64 `mapstructure:"durations_seconds"`
}

// AnchorConfig selects where execution anchors persist.
type AnchorConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StorageConfig selects the export destination.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-finished notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	DryRun    bool   `mapstructure:"dry_run"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig tunes the progress event hub.
type EventsConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// TracingConfig installs an OpenTelemetry tracer provider for backend calls.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RUNWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout_seconds", 600)
	v.SetDefault("polling.running_seconds", poll.DefaultRunning.Seconds())
	v.SetDefault("polling.idle_seconds", poll.DefaultIdle.Seconds())
	v.SetDefault("polling.artifacts_seconds", poll.DefaultArtifacts.Seconds())
	v.SetDefault("polling.fetch_timeout_seconds", tracker.DefaultFetchTimeout.Seconds())
	v.SetDefault("polling.tick_ms", tracker.DefaultTick.Milliseconds())
	durations := make([]float64, 0, len(progress.DefaultDurations))
	for _, d := range progress.DefaultDurations {
		durations = append(durations, d.Seconds())
	}
	v.SetDefault("steps.durations_seconds", durations)
	v.SetDefault("anchor.driver", AnchorSQLite)
	v.SetDefault("anchor.path", ".runwatch/anchors.db")
	v.SetDefault("anchor.table", "execution_anchors")
	v.SetDefault("anchor.max_conns", 4)
	v.SetDefault("storage.driver", StorageLocal)
	v.SetDefault("storage.base_dir", "exports")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "runwatch-run-finished")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_batch_wait_ms", 250)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "runwatch")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend.base_url must be an http(s) URL")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	if c.Polling.RunningSeconds <= 0 || c.Polling.IdleSeconds <= 0 || c.Polling.ArtifactsSeconds <= 0 {
		return fmt.Errorf("polling intervals must be > 0")
	}
	if _, err := progress.NewPipeline(toDurations(c.Steps.DurationsSeconds)); err != nil {
		return fmt.Errorf("steps.durations_seconds: %w", err)
	}
	switch c.Anchor.Driver {
	case AnchorMemory:
	case AnchorSQLite:
		if c.Anchor.Path == "" {
			return fmt.Errorf("anchor.path must be set for the sqlite driver")
		}
	case AnchorPostgres:
		if c.Anchor.DSN == "" {
			return fmt.Errorf("anchor.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("anchor.driver %q is not supported", c.Anchor.Driver)
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local driver")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.PubSub.Enabled && !c.PubSub.DryRun && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if c.PubSub.Enabled && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// BackendTimeout is the per-request ceiling of the backend HTTP client.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds each HTTP API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// BatchWait is the progress hub's flush interval.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Events.MaxBatchWaitMs) * time.Millisecond
}

// Tracker converts the polling and step sections into a tracker.Config.
// It assumes Validate has passed.
func (c Config) Tracker() (tracker.Config, error) {
	pipeline, err := progress.NewPipeline(toDurations(c.Steps.DurationsSeconds))
	if err != nil {
		return tracker.Config{}, fmt.Errorf("build pipeline: %w", err)
	}
	return tracker.Config{
		Pipeline: pipeline,
		Cadence: poll.Cadence{
			Running: toDuration(c.Polling.RunningSeconds),
			Idle:    toDuration(c.Polling.IdleSeconds),
		},
		ArtifactInterval: toDuration(c.Polling.ArtifactsSeconds),
		FetchTimeout:     toDuration(c.Polling.FetchTimeoutSeconds),
		Tick:             time.Duration(c.Polling.TickMillis) * time.Millisecond,
	}, nil
}

func toDurations(in []float64) []time.Duration {
	out := make([]time.Duration, 0, len(in))
	for _, s := range in {
		out = append(out, toDuration(s))
	}
	return out
}

func toDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
