// Package config contains all knobs and defaults used to configure the
// mediator when running as a standalone server.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	DefaultBatchSize            = 256
	DefaultMemoryIndexThreshold = 16
	DefaultAssemblyParallelism  = 9
	DefaultBruteForceLimit      = 12
	DefaultBulkParallelism      = 8
	DefaultPlanCacheSize        = 1000
	DefaultPlanCacheTTL         = 10 * time.Minute
	DefaultMaxDocumentsPerWrite = 100

	// 0 disables the limit.
	DefaultMemoryThresholdBytes = 0
)

var supportedEngines = []string{"memory", "postgres", "mysql", "sqlite"}

type DatastoreMetricsConfig struct {
	// Enabled enables export of the Datastore metrics.
	Enabled bool
}

// DatastoreConfig defines the datastore entities are served from.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'memory', 'postgres', 'mysql', 'sqlite')
	Engine   string
	URI      string
	Username string
	Password string

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections to the datastore in the idle connection
	// pool.
	MaxIdleConns int

	// ConnMaxIdleTime is the maximum amount of time a connection to the datastore may be idle.
	ConnMaxIdleTime time.Duration

	// ConnMaxLifetime is the maximum amount of time a connection to the datastore may be reused.
	ConnMaxLifetime time.Duration

	// MaxDocumentsPerWrite bounds the documents of one import write.
	MaxDocumentsPerWrite int

	Metrics DatastoreMetricsConfig
}

// FindConfig holds the knobs of composite find.
type FindConfig struct {
	// BatchSize is the number of parent documents whose children are
	// retrieved with one backend query.
	BatchSize int

	// MemoryIndexThreshold is the parent batch size from which child
	// documents are joined through an in-memory index. A negative value
	// disables the index.
	MemoryIndexThreshold int

	// AdaptiveIndexing lets the assembler learn whether the index pays off.
	AdaptiveIndexing bool

	AssemblyParallelism int

	// MemoryThresholdBytes bounds the estimated size of a result. 0 means
	// unbounded.
	MemoryThresholdBytes int64

	// PlanCacheSize is the number of plan orientations kept. 0 disables the
	// cache.
	PlanCacheSize int64
	PlanCacheTTL  time.Duration

	// BruteForceLimit is the largest number of composite edges whose
	// orientations are all enumerated.
	BruteForceLimit int
}

// HTTPConfig defines the HTTP server settings.
type HTTPConfig struct {
	Addr string

	// UpstreamTimeout bounds the handling of one request.
	UpstreamTimeout time.Duration

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
}

// LogConfig defines log specific settings. For production we recommend
// using the 'json' log format.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// Format of the timestamp in the log output (e.g. 'Unix'(default) or 'ISO8601')
	TimestampFormat string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
}

type OTLPTraceConfig struct {
	Endpoint string
}

// MetricConfig defines configurations for serving custom metrics.
type MetricConfig struct {
	Enabled bool
	Addr    string
}

type Config struct {
	// MetadataDir holds the entity metadata files loaded at startup.
	MetadataDir string

	BulkParallelism int

	Datastore DatastoreConfig
	Find      FindConfig
	HTTP      HTTPConfig
	Log       LogConfig
	Trace     TraceConfig
	Metrics   MetricConfig
}

func (cfg *Config) Verify() error {
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return errors.New("config 'log.format' must be one of ['text', 'json']")
	}

	if !slices.Contains([]string{"none", "debug", "info", "warn", "error", "panic", "fatal"}, cfg.Log.Level) {
		return errors.New(
			"config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal']",
		)
	}

	if cfg.Log.TimestampFormat != "Unix" && cfg.Log.TimestampFormat != "ISO8601" {
		return errors.New("config 'log.TimestampFormat' must be one of ['Unix', 'ISO8601']")
	}

	if !slices.Contains(supportedEngines, cfg.Datastore.Engine) {
		return fmt.Errorf("config 'datastore.engine' must be one of %v", supportedEngines)
	}

	if cfg.Datastore.Engine != "memory" && cfg.Datastore.URI == "" {
		return fmt.Errorf("config 'datastore.uri' must be set for the '%s' engine", cfg.Datastore.Engine)
	}

	if cfg.Find.BatchSize < 1 {
		return errors.New("config 'find.batchSize' must be positive")
	}

	if cfg.Find.AssemblyParallelism < 1 {
		return errors.New("config 'find.assemblyParallelism' must be positive")
	}

	if cfg.Find.MemoryThresholdBytes < 0 {
		return errors.New("config 'find.memoryThresholdBytes' must be non-negative")
	}

	if cfg.Find.PlanCacheSize < 0 {
		return errors.New("config 'find.planCacheSize' must be non-negative")
	}

	if cfg.Find.PlanCacheSize > 0 && cfg.Find.PlanCacheTTL <= 0 {
		return errors.New("config 'find.planCacheTTL' must be positive when the plan cache is enabled")
	}

	if cfg.Find.BruteForceLimit < 1 || cfg.Find.BruteForceLimit > 63 {
		return errors.New("config 'find.bruteForceLimit' must be between 1 and 63")
	}

	if cfg.BulkParallelism < 1 {
		return errors.New("config 'bulkParallelism' must be positive")
	}

	if cfg.HTTP.UpstreamTimeout < 0 {
		return errors.New("config 'http.upstreamTimeout' must be non-negative")
	}

	if cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1 {
		return errors.New("config 'trace.sampleRatio' must be between 0 and 1")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == cfg.HTTP.Addr {
		return fmt.Errorf("config 'metrics.addr' (%s) must differ from 'http.addr'", cfg.Metrics.Addr)
	}

	return nil
}

// DefaultConfig is the configuration used when no config file, flag or
// environment variable overrides it.
func DefaultConfig() *Config {
	return &Config{
		MetadataDir:     "",
		BulkParallelism: DefaultBulkParallelism,
		Datastore: DatastoreConfig{
			Engine:               "memory",
			MaxOpenConns:         30,
			MaxIdleConns:         10,
			ConnMaxIdleTime:      0,
			ConnMaxLifetime:      0,
			MaxDocumentsPerWrite: DefaultMaxDocumentsPerWrite,
		},
		Find: FindConfig{
			BatchSize:            DefaultBatchSize,
			MemoryIndexThreshold: DefaultMemoryIndexThreshold,
			AdaptiveIndexing:     false,
			AssemblyParallelism:  DefaultAssemblyParallelism,
			MemoryThresholdBytes: DefaultMemoryThresholdBytes,
			PlanCacheSize:        DefaultPlanCacheSize,
			PlanCacheTTL:         DefaultPlanCacheTTL,
			BruteForceLimit:      DefaultBruteForceLimit,
		},
		HTTP: HTTPConfig{
			Addr:               "0.0.0.0:8080",
			UpstreamTimeout:    10 * time.Second,
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedHeaders: []string{"*"},
		},
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
			},
			SampleRatio: 0.2,
			ServiceName: "docmediator",
		},
		Metrics: MetricConfig{
			Enabled: true,
			Addr:    "0.0.0.0:2112",
		},
	}
}

// MustDefaultConfig returns a verified default config and panics when the
// defaults do not verify.
func MustDefaultConfig() *Config {
	config := DefaultConfig()
	if err := config.Verify(); err != nil {
		panic(err)
	}
	return config
}
