// Package config resolves the consumer's configuration from environment
// variables layered under CLI flags, matching the precedence CLI > env >
// default described in spec.md §6.
package config

import (
	"flag"
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v10"
)

// Config holds the fully resolved consumer configuration.
type Config struct {
	QueueConnectionString string `env:"SENZING_AZURE_QUEUE_CONNECTION_STRING" yaml:"-"`
	QueueName             string `env:"SENZING_AZURE_QUEUE_NAME"`
	EngineConfigJSON      string `env:"SENZING_ENGINE_CONFIGURATION_JSON" yaml:"-"`

	// ThreadsPerProcess and Prefetch are 0 until resolveConcurrencyDefaults fills in the
	// host-CPU-derived defaults spec.md §6 describes.
	ThreadsPerProcess int `env:"SENZING_THREADS_PER_PROCESS" envDefault:"0"`
	Prefetch          int `env:"SENZING_PREFETCH" envDefault:"0"`

	LongRecord int    `env:"LONG_RECORD" envDefault:"300"`
	LogLevel   string `env:"SENZING_LOG_LEVEL" envDefault:"info"`

	MetricsPort  int    `env:"METRICS_PORT" envDefault:"9090"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`

	// Info, DebugTrace, and ConfigDump have no environment-variable form in
	// spec.md §6; they are CLI-only.
	Info       bool `env:"-"`
	DebugTrace bool `env:"-"`
	ConfigDump bool `env:"-"`
}

// Load resolves Config from the environment, then overlays CLI flags parsed
// from args (normally os.Args[1:]), so that an explicitly passed flag always
// wins over its environment counterpart, and an explicit environment
// variable always wins over the built-in default.
func Load(args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("consumer", flag.ContinueOnError)
	fs.StringVar(&cfg.QueueConnectionString, "queue", cfg.QueueConnectionString, "broker connection string (overrides SENZING_AZURE_QUEUE_CONNECTION_STRING)")
	fs.BoolVar(&cfg.Info, "info", false, "request engine with-info return payloads")
	fs.BoolVar(&cfg.Info, "i", false, "shorthand for --info")
	fs.BoolVar(&cfg.DebugTrace, "debugTrace", false, "pass verbose logging to the engine")
	fs.BoolVar(&cfg.DebugTrace, "t", false, "shorthand for --debugTrace")
	fs.BoolVar(&cfg.ConfigDump, "config-dump", false, "print the resolved configuration as YAML to stderr and continue")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.resolveConcurrencyDefaults()
	return cfg, nil
}

// resolveConcurrencyDefaults fills ThreadsPerProcess/Prefetch per spec.md
// §6: threads default to the host CPU count (never 0, unlike Python's
// os.cpu_count() which can return None); prefetch defaults to
// min(32, cpu+4) when threads was left unset, or to max_workers otherwise.
func (c *Config) resolveConcurrencyDefaults() {
	cpu := runtime.NumCPU()
	if cpu < 1 {
		cpu = 1
	}

	threadsWasUnset := c.ThreadsPerProcess <= 0
	if threadsWasUnset {
		c.ThreadsPerProcess = cpu
	}

	if c.Prefetch <= 0 {
		if threadsWasUnset {
			c.Prefetch = min(32, cpu+4)
		} else {
			c.Prefetch = c.ThreadsPerProcess
		}
	}
}

// Validate checks the required fields spec.md §6 lists; a missing value is
// Startup-fatal (spec.md §7).
func (c Config) Validate() error {
	var missing []string
	if c.QueueConnectionString == "" {
		missing = append(missing, "SENZING_AZURE_QUEUE_CONNECTION_STRING (or --queue)")
	}
	if c.QueueName == "" {
		missing = append(missing, "SENZING_AZURE_QUEUE_NAME")
	}
	if c.EngineConfigJSON == "" {
		missing = append(missing, "SENZING_ENGINE_CONFIGURATION_JSON")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}

// Redacted returns a copy with QueueConnectionString and EngineConfigJSON
// blanked out, safe to log or dump (spec.md §4.6 "redact credentials").
func (c Config) Redacted() Config {
	c.QueueConnectionString = "***redacted***"
	c.EngineConfigJSON = "***redacted***"
	return c
}
