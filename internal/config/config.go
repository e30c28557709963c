// Package config loads relay runtime configuration with precedence:
// defaults, then YAML file, then environment variables.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/relaycore/internal/telemetry"
)

// RuntimeConfig is the relay process's complete runtime configuration: the
// process-wide tunables the EnvelopeManager and cmd/relay need that sit
// outside the per-project snapshot the core pipeline consumes.
type RuntimeConfig struct {
	Environment string

	// EnvelopeBufferSize bounds the EnvelopeManager's incoming queue (§5);
	// beyond it, incoming envelopes are rejected with TooManyEnvelopes.
	EnvelopeBufferSize int
	// EnvelopeBufferExpiry is the per-envelope total lifetime budget (§5);
	// once it elapses the envelope is abandoned with Invalid(Internal).
	EnvelopeBufferExpiry time.Duration
	// CPUConcurrency bounds the processing worker pool.
	CPUConcurrency int

	// ProcessingMode is loaded from processing_mode. Whether the pipeline
	// runs its processing-only stages (store-normalize, inbound filter,
	// quota enforcement, transaction-metric extraction) is decided by each
	// project snapshot's pipeline configuration, not by this field.
	ProcessingMode bool
	// MaxEventSize sets the size of the pooled request-body buffers in
	// cmd/relay; event-candidate extraction is bounded by the project
	// snapshot's pipeline configuration instead.
	MaxEventSize int

	// ProjectCacheSweepInterval controls how often the project cache evicts
	// expired snapshot entries; <= 0 disables the background sweep.
	ProjectCacheSweepInterval time.Duration

	Telemetry telemetry.Config
}

type runtimeConfigYAML struct {
	Environment string `yaml:"environment"`
	Limits      struct {
		EnvelopeBufferSize   int    `yaml:"envelope_buffer_size"`
		EnvelopeBufferExpiry string `yaml:"envelope_buffer_expiry"`
		CPUConcurrency       int    `yaml:"cpu_concurrency"`
		MaxEventSize         int    `yaml:"max_event_size"`
	} `yaml:"limits"`
	ProcessingMode      bool   `yaml:"processing_mode"`
	ProjectCacheSweep   string `yaml:"project_cache_sweep_interval"`
	Telemetry           struct {
		OTLPEndpoint  string `yaml:"otlp_endpoint"`
		OTLPInsecure  bool   `yaml:"otlp_insecure"`
		EnableMetrics bool   `yaml:"enable_metrics"`
	} `yaml:"telemetry"`
}

// Load builds a RuntimeConfig following defaults -> YAML -> env precedence.
// A missing YAML file at path is not an error; the defaults (possibly
// overridden by env vars) are used instead.
func Load(ctx context.Context, path string) (RuntimeConfig, error) {
	_ = ctx
	cfg := defaultRuntimeConfig()

	if err := cfg.loadYAML(path); err != nil && !os.IsNotExist(err) {
		return RuntimeConfig{}, fmt.Errorf("config: load yaml: %w", err)
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return RuntimeConfig{}, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

func defaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Environment:               "development",
		EnvelopeBufferSize:        1000,
		EnvelopeBufferExpiry:      30 * time.Second,
		CPUConcurrency:            8,
		ProcessingMode:            false,
		MaxEventSize:              1 << 20,
		ProjectCacheSweepInterval: 30 * time.Second,
		Telemetry:                 telemetry.DefaultConfig(),
	}
}

func (c *RuntimeConfig) loadYAML(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("RELAYCORE_CONFIG"))
	}
	if path == "" {
		path = "config/relay.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var y runtimeConfigYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	if y.Environment != "" {
		c.Environment = strings.ToLower(strings.TrimSpace(y.Environment))
	}
	if y.Limits.EnvelopeBufferSize > 0 {
		c.EnvelopeBufferSize = y.Limits.EnvelopeBufferSize
	}
	if y.Limits.EnvelopeBufferExpiry != "" {
		d, parseErr := time.ParseDuration(y.Limits.EnvelopeBufferExpiry)
		if parseErr != nil {
			return fmt.Errorf("parse envelope_buffer_expiry: %w", parseErr)
		}
		c.EnvelopeBufferExpiry = d
	}
	if y.Limits.CPUConcurrency > 0 {
		c.CPUConcurrency = y.Limits.CPUConcurrency
	}
	if y.Limits.MaxEventSize > 0 {
		c.MaxEventSize = y.Limits.MaxEventSize
	}
	c.ProcessingMode = y.ProcessingMode
	if y.ProjectCacheSweep != "" {
		d, parseErr := time.ParseDuration(y.ProjectCacheSweep)
		if parseErr != nil {
			return fmt.Errorf("parse project_cache_sweep_interval: %w", parseErr)
		}
		c.ProjectCacheSweepInterval = d
	}
	if y.Telemetry.OTLPEndpoint != "" {
		c.Telemetry.OTLPEndpoint = y.Telemetry.OTLPEndpoint
		c.Telemetry.OTLPInsecure = y.Telemetry.OTLPInsecure
		c.Telemetry.EnableMetrics = y.Telemetry.EnableMetrics
	}

	return nil
}

func (c *RuntimeConfig) loadEnv() {
	if v := strings.TrimSpace(os.Getenv("RELAYCORE_ENV")); v != "" {
		c.Environment = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("RELAYCORE_PROCESSING_MODE")); v != "" {
		c.ProcessingMode = v == "true"
	}
	if v := strings.TrimSpace(os.Getenv("RELAYCORE_CPU_CONCURRENCY")); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.CPUConcurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RELAYCORE_ENVELOPE_BUFFER_SIZE")); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.EnvelopeBufferSize = n
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("config: %q is not a positive integer", s)
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %q must be positive", s)
	}
	return n, nil
}

// Validate checks invariants that defaults-then-overrides could still
// violate (e.g. an operator-supplied YAML setting a limit to zero).
func (c RuntimeConfig) Validate() error {
	if c.EnvelopeBufferSize <= 0 {
		return fmt.Errorf("config: envelope_buffer_size must be positive")
	}
	if c.CPUConcurrency <= 0 {
		return fmt.Errorf("config: cpu_concurrency must be positive")
	}
	if c.EnvelopeBufferExpiry <= 0 {
		return fmt.Errorf("config: envelope_buffer_expiry must be positive")
	}
	return nil
}
