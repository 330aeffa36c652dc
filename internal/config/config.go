// Package config defines the typed configuration shared by the hashferry
// services and the loaders that produce it.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML duration strings such as
// "90s" or "10m".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Defaults applied by Normalized. Component-level knobs (page size, budgets,
// message ceilings) default to zero here and fall back inside the component
// that owns them.
const (
	defaultTotalPartitions = 1
	defaultSourceRate      = 10.0
	defaultSourceBurst     = 10
	defaultCacheTTL        = Duration(5 * time.Minute)
	defaultHealthPort      = 8081
	defaultLeaderNamespace = "default"
	defaultLeaderLockID    = "hashferry-controller"

	defaultScanRequestTopic       = "hashferry-scan-requests"
	defaultRecordBatchTopic       = "hashferry-record-batches"
	defaultUnprocessedWritesTopic = "hashferry-unprocessed-writes"
)

// Config is the top-level configuration for a hashferry service. One schema
// serves all three services; each main reads the sections it needs.
type Config struct {
	// Stage namespaces a migration run's checkpoints, so repeated or parallel
	// deployments never collide.
	Stage string `yaml:"stage" validate:"required"`

	// TotalPartitions is how many disjoint slices the keyspace is split into.
	// Changing it mid-stage starts a logically new scan: cursor keys embed
	// the partition count.
	TotalPartitions int `yaml:"total_partitions" validate:"gte=1"`

	Scanner  ScannerConfig  `yaml:"scanner"`
	Loader   LoaderConfig   `yaml:"loader"`
	Queue    QueueConfig    `yaml:"queue"`
	Database DatabaseConfig `yaml:"database"`
	Leader   LeaderConfig   `yaml:"leader"`
	Health   HealthConfig   `yaml:"health"`
}

// ScannerConfig tunes the scan side.
type ScannerConfig struct {
	PageSize          int      `yaml:"page_size" validate:"omitempty,gte=100,lte=500"`
	InvocationBudget  Duration `yaml:"invocation_budget"`
	ContinueThreshold Duration `yaml:"continue_threshold"`
	RetryBudget       Duration `yaml:"retry_budget"`

	// SourceRate caps legacy index page fetches per second for one scanner
	// process; SourceBurst is the limiter's burst allowance.
	SourceRate  float64 `yaml:"source_rate" validate:"omitempty,gt=0"`
	SourceBurst int     `yaml:"source_burst" validate:"omitempty,gte=1"`
}

// LoaderConfig tunes the write side.
type LoaderConfig struct {
	// CacheTTL bounds how long a key confirmed present is remembered before
	// the store is probed again.
	CacheTTL Duration `yaml:"cache_ttl"`
}

// QueueConfig locates the durable queue and bounds its messages.
type QueueConfig struct {
	Brokers                []string `yaml:"brokers" validate:"required,min=1"`
	ScanRequestTopic       string   `yaml:"scan_request_topic" validate:"required"`
	RecordBatchTopic       string   `yaml:"record_batch_topic" validate:"required"`
	UnprocessedWritesTopic string   `yaml:"unprocessed_writes_topic" validate:"required"`

	// MaxRecordsPerMessage must stay at or under the 500-record ceiling the
	// consumer side enforces on record batch bodies.
	MaxRecordsPerMessage int      `yaml:"max_records_per_message" validate:"omitempty,gte=1,lte=500"`
	MaxBytesPerMessage   int      `yaml:"max_bytes_per_message" validate:"omitempty,gte=1"`
	PublishRetryBudget   Duration `yaml:"publish_retry_budget"`
}

// DatabaseConfig locates the PostgreSQL database holding the legacy index,
// the destination table, and the checkpoint table.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" validate:"required"`
}

// LeaderConfig identifies the lease controller replicas compete for.
type LeaderConfig struct {
	Namespace string `yaml:"namespace"`
	LockID    string `yaml:"lock_id"`
}

// HealthConfig configures the liveness/readiness endpoint.
type HealthConfig struct {
	Port int `yaml:"port" validate:"omitempty,gte=1,lte=65535"`
}

// Normalized returns a copy with defaults filled in for unset fields.
// Loaders return configuration as parsed; call this before Validate.
func (c Config) Normalized() Config {
	if c.TotalPartitions == 0 {
		c.TotalPartitions = defaultTotalPartitions
	}
	if c.Scanner.SourceRate == 0 {
		c.Scanner.SourceRate = defaultSourceRate
	}
	if c.Scanner.SourceBurst == 0 {
		c.Scanner.SourceBurst = defaultSourceBurst
	}
	if c.Loader.CacheTTL == 0 {
		c.Loader.CacheTTL = defaultCacheTTL
	}
	if c.Queue.ScanRequestTopic == "" {
		c.Queue.ScanRequestTopic = defaultScanRequestTopic
	}
	if c.Queue.RecordBatchTopic == "" {
		c.Queue.RecordBatchTopic = defaultRecordBatchTopic
	}
	if c.Queue.UnprocessedWritesTopic == "" {
		c.Queue.UnprocessedWritesTopic = defaultUnprocessedWritesTopic
	}
	if c.Leader.Namespace == "" {
		c.Leader.Namespace = defaultLeaderNamespace
	}
	if c.Leader.LockID == "" {
		c.Leader.LockID = defaultLeaderLockID
	}
	if c.Health.Port == 0 {
		c.Health.Port = defaultHealthPort
	}
	return c
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
