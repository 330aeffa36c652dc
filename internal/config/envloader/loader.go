// Package envloader loads service configuration from environment variables.
package envloader

import (
	"context"
	"strings"

	"github.com/spf13/viper"

	"github.com/ahrav/hashferry/internal/config"
)

var _ config.Loader = (*EnvLoader)(nil)

// envPrefix is prepended to every variable name: the key "queue.brokers"
// is read from HASHFERRY_QUEUE_BROKERS.
const envPrefix = "HASHFERRY"

// EnvLoader loads configuration from HASHFERRY_-prefixed environment
// variables. Section keys map to variable names with "." replaced by "_",
// so containerized deployments can configure services without a file.
type EnvLoader struct{}

// NewEnvLoader creates an EnvLoader.
func NewEnvLoader() *EnvLoader { return &EnvLoader{} }

// Load reads the configuration from the process environment. Unset variables
// leave their fields at zero; callers fill defaults via Normalized.
func (l *EnvLoader) Load(ctx context.Context) (*config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &config.Config{
		Stage:           v.GetString("stage"),
		TotalPartitions: v.GetInt("total_partitions"),
		Scanner: config.ScannerConfig{
			PageSize:          v.GetInt("scanner.page_size"),
			InvocationBudget:  config.Duration(v.GetDuration("scanner.invocation_budget")),
			ContinueThreshold: config.Duration(v.GetDuration("scanner.continue_threshold")),
			RetryBudget:       config.Duration(v.GetDuration("scanner.retry_budget")),
			SourceRate:        v.GetFloat64("scanner.source_rate"),
			SourceBurst:       v.GetInt("scanner.source_burst"),
		},
		Loader: config.LoaderConfig{
			CacheTTL: config.Duration(v.GetDuration("loader.cache_ttl")),
		},
		Queue: config.QueueConfig{
			Brokers:                splitList(v.GetString("queue.brokers")),
			ScanRequestTopic:       v.GetString("queue.scan_request_topic"),
			RecordBatchTopic:       v.GetString("queue.record_batch_topic"),
			UnprocessedWritesTopic: v.GetString("queue.unprocessed_writes_topic"),
			MaxRecordsPerMessage:   v.GetInt("queue.max_records_per_message"),
			MaxBytesPerMessage:     v.GetInt("queue.max_bytes_per_message"),
			PublishRetryBudget:     config.Duration(v.GetDuration("queue.publish_retry_budget")),
		},
		Database: config.DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		Leader: config.LeaderConfig{
			Namespace: v.GetString("leader.namespace"),
			LockID:    v.GetString("leader.lock_id"),
		},
		Health: config.HealthConfig{
			Port: v.GetInt("health.port"),
		},
	}
	return cfg, nil
}

// splitList parses a comma-separated value into its elements, trimming
// whitespace and dropping empties.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
