package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalYAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "minutes", raw: "d: 10m", want: 10 * time.Minute},
		{name: "compound", raw: "d: 1h30m", want: 90 * time.Minute},
		{name: "quoted seconds", raw: `d: "45s"`, want: 45 * time.Second},
		{name: "zero", raw: "d: 0", want: 0},
		{name: "bare number has no unit", raw: "d: 300", wantErr: true},
		{name: "garbage", raw: "d: soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out struct {
				D Duration `yaml:"d"`
			}
			err := yaml.Unmarshal([]byte(tt.raw), &out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.D.Std())
		})
	}
}

func validConfig() Config {
	return Config{
		Stage:    "backfill-2025",
		Queue:    QueueConfig{Brokers: []string{"localhost:9092"}},
		Database: DatabaseConfig{DSN: "postgres://localhost:5432/hashferry"},
	}.Normalized()
}

func TestNormalizedFillsDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.Normalized()

	assert.Equal(t, 1, cfg.TotalPartitions)
	assert.Equal(t, 10.0, cfg.Scanner.SourceRate)
	assert.Equal(t, 10, cfg.Scanner.SourceBurst)
	assert.Equal(t, 5*time.Minute, cfg.Loader.CacheTTL.Std())
	assert.Equal(t, "hashferry-scan-requests", cfg.Queue.ScanRequestTopic)
	assert.Equal(t, "hashferry-record-batches", cfg.Queue.RecordBatchTopic)
	assert.Equal(t, "hashferry-unprocessed-writes", cfg.Queue.UnprocessedWritesTopic)
	assert.Equal(t, "default", cfg.Leader.Namespace)
	assert.Equal(t, "hashferry-controller", cfg.Leader.LockID)
	assert.Equal(t, 8081, cfg.Health.Port)
}

func TestNormalizedKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		TotalPartitions: 16,
		Scanner:         ScannerConfig{SourceRate: 2.5, SourceBurst: 3},
		Loader:          LoaderConfig{CacheTTL: Duration(time.Minute)},
		Queue:           QueueConfig{ScanRequestTopic: "custom-topic"},
		Health:          HealthConfig{Port: 9999},
	}.Normalized()

	assert.Equal(t, 16, cfg.TotalPartitions)
	assert.Equal(t, 2.5, cfg.Scanner.SourceRate)
	assert.Equal(t, 3, cfg.Scanner.SourceBurst)
	assert.Equal(t, time.Minute, cfg.Loader.CacheTTL.Std())
	assert.Equal(t, "custom-topic", cfg.Queue.ScanRequestTopic)
	assert.Equal(t, 9999, cfg.Health.Port)
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing stage", mutate: func(c *Config) { c.Stage = "" }},
		{name: "missing brokers", mutate: func(c *Config) { c.Queue.Brokers = nil }},
		{name: "missing dsn", mutate: func(c *Config) { c.Database.DSN = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateBoundsPageSize(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Scanner.PageSize = 50
	assert.Error(t, cfg.Validate())

	cfg.Scanner.PageSize = 250
	assert.NoError(t, cfg.Validate())
}

func TestValidateBoundsRecordsPerMessage(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Queue.MaxRecordsPerMessage = 501
	assert.Error(t, cfg.Validate())

	cfg.Queue.MaxRecordsPerMessage = 500
	assert.NoError(t, cfg.Validate())
}
