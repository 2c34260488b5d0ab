package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
server:
  port: 8080
  read_timeout_seconds: 10s
  write_timeout_seconds: 10s
logging:
  level: info
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Execution.Concurrency)
	assert.Equal(t, "md5", cfg.Execution.HashAlgorithm)
	assert.Equal(t, 50, cfg.Execution.EvidenceSampleCap)
	assert.Equal(t, 10000, cfg.Execution.EvidenceMaxBytes)
	assert.Equal(t, 3, cfg.Execution.DatasetRetry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Execution.DatasetRetry.InitialInterval)
	assert.Equal(t, 3600, cfg.Database.Redis.TTLSeconds)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("EXECUTION_CONCURRENCY", "8")

	body := minimalConfig + `
broker:
  type: kafka
  kafka:
    brokers: ["ignored:9092"]
    group_id: engine
    retry:
      multiplier: 2
`
	cfg, err := LoadConfig(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, 8, cfg.Execution.Concurrency)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateStatic(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
			Execution: ExecutionConfig{
				Concurrency:       2,
				HashAlgorithm:     "sha256",
				EvidenceSampleCap: 50,
				DatasetRetry:      RetryConfig{Multiplier: 2},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown broker",
			mutate:  func(c *Config) { c.Broker.Type = "rabbitmq" },
			wantErr: "broker.type",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Execution.Concurrency = 0 },
			wantErr: "execution.concurrency",
		},
		{
			name:    "unsupported hash",
			mutate:  func(c *Config) { c.Execution.HashAlgorithm = "crc32" },
			wantErr: "execution.hash_algorithm",
		},
		{
			name:    "storage scheme",
			mutate:  func(c *Config) { c.Storage = StorageConfig{Endpoint: "http://minio:9000", Bucket: "b"} },
			wantErr: "storage.endpoint",
		},
		{
			name:    "storage without bucket",
			mutate:  func(c *Config) { c.Storage = StorageConfig{Endpoint: "minio:9000"} },
			wantErr: "storage.bucket",
		},
		{
			name:    "incident policy must be bool",
			mutate:  func(c *Config) { c.Incident.Policy = "failed_count + 1" },
			wantErr: "incident.policy",
		},
		{
			name:   "incident policy preset",
			mutate: func(c *Config) { c.Incident.Policy = "high_severity_only" },
		},
		{
			name: "mongo uri scheme",
			mutate: func(c *Config) {
				c.Database.MongoDB = MongoDBConfig{URI: "localhost:27017", Database: "dq"}
			},
			wantErr: "database.mongodb.uri",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateStatic(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_EnvSelectsMemoryBroker(t *testing.T) {
	t.Setenv("BROKER_TYPE", "memory")
	t.Setenv("STORAGE_BUCKET", "evidence")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Broker.Type)
	assert.Equal(t, "evidence", cfg.Storage.Bucket)
}
