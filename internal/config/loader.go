package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"watchtower/internal/constants"
)

// envKeys are the settings deployments override through the environment.
// Each key maps to the upper-cased name with dots replaced by underscores,
// so database.postgres.host reads DATABASE_POSTGRES_HOST.
var envKeys = []string{
	"broker.type",
	"broker.kafka.brokers",
	"broker.kafka.group_id",
	"broker.kafka.request_topic",
	"broker.kafka.event_topic",
	"broker.kafka.dlq_topic",

	"database.run_migrations",
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.dbname",
	"database.postgres.sslmode",
	"database.redis.host",
	"database.redis.port",
	"database.redis.password",
	"database.redis.db",
	"database.mongodb.uri",
	"database.mongodb.database",

	"storage.endpoint",
	"storage.access_key",
	"storage.secret_key",
	"storage.bucket",
	"storage.use_ssl",

	"execution.concurrency",
	"execution.weekdays_only",
	"execution.hash_algorithm",
	"incident.policy",

	"server.port",
	"server.read_timeout_seconds",
	"server.write_timeout_seconds",

	"logging.level",
	"logging.format",

	"tracing.enabled",
	"tracing.service_name",
	"tracing.otlp.endpoint",
	"tracing.otlp.insecure",
}

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	decode := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.DecodeHookFuncType(splitListHook),
	))
	if err := v.Unmarshal(&cfg, decode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("execution.concurrency", constants.DefaultExecutionConcurrency)
	v.SetDefault("execution.hash_algorithm", constants.DefaultRunHashAlgorithm)
	v.SetDefault("execution.evidence_sample_cap", constants.DefaultEvidenceSampleCap)
	v.SetDefault("execution.evidence_max_bytes", constants.DefaultEvidenceMaxBytes)
	v.SetDefault("execution.dataset_retry.max_attempts", 3)
	v.SetDefault("execution.dataset_retry.initial_interval", "200ms")
	v.SetDefault("execution.dataset_retry.max_interval", "2s")
	v.SetDefault("execution.dataset_retry.multiplier", 2.0)
	v.SetDefault("database.redis.ttl_seconds", constants.DefaultTTLSeconds)
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
}

// splitListHook turns a comma separated environment value such as
// "k1:9092, k2:9092" into a trimmed list.
func splitListHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	s, ok := data.(string)
	if !ok || to.Kind() != reflect.Slice {
		return data, nil
	}
	if s == "" {
		return []string{}, nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}
