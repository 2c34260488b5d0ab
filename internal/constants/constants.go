package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixRule    = "rule:"
	CacheKeyPrefixDataset = "dataset:"
)

const (
	BrokerTypeKafka  = "kafka"
	BrokerTypeMemory = "memory"
)

const (
	DefaultRequestTopic = "rule_execution_requests"
	DefaultEventTopic   = "rule_execution_events"
)

const (
	DefaultMongoDBName        = "watchtower"
	TrendCollection           = "dataset_trends"
	DefaultEvidenceBucket     = "watchtower-evidence"
	EvidenceObjectPrefix      = "evidence/"
	EvidenceObjectContentType = "application/json"
)

const (
	ShutdownTimeout = 5 * time.Second
	// TerminalWriteTimeout bounds the write that moves a run out of RUNNING.
	// It runs on a fresh context so a cancelled request still records the outcome.
	TerminalWriteTimeout = 10 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultTTLSeconds = 3600
)

const (
	DefaultExecutionConcurrency = 4
	DefaultRunHashAlgorithm     = "md5"
	DefaultEvidenceSampleCap    = 50
	DefaultEvidenceMaxBytes     = 10000
	TrendWindowDays             = 7
)

const (
	SourceTypeCSV      = "CSV"
	SourceTypeDatabase = "DB"
)

const (
	EventRunFinished    = "run.finished"
	EventIncidentRaised = "incident.raised"
	EventSource         = "watchtower-engine"
)

const (
	ServiceName = "engine-service"
	CLIName     = "dqctl"
)
