package cel

// DefaultPolicy raises an incident for every run with failing rows.
const DefaultPolicy = `failed_count > 0`

var PolicyExamples = map[string]string{
	"any_failure":         DefaultPolicy,
	"failure_rate":        `failure_rate > 0.05`,
	"high_severity_only":  `failed_count > 0 && severity == "HIGH"`,
	"absolute_threshold":  `failed_count >= 100`,
	"skip_uniqueness":     `failed_count > 0 && rule_type != "UNIQUE"`,
	"severity_in":         `failed_count > 0 && severity in ["MEDIUM", "HIGH"]`,
	"dataset_scoped":      `failed_count > 0 && dataset_id.startsWith("prod-")`,
	"rate_or_high":        `failure_rate > 0.01 || (failed_count > 0 && severity == "HIGH")`,
	"large_datasets_only": `total_rows > 1000 && failed_count > 0`,
}
