// Package trend maintains each dataset's rolling quality series: daily run
// outcomes over a fixed window plus the latest pass rate of every rule.
package trend

import (
	"context"
	"math"
	"sort"
	"time"

	"watchtower/internal/constants"
)

const dateLayout = "2006-01-02"

// Completion is one finished run as seen by the aggregator.
type Completion struct {
	DatasetID string
	RuleID    string
	RuleName  string
	Passed    int
	Failed    int
	At        time.Time
}

type DailyBucket struct {
	Date       string `json:"date" bson:"date"`
	PassedRuns int    `json:"passed" bson:"passed"`
	FailedRuns int    `json:"failed" bson:"failed"`
}

// RuleRate is a rule's pass rate on its most recent run.
type RuleRate struct {
	RuleID          string    `json:"rule_id" bson:"rule_id"`
	RuleName        string    `json:"rule_name" bson:"rule_name"`
	PassRate        float64   `json:"pass_rate" bson:"pass_rate"`
	TotalExecutions int       `json:"total_executions" bson:"total_executions"`
	LastRunAt       time.Time `json:"last_run_at" bson:"last_run_at"`
}

type Trend struct {
	DatasetID string        `json:"dataset_id" bson:"_id"`
	Days      []DailyBucket `json:"days" bson:"days"`
	Rules     []RuleRate    `json:"rules" bson:"rules"`
	Version   int64         `json:"version" bson:"version"`
	UpdatedAt time.Time     `json:"updated_at" bson:"updated_at"`
}

// Repository persists trends. Update applies fn to the current trend (an
// empty one if none exists) and stores the result atomically.
type Repository interface {
	Get(ctx context.Context, datasetID string) (*Trend, error)
	Update(ctx context.Context, datasetID string, fn func(*Trend) *Trend) (*Trend, error)
}

type Aggregator struct {
	repo   Repository
	window int
}

func NewAggregator(repo Repository) *Aggregator {
	return &Aggregator{repo: repo, window: constants.TrendWindowDays}
}

func (a *Aggregator) RecordCompletion(ctx context.Context, c Completion) error {
	_, err := a.repo.Update(ctx, c.DatasetID, func(t *Trend) *Trend {
		return Apply(t, c, a.window)
	})
	return err
}

func (a *Aggregator) Get(ctx context.Context, datasetID string) (*Trend, error) {
	return a.repo.Get(ctx, datasetID)
}

// Apply folds one completion into t and returns the new trend. t is not
// modified. A run counts as passed when it had no failing rows.
func Apply(t *Trend, c Completion, window int) *Trend {
	next := &Trend{DatasetID: c.DatasetID}
	if t != nil {
		next.Version = t.Version
		next.Days = append([]DailyBucket(nil), t.Days...)
		next.Rules = append([]RuleRate(nil), t.Rules...)
	}
	next.UpdatedAt = c.At.UTC()

	next.Days = addToBucket(next.Days, c)
	next.Days = trimWindow(next.Days, window)
	next.Rules = updateRule(next.Rules, c)
	return next
}

func addToBucket(days []DailyBucket, c Completion) []DailyBucket {
	date := c.At.UTC().Format(dateLayout)

	i := sort.Search(len(days), func(i int) bool { return days[i].Date >= date })
	if i == len(days) || days[i].Date != date {
		days = append(days, DailyBucket{})
		copy(days[i+1:], days[i:])
		days[i] = DailyBucket{Date: date}
	}

	if c.Failed == 0 {
		days[i].PassedRuns++
	} else {
		days[i].FailedRuns++
	}
	return days
}

// trimWindow keeps the buckets within window days of the newest one.
func trimWindow(days []DailyBucket, window int) []DailyBucket {
	if len(days) == 0 || window <= 0 {
		return days
	}

	newest, err := time.Parse(dateLayout, days[len(days)-1].Date)
	if err != nil {
		return days
	}
	cutoff := newest.AddDate(0, 0, -(window - 1)).Format(dateLayout)

	i := sort.Search(len(days), func(i int) bool { return days[i].Date >= cutoff })
	return days[i:]
}

func updateRule(rules []RuleRate, c Completion) []RuleRate {
	i := sort.Search(len(rules), func(i int) bool { return rules[i].RuleID >= c.RuleID })
	if i == len(rules) || rules[i].RuleID != c.RuleID {
		rules = append(rules, RuleRate{})
		copy(rules[i+1:], rules[i:])
		rules[i] = RuleRate{RuleID: c.RuleID}
	}

	r := &rules[i]
	r.TotalExecutions++
	if r.LastRunAt.IsZero() || !c.At.Before(r.LastRunAt) {
		r.RuleName = c.RuleName
		r.PassRate = PassRate(c.Passed, c.Failed)
		r.LastRunAt = c.At.UTC()
	}
	return rules
}

// PassRate is the percentage of passing rows rounded to two decimals, or 0
// for an empty run.
func PassRate(passed, failed int) float64 {
	total := passed + failed
	if total == 0 {
		return 0
	}
	return math.Round(float64(passed)/float64(total)*100*100) / 100
}
