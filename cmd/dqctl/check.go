package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"watchtower/internal/catalog"
	"watchtower/internal/constants"
	"watchtower/internal/dataset"
	"watchtower/internal/evaluator"
	"watchtower/internal/evidence"
	"watchtower/internal/logger"
	"watchtower/internal/run"
	pkgerrors "watchtower/pkg/errors"
)

// errViolations is returned when a rule failed rows or could not run, so
// the process exits non-zero without printing an extra error line.
var errViolations = errors.New("data quality violations found")

type checkOptions struct {
	Data      string
	Rules     []string
	Refs      []string
	StartedAt string
	SampleCap int
	JSON      bool
}

type checkReport struct {
	Rule   string      `json:"rule"`
	Result *run.Result `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run rules against a CSV file",
		Long: `Run one or more rules against a local CSV file and print the outcome.

Reference tables for FOREIGN_KEY rules are registered with --ref name=path.
The command exits with status 1 when any rule failed rows or errored.

Examples:
  dqctl check --data users.csv --rule 'NOT_NULL(email)' --rule 'UNIQUE(id)'
  dqctl check --data users.csv --rule 'FOREIGN_KEY(country, countries, code)' --ref countries=countries.csv
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := runCheck(cmd.Context(), opts, newLogger())
			if err != nil {
				return err
			}

			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				printReports(cmd.OutOrStdout(), reports)
			}

			for _, r := range reports {
				if r.Error != "" || (r.Result != nil && r.Result.FailedCount > 0) {
					return errViolations
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "CSV file to check (required)")
	cmd.Flags().StringArrayVarP(&opts.Rules, "rule", "r", nil, "Rule expression, repeatable (required)")
	cmd.Flags().StringArrayVar(&opts.Refs, "ref", nil, "Reference table as name=path, repeatable")
	cmd.Flags().StringVar(&opts.StartedAt, "started-at", "", "Run start time in RFC 3339, defaults to now")
	cmd.Flags().IntVar(&opts.SampleCap, "sample-cap", constants.DefaultEvidenceSampleCap, "Maximum failing rows kept as evidence")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print results as JSON")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("rule")
	return cmd
}

// runCheck registers the data file, its reference tables and the rules in
// an in-memory catalog and executes every rule once. Reports follow the
// order of opts.Rules.
func runCheck(ctx context.Context, opts checkOptions, log logger.Logger) ([]checkReport, error) {
	startedAt := time.Now().UTC()
	if opts.StartedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, opts.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid --started-at: %w", err)
		}
		startedAt = t
	}

	cat := catalog.NewMemoryRepository()
	name := strings.TrimSuffix(filepath.Base(opts.Data), filepath.Ext(opts.Data))
	ds := &catalog.Dataset{Name: name, SourceType: constants.SourceTypeCSV, SourceLocation: opts.Data}
	if err := cat.CreateDataset(ctx, ds); err != nil {
		return nil, err
	}

	for _, ref := range opts.Refs {
		refName, path, ok := strings.Cut(ref, "=")
		if !ok || refName == "" || path == "" {
			return nil, fmt.Errorf("invalid --ref %q, expected name=path", ref)
		}
		refDS := &catalog.Dataset{Name: refName, SourceType: constants.SourceTypeCSV, SourceLocation: path}
		if err := cat.CreateDataset(ctx, refDS); err != nil {
			return nil, fmt.Errorf("invalid --ref %q: %w", ref, err)
		}
	}

	runs := run.NewMemoryRepository()
	coord := run.NewCoordinator(runs, dataset.NewFileLoader(), log,
		run.WithEvidence(
			evidence.NewBuilder(evidence.WithCap(opts.SampleCap)),
			evidence.NewOffloader(nil, constants.DefaultEvidenceMaxBytes),
		),
		run.WithReferences(cat),
	)
	dispatcher := run.NewDispatcher(cat, coord, log)

	reports := make([]checkReport, len(opts.Rules))
	for i, expr := range opts.Rules {
		reports[i].Rule = expr

		rule := &catalog.Rule{Name: expr, Expression: expr, DatasetID: ds.ID, Active: true}
		if err := cat.CreateRule(ctx, rule); err != nil {
			reports[i].Error = ruleError(err)
			continue
		}

		res, err := dispatcher.RunRule(ctx, rule.ID, startedAt)
		reports[i].Result = res
		if err != nil {
			reports[i].Error = ruleError(err)
		}
	}
	return reports, nil
}

// ruleError unwraps catalog validation errors to the underlying message.
func ruleError(err error) string {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		if msg, ok := appErr.Details["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return err.Error()
}

func printReports(w io.Writer, reports []checkReport) {
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	warn := color.New(color.FgYellow, color.Bold)
	faint := color.New(color.Faint)

	passed := 0
	for _, r := range reports {
		res := r.Result
		switch {
		case r.Error != "":
			fail.Fprint(w, "ERROR ")
			fmt.Fprintln(w, r.Rule)
			faint.Fprintf(w, "      %s\n", r.Error)
		case res.FailedCount > 0:
			fail.Fprint(w, "FAIL  ")
			fmt.Fprintf(w, "%s  %d of %d rows failed\n", r.Rule, res.FailedCount, res.TotalRows)
			if len(res.Evidence) > 0 {
				faint.Fprintf(w, "      evidence: %s\n", res.Evidence)
			}
		case res.Outcome != "" && res.Outcome != evaluator.OutcomeEvaluated:
			warn.Fprint(w, "SKIP  ")
			fmt.Fprintf(w, "%s  %s\n", r.Rule, res.Outcome)
			passed++
		default:
			pass.Fprint(w, "PASS  ")
			fmt.Fprintf(w, "%s  %d rows\n", r.Rule, res.TotalRows)
			passed++
		}
	}

	fmt.Fprintln(w)
	summary := pass
	if passed < len(reports) {
		summary = fail
	}
	summary.Fprintf(w, "%d of %d rules passed\n", passed, len(reports))
}
