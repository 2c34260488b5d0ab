package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"watchtower/internal/dsl"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <expression>...",
		Short: "Validate rule expressions",
		Long: `Parse and bind each expression and print its canonical form.

Examples:
  dqctl parse 'NOT_NULL(email)' 'LENGTH_RANGE(name, 1, 64)'
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invalid := 0
			for _, expr := range args {
				if !printParse(cmd.OutOrStdout(), expr) {
					invalid++
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d expressions are invalid", invalid, len(args))
			}
			return nil
		},
	}
}

// printParse reports whether expr is a valid rule.
func printParse(w io.Writer, expr string) bool {
	rule, err := dsl.ParseRule(expr)
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprint(w, "INVALID ")
		fmt.Fprintf(w, "%s\n        %v\n", expr, err)
		return false
	}

	color.New(color.FgGreen, color.Bold).Fprint(w, "VALID   ")
	fmt.Fprintln(w, rule.String())
	fmt.Fprintf(w, "        function: %s  columns: %s\n", rule.Function(), strings.Join(rule.Columns(), ", "))
	return true
}
