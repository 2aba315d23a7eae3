// Package cli renders validation, compilation and evaluation results for the
// flagship command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/goflagship-rules/internal/compiler"
	"github.com/TimurManjosov/goflagship-rules/internal/evaluation"
	"github.com/TimurManjosov/goflagship-rules/internal/validation"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat returns the format named by s, case-insensitively.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// PrintValidation outputs a validation result in the specified format
func PrintValidation(w io.Writer, res *validation.ValidationResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, res)
	case FormatYAML:
		return printYAML(w, res)
	case FormatTable:
		return printValidationTable(w, res)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintCompiled outputs compiled rule metadata in the specified format
func PrintCompiled(w io.Writer, compiled []*compiler.CompiledRule, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string]any{"rules": compiled})
	case FormatYAML:
		return printYAML(w, map[string]any{"rules": compiled})
	case FormatTable:
		return printCompiledTable(w, compiled)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintResults outputs evaluation results in the specified format. A single
// result is printed bare in JSON and YAML.
func PrintResults(w io.Writer, results []evaluation.Result, format OutputFormat) error {
	var data any = results
	if len(results) == 1 {
		data = results[0]
	}
	switch format {
	case FormatJSON:
		return printJSON(w, data)
	case FormatYAML:
		return printYAML(w, data)
	case FormatTable:
		return printResultsTable(w, results)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML round-trips through JSON so field names match the json tags.
func printYAML(w io.Writer, data any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(blob, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(generic)
}

func printValidationTable(w io.Writer, res *validation.ValidationResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Severity", "Rule", "Path", "Message", "Suggestion")

	for _, issue := range res.Issues {
		table.Append(
			strings.ToUpper(string(issue.Severity)),
			issue.RuleID,
			issue.ConditionPath,
			issue.Message,
			truncate(issue.Suggestion, 50),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	status := "valid"
	if !res.IsValid {
		status = "invalid"
	}
	_, err := fmt.Fprintf(w, "\n%s: %d issue(s), complexity %d\n", status, len(res.Issues), res.ComplexityScore)
	for _, pw := range res.PerformanceWarnings {
		if err == nil {
			_, err = fmt.Fprintf(w, "performance: %s\n", pw)
		}
	}
	return err
}

func printCompiledTable(w io.Writer, compiled []*compiler.CompiledRule) error {
	table := tablewriter.NewWriter(w)
	table.Header("Rule", "Valid", "Conditions", "Depth", "Attributes", "Operators", "Can Match", "Errors")

	for _, c := range compiled {
		table.Append(
			c.RuleID,
			strconv.FormatBool(c.IsValid),
			strconv.Itoa(c.ConditionCount),
			strconv.Itoa(c.MaxDepth),
			truncate(strings.Join(c.RequiredAttributes, ","), 40),
			truncate(strings.Join(c.OperatorTypes, ","), 40),
			strconv.FormatBool(c.CanEverMatch),
			strings.Join(c.ValidationErrors, "; "),
		)
	}
	return table.Render()
}

func printResultsTable(w io.Writer, results []evaluation.Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Matched", "Rule", "Reason", "Cached", "Time (ms)", "Error")

	for i, r := range results {
		table.Append(
			strconv.Itoa(i),
			strconv.FormatBool(r.Matched),
			r.MatchedRuleID,
			string(r.Reason),
			strconv.FormatBool(r.Cached),
			strconv.FormatFloat(r.EvaluationTimeMs, 'f', 3, 64),
			r.Error,
		)
	}
	return table.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
