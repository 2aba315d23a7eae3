package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagship-rules/internal/cli"
	"github.com/TimurManjosov/goflagship-rules/internal/evaluation"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

var (
	evalContext     string
	evalContextFile string
	evalSkipCache   bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <file>",
	Short: "Evaluate a rule file against one context",
	Long: `Evaluate a targeting rule file against a single user context and print
which rule matched and why.

Examples:
  flagship evaluate rules.yaml --context '{"user_id":"u1","country":"US"}'
  flagship evaluate rules.yaml --context-file user.json --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}

		rs, err := loadRules(args[0])
		if err != nil {
			return err
		}
		ctx, err := readContext(evalContext, evalContextFile)
		if err != nil {
			return err
		}

		res := a.svc.Evaluate(rs, ctx, evalSkipCache)
		if verbose {
			a.log.Debug().Interface("metrics", a.svc.Metrics()).Msg("evaluation metrics")
		}
		if !quiet {
			if err := cli.PrintResults(cmd.OutOrStdout(), []evaluation.Result{res}, a.format); err != nil {
				return err
			}
		}
		if res.Error != "" {
			return errors.New(res.Error)
		}
		return nil
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalContext, "context", "", "Context as a JSON object")
	evaluateCmd.Flags().StringVar(&evalContextFile, "context-file", "", "File holding the context JSON object")
	evaluateCmd.Flags().BoolVar(&evalSkipCache, "skip-cache", false, "Bypass the evaluation cache")
	rootCmd.AddCommand(evaluateCmd)
}

// readContext decodes the inline context, or the file when inline is empty.
// With neither, the context is empty.
func readContext(inline, path string) (map[string]any, error) {
	data := []byte(inline)
	if inline == "" && path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read context: %w", err)
		}
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	ctx, err := rules.ParseContext(data)
	if err != nil {
		return nil, fmt.Errorf("invalid context: %w", err)
	}
	return ctx, nil
}
