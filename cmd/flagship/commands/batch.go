package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagship-rules/internal/cli"
	"github.com/TimurManjosov/goflagship-rules/internal/config"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

var batchParallelism int

var batchCmd = &cobra.Command{
	Use:   "batch <rules-file> <contexts-file>",
	Short: "Evaluate a rule file against many contexts",
	Long: `Evaluate a targeting rule file against every context in a JSON array.
Results are printed in input order.

Examples:
  flagship batch rules.yaml contexts.json
  flagship batch rules.yaml contexts.json --parallelism 8 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, func(c *config.Config) {
			if batchParallelism > 0 {
				c.BatchParallelism = batchParallelism
			}
		})
		if err != nil {
			return err
		}

		rs, err := loadRules(args[0])
		if err != nil {
			return err
		}
		contexts, err := readContexts(args[1])
		if err != nil {
			return err
		}

		results := a.svc.BatchEvaluate(rs, contexts)
		if verbose {
			a.log.Debug().Interface("stats", a.svc.PerformanceStats()).Msg("batch stats")
		}
		defer a.dumpMetrics(cmd)
		if quiet {
			return nil
		}
		return cli.PrintResults(cmd.OutOrStdout(), results, a.format)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchParallelism, "parallelism", 0, "Concurrent evaluations (overrides BATCH_PARALLELISM)")
	rootCmd.AddCommand(batchCmd)
}

func readContexts(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contexts: %w", err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("contexts file must hold a JSON array: %w", err)
	}
	contexts := make([]map[string]any, 0, len(raw))
	for i, msg := range raw {
		ctx, err := rules.ParseContext(msg)
		if err != nil {
			return nil, fmt.Errorf("context %d: %w", i, err)
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}
