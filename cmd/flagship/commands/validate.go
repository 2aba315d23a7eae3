package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagship-rules/internal/cli"
	"github.com/TimurManjosov/goflagship-rules/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a rule file",
	Long: `Validate a targeting rule file and report errors, warnings and hints.

The command exits non-zero when any error-severity issue is found.

Examples:
  flagship validate rules.yaml
  flagship validate rules.json --format json`,
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

		res := a.svc.Validate(rs)
		if !quiet {
			if err := cli.PrintValidation(cmd.OutOrStdout(), res, a.format); err != nil {
				return err
			}
		}
		if n := len(res.Errors()); n > 0 {
			return fmt.Errorf("validation failed: %d error(s)", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func loadRules(path string) (*rules.TargetingRules, error) {
	rs, err := rules.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return rs, nil
}
