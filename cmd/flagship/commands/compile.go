package commands

import (
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagship-rules/internal/cli"
	"github.com/TimurManjosov/goflagship-rules/internal/compiler"
)

var compileForce bool

var compileCmd = &cobra.Command{
	Use:   "compile <file>",
	Short: "Show static analysis for every rule",
	Long: `Compile every rule in a file and print its metadata: condition count,
nesting depth, required attributes, operators, redundancy and contradictions.

Examples:
  flagship compile rules.yaml
  flagship compile rules.json --format yaml`,
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

		compiled := make([]*compiler.CompiledRule, 0, len(rs.Rules)+1)
		for _, r := range rs.Rules {
			compiled = append(compiled, a.svc.Compile(r, compileForce))
		}
		if rs.DefaultRule != nil {
			compiled = append(compiled, a.svc.Compile(*rs.DefaultRule, compileForce))
		}

		if quiet {
			return nil
		}
		return cli.PrintCompiled(cmd.OutOrStdout(), compiled, a.format)
	},
}

func init() {
	compileCmd.Flags().BoolVar(&compileForce, "force", false, "Bypass the compilation cache")
	rootCmd.AddCommand(compileCmd)
}
