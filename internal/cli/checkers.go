package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/mutacheck/internal/analysis"
)

func newCheckersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkers",
		Short: "List the checkers in evaluation order",
		Long: `List the checkers in evaluation order. A class's verdict is the weakest
verdict any checker gives it, and reasons are reported in this order.

non_final_field caps a class whose instance fields are not all declared final
at PROBABLY_IMMUTABLE, even when nothing ever reassigns them. Skip it with
'check --skip non_final_field' to judge such classes on the other checkers
alone. mutable_superclass gives a class the verdict of the state and methods
it inherits; a superclass that is merely open for extension does not count.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			checkers := analysis.Checkers()
			width := 0
			for _, c := range checkers {
				width = max(width, len(c.Name))
			}
			for _, c := range checkers {
				fmt.Fprintf(out, "%s  %s\n", checkerStyle.Render(fmt.Sprintf("%-*s", width, c.Name)), c.Description)
			}
			return nil
		},
	}
}
