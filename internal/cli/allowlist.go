package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/mutacheck/internal/allowlist"
)

func newAllowListCmd(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Print the effective allow-list",
		Long: `Print every type whose verdict is fixed without analysis: the built-in
table, with the file from --allowlist or the config layered over it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("allowlist") && g.cfg != nil {
				file = g.cfg.AllowList
			}

			table := allowlist.Default()
			if file != "" {
				extra, err := allowlist.LoadFile(file)
				if err != nil {
					return usageError("%v", err)
				}
				table = table.Merge(extra)
			}

			out := cmd.OutOrStdout()
			entries := table.Entries()
			width := 0
			for _, e := range entries {
				width = max(width, len(e.Type))
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("allow-list version %d, %d type(s)", table.Version(), table.Len())))
			for _, e := range entries {
				line := fmt.Sprintf("%-*s  %s", width, e.Type, verdictStyle(e.Verdict).Render(e.Verdict.String()))
				if e.Note != "" {
					line += "  " + dimStyle.Render(e.Note)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "allowlist", "", "allow-list file layered over the built-in table")
	return cmd
}
