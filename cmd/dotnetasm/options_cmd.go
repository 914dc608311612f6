package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dotnetasm/internal/options"
)

var optionsCmd = &cobra.Command{
	Use:   "options [-- tokens]",
	Short: "Show the crossgen2 options compile forwards",
	Long: `Without arguments, list the value options and switches compile forwards to
crossgen2. With tokens, print what compile would forward for them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		table := options.Default()
		if len(args) == 0 {
			return options.Describe(cmd.OutOrStdout(), table)
		}
		routed := options.Route(args, table)
		_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(routed, " "))
		return err
	},
}
