package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dotnetasm/internal/buildpipeline"
	"dotnetasm/internal/config"
)

var toolchainsCmd = &cobra.Command{
	Use:   "toolchains",
	Short: "List configured toolchains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLANGUAGE\tDOTNET\tCORE ROOT\tTEMPLATE")
		for _, id := range cfg.IDs() {
			tc, err := cfg.Lookup(id)
			if err != nil {
				return err
			}
			lang, err := buildpipeline.LookupLanguage(tc.Lang)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", tc.ID, lang.Name, tc.Dotnet, tc.CoreRoot, tc.TestAppSrc)
		}
		return w.Flush()
	},
}

func init() {
	toolchainsCmd.Flags().String("config", "", "configuration file (default: search for dotnetasm.toml)")
}
