package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dotnetasm/internal/cache"
	"dotnetasm/internal/config"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cached compile results",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().String("config", "", "configuration file (default: search for dotnetasm.toml)")
}

func runClean(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil && !errors.Is(err, config.ErrNotFound) {
		return err
	}
	dir, err := cfg.CacheDir()
	if err != nil {
		return err
	}
	store, err := cache.Open(dir)
	if err != nil {
		return err
	}
	n, err := store.Len()
	if err != nil {
		return err
	}
	if err := store.DropAll(); err != nil {
		return fmt.Errorf("failed to clear %q: %w", dir, err)
	}
	if !quiet(cmd) {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached result(s) from %s\n", n, dir)
	}
	return nil
}
