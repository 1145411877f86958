package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GPTx-global/marketplace/prover/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := filepath.Join(home, config.FileName)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}

		if err := config.WriteDefault(home); err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}
