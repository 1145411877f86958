package main

import (
	"github.com/spf13/cobra"

	"github.com/GPTx-global/marketplace/prover/config"
	"github.com/GPTx-global/marketplace/prover/log"
)

var (
	home     string
	logLevel string
	logJSON  bool

	rootCmd = &cobra.Command{
		Use:   "proverd",
		Short: "Fulfills proof requests posted to the prover marketplace",
		Long: `proverd watches the marketplace contract for ProofRequested events, checks each
request's status on chain and submits a fulfillment for every pending one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&home, "home", config.DefaultHome(), "Directory holding config.toml and logs")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Print logs in JSON format")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("proverd: %v", err)
	}
}
