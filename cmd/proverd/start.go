package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GPTx-global/marketplace/prover/config"
	"github.com/GPTx-global/marketplace/prover/daemon"
	"github.com/GPTx-global/marketplace/prover/log"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the prover until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return start(ctx, cmd)
	},
}

func start(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(home)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if cmd.Flags().Changed("log-level") {
		level = logLevel
	}
	log.InitLogger(level, logJSON || cfg.Log.JSON)
	if err := log.ResetLogger(cfg.Home); err != nil {
		return err
	}
	cfg.Print()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}

	log.Infof("prover started")
	if err := d.Run(ctx); err != nil {
		log.Errorf("prover stopped: %v", err)
		return err
	}
	log.Infof("prover stopped")

	return nil
}
