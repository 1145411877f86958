package daemon

import (
	"time"

	"github.com/GPTx-global/marketplace/prover/config"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testConfig(home string) *config.Config {
	cfg := config.Default(home)
	cfg.Key.PrivateKey = testKey
	cfg.Status.Listen = ""
	cfg.Worker.Count = 1
	cfg.Worker.QueueSize = 8
	cfg.Confirm.PollInterval = config.Duration(5 * time.Millisecond)
	cfg.Confirm.Timeout = config.Duration(time.Second)
	cfg.Reconnect.InitialInterval = config.Duration(time.Millisecond)
	cfg.Reconnect.MaxInterval = config.Duration(5 * time.Millisecond)
	cfg.Reconnect.MaxElapsed = config.Duration(200 * time.Millisecond)
	return cfg
}
