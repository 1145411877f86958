package daemon

import (
	"context"
	"math/big"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/GPTx-global/marketplace/prover/config"
	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/decoder"
	"github.com/GPTx-global/marketplace/prover/health"
	"github.com/GPTx-global/marketplace/prover/log"
	"github.com/GPTx-global/marketplace/prover/metrics"
	"github.com/GPTx-global/marketplace/prover/monitor"
	"github.com/GPTx-global/marketplace/prover/proof"
	"github.com/GPTx-global/marketplace/prover/resolver"
	"github.com/GPTx-global/marketplace/prover/retry"
	"github.com/GPTx-global/marketplace/prover/scheduler"
	"github.com/GPTx-global/marketplace/prover/server"
	"github.com/GPTx-global/marketplace/prover/signer"
	"github.com/GPTx-global/marketplace/prover/submitter"
	"github.com/GPTx-global/marketplace/prover/subscribe"
	"github.com/GPTx-global/marketplace/prover/types"
)

const healthInterval = 30 * time.Second

// Client is the node connection shared by every component. *ethclient.Client
// implements it.
type Client interface {
	ethereum.ContractCaller
	ethereum.LogFilterer
	ethereum.TransactionSender
	ethereum.GasEstimator

	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Daemon holds the components built from one configuration. Nothing is shared
// through package state.
type Daemon struct {
	cfg    *config.Config
	client Client

	signer      *signer.Signer
	marketplace *contract.Marketplace
	chainID     *big.Int

	metrics   *metrics.Metrics
	manager   *subscribe.Manager
	scheduler *scheduler.Scheduler
	health    *health.HealthChecker
	server    *server.Server
}

// New dials the configured endpoint and builds the daemon on top of it.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	var clt *ethclient.Client
	err := retry.Do(ctx, reconnectConfig(cfg), func() error {
		c, err := ethclient.DialContext(ctx, cfg.Chain.Endpoint)
		if err != nil {
			return err
		}
		clt = c
		return nil
	}, retry.DefaultIsRetryable)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrConnection, "failed to dial node: %v", err)
	}

	d, err := NewWithClient(ctx, cfg, clt)
	if err != nil {
		clt.Close()
		return nil, err
	}

	return d, nil
}

// NewWithClient builds the daemon on an existing connection.
func NewWithClient(ctx context.Context, cfg *config.Config, client Client) (*Daemon, error) {
	d := &Daemon{
		cfg:     cfg,
		client:  client,
		metrics: metrics.New(),
	}

	var err error
	if d.signer, err = loadSigner(cfg); err != nil {
		return nil, err
	}

	if d.marketplace, err = contract.Load(cfg.ContractAddress(), cfg.Contract.ABIPath); err != nil {
		return nil, errorsmod.Wrap(types.ErrInvalidConfig, err.Error())
	}

	if cfg.Chain.ChainID != 0 {
		d.chainID = new(big.Int).SetUint64(cfg.Chain.ChainID)
	} else if d.chainID, err = client.ChainID(ctx); err != nil {
		return nil, errorsmod.Wrapf(types.ErrConnection, "failed to get chain id: %v", err)
	}

	gasPrice, err := cfg.GasPrice()
	if err != nil {
		return nil, err
	}

	sub := submitter.New(client, d.signer, d.marketplace, proof.Placeholder{}, submitter.Options{
		ChainID:     d.chainID,
		GasLimit:    cfg.Gas.Limit,
		GasPrice:    gasPrice,
		EstimateGas: cfg.Gas.Estimate,
		Network:     cfg.Chain.Network,
	})

	var watcher scheduler.Watcher
	if cfg.Confirm.Enabled {
		watcher = monitor.New(client, monitor.Options{
			PollInterval: cfg.Confirm.PollInterval.Std(),
			Timeout:      cfg.Confirm.Timeout.Std(),
			Network:      cfg.Chain.Network,
		}, d.metrics)
	}

	d.scheduler = scheduler.New(
		decoder.New(d.marketplace),
		resolver.New(client, d.marketplace),
		sub,
		watcher,
		d.metrics,
		cfg.Worker.Count,
		cfg.Worker.QueueSize,
	)

	var addresses []common.Address
	if cfg.Contract.FilterAddress {
		addresses = []common.Address{d.marketplace.Address}
	}
	d.manager = subscribe.NewManager(client, addresses, reconnectConfig(cfg), d.metrics)

	d.health = health.NewHealthChecker(healthInterval, d.metrics)
	d.health.AddCheck(health.RPCCheck(client))
	d.health.AddCheck(health.SubscriptionCheck(d.manager.Subscribed))
	d.health.AddCheck(health.BalanceCheck(client, d.signer.Address(), cfg.Gas.Limit, gasPrice))

	if cfg.Status.Listen != "" {
		d.server = server.New(cfg.Status.Listen, d.health, d.metrics)
	}

	log.Infof("prover %s on chain %s, contract %s", d.signer.Address().Hex(), d.chainID, d.marketplace.Address.Hex())

	return d, nil
}

// Run blocks until ctx ends or the subscription is given up. The connection is
// closed on return.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.client.Close()

	logs := make(chan ethtypes.Log, d.cfg.Worker.QueueSize)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.manager.Run(ctx, logs)
	})
	g.Go(func() error {
		return d.scheduler.Run(ctx, logs)
	})
	g.Go(func() error {
		return d.health.Start(ctx)
	})
	if d.server != nil {
		g.Go(func() error {
			return d.server.Run(ctx)
		})
	}

	return g.Wait()
}

func (d *Daemon) Address() common.Address {
	return d.signer.Address()
}

func (d *Daemon) ChainID() *big.Int {
	return new(big.Int).Set(d.chainID)
}

func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.scheduler
}

func (d *Daemon) Subscribed() bool {
	return d.manager.Subscribed()
}

func loadSigner(cfg *config.Config) (*signer.Signer, error) {
	if cfg.Key.PrivateKey != "" {
		return signer.FromPrivateKey(cfg.Key.PrivateKey)
	}

	return signer.FromMnemonic(cfg.Key.Mnemonic, cfg.Key.HDPath)
}

func reconnectConfig(cfg *config.Config) *retry.Config {
	return retry.NetworkConfig(
		cfg.Reconnect.InitialInterval.Std(),
		cfg.Reconnect.MaxInterval.Std(),
		cfg.Reconnect.MaxElapsed.Std(),
	)
}
