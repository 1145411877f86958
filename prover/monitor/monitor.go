package monitor

import (
	"context"
	"errors"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/marketplace/prover/log"
	"github.com/GPTx-global/marketplace/prover/metrics"
	"github.com/GPTx-global/marketplace/prover/types"
)

type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Network      string
}

// Monitor waits for broadcast fulfillments to be mined.
//
// A reverted fulfillment is escalated: it is logged at error level and counted,
// and never retried. By the time a revert is seen the request has most likely
// been fulfilled by someone else.
type Monitor struct {
	reader  ReceiptReader
	opts    Options
	metrics *metrics.Metrics
}

// New returns a monitor polling reader for receipts as configured by opts.
func New(reader ReceiptReader, opts Options, m *metrics.Metrics) *Monitor {
	return &Monitor{
		reader:  reader,
		opts:    opts,
		metrics: m,
	}
}

// Wait polls for the receipt of hash until it is mined, the timeout passes or ctx
// ends. It returns ErrReverted for a failed receipt and ErrNotConfirmed on timeout.
func (m *Monitor) Wait(ctx context.Context, id types.RequestID, hash common.Hash) (*ethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	url := types.ExplorerTxURL(m.opts.Network, hash)
	for {
		receipt, err := m.reader.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil:
			return m.settle(id, url, receipt)
		case errors.Is(err, ethereum.NotFound):
		default:
			log.Debugf("receipt query for %s failed: %v", hash.Hex(), err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.metrics.ConfirmTimeouts.Inc()
			log.Warnf("fulfillment for request %s not mined after %s: %s", id.Hex(), m.opts.Timeout, url)
			return nil, errorsmod.Wrapf(types.ErrNotConfirmed, "tx %s", hash.Hex())
		case <-ticker.C:
		}
	}
}

func (m *Monitor) settle(id types.RequestID, url string, receipt *ethtypes.Receipt) (*ethtypes.Receipt, error) {
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		m.metrics.Reverts.Inc()
		log.Errorf("fulfillment for request %s reverted in block %s: %s", id.Hex(), receipt.BlockNumber, url)
		return receipt, errorsmod.Wrapf(types.ErrReverted, "tx %s", receipt.TxHash.Hex())
	}

	m.metrics.Confirmations.Inc()
	log.Infof("fulfillment for request %s confirmed in block %s (gas used %d)", id.Hex(), receipt.BlockNumber, receipt.GasUsed)

	return receipt, nil
}
