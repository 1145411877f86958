package subscribe

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/log"
	"github.com/GPTx-global/marketplace/prover/metrics"
	"github.com/GPTx-global/marketplace/prover/retry"
	"github.com/GPTx-global/marketplace/prover/types"
)

// Client is the part of the node client the manager streams logs from.
type Client interface {
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

// dedupeWindow is how many blocks below the newest delivered one keep their
// delivered log keys.
const dedupeWindow = 128

const headAttempts = 3

type logKey struct {
	tx    common.Hash
	index uint
}

// Manager owns the ProofRequested subscription. It re-subscribes under backoff
// when the subscription fails and back-fills the logs missed while it was down.
type Manager struct {
	client      Client
	query       ethereum.FilterQuery
	retry       *retry.Config
	metrics     *metrics.Metrics
	channelSize int

	subscribed atomic.Bool
	checkpoint atomic.Uint64 // lowest block that may hold unseen logs

	// only touched by the Run goroutine
	seenBlock uint64
	seen      map[uint64]map[logKey]struct{}
}

// NewManager subscribes to ProofRequested logs emitted by addresses, or by any
// contract when addresses is empty. Logs from other emitters resolve to NotFound.
func NewManager(client Client, addresses []common.Address, cfg *retry.Config, m *metrics.Metrics) *Manager {
	return &Manager{
		client: client,
		query: ethereum.FilterQuery{
			Addresses: addresses,
			Topics:    [][]common.Hash{{contract.ProofRequestedTopic}},
		},
		retry:       cfg,
		metrics:     m,
		channelSize: 2 << 8,
		seen:        make(map[uint64]map[logKey]struct{}),
	}
}

// Subscribed reports whether a subscription is currently live.
func (m *Manager) Subscribed() bool {
	return m.subscribed.Load()
}

// Checkpoint returns the block back-filling would start from.
func (m *Manager) Checkpoint() uint64 {
	return m.checkpoint.Load()
}

// Run forwards ProofRequested logs to out until ctx ends. It returns nil on
// cancellation and ErrConnection once re-subscribing has been given up.
func (m *Manager) Run(ctx context.Context, out chan<- ethtypes.Log) error {
	for first := true; ; first = false {
		from := m.Checkpoint()
		sub, logs, err := m.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !first {
			m.metrics.Reconnects.Inc()
			if from == 0 {
				log.Warnf("no block checkpoint yet, skipping back-fill")
			} else {
				m.backfill(ctx, from, out)
			}
		}

		err = m.pump(ctx, sub, logs, out)
		sub.Unsubscribe()
		m.setSubscribed(false)

		if ctx.Err() != nil {
			return nil
		}
		log.Warnf("log subscription dropped, re-subscribing from block %d: %v", m.Checkpoint(), err)
	}
}

func (m *Manager) subscribe(ctx context.Context) (ethereum.Subscription, chan ethtypes.Log, error) {
	var (
		sub  ethereum.Subscription
		logs chan ethtypes.Log
	)

	err := retry.Do(ctx, m.retry, func() error {
		ch := make(chan ethtypes.Log, m.channelSize)
		s, err := m.client.SubscribeFilterLogs(ctx, m.query, ch)
		if err != nil {
			log.Debugf("failed to subscribe to %s logs: %v", contract.EventProofRequested, err)
			return err
		}
		sub, logs = s, ch
		return nil
	}, retry.Always)
	if err != nil {
		return nil, nil, errorsmod.Wrapf(types.ErrConnection, "failed to subscribe: %v", err)
	}

	// the subscription is already live, so the head read is bounded
	headRetry := *m.retry
	if headRetry.MaxAttempts == 0 || headRetry.MaxAttempts > headAttempts {
		headRetry.MaxAttempts = headAttempts
	}

	var head uint64
	err = retry.Do(ctx, &headRetry, func() error {
		n, err := m.client.BlockNumber(ctx)
		if err != nil {
			log.Debugf("failed to read block number: %v", err)
			return err
		}
		head = n
		return nil
	}, retry.Always)
	if err != nil {
		log.Warnf("failed to read block number, keeping checkpoint %d: %v", m.Checkpoint(), err)
	} else if head > m.Checkpoint() {
		m.checkpoint.Store(head)
	}

	m.setSubscribed(true)
	log.Infof("subscribed to %s logs (topic %s)", contract.EventProofRequested, contract.ProofRequestedTopic.Hex())

	return sub, logs, nil
}

// backfill replays logs from block from up to the head. Logs also delivered by
// the new subscription are dropped by forward.
func (m *Manager) backfill(ctx context.Context, from uint64, out chan<- ethtypes.Log) {
	query := m.query
	query.FromBlock = new(big.Int).SetUint64(from)

	missed, err := m.client.FilterLogs(ctx, query)
	if err != nil {
		log.Warnf("failed to back-fill logs from block %d: %v", from, err)
		return
	}

	for _, l := range missed {
		if m.forward(ctx, l, out) {
			m.metrics.Backfilled.Inc()
		}
	}
	log.Debugf("back-filled %d logs from block %d", len(missed), from)
}

func (m *Manager) pump(ctx context.Context, sub ethereum.Subscription, logs <-chan ethtypes.Log, out chan<- ethtypes.Log) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case l := <-logs:
			m.forward(ctx, l, out)
		}
	}
}

// forward sends l to out unless it was removed by a reorg or already delivered.
func (m *Manager) forward(ctx context.Context, l ethtypes.Log, out chan<- ethtypes.Log) bool {
	if l.Removed {
		log.Debugf("dropping removed log %s:%d", l.TxHash.Hex(), l.Index)
		return false
	}

	if m.seenBlock > dedupeWindow && l.BlockNumber < m.seenBlock-dedupeWindow {
		log.Debugf("dropping stale log %s:%d from block %d", l.TxHash.Hex(), l.Index, l.BlockNumber)
		return false
	}

	key := logKey{tx: l.TxHash, index: l.Index}
	block, ok := m.seen[l.BlockNumber]
	if !ok {
		block = make(map[logKey]struct{})
		m.seen[l.BlockNumber] = block
	} else if _, dup := block[key]; dup {
		return false
	}
	block[key] = struct{}{}

	if l.BlockNumber > m.seenBlock {
		m.seenBlock = l.BlockNumber
		m.prune()
	}

	if l.BlockNumber > m.Checkpoint() {
		m.checkpoint.Store(l.BlockNumber)
	}
	m.metrics.EventsReceived.Inc()

	select {
	case out <- l:
		return true
	case <-ctx.Done():
		return false
	}
}

// prune forgets log keys of blocks that fell out of the dedupe window.
func (m *Manager) prune() {
	if m.seenBlock <= dedupeWindow {
		return
	}
	for n := range m.seen {
		if n < m.seenBlock-dedupeWindow {
			delete(m.seen, n)
		}
	}
}

func (m *Manager) setSubscribed(v bool) {
	m.subscribed.Store(v)
	if v {
		m.metrics.Subscribed.Set(1)
	} else {
		m.metrics.Subscribed.Set(0)
	}
}
