package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/types"
)

// Backend is an in-memory stand-in for a node serving the marketplace contract.
//
// getRequestID answers keccak256 of the call arguments. idToRequestStatus pops the
// next value from the queued statuses; once the queue is empty it answers from
// Statuses, defaulting to NotFound.
type Backend struct {
	mu sync.Mutex

	marketplace *contract.Marketplace

	ChainIDValue *big.Int
	Block        uint64
	Balance      *big.Int

	queued   []types.RequestStatus
	Statuses map[common.Hash]types.RequestStatus

	nonce    uint64
	sent     []*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	// AutoMine creates a receipt with ReceiptStatus for every sent transaction.
	AutoMine      bool
	ReceiptStatus uint64

	history []ethtypes.Log
	subs    []*Subscription

	CallErr      error
	SendErr      error
	NonceErr     error
	SubscribeErr error
	BlockErr     error
	GasEstimate  uint64

	calls map[string]int
}

func NewBackend(marketplace *contract.Marketplace) *Backend {
	return &Backend{
		marketplace:   marketplace,
		ChainIDValue:  big.NewInt(11155111),
		Block:         100,
		Balance:       big.NewInt(1e18),
		Statuses:      make(map[common.Hash]types.RequestStatus),
		receipts:      make(map[common.Hash]*ethtypes.Receipt),
		AutoMine:      true,
		ReceiptStatus: ethtypes.ReceiptStatusSuccessful,
		GasEstimate:   250000,
		calls:         make(map[string]int),
	}
}

// QueueStatuses appends statuses answered by the next idToRequestStatus calls.
func (b *Backend) QueueStatuses(statuses ...types.RequestStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queued = append(b.queued, statuses...)
}

func (b *Backend) SetNonce(nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nonce = nonce
}

func (b *Backend) Sent() []*ethtypes.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]*ethtypes.Transaction{}, b.sent...)
}

func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls[method]
}

func (b *Backend) SetReceipt(hash common.Hash, receipt *ethtypes.Receipt) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.receipts[hash] = receipt
}

func (b *Backend) SetError(call, send error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.CallErr = call
	b.SendErr = send
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ChainIDValue), nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls["blockNumber"]++
	if b.BlockErr != nil {
		return 0, b.BlockErr
	}
	return b.Block, nil
}

func (b *Backend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return new(big.Int).Set(b.Balance), nil
}

func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.CallErr != nil {
		return nil, b.CallErr
	}
	if call.To == nil || *call.To != b.marketplace.Address {
		return nil, fmt.Errorf("call to unknown contract")
	}
	if len(call.Data) < 4 {
		return nil, errors.New("short call data")
	}

	method, err := b.marketplace.ABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	b.calls[method.Name]++

	switch method.Name {
	case contract.MethodGetRequestID:
		return method.Outputs.Pack(crypto.Keccak256Hash(call.Data[4:]))
	case contract.MethodIDToRequestStatus:
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		id := common.Hash(args[0].([32]byte))

		status, ok := b.Statuses[id]
		if len(b.queued) > 0 {
			status, b.queued = b.queued[0], b.queued[1:]
		} else if !ok {
			status = types.StatusNotFound
		}
		return method.Outputs.Pack(uint8(status))
	default:
		return nil, fmt.Errorf("method %s is not callable", method.Name)
	}
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.NonceErr != nil {
		return 0, b.NonceErr
	}
	return b.nonce, nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return b.GasEstimate, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls["sendTransaction"]++
	if b.SendErr != nil {
		return b.SendErr
	}
	if tx.Nonce() != b.nonce {
		return fmt.Errorf("nonce too low: expected %d, got %d", b.nonce, tx.Nonce())
	}

	b.nonce++
	b.sent = append(b.sent, tx)

	if b.AutoMine {
		b.Block++
		b.receipts[tx.Hash()] = &ethtypes.Receipt{
			Status:      b.ReceiptStatus,
			TxHash:      tx.Hash(),
			BlockNumber: new(big.Int).SetUint64(b.Block),
			GasUsed:     tx.Gas() / 2,
		}
	}

	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls["filterLogs"]++
	logs := make([]ethtypes.Log, 0)
	for _, l := range b.history {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func (b *Backend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls["subscribe"]++
	if b.SubscribeErr != nil {
		return nil, b.SubscribeErr
	}

	sub := &Subscription{sink: ch, err: make(chan error, 1), quit: make(chan struct{})}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Emit records l in the history and pushes it to every live subscription.
func (b *Backend) Emit(l ethtypes.Log) {
	b.mu.Lock()
	b.history = append(b.history, l)
	if l.BlockNumber > b.Block {
		b.Block = l.BlockNumber
	}
	subs := append([]*Subscription{}, b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(l)
	}
}

// Record adds l to the history without delivering it, as if it was mined while
// no subscription was live.
func (b *Backend) Record(l ethtypes.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, l)
	if l.BlockNumber > b.Block {
		b.Block = l.BlockNumber
	}
}

// DropSubscriptions fails every live subscription with err.
func (b *Backend) DropSubscriptions(err error) {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
}

func (b *Backend) Close() {}

// Subscription is the fake ethereum.Subscription handed out by Backend.
type Subscription struct {
	sink chan<- ethtypes.Log
	err  chan error
	quit chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *Subscription) deliver(l ethtypes.Log) {
	select {
	case s.sink <- l:
	case <-s.quit:
	}
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.err <- err:
	default:
	}
}

func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)
	close(s.err)
}

func (s *Subscription) Err() <-chan error {
	return s.err
}
