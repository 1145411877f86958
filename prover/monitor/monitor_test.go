package monitor

import (
	"context"
	"math/big"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/marketplace/prover/metrics"
	"github.com/GPTx-global/marketplace/prover/testutil"
	"github.com/GPTx-global/marketplace/prover/types"
)

type MonitorTestSuite struct {
	suite.Suite

	backend *testutil.Backend
	metrics *metrics.Metrics
	monitor *Monitor

	id   types.RequestID
	hash common.Hash
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

func (s *MonitorTestSuite) SetupTest() {
	s.backend = testutil.NewBackend(testutil.Marketplace())
	s.metrics = metrics.New()
	s.monitor = New(s.backend, Options{
		PollInterval: 10 * time.Millisecond,
		Timeout:      200 * time.Millisecond,
		Network:      "sepolia",
	}, s.metrics)

	s.id = common.HexToHash("0x01")
	s.hash = common.HexToHash("0xabc")
}

func (s *MonitorTestSuite) receipt(status uint64) *ethtypes.Receipt {
	return &ethtypes.Receipt{Status: status, TxHash: s.hash, BlockNumber: big.NewInt(101)}
}

func (s *MonitorTestSuite) TestWait_Confirmed() {
	s.backend.SetReceipt(s.hash, s.receipt(ethtypes.ReceiptStatusSuccessful))

	receipt, err := s.monitor.Wait(context.Background(), s.id, s.hash)
	s.Require().NoError(err)
	s.Equal(s.hash, receipt.TxHash)
	s.Equal(1.0, prom.ToFloat64(s.metrics.Confirmations))
	s.Equal(0.0, prom.ToFloat64(s.metrics.Reverts))
}

func (s *MonitorTestSuite) TestWait_MinedLater() {
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.backend.SetReceipt(s.hash, s.receipt(ethtypes.ReceiptStatusSuccessful))
	}()

	_, err := s.monitor.Wait(context.Background(), s.id, s.hash)
	s.Require().NoError(err)
	s.Equal(1.0, prom.ToFloat64(s.metrics.Confirmations))
}

func (s *MonitorTestSuite) TestWait_RevertEscalated() {
	s.backend.SetReceipt(s.hash, s.receipt(ethtypes.ReceiptStatusFailed))

	receipt, err := s.monitor.Wait(context.Background(), s.id, s.hash)
	s.Require().Error(err)
	s.True(errorsmod.IsOf(err, types.ErrReverted))
	s.NotNil(receipt)
	s.Equal(1.0, prom.ToFloat64(s.metrics.Reverts))
	s.Equal(0.0, prom.ToFloat64(s.metrics.Confirmations))
}

func (s *MonitorTestSuite) TestWait_Timeout() {
	start := time.Now()

	_, err := s.monitor.Wait(context.Background(), s.id, s.hash)
	s.Require().Error(err)
	s.True(errorsmod.IsOf(err, types.ErrNotConfirmed))
	s.GreaterOrEqual(time.Since(start), 200*time.Millisecond)
	s.Equal(1.0, prom.ToFloat64(s.metrics.ConfirmTimeouts))
}

func (s *MonitorTestSuite) TestWait_Cancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.monitor.Wait(ctx, s.id, s.hash)
	s.ErrorIs(err, context.Canceled)
	s.Equal(0.0, prom.ToFloat64(s.metrics.ConfirmTimeouts))
}
