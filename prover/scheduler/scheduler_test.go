package scheduler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/decoder"
	"github.com/GPTx-global/marketplace/prover/metrics"
	"github.com/GPTx-global/marketplace/prover/monitor"
	"github.com/GPTx-global/marketplace/prover/proof"
	"github.com/GPTx-global/marketplace/prover/resolver"
	"github.com/GPTx-global/marketplace/prover/signer"
	"github.com/GPTx-global/marketplace/prover/submitter"
	"github.com/GPTx-global/marketplace/prover/testutil"
	"github.com/GPTx-global/marketplace/prover/types"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// blockingSubmitter holds every Submit until release is closed.
type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSubmitter) Submit(context.Context, types.ProofRequest) (*ethtypes.Transaction, error) {
	b.entered <- struct{}{}
	<-b.release
	return ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1)}), nil
}

type SchedulerTestSuite struct {
	suite.Suite

	marketplace *contract.Marketplace
	backend     *testutil.Backend
	metrics     *metrics.Metrics
	resolver    *resolver.Resolver
	submitter   *submitter.Submitter
	monitor     *monitor.Monitor
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func (s *SchedulerTestSuite) SetupTest() {
	s.marketplace = testutil.Marketplace()
	s.backend = testutil.NewBackend(s.marketplace)
	s.metrics = metrics.New()
	s.resolver = resolver.New(s.backend, s.marketplace)

	sgn, err := signer.FromPrivateKey(testKey)
	s.Require().NoError(err)
	s.submitter = submitter.New(s.backend, sgn, s.marketplace, proof.Placeholder{}, submitter.Options{
		ChainID:  big.NewInt(11155111),
		GasLimit: 3000000,
		GasPrice: big.NewInt(100000000000),
		Network:  "sepolia",
	})
	s.monitor = monitor.New(s.backend, monitor.Options{
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
		Network:      "sepolia",
	}, s.metrics)
}

func (s *SchedulerTestSuite) newScheduler(watcher Watcher, workers int) *Scheduler {
	return New(decoder.New(s.marketplace), s.resolver, s.submitter, watcher, s.metrics, workers, 16)
}

func (s *SchedulerTestSuite) sampleLog(block uint64) ethtypes.Log {
	return testutil.ProofRequestedLog(s.marketplace, testutil.SampleRequest(), block)
}

func (s *SchedulerTestSuite) TestHandleLog_Branches() {
	testCases := []struct {
		name    string
		status  types.RequestStatus
		outcome Outcome
		sent    int
	}{
		{"not found is ignored", types.StatusNotFound, OutcomeNotFound, 0},
		{"fulfilled is a no-op", types.StatusFulfilled, OutcomeFulfilled, 0},
		{"pending is fulfilled", types.StatusPending, OutcomeSubmitted, 1},
		{"unknown status is logged", types.RequestStatus(3), OutcomeUnknownStatus, 0},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			s.SetupTest()
			sched := s.newScheduler(nil, 1)
			s.backend.QueueStatuses(tc.status)

			s.Equal(tc.outcome, sched.HandleLog(context.Background(), s.sampleLog(101)))
			s.Len(s.backend.Sent(), tc.sent)
			s.Equal(0, sched.InFlight())
			s.Equal(1.0, prom.ToFloat64(s.metrics.Statuses.WithLabelValues(tc.status.String())))
		})
	}
}

func (s *SchedulerTestSuite) TestHandleLog_DecodeFailure() {
	sched := s.newScheduler(nil, 1)

	l := s.sampleLog(101)
	l.Topics = l.Topics[:2]

	s.Equal(OutcomeDecodeFailed, sched.HandleLog(context.Background(), l))
	s.Equal(1.0, prom.ToFloat64(s.metrics.DecodeFailures))
	s.Equal(0, s.backend.Calls(contract.MethodGetRequestID))

	// the next well-formed log is still handled
	s.backend.QueueStatuses(types.StatusPending)
	s.Equal(OutcomeSubmitted, sched.HandleLog(context.Background(), s.sampleLog(102)))
}

func (s *SchedulerTestSuite) TestHandleLog_QueryFailure() {
	sched := s.newScheduler(nil, 1)
	s.backend.SetError(errors.New("connection reset"), nil)

	s.Equal(OutcomeQueryFailed, sched.HandleLog(context.Background(), s.sampleLog(101)))
	s.Equal(1.0, prom.ToFloat64(s.metrics.StatusQueryFailures))
	s.Empty(s.backend.Sent())
	s.Equal(0, sched.InFlight())
}

func (s *SchedulerTestSuite) TestHandleLog_SubmitFailureReleases() {
	sched := s.newScheduler(s.monitor, 1)
	s.backend.QueueStatuses(types.StatusPending, types.StatusPending)
	s.backend.SetError(nil, errors.New("insufficient funds"))

	s.Equal(OutcomeSubmitFailed, sched.HandleLog(context.Background(), s.sampleLog(101)))
	s.Equal(0, sched.InFlight())
	s.Equal(1.0, prom.ToFloat64(s.metrics.SubmissionFailures))

	s.backend.SetError(nil, nil)
	s.Equal(OutcomeSubmitted, sched.HandleLog(context.Background(), s.sampleLog(102)))
	sched.Stop()
	s.Len(s.backend.Sent(), 1)
}

func (s *SchedulerTestSuite) TestHandleLog_HeldUntilConfirmed() {
	s.backend.AutoMine = false
	sched := s.newScheduler(s.monitor, 1)
	s.backend.Statuses = map[common.Hash]types.RequestStatus{}
	s.backend.QueueStatuses(types.StatusPending)

	s.Equal(OutcomeSubmitted, sched.HandleLog(context.Background(), s.sampleLog(101)))
	s.Equal(1, sched.InFlight())

	// a duplicate event while the fulfillment is unmined is skipped without a status query
	s.Equal(OutcomeInFlight, sched.HandleLog(context.Background(), s.sampleLog(102)))
	s.Equal(1, s.backend.Calls(contract.MethodIDToRequestStatus))
	s.Equal(1.0, prom.ToFloat64(s.metrics.InFlightSkipped))

	sent := s.backend.Sent()
	s.Require().Len(sent, 1)
	s.backend.SetReceipt(sent[0].Hash(), &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		TxHash:      sent[0].Hash(),
		BlockNumber: big.NewInt(102),
	})

	s.Eventually(func() bool { return sched.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	s.Equal(1.0, prom.ToFloat64(s.metrics.Confirmations))
	s.Equal(0.0, prom.ToFloat64(s.metrics.InFlight))
	sched.Stop()
}

func (s *SchedulerTestSuite) TestHandleLog_ConcurrentSameRequest() {
	blocking := &blockingSubmitter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	sched := New(decoder.New(s.marketplace), s.resolver, blocking, nil, s.metrics, 2, 16)
	s.backend.QueueStatuses(types.StatusPending, types.StatusPending)

	first := make(chan Outcome, 1)
	go func() {
		first <- sched.HandleLog(context.Background(), s.sampleLog(101))
	}()
	<-blocking.entered

	s.Equal(OutcomeInFlight, sched.HandleLog(context.Background(), s.sampleLog(102)))

	close(blocking.release)
	s.Equal(OutcomeSubmitted, <-first)
	s.Equal(0, sched.InFlight())
}

func (s *SchedulerTestSuite) TestRun_ProcessesStream() {
	sched := s.newScheduler(nil, 1)
	logs := make(chan ethtypes.Log)
	s.backend.QueueStatuses(types.StatusNotFound, types.StatusPending, types.StatusFulfilled)

	done := make(chan error, 1)
	go func() {
		done <- sched.Run(context.Background(), logs)
	}()

	for i := uint64(0); i < 3; i++ {
		logs <- s.sampleLog(101 + i)
	}
	close(logs)

	s.NoError(<-done)
	s.Len(s.backend.Sent(), 1)
	s.Equal(3, s.backend.Calls(contract.MethodIDToRequestStatus))
}

func (s *SchedulerTestSuite) TestRun_StopsOnCancel() {
	sched := s.newScheduler(s.monitor, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx, make(chan ethtypes.Log))
	}()

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("scheduler did not stop")
	}
}

func (s *SchedulerTestSuite) TestOutcomeString() {
	s.Equal("submitted", OutcomeSubmitted.String())
	s.Equal("in_flight", OutcomeInFlight.String())
	s.Equal("unknown", Outcome(99).String())
}
