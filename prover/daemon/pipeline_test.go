package daemon

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	prom "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/proof"
	"github.com/GPTx-global/marketplace/prover/testutil"
	"github.com/GPTx-global/marketplace/prover/types"
)

var _ = Describe("Fulfillment pipeline", func() {
	const (
		Timeout  = 2 * time.Second
		Interval = 5 * time.Millisecond
	)

	var (
		backend *testutil.Backend
		d       *Daemon
		cancel  context.CancelFunc
		done    chan error
		req     types.ProofRequest
	)

	statusCount := func(status types.RequestStatus) func() float64 {
		return func() float64 {
			return prom.ToFloat64(d.Metrics().Statuses.WithLabelValues(status.String()))
		}
	}

	BeforeEach(func() {
		marketplace := testutil.Marketplace()
		backend = testutil.NewBackend(marketplace)
		req = testutil.SampleRequest()

		var err error
		d, err = NewWithClient(context.Background(), testConfig(""), backend)
		Expect(err).ShouldNot(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() {
			done <- d.Run(ctx)
		}()
		Eventually(d.Subscribed, Timeout, Interval).Should(BeTrue())
	})

	AfterEach(func() {
		cancel()
		Eventually(done, Timeout).Should(Receive(BeNil()))
	})

	It("fulfills only the pending request", func() {
		backend.QueueStatuses(types.StatusNotFound, types.StatusPending, types.StatusFulfilled)

		backend.Emit(testutil.ProofRequestedLog(testutil.Marketplace(), req, 101))
		Eventually(statusCount(types.StatusNotFound), Timeout, Interval).Should(Equal(1.0))
		Expect(backend.Sent()).Should(BeEmpty())

		backend.Emit(testutil.ProofRequestedLog(testutil.Marketplace(), req, 102))
		Eventually(statusCount(types.StatusPending), Timeout, Interval).Should(Equal(1.0))
		Eventually(d.Scheduler().InFlight, Timeout, Interval).Should(BeZero())
		Expect(prom.ToFloat64(d.Metrics().Confirmations)).Should(Equal(1.0))

		backend.Emit(testutil.ProofRequestedLog(testutil.Marketplace(), req, 103))
		Eventually(statusCount(types.StatusFulfilled), Timeout, Interval).Should(Equal(1.0))

		sent := backend.Sent()
		Expect(sent).Should(HaveLen(1))

		tx := sent[0]
		Expect(*tx.To()).Should(Equal(testutil.Marketplace().Address))
		from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(d.ChainID()), tx)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(from).Should(Equal(d.Address()))

		method, err := testutil.Marketplace().ABI.MethodById(tx.Data()[:4])
		Expect(err).ShouldNot(HaveOccurred())
		Expect(method.Name).Should(Equal(contract.MethodFulfillProof))

		args, err := method.Inputs.Unpack(tx.Data()[4:])
		Expect(err).ShouldNot(HaveOccurred())
		Expect(args).Should(HaveLen(8))
		Expect(args[0]).Should(Equal(req.Verifier))
		Expect(common.Hash(args[1].([32]byte))).Should(Equal(req.ProgramHash))
		Expect(args[2].(*big.Int).Cmp(req.Bounty)).Should(BeZero())
		Expect(args[3]).Should(Equal(req.CallbackContract))
		Expect(args[4]).Should(Equal(req.CallbackSelector))
		Expect(args[5]).Should(Equal(req.Input))
		Expect(args[6]).Should(Equal(common.LeftPadBytes(big.NewInt(1337).Bytes(), 32)))
		Expect(args[7]).Should(Equal(proof.PlaceholderProof))
	})

	It("keeps listening after a malformed log", func() {
		bad := testutil.ProofRequestedLog(testutil.Marketplace(), req, 101)
		bad.Topics = bad.Topics[:2]
		backend.Emit(bad)
		Eventually(func() float64 { return prom.ToFloat64(d.Metrics().DecodeFailures) }, Timeout, Interval).Should(Equal(1.0))

		backend.QueueStatuses(types.StatusPending)
		backend.Emit(testutil.ProofRequestedLog(testutil.Marketplace(), req, 102))
		Eventually(backend.Sent, Timeout, Interval).Should(HaveLen(1))
	})

	It("submits nothing for an unknown status", func() {
		backend.QueueStatuses(types.RequestStatus(9))
		backend.Emit(testutil.ProofRequestedLog(testutil.Marketplace(), req, 101))

		Eventually(statusCount(types.RequestStatus(9)), Timeout, Interval).Should(Equal(1.0))
		Consistently(backend.Sent, 50*time.Millisecond, Interval).Should(BeEmpty())
	})

	It("escalates a reverted fulfillment without retrying", func() {
		backend.ReceiptStatus = ethtypes.ReceiptStatusFailed
		backend.QueueStatuses(types.StatusPending)
		backend.Emit(testutil.ProofRequestedLog(testutil.Marketplace(), req, 101))

		Eventually(func() float64 { return prom.ToFloat64(d.Metrics().Reverts) }, Timeout, Interval).Should(Equal(1.0))
		Expect(backend.Sent()).Should(HaveLen(1))
	})

	It("back-fills requests mined while disconnected", func() {
		backend.QueueStatuses(types.StatusPending)

		backend.Record(testutil.ProofRequestedLog(testutil.Marketplace(), req, 101))
		backend.DropSubscriptions(context.DeadlineExceeded)

		Eventually(backend.Sent, Timeout, Interval).Should(HaveLen(1))
		Expect(prom.ToFloat64(d.Metrics().Reconnects)).Should(Equal(1.0))
	})
})
