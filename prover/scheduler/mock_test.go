package scheduler

import (
	"context"
	"errors"
	"testing"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/marketplace/prover/decoder"
	"github.com/GPTx-global/marketplace/prover/metrics"
	"github.com/GPTx-global/marketplace/prover/testutil"
	"github.com/GPTx-global/marketplace/prover/types"
)

// MockResolver is a mock implementation of Resolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) RequestID(ctx context.Context, req types.ProofRequest) (types.RequestID, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(types.RequestID), args.Error(1)
}

func (m *MockResolver) Status(ctx context.Context, id types.RequestID) (types.RequestStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.RequestStatus), args.Error(1)
}

// MockSubmitter is a mock implementation of Submitter
type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, req types.ProofRequest) (*ethtypes.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ethtypes.Transaction), args.Error(1)
}

type MockedSchedulerTestSuite struct {
	suite.Suite

	resolver  *MockResolver
	submitter *MockSubmitter
	scheduler *Scheduler
	id        types.RequestID
}

func TestMockedSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(MockedSchedulerTestSuite))
}

func (s *MockedSchedulerTestSuite) SetupTest() {
	s.resolver = new(MockResolver)
	s.submitter = new(MockSubmitter)
	s.scheduler = New(decoder.New(testutil.Marketplace()), s.resolver, s.submitter, nil, metrics.New(), 1, 1)
	s.id = types.RequestID{0x42}
}

func (s *MockedSchedulerTestSuite) handle() Outcome {
	return s.scheduler.HandleLog(context.Background(), testutil.ProofRequestedLog(testutil.Marketplace(), testutil.SampleRequest(), 101))
}

func (s *MockedSchedulerTestSuite) TestPendingSubmitsDecodedRequest() {
	req := testutil.SampleRequest()
	s.resolver.On("RequestID", mock.Anything, req).Return(s.id, nil).Once()
	s.resolver.On("Status", mock.Anything, s.id).Return(types.StatusPending, nil).Once()
	s.submitter.On("Submit", mock.Anything, req).Return(ethtypes.NewTx(&ethtypes.LegacyTx{}), nil).Once()

	s.Equal(OutcomeSubmitted, s.handle())
	s.resolver.AssertExpectations(s.T())
	s.submitter.AssertExpectations(s.T())
}

func (s *MockedSchedulerTestSuite) TestFulfilledNeverSubmits() {
	s.resolver.On("RequestID", mock.Anything, mock.Anything).Return(s.id, nil)
	s.resolver.On("Status", mock.Anything, s.id).Return(types.StatusFulfilled, nil)

	for i := 0; i < 3; i++ {
		s.Equal(OutcomeFulfilled, s.handle())
	}
	s.submitter.AssertNotCalled(s.T(), "Submit", mock.Anything, mock.Anything)
}

func (s *MockedSchedulerTestSuite) TestStatusFailureSkipsEvent() {
	s.resolver.On("RequestID", mock.Anything, mock.Anything).Return(s.id, nil)
	s.resolver.On("Status", mock.Anything, s.id).Return(types.StatusNotFound, errors.New("timeout")).Once()

	s.Equal(OutcomeQueryFailed, s.handle())
	s.submitter.AssertNotCalled(s.T(), "Submit", mock.Anything, mock.Anything)
	s.Equal(0, s.scheduler.InFlight())
}
