package scheduler

import (
	"context"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/GPTx-global/marketplace/prover/decoder"
	"github.com/GPTx-global/marketplace/prover/log"
	"github.com/GPTx-global/marketplace/prover/metrics"
	"github.com/GPTx-global/marketplace/prover/types"
)

type Resolver interface {
	RequestID(ctx context.Context, req types.ProofRequest) (types.RequestID, error)
	Status(ctx context.Context, id types.RequestID) (types.RequestStatus, error)
}

type Submitter interface {
	Submit(ctx context.Context, req types.ProofRequest) (*ethtypes.Transaction, error)
}

type Watcher interface {
	Wait(ctx context.Context, id types.RequestID, hash common.Hash) (*ethtypes.Receipt, error)
}

var dump = spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true}

// Scheduler drives every received log through decode, resolve and submit.
//
// A request id stays in the in-flight table from the status query until its
// fulfillment is confirmed, so at most one fulfillment per request is pending.
type Scheduler struct {
	wg       sync.WaitGroup
	watchers sync.WaitGroup
	stopOnce sync.Once
	logQueue chan ethtypes.Log
	inFlight cmap.ConcurrentMap[string, time.Time]

	decoder   *decoder.Decoder
	resolver  Resolver
	submitter Submitter
	watcher   Watcher // nil disables confirmation
	metrics   *metrics.Metrics
	workers   int
}

// New returns a scheduler running workers goroutines over a queue of queueSize
// logs. A nil watcher releases each request as soon as it is broadcast.
func New(decoder *decoder.Decoder, resolver Resolver, submitter Submitter, watcher Watcher, m *metrics.Metrics, workers, queueSize int) *Scheduler {
	return &Scheduler{
		logQueue:  make(chan ethtypes.Log, queueSize),
		inFlight:  cmap.New[time.Time](),
		decoder:   decoder,
		resolver:  resolver,
		submitter: submitter,
		watcher:   watcher,
		metrics:   m,
		workers:   workers,
	}
}

// Run starts the workers and feeds them from logs until ctx ends or logs is
// closed. It waits for workers and confirmation watchers before returning.
func (s *Scheduler) Run(ctx context.Context, logs <-chan ethtypes.Log) error {
	s.Start(ctx)
	defer s.Stop()

	for {
		select {
		case l, ok := <-logs:
			if !ok {
				return nil
			}
			if err := s.Enqueue(ctx, l); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	log.Debugf("scheduler started with %d workers", s.workers)
}

// Stop lets the workers drain the queue, then waits for them and for pending
// confirmations. Nothing may be enqueued after Stop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.logQueue)
	})
	s.wg.Wait()
	s.watchers.Wait()
}

// Enqueue blocks until a worker queue slot is free, pushing back on the
// subscription instead of dropping logs.
func (s *Scheduler) Enqueue(ctx context.Context, l ethtypes.Log) error {
	select {
	case s.logQueue <- l:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the number of requests currently held.
func (s *Scheduler) InFlight() int {
	return s.inFlight.Count()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case l, ok := <-s.logQueue:
			if !ok {
				return
			}
			s.HandleLog(ctx, l)
		case <-ctx.Done():
			return
		}
	}
}

// HandleLog processes a single log and reports what happened to it. Errors never
// escape: each failure is logged and the log is discarded.
func (s *Scheduler) HandleLog(ctx context.Context, l ethtypes.Log) Outcome {
	req, err := s.decoder.Decode(l)
	if err != nil {
		s.metrics.DecodeFailures.Inc()
		log.Errorf("skipping log %s:%d: %v", l.TxHash.Hex(), l.Index, err)
		log.Debugf("malformed log:\n%s", dump.Sdump(l))
		return OutcomeDecodeFailed
	}
	log.Debugf("decoded request from %s:%d: %s", l.TxHash.Hex(), l.Index, req)

	id, err := s.resolver.RequestID(ctx, req)
	if err != nil {
		s.metrics.StatusQueryFailures.Inc()
		log.Errorf("skipping request from %s: %v", l.TxHash.Hex(), err)
		return OutcomeQueryFailed
	}

	key := id.Hex()
	if !s.inFlight.SetIfAbsent(key, time.Now()) {
		s.metrics.InFlightSkipped.Inc()
		log.Infof("request %s is already being handled, skipping", key)
		return OutcomeInFlight
	}
	s.metrics.InFlight.Inc()

	held := false
	defer func() {
		if !held {
			s.release(key)
		}
	}()

	status, err := s.resolver.Status(ctx, id)
	if err != nil {
		s.metrics.StatusQueryFailures.Inc()
		log.Errorf("skipping request %s: %v", key, err)
		return OutcomeQueryFailed
	}
	s.metrics.ObserveStatus(status.String())

	switch status {
	case types.StatusNotFound:
		log.Infof("request %s not found on chain, ignoring", key)
		return OutcomeNotFound
	case types.StatusFulfilled:
		log.Infof("request %s already fulfilled", key)
		return OutcomeFulfilled
	case types.StatusPending:
		tx, err := s.submitter.Submit(ctx, req)
		if err != nil {
			s.metrics.SubmissionFailures.Inc()
			log.Errorf("failed to fulfill request %s: %v", key, err)
			return OutcomeSubmitFailed
		}
		s.metrics.Submissions.Inc()

		if s.watcher != nil {
			held = true
			s.watch(ctx, id, tx.Hash())
		}
		return OutcomeSubmitted
	default:
		log.Errorf("skipping request %s: %v", key, errorsmod.Wrapf(types.ErrUnknownStatus, "%s", status))
		return OutcomeUnknownStatus
	}
}

// watch releases id once its fulfillment is mined, reverted or timed out.
func (s *Scheduler) watch(ctx context.Context, id types.RequestID, hash common.Hash) {
	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		defer s.release(id.Hex())

		// the monitor logs and counts every outcome
		_, _ = s.watcher.Wait(ctx, id, hash)
	}()
}

func (s *Scheduler) release(key string) {
	s.inFlight.Remove(key)
	s.metrics.InFlight.Dec()
}
