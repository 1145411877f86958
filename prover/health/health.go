package health

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GPTx-global/marketplace/prover/log"
	"github.com/GPTx-global/marketplace/prover/metrics"
)

const checkTimeout = 10 * time.Second

type HealthCheck interface {
	Check(ctx context.Context) error
	Name() string
}

// HealthChecker runs its checks periodically and keeps the last result of each.
type HealthChecker struct {
	checks   map[string]HealthCheck
	mutex    sync.RWMutex
	interval time.Duration
	status   map[string]HealthStatus
	metrics  *metrics.Metrics
}

type HealthStatus struct {
	Healthy   bool
	LastCheck time.Time
	LastError error
}

// NewHealthChecker runs the registered checks every interval and reports
// their results to m.
func NewHealthChecker(interval time.Duration, m *metrics.Metrics) *HealthChecker {
	return &HealthChecker{
		checks:   make(map[string]HealthCheck),
		status:   make(map[string]HealthStatus),
		interval: interval,
		metrics:  m,
	}
}

// AddCheck registers check. It is reported healthy until it first runs.
func (hc *HealthChecker) AddCheck(check HealthCheck) {
	hc.mutex.Lock()
	defer hc.mutex.Unlock()

	name := check.Name()
	hc.checks[name] = check
	hc.status[name] = HealthStatus{
		Healthy:   true,
		LastCheck: time.Now(),
	}

	log.Debugf("added health check: %s", name)
}

// Start runs the checks every interval until ctx ends.
func (hc *HealthChecker) Start(ctx context.Context) error {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	hc.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			hc.RunChecks(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// RunChecks runs every check once.
func (hc *HealthChecker) RunChecks(ctx context.Context) {
	hc.mutex.RLock()
	checks := make([]HealthCheck, 0, len(hc.checks))
	for _, check := range hc.checks {
		checks = append(checks, check)
	}
	hc.mutex.RUnlock()

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check.Check(checkCtx)
		cancel()

		hc.mutex.Lock()
		hc.status[check.Name()] = HealthStatus{
			Healthy:   err == nil,
			LastCheck: time.Now(),
			LastError: err,
		}
		hc.mutex.Unlock()

		hc.metrics.SetHealth(check.Name(), err == nil)
		if err != nil {
			log.Warnf("health check %s failed: %v", check.Name(), err)
		}
	}
}

// GetStatus returns a copy of the latest result of every check.
func (hc *HealthChecker) GetStatus() map[string]HealthStatus {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	result := make(map[string]HealthStatus, len(hc.status))
	for name, status := range hc.status {
		result[name] = status
	}

	return result
}

// Names returns the registered check names in order.
func (hc *HealthChecker) Names() []string {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// IsHealthy reports whether every check passed on its last run.
func (hc *HealthChecker) IsHealthy() bool {
	hc.mutex.RLock()
	defer hc.mutex.RUnlock()

	for _, status := range hc.status {
		if !status.Healthy {
			return false
		}
	}

	return true
}

// FuncCheck adapts a function to HealthCheck.
type FuncCheck struct {
	name      string
	checkFunc func(ctx context.Context) error
}

func NewFuncCheck(name string, checkFunc func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{
		name:      name,
		checkFunc: checkFunc,
	}
}

func (fc *FuncCheck) Check(ctx context.Context) error {
	return fc.checkFunc(ctx)
}

func (fc *FuncCheck) Name() string {
	return fc.name
}

type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// RPCCheck fails when the node cannot report its head.
func RPCCheck(reader BlockNumberReader) HealthCheck {
	return NewFuncCheck("rpc", func(ctx context.Context) error {
		_, err := reader.BlockNumber(ctx)
		return err
	})
}

// SubscriptionCheck fails while the log subscription is down.
func SubscriptionCheck(subscribed func() bool) HealthCheck {
	return NewFuncCheck("subscription", func(context.Context) error {
		if !subscribed() {
			return errors.New("log subscription is not live")
		}
		return nil
	})
}

// BalanceCheck fails when account cannot pay for a fulfillment at the given fee.
func BalanceCheck(reader BalanceReader, account common.Address, gasLimit uint64, gasPrice *big.Int) HealthCheck {
	required := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)

	return NewFuncCheck("balance", func(ctx context.Context) error {
		balance, err := reader.BalanceAt(ctx, account, nil)
		if err != nil {
			return err
		}
		if balance.Cmp(required) < 0 {
			return fmt.Errorf("balance %s of %s is below one fulfillment fee %s", balance, account.Hex(), required)
		}
		return nil
	})
}
