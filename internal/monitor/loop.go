// File: internal/monitor/loop.go
package monitor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/config"
	"github.com/xkilldash9x/blswatch/internal/notify"
)

// State holds the loop's counters.
type State struct {
	ConsecutiveErrors int
	TotalChecks       int
	StartTime         time.Time
}

// BalanceChecker reports the solving-service account balance.
type BalanceChecker interface {
	Balance(ctx context.Context) (float64, error)
}

// Factory builds a fresh checker with its own browser. The returned
// close function tears the browser down. The loop rebuilds through the
// factory after every failed cycle: a wedged browser is cheaper to
// replace than to diagnose.
type Factory func(ctx context.Context) (Checker, func(), error)

// Loop is the monitor's top-level control loop.
type Loop struct {
	cfg     config.MonitorConfig
	details notify.SlotDetails
	factory Factory
	sink    notify.Sink
	balance BalanceChecker
	logger  *zap.Logger

	state State

	// Injected in tests.
	sleep    func(ctx context.Context, d time.Duration) error
	interval func() time.Duration
}

func NewLoop(
	cfg config.MonitorConfig,
	details notify.SlotDetails,
	factory Factory,
	sink notify.Sink,
	balance BalanceChecker,
	logger *zap.Logger,
) *Loop {
	l := &Loop{
		cfg:     cfg,
		details: details,
		factory: factory,
		sink:    sink,
		balance: balance,
		logger:  logger.Named("monitor"),
	}
	l.sleep = sleepCtx
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	l.interval = func() time.Duration {
		span := cfg.CheckIntervalMax - cfg.CheckIntervalMin
		if span <= 0 {
			return cfg.CheckIntervalMin
		}
		return cfg.CheckIntervalMin + time.Duration(rng.Int63n(int64(span)))
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns a copy of the loop counters.
func (l *Loop) State() State {
	return l.state
}

// Run drives check cycles until the context is cancelled. It never
// returns a check error: failures are contained, counted, and reported
// through the sink.
func (l *Loop) Run(ctx context.Context) error {
	l.state.StartTime = time.Now()
	l.logger.Info("Monitor starting")
	l.notifyStatus(ctx, "Monitor started")

	var (
		checker      Checker
		closeChecker func()
	)
	teardown := func() {
		if closeChecker != nil {
			closeChecker()
		}
		checker = nil
		closeChecker = nil
	}
	defer func() {
		teardown()
		// The run context is gone by now; the stop notice gets its own.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		l.notifyStatus(stopCtx, "Monitor stopped")
		l.logger.Info("Monitor stopped")
	}()

	for ctx.Err() == nil {
		if err := l.cycle(ctx, &checker, &closeChecker, teardown); err != nil {
			// Only context cancellation escapes a cycle.
			return nil
		}

		if err := l.pause(ctx); err != nil {
			return nil
		}
	}
	return nil
}

// cycle runs one check attempt, including lazy checker construction.
// The returned error is non-nil only when the context was cancelled.
func (l *Loop) cycle(ctx context.Context, checker *Checker, closeChecker *func(), teardown func()) error {
	if *checker == nil {
		c, closer, err := l.factory(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return l.recordFailure(ctx, fmt.Errorf("component build failed: %w", err), teardown)
		}
		*checker, *closeChecker = c, closer
		// Fresh components: make sure the solving account can pay for them.
		l.checkBalance(ctx)
	}

	res, err := (*checker).CheckOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.recordFailure(ctx, err, teardown)
	}

	l.state.TotalChecks++
	l.state.ConsecutiveErrors = 0

	if res.Available {
		l.logger.Info("Slots available", zap.String("evidence", res.EvidencePath))
		if err := l.sink.SlotAlert(ctx, l.details, res.Screenshot); err != nil {
			l.logger.Error("Slot alert delivery failed", zap.Error(err))
		}
		// Give the operator a head start before touching the portal again.
		if err := l.sleep(ctx, l.cfg.PostAlertPause); err != nil {
			return err
		}
	} else {
		l.logger.Info("No slots available", zap.Int("check", l.state.TotalChecks))
	}

	if l.cfg.BalanceCheckEvery > 0 && l.state.TotalChecks%l.cfg.BalanceCheckEvery == 0 {
		l.reportHealth(ctx)
		l.checkBalance(ctx)
	}
	return nil
}

// recordFailure counts one failed cycle and discards the browser. At the
// threshold it alerts the operator and backs off.
func (l *Loop) recordFailure(ctx context.Context, cause error, teardown func()) error {
	l.state.ConsecutiveErrors++
	l.logger.Error("Check cycle failed",
		zap.Int("consecutive", l.state.ConsecutiveErrors),
		zap.Error(cause),
	)
	teardown()

	if l.state.ConsecutiveErrors >= l.cfg.MaxConsecutiveErrors {
		msg := fmt.Sprintf("Monitor failing: %d consecutive errors.\nLast: %s",
			l.state.ConsecutiveErrors, truncate(cause.Error(), 300))
		if err := l.sink.Alert(ctx, msg); err != nil {
			l.logger.Error("Alert delivery failed", zap.Error(err))
		}
		if err := l.sleep(ctx, l.cfg.ErrorCooldown); err != nil {
			return err
		}
		l.state.ConsecutiveErrors = 0
	}
	return nil
}

func (l *Loop) pause(ctx context.Context) error {
	wait := l.interval()
	l.logger.Info("Next check scheduled", zap.Duration("wait", wait))
	return l.sleep(ctx, wait)
}

func (l *Loop) checkBalance(ctx context.Context) {
	if l.balance == nil {
		return
	}
	bal, err := l.balance.Balance(ctx)
	if err != nil {
		l.logger.Warn("Balance check failed", zap.Error(err))
		return
	}
	l.logger.Info("Solver balance", zap.Float64("usd", bal))
	if bal < l.cfg.LowBalanceThreshold {
		if err := l.sink.LowBalance(ctx, bal); err != nil {
			l.logger.Error("Low balance notice delivery failed", zap.Error(err))
		}
	}
}

func (l *Loop) reportHealth(ctx context.Context) {
	stats := notify.HealthStats{
		TotalChecks:       l.state.TotalChecks,
		Uptime:            time.Since(l.state.StartTime),
		ConsecutiveErrors: l.state.ConsecutiveErrors,
	}
	if err := l.sink.Health(ctx, stats); err != nil {
		l.logger.Error("Health report delivery failed", zap.Error(err))
	}
}

func (l *Loop) notifyStatus(ctx context.Context, message string) {
	if err := l.sink.Status(ctx, message); err != nil {
		l.logger.Error("Status delivery failed", zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
