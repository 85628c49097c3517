package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/service"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

const sweepLockKey = "completion-sweep"

// Completer finishes paid orders
type Completer interface {
	Complete(ctx context.Context, orderID string) (service.CompletionStatus, error)
}

// OrderLister pages through the orders waiting in a state
type OrderLister interface {
	ListOrderIDsByState(ctx context.Context, state, afterID string, limit int) ([]string, error)
}

// Locker is a distributed lock held for the duration of one sweep
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// SweepResult counts the outcomes of one sweep
type SweepResult struct {
	Finished int
	Pending  int
	Failed   int
}

// CompletionSweeper periodically retries completion of paid orders, so that
// certificates are issued once the LMS reports passing grades
type CompletionSweeper struct {
	orders    OrderLister
	completer Completer
	locker    Locker
	interval  time.Duration
	batch     int
	logger    *zap.Logger

	// cursor is the last order ID swept; the next sweep resumes after it
	mu     sync.Mutex
	cursor string
}

// NewCompletionSweeper creates a completion sweeper. locker may be nil when a
// single instance runs.
func NewCompletionSweeper(orders OrderLister, completer Completer, locker Locker, interval time.Duration, batch int) *CompletionSweeper {
	return &CompletionSweeper{
		orders:    orders,
		completer: completer,
		locker:    locker,
		interval:  interval,
		batch:     batch,
		logger:    util.GetLogger(),
	}
}

// Start sweeps every interval until ctx is done
func (s *CompletionSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting completion sweeper", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping completion sweeper")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Completion sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce tries to complete the next batch of paid orders. Batches walk the
// paid orders by ID and wrap around once the end is reached, so orders still
// waiting for grades do not hold back the ones after them.
func (s *CompletionSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "CompletionSweeper.SweepOnce")
	defer span.End()

	var result SweepResult
	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, sweepLockKey, s.interval)
		if err != nil {
			return result, err
		}
		if !acquired {
			s.logger.Debug("Completion sweep already running elsewhere")
			return result, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), sweepLockKey); err != nil {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.orders.ListOrderIDsByState(ctx, models.OrderStatePaid, s.cursor, s.batch)
	if err != nil {
		return result, err
	}
	if len(ids) < s.batch {
		s.cursor = ""
	} else {
		s.cursor = ids[len(ids)-1]
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		status, err := s.completer.Complete(ctx, id)
		switch {
		case errors.Is(err, service.ErrInvalidTransition):
			// completed concurrently
		case err != nil:
			result.Failed++
			s.logger.Warn("Order completion failed", zap.String("order_id", id), zap.Error(err))
		case status == service.CompletionFinished:
			result.Finished++
		default:
			result.Pending++
		}
	}

	s.logger.Info("Completion sweep done",
		zap.Int("finished", result.Finished),
		zap.Int("pending", result.Pending),
		zap.Int("failed", result.Failed))
	return result, nil
}
