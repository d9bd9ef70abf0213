package messaging

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired idempotency keys are deleted.
const DefaultSweepInterval = 10 * time.Minute

// limiterIdle is how long a sender's rate bucket survives without sends.
const limiterIdle = time.Hour

// Sweeper periodically deletes expired idempotency keys and idle rate buckets.
// Messages are never touched.
type Sweeper struct {
	log      *slog.Logger
	store    MessageStore
	interval time.Duration
	metrics  *Metrics
	limiter  *SenderLimiter
	now      func() time.Time
}

// SweeperOption configures Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepMetrics counts swept keys on m.
func WithSweepMetrics(m *Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// WithSweepLimiter prunes idle senders from l on every pass.
func WithSweepLimiter(l *SenderLimiter) SweeperOption {
	return func(s *Sweeper) { s.limiter = l }
}

// WithSweepClock overrides time.Now (tests).
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper constructs a Sweeper. interval <= 0 uses DefaultSweepInterval.
func NewSweeper(log *slog.Logger, store MessageStore, interval time.Duration, opts ...SweeperOption) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		log:      log,
		store:    store,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run sweeps every interval until ctx is done. It always returns nil; failed passes are logged.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("idempotency.sweep.fail", "err", err)
			}
		}
	}
}

// SweepOnce runs a single pass and returns how many keys were deleted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := s.now()

	if n := s.limiter.Prune(now.Add(-limiterIdle)); n > 0 {
		s.log.Debug("ratelimit.prune", "senders", n)
	}

	start := time.Now()
	n, err := s.store.SweepIdempotencyKeys(ctx, now)
	s.metrics.observeStore("sweep", start)
	if err != nil {
		return 0, err
	}
	s.metrics.swept(n)

	if n > 0 {
		s.log.Info("idempotency.sweep", "deleted", n)
	}
	return n, nil
}
