package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is the tick period of Syncer.Run.
const DefaultPollInterval = 3 * time.Second

// DefaultHealthInterval is how often WatchConnectivity checks the server.
const DefaultHealthInterval = 5 * time.Second

// Syncer drives the client loop: every tick drains the outbox, then polls.
//
// Run owns a single goroutine, so ticks never overlap. Going offline pauses
// ticks; coming back online triggers one immediate tick.
type Syncer struct {
	log      *slog.Logger
	cursor   *Cursor
	outbox   *Outbox
	sender   Sender
	consume  Consumer
	interval time.Duration

	tickMu sync.Mutex

	mu     sync.Mutex
	online bool
	wake   chan struct{}
}

// SyncerOption configures Syncer.
type SyncerOption func(*Syncer)

func WithSyncLogger(log *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPollInterval sets the tick period. d <= 0 keeps DefaultPollInterval.
func WithPollInterval(d time.Duration) SyncerOption {
	return func(s *Syncer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewSyncer builds an online Syncer. outbox and sender may be nil to only poll.
func NewSyncer(cursor *Cursor, outbox *Outbox, sender Sender, consume Consumer, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		log:      slog.Default(),
		cursor:   cursor,
		outbox:   outbox,
		sender:   sender,
		consume:  consume,
		interval: DefaultPollInterval,
		online:   true,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run ticks until ctx is done. Tick errors are logged, never returned.
func (s *Syncer) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	if s.Online() {
		s.runTick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-s.wake:
		}
		if s.Online() {
			s.runTick(ctx)
		}
	}
}

// RunWithHealthCheck runs the tick loop alongside WatchConnectivity(check, every).
func (s *Syncer) RunWithHealthCheck(ctx context.Context, check func(context.Context) error, every time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	g.Go(func() error { return s.WatchConnectivity(gctx, check, every) })
	return g.Wait()
}

func (s *Syncer) runTick(ctx context.Context) {
	if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("sync.tick.fail", "err", err)
	}
}

// Tick drains the outbox, then polls once.
//
// Transient failures are logged at debug and swallowed; the next tick retries.
// Other drain failures are logged and never skip the poll. Other poll failures
// are returned.
func (s *Syncer) Tick(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.outbox != nil && s.sender != nil {
		res, err := s.outbox.Drain(ctx, s.sender)
		switch {
		case err == nil:
			if res.Sent > 0 || res.Rejected > 0 {
				s.log.Info("outbox.drain", "sent", res.Sent, "rejected", res.Rejected, "remaining", res.Remaining)
			}
		case IsTransient(err):
			s.log.Debug("outbox.drain.stop", "remaining", res.Remaining, "err", err)
		default:
			s.log.Warn("outbox.drain.fail", "remaining", res.Remaining, "err", err)
		}
	}

	n, err := s.cursor.Poll(ctx, s.consume)
	if err != nil {
		if IsTransient(err) {
			s.log.Debug("sync.poll.fail", "err", err)
			return nil
		}
		return err
	}
	if n > 0 {
		s.log.Debug("sync.poll", "messages", n)
	}
	return nil
}

// SetOnline flips the connectivity flag. Going online wakes Run for an immediate tick;
// repeated wakes before it runs coalesce into one.
func (s *Syncer) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if !changed {
		return
	}
	if online {
		s.log.Info("sync.online")
		select {
		case s.wake <- struct{}{}:
		default:
		}
		return
	}
	s.log.Info("sync.offline")
}

func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// WatchConnectivity calls check every interval and sets the online flag from its result.
// It returns nil when ctx is done.
func (s *Syncer) WatchConnectivity(ctx context.Context, check func(context.Context) error, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := check(pctx)
			cancel()
			if ctx.Err() != nil {
				return nil
			}
			s.SetOnline(err == nil)
		}
	}
}
