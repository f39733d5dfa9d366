package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rangewatch/internal/alerting"
	"rangewatch/internal/config"
	"rangewatch/internal/fetcher"
	"rangewatch/internal/metrics"
	"rangewatch/internal/monitor"
	"rangewatch/internal/pricing"
	"rangewatch/internal/registry"
	"rangewatch/internal/scheduler"
	"rangewatch/internal/storage"
)

// ErrStopped is returned by commands submitted after the service loop exited.
var ErrStopped = errors.New("service: stopped")

// Service owns the pool registry and the alert engine. Both are only touched
// from the scheduler goroutine; commands are queued onto it.
type Service struct {
	scheduler  *scheduler.Scheduler
	source     fetcher.SqrtPriceSource
	notifier   alerting.Notifier
	alertStore storage.AlertStore
	locker     storage.AdvisoryLocker
	metrics    metrics.Recorder
	logger     zerolog.Logger

	registry  *registry.Registry
	engine    *monitor.Engine
	lastPrice map[string]observation

	alertsOn      bool
	channels      []string
	notifyTimeout time.Duration
	lockKey       int64
	retention     time.Duration
	lastPrune     time.Time

	tasks     chan scheduler.Task
	stopped   chan struct{}
	stopOnce  sync.Once
	poolCount atomic.Int64
	startedAt time.Time
	now       func() time.Time
}

type observation struct {
	price decimal.Decimal
	at    time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for state transitions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// New constructs the monitoring service and seeds the configured pools.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.SqrtPriceSource, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger, opts ...Option) (*Service, error) {
	var locker storage.AdvisoryLocker
	if l, ok := alertStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	s := &Service{
		scheduler:  sched,
		source:     source,
		notifier:   notifier,
		alertStore: alertStore,
		locker:     locker,
		metrics:    metrics.Nop{},
		logger:     logger.With().Str("component", "service").Logger(),
		registry:   registry.New(),
		engine: monitor.NewEngine(monitor.Options{
			Features: monitor.Features{
				OneHourWarning:   cfg.Alerting.OneHourWarning,
				BackInRangeAlert: cfg.Alerting.BackInRangeAlert,
			},
			EscalationInterval: cfg.Alerting.EscalationInterval,
		}),
		lastPrice:     make(map[string]observation),
		alertsOn:      cfg.Alerting.Enabled,
		channels:      cfg.Alerting.Channels,
		notifyTimeout: cfg.Alerting.NotifyTimeout,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
		retention:     cfg.Database.AlertRetention,
		tasks:         make(chan scheduler.Task),
		stopped:       make(chan struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()

	for _, entry := range cfg.Pools {
		if err := s.addPool(entry.PoolConfig(s.startedAt)); err != nil {
			return nil, fmt.Errorf("seed pool %s: %w", entry.ID, err)
		}
	}
	return s, nil
}

// Run starts the polling loop and serves queued commands until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	defer s.stopOnce.Do(func() { close(s.stopped) })
	return s.scheduler.Run(ctx, s.ProcessCycle, s.tasks)
}

// ProcessCycle checks every pool once in insertion order. It must not run
// concurrently with itself or with queued commands.
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	pools := s.registry.List()
	failed := 0
	for _, pool := range pools {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.checkPool(ctx, pool); err != nil {
			failed++
			s.logger.Warn().Err(err).Str("pool", pool.ID).Str("name", pool.Name).Msg("pool skipped this cycle")
		}
	}
	s.pruneAlerts(ctx, at)
	s.metrics.ObserveCycle(time.Since(started))

	s.logger.Info().Time("at", at).
		Int("pools", len(pools)).
		Int("failed", failed).
		Dur("took", time.Since(started)).
		Msg("cycle complete")
	return nil
}

func (s *Service) checkPool(ctx context.Context, pool registry.PoolConfig) error {
	price, err := s.fetchPrice(ctx, pool)
	if err != nil {
		return err
	}

	now := s.now()
	s.lastPrice[pool.ID] = observation{price: price, at: now}
	s.metrics.ObservePrice(pool.ID, price.InexactFloat64(), !pool.Outside(price))

	s.logger.Info().Str("pool", pool.ID).
		Str("name", pool.Name).
		Str("price", pricing.FormatPrice(price)).
		Str("min", pool.Min.String()).
		Str("max", pool.Max.String()).
		Msg("price checked")

	for _, ev := range s.engine.Evaluate(pool, price, now) {
		s.dispatch(ctx, ev)
	}
	return nil
}

func (s *Service) fetchPrice(ctx context.Context, pool registry.PoolConfig) (decimal.Decimal, error) {
	raw, err := s.source.FetchSqrtPrice(ctx, pool.ID)
	if err != nil {
		s.metrics.ObservePoll(pool.ID, metrics.PollFetchFailed)
		return decimal.Decimal{}, err
	}
	price, err := pricing.DerivePrice(raw, pool.Decimals0, pool.Decimals1, pool.Invert)
	if err != nil {
		s.metrics.ObservePoll(pool.ID, metrics.PollDecodeError)
		return decimal.Decimal{}, err
	}
	s.metrics.ObservePoll(pool.ID, metrics.PollOK)
	return price, nil
}

func (s *Service) dispatch(ctx context.Context, ev monitor.Event) {
	s.metrics.ObserveAlert(string(ev.Kind))
	note := alerting.FromEvent(ev)

	log := s.logger.Warn()
	if ev.Kind == monitor.EventRecovery {
		log = s.logger.Info()
	}
	log.Str("pool", ev.Pool.ID).
		Str("kind", string(ev.Kind)).
		Str("price", pricing.FormatPrice(ev.Price)).
		Int("hours_outside", ev.HoursOutside).
		Msg("alert triggered")

	delivered := false
	if s.alertsOn && s.notifier != nil {
		notifyCtx, cancel := s.notifyContext(ctx)
		err := s.notifier.Notify(notifyCtx, note)
		cancel()
		if err != nil {
			s.metrics.ObserveNotifyFailure(string(ev.Kind))
			s.logger.Error().Err(err).Str("pool", ev.Pool.ID).Msg("failed to dispatch alert")
		} else {
			delivered = true
		}
	}

	if s.alertStore != nil {
		record := storage.AlertRecord{
			PoolID:       ev.Pool.ID,
			PoolName:     ev.Pool.Name,
			Kind:         string(ev.Kind),
			Price:        ev.Price,
			Min:          ev.Pool.Min,
			Max:          ev.Pool.Max,
			HoursOutside: ev.HoursOutside,
			Channels:     s.channels,
			Delivered:    delivered,
			FiredAt:      ev.At,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("pool", ev.Pool.ID).Msg("failed to persist alert record")
		}
	}
}

func (s *Service) notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.notifyTimeout > 0 {
		return context.WithTimeout(ctx, s.notifyTimeout)
	}
	return context.WithCancel(ctx)
}

// pruneAlerts applies the audit retention at most once per hour.
func (s *Service) pruneAlerts(ctx context.Context, at time.Time) {
	if s.alertStore == nil || s.retention <= 0 {
		return
	}
	if !s.lastPrune.IsZero() && at.Sub(s.lastPrune) < time.Hour {
		return
	}
	s.lastPrune = at
	deleted, err := s.alertStore.DeleteAlertsBefore(ctx, at.Add(-s.retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to prune alert records")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("pruned alert records")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
