package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rangewatch/internal/monitor"
	"rangewatch/internal/pricing"
	"rangewatch/internal/registry"
)

// PoolStatus is a listing row.
type PoolStatus struct {
	Pool         registry.PoolConfig
	Zone         monitor.Zone
	InRange      time.Duration
	OutsideSince time.Time
	LastPrice    decimal.Decimal
	LastCheck    time.Time
}

// HasPrice reports whether the pool was priced at least once.
func (p PoolStatus) HasPrice() bool {
	return !p.LastCheck.IsZero()
}

// PriceReport is a live price lookup that does not touch alert state.
type PriceReport struct {
	Pool  registry.PoolConfig
	Price decimal.Decimal
	Err   error
}

// Inside reports whether the live price is within bounds.
func (r PriceReport) Inside() bool {
	return r.Err == nil && !r.Pool.Outside(r.Price)
}

// submit runs fn on the scheduler goroutine and waits for it.
func (s *Service) submit(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	task := func(taskCtx context.Context) {
		defer close(done)
		fn(taskCtx)
	}

	select {
	case s.tasks <- task:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddPool validates and starts tracking a pool. A zero AddedAt is stamped
// with the current time.
func (s *Service) AddPool(ctx context.Context, pool registry.PoolConfig) (registry.PoolConfig, error) {
	if err := registry.ValidatePool(pool); err != nil {
		return registry.PoolConfig{}, err
	}
	var opErr error
	err := s.submit(ctx, func(context.Context) {
		if pool.AddedAt.IsZero() {
			pool.AddedAt = s.now()
		}
		opErr = s.addPool(pool)
	})
	if err != nil {
		return registry.PoolConfig{}, err
	}
	return pool, opErr
}

func (s *Service) addPool(pool registry.PoolConfig) error {
	if err := registry.ValidatePool(pool); err != nil {
		return err
	}
	if err := s.registry.Add(pool); err != nil {
		return err
	}
	s.engine.Track(pool.ID, pool.AddedAt)
	s.publishCount()
	s.logger.Info().Str("pool", pool.ID).Str("name", pool.Name).Msg("pool added")
	return nil
}

// EditPool replaces the bounds of the pool at the 0-based index and resets
// its alert state. A non-empty poolID must match the pool at index, otherwise
// registry.ErrPoolMoved is returned and nothing changes.
func (s *Service) EditPool(ctx context.Context, index int, poolID string, lower, upper decimal.Decimal) (registry.PoolConfig, error) {
	var (
		edited registry.PoolConfig
		opErr  error
	)
	err := s.submit(ctx, func(context.Context) {
		if poolID != "" {
			current, err := s.registry.At(index)
			if err != nil {
				opErr = err
				return
			}
			if current.ID != poolID {
				opErr = fmt.Errorf("%w: position %d holds %s, not %s", registry.ErrPoolMoved, index+1, current.ID, poolID)
				return
			}
		}
		edited, opErr = s.registry.Edit(index, lower, upper)
		if opErr != nil {
			return
		}
		s.engine.Reset(edited.ID, s.now())
		s.logger.Info().Str("pool", edited.ID).
			Str("min", lower.String()).
			Str("max", upper.String()).
			Msg("pool bounds updated, alert state reset")
	})
	if err != nil {
		return registry.PoolConfig{}, err
	}
	return edited, opErr
}

// RemovePool stops tracking the pool at the 0-based index.
func (s *Service) RemovePool(ctx context.Context, index int) (registry.PoolConfig, error) {
	var (
		removed registry.PoolConfig
		opErr   error
	)
	err := s.submit(ctx, func(context.Context) {
		removed, opErr = s.registry.Remove(index)
		if opErr != nil {
			return
		}
		s.engine.Forget(removed.ID)
		delete(s.lastPrice, removed.ID)
		s.metrics.ForgetPool(removed.ID)
		s.publishCount()
		s.logger.Info().Str("pool", removed.ID).Str("name", removed.Name).Msg("pool removed")
	})
	if err != nil {
		return registry.PoolConfig{}, err
	}
	return removed, opErr
}

// ListPools returns the pools in insertion order with their alert status.
func (s *Service) ListPools(ctx context.Context) ([]PoolStatus, error) {
	var out []PoolStatus
	err := s.submit(ctx, func(context.Context) {
		out = s.snapshot()
	})
	return out, err
}

func (s *Service) snapshot() []PoolStatus {
	now := s.now()
	pools := s.registry.List()
	out := make([]PoolStatus, 0, len(pools))
	for _, pool := range pools {
		status := PoolStatus{Pool: pool, InRange: s.engine.TotalInRange(pool.ID, now)}
		if st, ok := s.engine.State(pool.ID); ok {
			status.Zone = st.Zone
			status.OutsideSince = st.OutsideSince
		}
		if obs, ok := s.lastPrice[pool.ID]; ok {
			status.LastPrice = obs.price
			status.LastCheck = obs.at
		}
		out = append(out, status)
	}
	return out
}

// ToggleFeature flips a feature by name or 1-based number.
func (s *Service) ToggleFeature(ctx context.Context, ref string) (string, bool, error) {
	var (
		name    string
		enabled bool
		opErr   error
	)
	err := s.submit(ctx, func(context.Context) {
		name, enabled, opErr = s.engine.Toggle(ref)
		if opErr == nil {
			s.logger.Info().Str("feature", name).Bool("enabled", enabled).Msg("feature toggled")
		}
	})
	if err != nil {
		return "", false, err
	}
	return name, enabled, opErr
}

// Features returns the current feature toggles.
func (s *Service) Features(ctx context.Context) (monitor.Features, error) {
	var f monitor.Features
	err := s.submit(ctx, func(context.Context) {
		f = s.engine.Features()
	})
	return f, err
}

// CheckPrices fetches live prices for every pool without changing alert
// state. Fetching happens off the scheduler goroutine.
func (s *Service) CheckPrices(ctx context.Context) ([]PriceReport, error) {
	var pools []registry.PoolConfig
	if err := s.submit(ctx, func(context.Context) {
		pools = s.registry.List()
	}); err != nil {
		return nil, err
	}
	return s.priceAll(ctx, pools), nil
}

// CheckPricesNow is CheckPrices for callers that own the service goroutine,
// such as one-shot CLI commands that never call Run.
func (s *Service) CheckPricesNow(ctx context.Context) []PriceReport {
	return s.priceAll(ctx, s.registry.List())
}

func (s *Service) priceAll(ctx context.Context, pools []registry.PoolConfig) []PriceReport {
	reports := make([]PriceReport, 0, len(pools))
	for _, pool := range pools {
		report := PriceReport{Pool: pool}
		raw, err := s.source.FetchSqrtPrice(ctx, pool.ID)
		if err == nil {
			report.Price, err = pricing.DerivePrice(raw, pool.Decimals0, pool.Decimals1, pool.Invert)
		}
		report.Err = err
		reports = append(reports, report)
	}
	return reports
}

// PoolCount is safe to call from any goroutine.
func (s *Service) PoolCount() int {
	return int(s.poolCount.Load())
}

// Uptime is the time since the service was constructed.
func (s *Service) Uptime() time.Duration {
	return s.now().Sub(s.startedAt)
}

func (s *Service) publishCount() {
	n := s.registry.Len()
	s.poolCount.Store(int64(n))
	s.metrics.SetPools(n)
}
