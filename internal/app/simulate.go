package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"rangewatch/internal/config"
	"rangewatch/internal/fetcher"
	"rangewatch/internal/service"
)

// SimulateOptions describe a synthetic pool pushed through one cycle.
type SimulateOptions struct {
	Name      string
	SqrtPrice string
	Min       decimal.Decimal
	Max       decimal.Decimal
	Invert    bool
}

// SimulateAlert 用给定的 sqrt price 构造一个临时池子，跑一轮检查并经由已配置通道发出告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	cfg := *a.Config
	cfg.Scheduler.AdvisoryLockKey = 0
	cfg.Pools = []config.PoolEntry{{
		ID:     simulatedPoolID,
		Name:   opts.Name,
		Min:    opts.Min,
		Max:    opts.Max,
		Invert: opts.Invert,
	}}

	source := staticSource{raw: opts.SqrtPrice}
	svc, err := service.New(&cfg, nil, source, nil, notifier, a.Logger)
	if err != nil {
		return err
	}
	return svc.ProcessCycle(ctx, time.Now().UTC())
}

const simulatedPoolID = "0xsimulated"

type staticSource struct {
	raw string
}

func (s staticSource) FetchSqrtPrice(context.Context, string) (string, error) {
	return s.raw, nil
}

var _ fetcher.SqrtPriceSource = staticSource{}
