package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rangewatch/internal/alerting"
	"rangewatch/internal/config"
	"rangewatch/internal/fetcher"
	"rangewatch/internal/logging"
	"rangewatch/internal/metrics"
	"rangewatch/internal/scheduler"
	"rangewatch/internal/server"
	"rangewatch/internal/service"
	"rangewatch/internal/storage"
	"rangewatch/internal/telegram"
	"rangewatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

func (a *App) newSource() *fetcher.SuiRPC {
	return fetcher.NewSuiRPC(fetcher.SuiOptions{
		RPCURL:  a.Config.Sui.RPCURL,
		Timeout: a.Config.Sui.RequestTimeout,
	}, a.Logger)
}

// newNotifier builds the configured channels; nil when none is usable.
func (a *App) newNotifier() alerting.Notifier {
	var channels alerting.Multi
	if a.Config.Alerting.HasChannel(config.ChannelConsole) {
		channels = append(channels, alerting.NewConsoleNotifier(a.Logger))
	}
	if a.Config.Alerting.HasChannel(config.ChannelTelegram) {
		if tg := a.Config.Alerting.Telegram; tg.Enabled {
			channels = append(channels, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, a.Config.Alerting.NotifyTimeout, a.Logger))
		} else {
			a.Logger.Debug().Msg("telegram channel listed but alerting.telegram.enabled is false")
		}
	}

	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	default:
		return channels
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Database.Enabled() {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// alertStore avoids handing a typed nil to the service.
func alertStore(store *storage.Store) storage.AlertStore {
	if store == nil {
		return nil
	}
	return store
}

// Run executes the long-running monitoring service with its HTTP and chat
// surfaces.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert audit log disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	source := a.newSource()
	defer source.Close()

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no alert channel configured; alerts are only logged")
	}

	prom := metrics.NewPrometheus()
	svc, err := service.New(a.Config, sched, source, alertStore(store), notifier, a.Logger, service.WithMetrics(prom))
	if err != nil {
		return err
	}

	var bot *telegram.Bot
	if a.Config.Bot.Enabled {
		tg := a.Config.Alerting.Telegram
		bot, err = telegram.NewBot(telegram.Config{
			Token:         tg.BotToken,
			APIBase:       tg.APIBase,
			UpdateTimeout: a.Config.Bot.UpdateTimeout,
			Debug:         a.Config.Bot.Debug,
		}, svc, a.Logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(svc.Run(gctx))
	})
	if a.Config.HTTP.Enabled {
		router := server.NewRouter(a.Config.App.Name, svc, prom.Handler(), a.Logger)
		srv := server.New(a.Config.HTTP.Addr(), router, a.Logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	if bot != nil {
		g.Go(func() error {
			return ignoreCanceled(bot.Run(gctx))
		})
	}

	a.Logger.Info().
		Str("version", version.String()).
		Int("pools", svc.PoolCount()).
		Dur("interval", a.Config.Scheduler.Interval).
		Msg("starting monitoring service")

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
