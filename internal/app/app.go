package app

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mandiwatch/internal/alerting"
	"mandiwatch/internal/config"
	"mandiwatch/internal/dispatch"
	"mandiwatch/internal/feed"
	"mandiwatch/internal/ingest"
	"mandiwatch/internal/pricestore"
	"mandiwatch/internal/registry"
	"mandiwatch/internal/scheduler"
	"mandiwatch/internal/service"
	"mandiwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Dispatch.NotifyTimeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// engine bundles the constructed core components.
type engine struct {
	service    *service.Service
	dispatcher *dispatch.Dispatcher
}

func (a *App) buildEngine(store *storage.Store, notifier alerting.Notifier) *engine {
	dispatcher := dispatch.New(notifier, dispatch.Options{
		QueueSize:      a.Config.Dispatch.QueueSize,
		MaxAttempts:    a.Config.Dispatch.MaxAttempts,
		InitialBackoff: a.Config.Dispatch.InitialBackoff,
		MaxBackoff:     a.Config.Dispatch.MaxBackoff,
		NotifyTimeout:  a.Config.Dispatch.NotifyTimeout,
		Retention:      a.Config.Dispatch.Retention,
	}, a.Logger)

	storeOpts := []pricestore.Option{pricestore.WithCapacity(a.Config.Engine.HistoryCapacity)}
	if store != nil {
		storeOpts = append(storeOpts, pricestore.WithArchive(store))
	}
	prices := pricestore.New(a.Logger, storeOpts...)
	alerts := registry.New(a.Logger)
	pipeline := ingest.New(prices, alerts, dispatcher, a.Logger)

	var archive service.Archive
	if store != nil {
		archive = store
	}
	svc := service.New(prices, alerts, pipeline, dispatcher, archive, a.Logger)

	return &engine{service: svc, dispatcher: dispatcher}
}

// Run executes the long-running monitoring service: feed polling, alert
// evaluation, notification dispatch, and the expiry sweep.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; observations survive only as long as the process")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if store != nil && a.Config.Scheduler.AdvisoryLockKey != 0 {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Scheduler.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			return errors.New("another mandiwatch instance holds the advisory lock")
		}
		defer unlock()
	}

	eng := a.buildEngine(store, a.newNotifier())
	if err := eng.service.Restore(ctx); err != nil {
		return err
	}

	client := feed.NewClient(feed.Options{
		BaseURL:   a.Config.Feed.BaseURL,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
		Source:    a.Config.Feed.Source,
	}, a.Logger)

	pairs := make([]feed.Pair, 0, len(a.Config.Feed.Pairs))
	for _, p := range a.Config.Feed.Pairs {
		pairs = append(pairs, feed.Pair{Commodity: p.Commodity, Market: p.Market})
	}
	poller := feed.NewPoller(client, eng.service, pairs, a.Logger)

	pollSched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.PollInterval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	sweepSched := scheduler.New(scheduler.Options{
		Interval: a.Config.Scheduler.SweepInterval,
	}, a.Logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_ = eng.dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.drainFailures(ctx, eng.dispatcher)
	}()
	go func() {
		defer wg.Done()
		_ = sweepSched.Run(ctx, func(ctx context.Context, tick time.Time) error {
			eng.service.ExpireSweep(ctx, tick)
			return nil
		})
	}()

	a.Logger.Info().Int("pairs", len(pairs)).Msg("starting monitoring service")
	err = pollSched.Run(ctx, poller.Poll)
	cancel()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// drainFailures surfaces exhausted deliveries on the operator channel.
func (a *App) drainFailures(ctx context.Context, d *dispatch.Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case failure := <-d.Failures():
			a.Logger.Error().Err(failure.Err).
				Str("event_id", failure.Event.EventID.String()).
				Str("alert_id", failure.Event.AlertID.String()).
				Str("owner", failure.Event.OwnerID).
				Int("attempts", failure.Attempts).
				Msg("notification permanently undelivered")
		}
	}
}

// ExportOptions hold parameters for exporting historical observations.
type ExportOptions struct {
	Commodity string
	Market    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Commodity string
	Market    string
	Limit     int
}

// ReplayOptions configure the replay analysis.
type ReplayOptions struct {
	Commodity string
	Market    string
	From      time.Time
	To        time.Time
}
