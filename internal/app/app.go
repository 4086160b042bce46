package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/command"
	"github.com/perchlabs-io/balance-bot/internal/config"
	"github.com/perchlabs-io/balance-bot/internal/fetcher"
	"github.com/perchlabs-io/balance-bot/internal/matrix"
	"github.com/perchlabs-io/balance-bot/internal/metrics"
	"github.com/perchlabs-io/balance-bot/internal/policy"
	"github.com/perchlabs-io/balance-bot/internal/scheduler"
	"github.com/perchlabs-io/balance-bot/internal/service"
	"github.com/perchlabs-io/balance-bot/internal/storage"
	"github.com/perchlabs-io/balance-bot/internal/version"
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

// RunOptions configure the run command.
type RunOptions struct {
	// DryRun prints notifications to stdout instead of posting them.
	DryRun bool
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newFetcher(store storage.RowQuerier) *fetcher.Postgres {
	return fetcher.NewPostgres(store, fetcher.PostgresOptions{Timeout: a.Config.Scheduler.FeedTimeout}, a.Logger)
}

func (a *App) newMatrixClient() (*matrix.Client, error) {
	m := a.Config.Matrix
	client, err := matrix.NewClient(matrix.Options{
		Homeserver:  m.Homeserver,
		User:        m.User,
		Password:    m.Password,
		AccessToken: m.AccessToken,
		DeviceID:    m.DeviceID,
		Timeout:     m.Timeout,
		UserAgent:   version.UserAgent(),
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	return client, nil
}

func (a *App) newNotifier(dryRun bool) (alerting.Notifier, error) {
	if dryRun {
		return alerting.NewLogNotifier(os.Stdout, a.Logger), nil
	}

	client, err := a.newMatrixClient()
	if err != nil {
		return nil, err
	}
	notifiers := alerting.Fanout{
		alerting.NewMatrixNotifier(client, a.Config.Matrix.Room, a.Logger),
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Matrix.Timeout, a.Logger))
	}
	if len(notifiers) == 1 {
		return notifiers[0], nil
	}
	return notifiers, nil
}

func (a *App) threshold() (policy.Threshold, error) {
	low, high, err := a.Config.Thresholds.Stake()
	if err != nil {
		return policy.Threshold{}, err
	}
	return policy.Threshold{Low: low, High: high}, nil
}

func (a *App) serviceOptions() (service.Options, error) {
	threshold, err := a.threshold()
	if err != nil {
		return service.Options{}, err
	}
	return service.Options{
		SlotsAssigned: a.Config.Operator.SlotsAssigned,
		Threshold:     threshold,
		FeedTimeout:   a.Config.Scheduler.FeedTimeout,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
	}, nil
}

// Run executes the poll loop, the chat session and the metrics endpoint until
// the process is signalled.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	chatErr := a.Config.ValidateChat()
	if chatErr != nil && !opts.DryRun {
		return chatErr
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svcOpts, err := a.serviceOptions()
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfig, err)
	}

	notifier, err := a.newNotifier(opts.DryRun)
	if err != nil {
		return err
	}

	feeds := a.newFetcher(store)
	m := metrics.New()
	svc := service.New(svcOpts, service.Deps{
		Scheduler: sched,
		Feeds:     feeds,
		Lookup:    feeds,
		Notifier:  notifier,
		Locker:    store,
		Metrics:   m,
	}, a.Logger)

	var g errgroup.Group
	if chatErr == nil {
		client, err := a.newMatrixClient()
		if err != nil {
			return err
		}
		session := matrix.NewSession(client, matrix.SessionOptions{}, a.Logger)
		handler := command.NewHandler(feeds, a.Config.Scheduler.FeedTimeout, a.Logger)
		g.Go(func() error {
			if err := session.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("chat session stopped; polling continues")
			}
			return nil
		})
	} else {
		a.Logger.Warn().Err(chatErr).Msg("chat session disabled in dry-run mode")
	}
	if addr := a.Config.Metrics.Listen; addr != "" {
		g.Go(func() error {
			if err := m.Serve(ctx, addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Str("addr", addr).Msg("metrics endpoint failed")
			}
			return nil
		})
	}

	a.Logger.Info().Bool("dry_run", opts.DryRun).Dur("interval", a.Config.Scheduler.Interval).Msg("starting balance bot")
	err = svc.Run(ctx)
	cancel()
	_ = g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("balance bot stopped")
	return nil
}
