package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"postbot/internal/config"
	"postbot/internal/conversation"
	"postbot/internal/eventbus"
	"postbot/internal/handlers"
	"postbot/internal/messages"
	"postbot/internal/moderation"
	"postbot/internal/notifier"
	"postbot/internal/notifier/broadcast"
	"postbot/internal/observability/metrics"
	"postbot/internal/posts"
	rtsup "postbot/internal/runtime/supervisor"
	"postbot/internal/storage"
	"postbot/internal/task/digest"
	kit "postbot/internal/transport"
	telegram "postbot/internal/transport/telegram/adapter"
	"postbot/internal/transport/telegram/router"
	"postbot/pkg/logx"
	"postbot/pkg/sdnotify"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	metrics *metrics.Metrics
	msrv    *metrics.Server

	sessions  *conversation.MemoryStore
	broadcast *broadcast.Dispatcher
	digest    *digest.Service
	router    *router.Router

	updates chan kit.Update
}

type options struct {
	adapter kit.Adapter
	getenv  func(string) string
}

type Option func(*options)

// WithAdapter replaces the Telegram adapter, mostly for tests.
func WithAdapter(ad kit.Adapter) Option {
	return func(o *options) { o.adapter = ad }
}

// WithEnv replaces os.Getenv for the config overlay.
func WithEnv(getenv func(string) string) Option {
	return func(o *options) { o.getenv = getenv }
}

// New loads the config and builds every component. Configuration faults
// are reported as config.ErrConfig.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{getenv: os.Getenv}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetEnv(o.getenv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The chat sink needs the adapter, which is built below; SetSender
	// re-applies the config once it exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	msgs, err := messages.Load(cfg.MessagesPath)
	if err != nil {
		return nil, err
	}
	channel := mustTarget(cfg.Telegram.Channel)

	sc := mapStorageConfig(cfg)
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	ad := o.adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.PollTimeoutOrDefault(),
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}
	logSvc.SetSender(ad)

	mt := metrics.New()
	bus := eventbus.New()
	send := notifier.NewSender(ad, log, notifier.WithBus(bus), notifier.WithMetrics(mt))

	mgr := posts.NewManager(store, send, msgs, channel, log, posts.WithBus(bus), posts.WithMetrics(mt))
	gw := moderation.New(mapModerationConfig(cfg), store, mgr, send, msgs, log)
	mgr.SetReviewer(gw)

	sessions := conversation.NewMemoryStore()
	machine := conversation.NewMachine(sessions, store, mgr, log)
	mt.Gauge("conversation_sessions", "Open conversation sessions.", func() float64 { return float64(sessions.Len()) })

	bc := broadcast.New(mapBroadcastConfig(cfg), store, send, msgs, log, broadcast.WithBus(bus), broadcast.WithMetrics(mt))
	dg := digest.New(mapDigestConfig(cfg), mgr, store, send, msgs, log)

	r := router.New(log, store, router.WithMetrics(mt))
	handlers.New(handlers.Deps{
		Store:            store,
		Adapter:          ad,
		Send:             send,
		Msgs:             msgs,
		Machine:          machine,
		Gateway:          gw,
		Broadcast:        bc,
		Channel:          channel,
		SubscriptionGate: cfg.Telegram.SubscriptionGate,
		Log:              log,
	}).Register(r)

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		metrics:   mt,
		msrv:      metrics.NewServer(mt, log),
		sessions:  sessions,
		broadcast: bc,
		digest:    dg,
		router:    r,
		updates:   make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Metrics exposes the collectors, mainly for tests.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()
	cfg := a.cfgm.Get()

	if err := bootstrapAdmins(ctx, a.store, cfg, a.log); err != nil {
		return fmt.Errorf("bootstrap admins: %w", err)
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		// templates are only read at start, but a broken file should still be reported early
		if _, err := messages.Load(c.MessagesPath); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("adapter start: %w", err)
	}
	pctx, cancel := context.WithTimeout(run, 10*time.Second)
	a.router.PublishMenu(pctx, a.adapter)
	cancel()

	a.broadcast.Start(run)
	if err := a.digest.Start(run); err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	a.msrv.Reconfigure(run, mapMetricsConfig(cfg))

	a.sup.Go("router.loop", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	ttl, every := cfg.Conversation.TTL(), cfg.Conversation.PruneEvery()
	a.sup.Go0("conversation.prune", func(c context.Context) {
		conversation.PruneLoop(c, a.sessions, every, ttl, a.log)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		sdnotify.Watchdog(c, a.log.With(logx.String("comp", "systemd")))
	})
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdnotify.Ready(a.log)
	sdnotify.Status(a.log, "serving")
	a.log.Info("app started")
	return nil
}

// logEvents mirrors domain events at debug level.
func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdnotify.Stopping(a.log)

	// Intake first: no new updates while the rest unwinds.
	step := a.stepper(ctx)
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.sup.Cancel()

	step("broadcast", 3*time.Second, func(c context.Context) error { a.broadcast.Stop(c); return nil })
	step("digest", 2*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// stepper runs one shutdown step bounded by max and by the caller's deadline.
// A step that overruns is logged and left behind.
func (a *App) stepper(ctx context.Context) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}
}
