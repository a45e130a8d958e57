package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"weatherbot/internal/bot"
	"weatherbot/internal/broadcast"
	"weatherbot/internal/config"
	"weatherbot/internal/liveness"
	"weatherbot/internal/metrics"
	"weatherbot/internal/registry"
	"weatherbot/internal/runtime/supervisor"
	"weatherbot/internal/scheduler"
	"weatherbot/internal/storage"
	"weatherbot/internal/transport"
	"weatherbot/internal/transport/telegram"
	"weatherbot/internal/weather"
	logx "weatherbot/pkg/logx"
)

const broadcastJob = "broadcast.daily"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter *telegram.Adapter
	reg     *registry.Registry
	sender  *bot.Sender
	disp    *bot.Dispatcher
	bcast   *broadcast.Service
	sched   *scheduler.Service
	live    *liveness.Service

	// owned by the config.reload goroutine after Start
	plan broadcastPlan

	updates chan transport.Update
}

// New loads and validates the config and builds every component. The only
// network call is telebot's getMe token check; polling, the liveness
// listener and the scheduler wait for Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.Comp("telegram"))
	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	metrics.MustRegister()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.Comp("storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	wcfg, err := mapWeatherConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := weather.New(wcfg, log.With(logx.Comp("weather")))

	reg := registry.New()
	sender := bot.NewSender(client, ad, cityOf(cfg), log.With(logx.Comp("sender")))
	handlers := bot.NewHandlers(reg, sender, ad)

	cmdTimeout, err := mapCommandTimeout(cfg)
	if err != nil {
		return nil, err
	}
	disp := bot.NewDispatcher(log.With(logx.Comp("commands")), ad,
		bot.WithWorkers(cfg.Telegram.Workers),
		bot.WithCommandTimeout(cmdTimeout),
		bot.WithMiddleware(bot.MWAudit(store, log)),
	)
	disp.Register(handlers.Commands()...)

	plan, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	bcast := broadcast.New(plan.cfg, reg, sender, store, log.With(logx.Comp("broadcast")))

	sched := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.Comp("scheduler")))
	if _, err := sched.AddDaily(broadcastJob, plan.at, plan.timeout, bcast.Job()); err != nil {
		return nil, err
	}

	live := liveness.New(mapLivenessConfig(cfg), log.With(logx.Comp("liveness")),
		liveness.WithReporter(reporter{reg: reg, sender: sender, sched: sched, bcast: bcast}),
	)

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.Comp("app")),
		logs:    logSvc,
		store:   store,
		adapter: ad,
		reg:     reg,
		sender:  sender,
		disp:    disp,
		bcast:   bcast,
		sched:   sched,
		live:    live,
		plan:    plan,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sched.Start(runCtx)
	if a.live.Enabled() {
		a.live.Start(runCtx)
		a.awaitLiveness(runCtx, 2*time.Second)
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		if err := a.disp.PublishMenu(c); err != nil {
			a.log.Warn("command menu publish failed", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				next = latest(sub, next)
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log.With(logx.Comp("systemd")))
	})

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("city", a.sender.City()),
		logx.String("broadcast_at", a.plan.at),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("storage", a.store != nil),
		logx.String("liveness", a.live.Addr()),
	)
	return nil
}

// awaitLiveness waits up to limit for the liveness listener before READY is
// sent. A slow bind is logged, not fatal.
func (a *App) awaitLiveness(ctx context.Context, limit time.Duration) {
	ready := a.live.Ready()
	if ready == nil {
		return
	}
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-ready:
	case <-t.C:
		a.log.Warn("liveness not listening yet", logx.Duration("waited", limit))
	case <-ctx.Done():
	}
}

// latest drains queued configs and keeps the newest.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// applyConfig pushes a validated config into the running components.
// Telegram, weather credentials and storage only change on restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(next))
	a.sender.SetCity(cityOf(next))

	if plan, err := mapBroadcastConfig(next); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.bcast.Apply(plan.cfg)
		if plan.at != a.plan.at || plan.timeout != a.plan.timeout {
			if _, err := a.sched.AddDaily(broadcastJob, plan.at, plan.timeout, a.bcast.Job()); err != nil {
				a.log.Warn("broadcast reschedule failed", logx.Err(err))
			} else {
				a.log.Info("broadcast rescheduled", logx.String("at", plan.at))
			}
		}
		a.plan = plan
	}
	a.sched.Apply(mapSchedulerConfig(next))
	a.live.Reconfigure(ctx, mapLivenessConfig(next))

	if slices.Contains(sections, "telegram") || slices.Contains(sections, "storage") || weatherClientChanged(prev, next) {
		a.log.Warn("telegram, weather client or storage settings changed; restart required for them to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func weatherClientChanged(prev, next *config.Config) bool {
	if prev == nil || next == nil {
		return false
	}
	p, n := prev.Weather, next.Weather
	return p.APIKey != n.APIKey || p.Endpoint != n.Endpoint || p.Timeout != n.Timeout
}

// Stop shuts components down in dependency order. Each step is bounded so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "liveness", 2*time.Second, func(c context.Context) error { a.live.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// dispatcher workers may still be journaling; storage closes after them
	a.step(ctx, "supervisor", 4*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("dropped_updates", a.adapter.DroppedUpdates()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		// never extend the caller's deadline
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
