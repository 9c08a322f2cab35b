// Package app wires the bot together: config, logging, state, scheduler,
// dispatcher, transport and the operator command router.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"schedbot/internal/bot"
	"schedbot/internal/config"
	"schedbot/internal/delivery"
	"schedbot/internal/dispatch"
	"schedbot/internal/eventbus"
	"schedbot/internal/history"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/scheduler"
	kit "schedbot/internal/transport"
	"schedbot/internal/transport/telegram"
	logx "schedbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	state   *delivery.State
	sched   *scheduler.Service
	disp    *dispatch.Dispatcher
	hist    history.Store
	router  *bot.Router
	bus     eventbus.Bus
	maint   *cron.Cron

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	state := delivery.NewState(cfg.Storage.Dir,
		log.With(logx.String("comp", "state")), delivery.WithBus(bus))

	hist, err := openHistory(cfg.History, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, err
	}

	disp := dispatch.New(dispatch.Config{}, state, nil, adapter, hist, bus,
		log.With(logx.String("comp", "dispatch")))
	sched := scheduler.New(log.With(logx.String("comp", "scheduler")), disp.Execute)
	disp.SetScheduler(sched)

	router := bot.NewRouter(adapter, state, sched, hist, cfg.Telegram.OwnerUserIDs,
		log.With(logx.String("comp", "bot")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: adapter,
		state:   state,
		sched:   sched,
		disp:    disp,
		hist:    hist,
		router:  router,
		bus:     bus,
		updates: make(chan kit.Update, 256),
	}, nil
}

func openHistory(cfg *config.HistoryConfig, log logx.Logger) (history.Store, error) {
	if cfg == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("history.busy_timeout", cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return history.Open(history.Config{
		Driver:      cfg.Driver,
		Path:        cfg.Path,
		BusyTimeout: busy,
	}, log)
}

// Done is closed when the app supervisor context is canceled.
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
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if len(cfg.Telegram.OwnerUserIDs) == 0 {
			return fmt.Errorf("telegram.owner_user_ids must not be empty")
		}
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if cfg.History != nil {
			if _, err := config.ParseDurationField("history.retention", cfg.History.Retention); err != nil {
				return err
			}
			if _, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout); err != nil {
				return err
			}
		}
		return nil
	})

	// Rebuild scheduling state from the durable snapshot. Past-due
	// deliveries fire immediately once the dispatch path is live.
	a.state.Load()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sched.Rebuild(a.state.Deliveries.ListPending())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.watchEvents()
	a.watchConfig()
	a.startMaintenance()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// watchEvents logs delivery lifecycle events from the bus.
func (a *App) watchEvents() {
	sub, unsub := a.bus.Subscribe(32)
	a.sup.Go0("events.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				a.log.Debug("delivery event", logx.String("type", ev.Type))
			}
		}
	})
}

// watchConfig applies hot-reloaded config to the live services.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer, more := <-sub:
						if !more {
							break drain
						}
						newCfg = newer
					default:
						break drain
					}
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
				a.log.Info("config applied")
			}
		}
	})
}

// startMaintenance runs the history retention job on a cron schedule.
func (a *App) startMaintenance() {
	cfg := a.cfgm.Get()
	if a.hist == nil || cfg.History == nil {
		return
	}
	retention, err := config.ParseDurationField("history.retention", cfg.History.Retention)
	if err != nil || retention <= 0 {
		return
	}
	spec := cfg.History.PruneSchedule
	if spec == "" {
		spec = "@daily"
	}

	a.maint = cron.New()
	_, err = a.maint.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := a.hist.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			a.log.Warn("history prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("history pruned", logx.Int("dropped", n))
		}
	})
	if err != nil {
		a.log.Warn("invalid history.prune_schedule; retention job disabled",
			logx.String("spec", spec), logx.Err(err))
		a.maint = nil
		return
	}
	a.maint.Start()
	a.log.Info("maintenance cron started", logx.String("spec", spec))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	step("maintenance", time.Second, func(context.Context) error {
		if a.maint != nil {
			<-a.maint.Stop().Done()
		}
		return nil
	})
	step("scheduler", time.Second, func(context.Context) error {
		a.sched.Stop()
		return nil
	})
	step("state.flush", 2*time.Second, func(context.Context) error {
		a.state.Flush()
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("history", time.Second, func(context.Context) error {
		if a.hist != nil {
			return a.hist.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
