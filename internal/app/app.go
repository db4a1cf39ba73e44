// Package app wires the bot together: config, logging, storage, the
// scheduler core, the generation pipeline and the Telegram transport.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/executor"
	"schedbot/internal/generator"
	"schedbot/internal/scheduler"
	"schedbot/internal/store"
	"schedbot/internal/telegram"
	"schedbot/pkg/logx"
	"schedbot/pkg/systemd"
)

// App owns the lifecycle of every subsystem. Construction wires, Start
// launches, Stop tears down in reverse order.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store *store.Store
	gen   *generator.Client
	bot   *telegram.Bot
	pipe  *executor.Pipeline
	sched *scheduler.Service

	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath, logx.Logger{})
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout),
	}, log.With(logx.String("component", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	gen, err := generator.New(generator.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: float32(cfg.OpenAI.Temperature),
	}, log.With(logx.String("component", "generator")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("generator: %w", err)
	}

	bot, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout),
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("component", "telegram")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	pipe := executor.New(executor.Config{
		ResponseMaxChars: cfg.Limits.ResponseMaxChars,
		RetryMax:         cfg.OpenAI.MaxRetries,
		RetryBase:        config.MustDuration(cfg.OpenAI.RetryBase),
		RetryMaxDelay:    config.MustDuration(cfg.OpenAI.RetryMaxDelay),
	}, st, gen, bot, log.With(logx.String("component", "executor")))

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone},
		st, pipe, log.With(logx.String("component", "scheduler")))
	pipe.BindTriggers(sched)

	router := telegram.NewRouter(bot, sched, gen, telegram.RouterOptions{
		DefaultTZ:        cfg.Scheduler.Timezone,
		MaxPromptChars:   cfg.Limits.MaxPromptChars,
		ResponseMaxChars: cfg.Limits.ResponseMaxChars,
	}, log.With(logx.String("component", "router")))
	router.Register()

	return &App{
		cfgMgr: cfgMgr,
		logSvc: logSvc,
		log:    log,
		store:  st,
		gen:    gen,
		bot:    bot,
		pipe:   pipe,
		sched:  sched,
	}, nil
}

// Start recovers persisted tasks, arms their triggers and begins polling
// Telegram. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.cfgMgr.Watch(watchCtx, a.applyReload)
		if err != nil && watchCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.bot.Start()
	}()

	systemd.NotifyReady()
	a.log.Info("bot started")
	return nil
}

// Stop shuts subsystems down in reverse start order. New triggers stop
// firing first, then polling ends and storage closes.
func (a *App) Stop(ctx context.Context) {
	systemd.NotifyStopping()
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.sched.Stop(ctx)
	a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out waiting for workers")
	case <-time.After(10 * time.Second):
		a.log.Warn("shutdown timed out waiting for workers")
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("bot stopped")
	_ = a.logSvc.Close()
}

// applyReload propagates the safely-changeable parts of a reloaded config.
// Schedule defaults and connection settings need a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.pipe.SetRetryPolicy(cfg.OpenAI.MaxRetries,
		config.MustDuration(cfg.OpenAI.RetryBase),
		config.MustDuration(cfg.OpenAI.RetryMaxDelay))
}
