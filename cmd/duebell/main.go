package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duebell/internal/checker"
	"duebell/internal/config"
	"duebell/internal/feed"
	"duebell/internal/notify"
	"duebell/internal/reminder"
	"duebell/internal/server"
	"duebell/internal/store"
	"duebell/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./duebell.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	// Console-only logger until the config (which selects the sinks) is in.
	boot := logx.NewConsole("info")

	mgr := config.NewManager(cfgPath)
	mgr.SetLogger(boot.With(logx.String("component", "config")))
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	log, logCloser, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || (!cfg.Logging.File.Enabled),
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	mgr.SetLogger(log.With(logx.String("component", "config")))
	log.Info("starting",
		logx.String("config", cfgPath),
		logx.Bool("admin_api", cfg.Server.Enabled))

	engCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	chkCfg, err := checkerConfig(cfg)
	if err != nil {
		return err
	}

	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	feedTimeout, _ := config.ParseDurationOrDefault("canvas.timeout", cfg.Canvas.Timeout, 10*time.Second)
	feedClient, err := feed.NewClient(feed.Config{
		BaseURL:  cfg.Canvas.BaseURL,
		Token:    cfg.Canvas.Token,
		CourseID: cfg.Canvas.CourseID,
		Timeout:  feedTimeout,
	}, log.With(logx.String("component", "feed")))
	if err != nil {
		return fmt.Errorf("init assignment feed: %w", err)
	}

	channel, err := notify.NewFromConfig(notify.Config{
		Discord:  notify.DiscordConfig{BotToken: cfg.Discord.BotToken, UserID: cfg.Discord.UserID},
		Telegram: notify.TelegramConfig{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID},
	}, log.With(logx.String("component", "notify")))
	if err != nil {
		return fmt.Errorf("init notification channel: %w", err)
	}
	log.Info("notification channel selected", logx.String("channel", channel.Name()))

	engine := reminder.New(engCfg, log.With(logx.String("component", "engine")))
	chk := checker.New(chkCfg, engine, feedClient, st, channel, log.With(logx.String("component", "checker")))
	if err := chk.Start(ctx); err != nil {
		return fmt.Errorf("start check cycle: %w", err)
	}

	var srv *server.Service
	if cfg.Server.Enabled {
		srv = server.New(server.Config{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, chk, log.With(logx.String("component", "server")))
		srv.Start()
	}

	// Hot-reload: offsets, windows and schedules follow the config file.
	go func() {
		if err := mgr.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)
	go func() {
		for range sub {
			// Read the latest committed config rather than the buffered
			// value, so coalesced reload bursts apply only the final state.
			newCfg := mgr.Get()
			if newCfg == nil {
				continue
			}
			ec, err := engineConfig(newCfg)
			if err != nil {
				log.Warn("reloaded config rejected", logx.Err(err))
				continue
			}
			cc, err := checkerConfig(newCfg)
			if err != nil {
				log.Warn("reloaded config rejected", logx.Err(err))
				continue
			}
			engine.Apply(ec)
			if err := chk.Apply(cc); err != nil {
				log.Warn("applying reloaded schedule failed", logx.Err(err))
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if srv != nil {
		_ = srv.Stop(shutdownCtx)
	}
	_ = chk.Stop(shutdownCtx)
	log.Info("shutdown complete")
	return nil
}

func engineConfig(cfg *config.Config) (reminder.Config, error) {
	offsets, err := cfg.Reminders.ParseOffsets()
	if err != nil {
		return reminder.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("reminders.match_window", cfg.Reminders.MatchWindow, reminder.DefaultMatchWindow)
	if err != nil {
		return reminder.Config{}, err
	}
	horizon, err := config.ParseDurationOrDefault("reminders.horizon", cfg.Reminders.Horizon, reminder.DefaultHorizon)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{Offsets: offsets, MatchWindow: window, Horizon: horizon}, nil
}

func checkerConfig(cfg *config.Config) (checker.Config, error) {
	tick, err := config.ParseDurationOrDefault("reminders.tick", cfg.Reminders.Tick, checker.DefaultTick)
	if err != nil {
		return checker.Config{}, err
	}
	retention, err := config.ParseDurationOrDefault("reminders.retention", cfg.Reminders.Retention, checker.DefaultRetention)
	if err != nil {
		return checker.Config{}, err
	}
	cycleTimeout, err := config.ParseDurationOrDefault("reminders.cycle_timeout", cfg.Reminders.CycleTimeout, checker.DefaultCycleTimeout)
	if err != nil {
		return checker.Config{}, err
	}
	return checker.Config{
		Tick:          tick,
		PruneSchedule: cfg.Reminders.PruneSchedule,
		Retention:     retention,
		CycleTimeout:  cycleTimeout,
	}, nil
}
