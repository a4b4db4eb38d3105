package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Kerhoff/tripbot/internal/api"
	"github.com/Kerhoff/tripbot/internal/config"
	"github.com/Kerhoff/tripbot/internal/handlers"
	"github.com/Kerhoff/tripbot/internal/metrics"
	"github.com/Kerhoff/tripbot/internal/notify"
	"github.com/Kerhoff/tripbot/internal/repository"
	"github.com/Kerhoff/tripbot/internal/repository/memory"
	"github.com/Kerhoff/tripbot/internal/repository/postgres"
	"github.com/Kerhoff/tripbot/internal/service"
	"github.com/Kerhoff/tripbot/internal/telegram"
	"github.com/Kerhoff/tripbot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.New(cfg.LogLevel, cfg.LogFormat)
	l.Info("Starting tripbot...")

	// Storage
	var store repository.Store
	switch cfg.Storage {
	case config.StorageMemory:
		l.Warn("Using in-memory storage, data is lost on restart")
		store = memory.NewStore()
	default:
		db, err := config.NewDatabase(cfg.DatabaseURL, l)
		if err != nil {
			l.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(cfg.MigrationsPath); err != nil {
			l.Fatalf("Failed to run migrations: %v", err)
		}
		store = postgres.NewStore(db.DB)
	}

	m := metrics.New()

	// Telegram bot
	var bot *telegram.Bot
	var sender notify.Sender = notify.LogSender{Logger: l}
	if cfg.BotEnabled() {
		bot, err = telegram.NewBot(cfg.TelegramToken, l)
		if err != nil {
			l.Fatalf("Failed to create Telegram bot: %v", err)
		}
		sender = notify.NewTelegramSender(bot.API())
	} else {
		l.Warn("TELEGRAM_TOKEN is not set, running without the bot")
	}

	dispatcher := notify.NewDispatcher(store, sender, notify.Options{
		QueueSize:     cfg.NotifyQueueSize,
		Rate:          cfg.NotifyRate,
		RetryInterval: cfg.NotifyRetryInterval,
	}, l, m)

	svc := service.New(store, dispatcher, l, service.WithMetrics(m))

	scheduler := svc.NewLifecycleScheduler(service.SchedulerOptions{
		Interval:    cfg.SchedulerInterval,
		Concurrency: cfg.SchedulerConcurrency,
		BatchSize:   cfg.SchedulerBatchSize,
	})

	if bot != nil {
		registerCommands(bot, svc, l)
		if err := bot.PublishCommands(handlers.Descriptions); err != nil {
			l.WithError(err).Warn("Failed to publish command menu")
		}
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(svc, l).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              ":" + cfg.PrometheusPort,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		scheduler.Run(ctx)
		return nil
	})
	if bot != nil {
		g.Go(func() error {
			return bot.Start(ctx)
		})
	}
	for name, srv := range map[string]*http.Server{"api": apiServer, "metrics": metricsServer} {
		g.Go(func() error {
			l.Infof("%s server listening on %s", name, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		l.Info("Shutting down HTTP servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), metricsServer.Shutdown(shutdownCtx))
	})

	l.Info("tripbot started successfully")

	if err := g.Wait(); err != nil {
		l.WithError(err).Error("tripbot stopped with error")
		return
	}
	l.Info("tripbot stopped")
}

func registerCommands(bot *telegram.Bot, svc *service.Service, l *logrus.Logger) {
	bot.RegisterCommand("start", handlers.NewStartHandler(svc, l))
	bot.RegisterCommand("help", handlers.NewHelpHandler(l))

	// Plans
	bot.RegisterCommand("newplan", handlers.NewCreatePlanHandler(svc, l))
	bot.RegisterCommand("plans", handlers.NewPlansHandler(svc, l))
	bot.RegisterCommand("myplan", handlers.NewMyPlanHandler(svc, l))
	bot.RegisterCommand("plan", handlers.NewPlanHandler(svc, l))
	bot.RegisterCommand("history", handlers.NewHistoryHandler(svc, l))
	bot.RegisterCommand("members", handlers.NewMembersHandler(svc, l))
	bot.RegisterCommand("pending", handlers.NewPendingHandler(svc, l))

	// Membership
	bot.RegisterCommand("apply", handlers.NewApplyHandler(svc, l))
	bot.RegisterCommand("withdraw", handlers.NewWithdrawHandler(svc, l))
	bot.RegisterCommand("invite", handlers.NewInviteHandler(svc, l))
	bot.RegisterCommand("approve", handlers.NewDecideApplicationHandler(svc, service.Accept, l))
	bot.RegisterCommand("reject", handlers.NewDecideApplicationHandler(svc, service.Refuse, l))
	bot.RegisterCommand("join", handlers.NewRespondInvitationHandler(svc, service.Accept, l))
	bot.RegisterCommand("decline", handlers.NewRespondInvitationHandler(svc, service.Refuse, l))

	// Owner actions
	bot.RegisterCommand("startplan", handlers.NewPlanActionHandler(svc, handlers.ActionStart, l))
	bot.RegisterCommand("completeplan", handlers.NewPlanActionHandler(svc, handlers.ActionComplete, l))
	bot.RegisterCommand("cancelplan", handlers.NewPlanActionHandler(svc, handlers.ActionCancel, l))

	// Profile
	bot.RegisterCommand("email", handlers.NewEmailHandler(svc, l))
	bot.RegisterCommand("inbox", handlers.NewInboxHandler(svc, l))
}
