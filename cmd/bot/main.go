package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nexus-bot/config"
	"nexus-bot/internal/admin"
	"nexus-bot/internal/approval"
	"nexus-bot/internal/assistant"
	"nexus-bot/internal/bot"
	"nexus-bot/internal/db"
	"nexus-bot/internal/logger"
	"nexus-bot/internal/services"
	"nexus-bot/internal/session"
	"nexus-bot/internal/subscription"
	"nexus-bot/internal/workflow"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.L().Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.AppEnv == "development" {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger.Replace(dev)
		}
	}
	defer logger.Sync()
	log := logger.L()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			log.Warn("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: postgres when DATABASE_URL is set, process memory otherwise.
	var (
		gdb          *gorm.DB
		entitlements subscription.EntitlementStore
		stats        admin.Stats
		approvals    approval.Repository
		reminders    services.ReminderStore
	)
	if cfg.DatabaseURL != "" {
		gdb, err = db.InitDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		store := db.NewEntitlementStore(gdb)
		entitlements, stats, reminders = store, store, store
		approvals = db.NewApprovalRepository(gdb)
	} else {
		log.Warn("DATABASE_URL not set, keeping users and approvals in memory")
		store := subscription.NewMemoryStore()
		entitlements, stats = store, store
		approvals = approval.NewMemoryRepository()
	}

	var (
		sessions session.Store
		pruner   services.Pruner
	)
	if cfg.RedisAddr != "" {
		rdb, err := session.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		sessions = session.NewRedisStore(rdb, "nexus", cfg.SessionTTL)
	} else {
		mem := session.NewMemoryStore(cfg.SessionTTL)
		sessions, pruner = mem, mem
	}

	catalog, err := subscription.NewCatalog(cfg.Plans...)
	if err != nil {
		log.Fatal("invalid plan catalog", zap.Error(err))
	}

	botapi, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatal("failed to create bot", zap.Error(err))
	}
	log.Info("authorized", zap.String("username", botapi.Self.UserName))

	transport := bot.NewTransport(botapi)
	logger.InitNotifier(logger.AlertFunc(transport.SendText), cfg.ApproverIDs)

	ledger := subscription.NewLedger(entitlements)
	router := approval.NewRouter(approval.Options{
		Approvers:     cfg.ApproverIDs,
		MinDeliveries: cfg.MinApproverDeliveries,
	}, approvals, ledger, catalog, transport, log)

	agent := assistant.New(assistant.Config{
		OpenAIKey: cfg.OpenAIAPIKey,
		Model:     cfg.OpenAIModel,
		OpenAIURL: cfg.OpenAIURL,
		BingKey:   cfg.BingAPIKey,
		BingURL:   cfg.BingURL,
		Timeout:   cfg.AITimeout,
	}, log)

	flow := workflow.New(workflow.Config{
		PaymentCard:         cfg.PaymentCard,
		CardHolder:          cfg.CardHolder,
		SupportUsername:     cfg.SupportUsername,
		WebAppURL:           cfg.WebAppURL,
		CopilotURL:          cfg.CopilotURL,
		FreeQuestionsPerDay: cfg.FreeQuestionsPerDay,
		SessionTTL:          cfg.SessionTTL,
	}, workflow.Deps{
		Catalog:      catalog,
		Sessions:     sessions,
		Entitlements: entitlements,
		Ledger:       ledger,
		Router:       router,
		Transport:    transport,
		Answerer:     agent,
		Log:          log,
	})

	backup := admin.NewBackup(cfg.BackupDir, cfg.DatabaseURL)
	console := admin.NewConsole(entitlements, stats, approvals, backup)
	handler := bot.NewHandler(flow, console, transport, cfg.IsApprover, log)

	c := cron.New()
	mustSchedule := func(spec string, job func()) {
		if _, err := c.AddFunc(spec, job); err != nil {
			log.Fatal("failed to schedule job", zap.String("spec", spec), zap.Error(err))
		}
	}
	if reminders != nil {
		mustSchedule("0 10 * * *", func() {
			_, _ = services.NotifyExpiringSubscriptions(ctx, reminders, transport, cfg.ExpiryReminderDays, time.Now())
		})
	}
	mustSchedule("@every 1h", func() {
		_, _ = services.ExpireStaleApprovals(ctx, approvals, transport, cfg.ApprovalTTL, time.Now())
	})
	mustSchedule("@every 10m", func() {
		if pruner != nil {
			services.PruneSessions(ctx, pruner)
		}
		handler.ForgetIdle(time.Hour)
	})
	if cfg.DatabaseURL != "" {
		mustSchedule("0 3 * * *", func() { backup.Auto(ctx) })
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if gdb != nil {
			if err := db.Ping(gdb); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.HealthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("health endpoint listening", zap.String("addr", cfg.HealthAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server stopped", err)
		}
	}()

	bot.StartBotWithInstance(ctx, botapi, bot.NewDispatcher(cfg.Workers, handler.HandleUpdate))

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
