package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/wenwu/saas-platform/access-service/internal/catalog"
	"github.com/wenwu/saas-platform/access-service/internal/client"
	"github.com/wenwu/saas-platform/access-service/internal/config"
	"github.com/wenwu/saas-platform/access-service/internal/credential"
	"github.com/wenwu/saas-platform/access-service/internal/db"
	"github.com/wenwu/saas-platform/access-service/internal/http"
	"github.com/wenwu/saas-platform/access-service/internal/logging"
	"github.com/wenwu/saas-platform/access-service/internal/metrics"
	"github.com/wenwu/saas-platform/access-service/internal/repository"
	"github.com/wenwu/saas-platform/access-service/internal/scheduler"
	"github.com/wenwu/saas-platform/access-service/internal/service"
	"github.com/wenwu/saas-platform/access-service/internal/telegram"
)

func main() {
	log.Println("Starting Access Service...")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	out, closer := logging.Setup(cfg.LogFile)
	defer closer.Close()
	log.SetOutput(out)
	gin.DefaultWriter = out

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	if cfg.CatalogFile != "" {
		seed, err := catalog.ReadSeedFile(cfg.CatalogFile)
		if err != nil {
			log.Fatalf("Failed to read catalog: %v", err)
		}
		if err := seed.Apply(ctx, store); err != nil {
			log.Fatalf("Failed to seed catalog: %v", err)
		}
	}
	cat, err := catalog.Load(ctx, store)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	m := metrics.New()

	// Initialize clients
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatalf("Failed to connect to Telegram: %v", err)
	}
	log.Printf("[Telegram] Authorized as @%s", api.Self.UserName)
	notifier := telegram.NewNotifier(api, cfg.Telegram.AdminChatID)

	nodeClient := client.NewNodeClient(client.NodeClientConfig{
		Port:    cfg.Node.APIPort,
		Secret:  cfg.Node.SharedSecret,
		Timeout: cfg.Node.Timeout,
	}, notifier, m)

	// Initialize services
	workflow := service.NewWorkflow(service.WorkflowDeps{
		Store:     store,
		Catalog:   cat,
		Node:      nodeClient,
		QuietNode: nodeClient.Quiet(),
		Notifier:  notifier,
		Approver:  notifier,
		Encoder:   credential.NewQREncoder(),
		Metrics:   m,
		HelpURL:   cfg.Telegram.HelpURL,
	})
	sweeper := service.NewSweeper(store, nodeClient, notifier, m, cfg.Store.Retention)

	bot := telegram.NewBot(api, cfg.Telegram.AdminChatID, workflow)
	go func() {
		if err := bot.Run(ctx); err != nil {
			log.Printf("[Telegram] Bot stopped: %v", err)
		}
	}()

	var sched *scheduler.Scheduler
	if !cfg.Schedule.DisableCrons {
		sched, err = scheduler.New(sweeper, cfg.Schedule.GrantSweep, cfg.Schedule.RequestReap)
		if err != nil {
			log.Fatalf("Failed to schedule jobs: %v", err)
		}
		sched.Start()
	} else {
		log.Println("[Scheduler] Cron jobs disabled")
	}

	// Initialize HTTP server
	server := http.NewServer(cfg, http.NewHandler(cat, workflow, sweeper), m)
	srv := &nethttp.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}

	log.Println("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.Store.Driver == config.StoreDriverBBolt {
		log.Printf("[store] Using bbolt at %s", cfg.Store.BoltPath)
		st, err := repository.OpenBBolt(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}

	if cfg.Store.Migrate {
		if err := db.Migrate(&cfg.Database); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresStore(pool), nil
}
