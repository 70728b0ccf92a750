package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amifistore/cekot-sub000/internal/config"
	"github.com/amifistore/cekot-sub000/internal/engine"
	"github.com/amifistore/cekot-sub000/internal/handler"
	"github.com/amifistore/cekot-sub000/internal/infrastructure/cache"
	"github.com/amifistore/cekot-sub000/internal/infrastructure/database"
	"github.com/amifistore/cekot-sub000/internal/infrastructure/lock"
	"github.com/amifistore/cekot-sub000/internal/infrastructure/mq"
	"github.com/amifistore/cekot-sub000/internal/job"
	"github.com/amifistore/cekot-sub000/internal/provider"
	"github.com/amifistore/cekot-sub000/internal/service"
	"github.com/amifistore/cekot-sub000/internal/webhook"
	"github.com/amifistore/cekot-sub000/pkg/idgen"
)

func main() {
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ids, err := idgen.New(1)
	if err != nil {
		log.Fatalf("idgen: %v", err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	log.Printf("database ready: driver=%s", cfg.Database.Driver)

	// Per-order serialization. With Redis configured the lock survives a
	// split between the API process and the webhook listener; without it the
	// in-process lock covers the single-writer deployment.
	var locker lock.Locker
	if cfg.Redis.Host != "" {
		redisClient, err := cache.Connect(&cfg.Redis)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, "order:lock:")
		log.Println("redis lock ready")
	} else {
		locker = lock.NewKeyedMutex()
		log.Println("using in-process order locks")
	}

	kafkaSender, err := mq.NewKafkaSender(&cfg.Kafka)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	defer kafkaSender.Close()

	audit, err := webhook.NewAuditLog(cfg.Webhook.AuditLogPath)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}

	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.DispatchTimeout())

	eng := engine.New(db, cfg, locker, providerClient, ids)
	walletService := service.NewWalletService(db, ids)
	topupService := service.NewTopupService(db, ids)
	catalogService := service.NewCatalogService(db, providerClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := job.NewReconciler(db, providerClient, eng, cfg)
	go reconciler.Start(ctx)
	// Immediate pass so orders stranded by a previous run (including DEBITED
	// ones that never reached dispatch) are resolved before the first
	// interval elapses.
	go reconciler.Tick(ctx)

	notifySender := job.NewNotifySender(db, kafkaSender, cfg)
	go notifySender.Start(ctx)

	h := handler.NewHandler(db, cfg, eng, walletService, topupService, catalogService, audit)
	router := handler.SetupRouter(h, cfg)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("listening on :%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	log.Println("bye")
}
