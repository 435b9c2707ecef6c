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

	"agrihub/config"
	"agrihub/internal/api"
	"agrihub/internal/broker"
	"agrihub/internal/identity"
	"agrihub/internal/models"
	"agrihub/internal/redisclient"
	"agrihub/internal/service"
	"agrihub/internal/store"
	"agrihub/internal/syncengine"
	"agrihub/internal/util"
	"agrihub/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting agrihub service")

	tp, err := util.InitTracer("agrihub", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Local store connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicChanges)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	publisher := broker.NewChangePublisher(producer, cfg.Server.NodeID)

	ledger := service.NewPriceLedger(db, redisClient, cfg.Business.VolatilityThreshold)
	registry := service.NewListingRegistry(db)
	profiles := service.NewProfileService(db, registry)
	export := service.NewExportService(db, db, profiles)
	provider := identity.NewProvider(cfg.Auth.ProviderURL)

	ctx := context.Background()
	seeded, err := db.SeedPricesIfEmpty(ctx, models.SeedPrices)
	if err != nil {
		log.Printf("Failed to seed prices: %v", err)
	} else if seeded {
		log.Printf("Seeded %d market prices", len(models.SeedPrices))
	}

	engine := syncengine.NewEngine(db, publisher, redisClient,
		time.Duration(cfg.Business.SyncPushIntervalSec)*time.Second)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		if err := engine.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Printf("Sync engine error: %v", err)
		}
	}()

	syncConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicChanges, cfg.Kafka.SyncGroup)
	syncWorker := worker.NewSyncWorker(syncConsumer, db, redisClient, cfg.Server.NodeID)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil {
			log.Printf("Sync worker error: %v", err)
		}
	}()

	fanoutConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicChanges, cfg.Kafka.FanoutGroup)
	fanoutWorker := worker.NewFanoutWorker(fanoutConsumer, registry)
	go func() {
		if err := fanoutWorker.Start(workerCtx); err != nil {
			log.Printf("Fan-out worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(ledger, registry, profiles, export, provider, db, engine,
		cfg.Auth.JWTSecret, cfg.Business.LogoutPolicy)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	syncWorker.Stop()
	fanoutWorker.Stop()

	log.Println("Server exited")
}
