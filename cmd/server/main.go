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

	"adops-service/config"
	"adops-service/internal/api"
	"adops-service/internal/broker"
	"adops-service/internal/redisclient"
	"adops-service/internal/service"
	"adops-service/internal/store"
	"adops-service/internal/tenant"
	"adops-service/internal/util"
	"adops-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting adops service")

	tp, err := util.InitTracer("adops-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.CatalogSchema)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	resolver := tenant.NewResolver(db, redisClient)
	sessionValidator := service.NewRedisSessionValidator(redisClient, db)
	activityLogger := service.NewKafkaActivityLogger(eventPublisher)
	notifier := service.NewLogNotifier()

	reservationService := service.NewReservationService(db, redisClient, eventPublisher, cfg.Business.DefaultHoldHours)
	approvalService := service.NewApprovalService(db, reservationService, eventPublisher, activityLogger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	expiryWorker := worker.NewExpiryWorker(
		redisClient,
		reservationService,
		time.Duration(cfg.Business.SweepIntervalSeconds)*time.Second,
		cfg.Business.SweepBatchSize,
	)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Expiry worker error: %v", err)
		}
	}()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, notifier)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reservationService, approvalService, sessionValidator, resolver, activityLogger)
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
	notificationWorker.Stop()

	log.Println("Server exited")
}
