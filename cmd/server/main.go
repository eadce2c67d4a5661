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

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.MigrationsEnabled {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicCheckout))

	eventPublisher := broker.NewEventPublisher(producer)

	inventory := service.NewInventoryLedger()
	pricing := service.NewPricingEngine(cfg.Checkout, service.NewCouponValidator())
	materializer := service.NewOrderMaterializer(db, inventory, eventPublisher)
	paymentService := service.NewPaymentService(db, pricing, inventory, materializer,
		redisClient, redisClient, eventPublisher, cfg.Checkout)
	orderService := service.NewOrderService(db, inventory, eventPublisher)
	cartService := service.NewCartService(db, pricing, inventory)
	couponService := service.NewCouponService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	gatewayConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicGatewayEvents, cfg.Kafka.ConsumerGroup)
	gatewayWorker := worker.NewGatewayWorker(gatewayConsumer, paymentService)
	go func() {
		if err := gatewayWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Gateway worker error", zap.Error(err))
		}
	}()

	sweeper := worker.NewSweeper(paymentService, cfg.Checkout.SweepInterval)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Payment sweeper error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(paymentService, orderService, cartService, couponService, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := gatewayWorker.Stop(); err != nil {
		logger.Warn("Error stopping gateway worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
