package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcstore/config"
	"mcstore/internal/api"
	"mcstore/internal/auth"
	"mcstore/internal/broker"
	"mcstore/internal/mailer"
	"mcstore/internal/paypalclient"
	"mcstore/internal/pluginclient"
	"mcstore/internal/redisclient"
	"mcstore/internal/service"
	"mcstore/internal/store"
	"mcstore/internal/util"
	"mcstore/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "mcstore"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting mcstore", zap.String("env", cfg.Server.Env))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Refusing to start with insecure configuration", zap.Error(err))
	}

	tp, err := util.InitTracer("mcstore", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	var orderProducer, deliveryProducer *broker.Producer
	if cfg.Kafka.Enabled {
		orderProducer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer orderProducer.Close()
		deliveryProducer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDelivery)
		defer deliveryProducer.Close()
		logger.Info("Kafka producers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		logger.Info("KAFKA_BROKERS not set, domain events are disabled")
	}
	eventPublisher := broker.NewEventPublisher(orderProducer, deliveryProducer)

	plugin := pluginclient.NewClient(cfg.Plugin.URL, cfg.Plugin.Secret, cfg.Plugin.Timeout)
	if !plugin.Configured() {
		logger.Warn("WEBHOOK_SECRET not set, in-game delivery and account linking are disabled")
	}

	var gateway service.PayPalGateway
	paypal, err := paypalclient.NewClient(
		cfg.PayPal.ClientID,
		cfg.PayPal.Secret,
		paypalclient.APIBase(cfg.PayPal.Mode),
		cfg.PayPal.ReturnURL,
		cfg.PayPal.CancelURL,
	)
	switch {
	case err == nil:
		gateway = paypal
	case errors.Is(err, paypalclient.ErrNotConfigured):
		logger.Warn("PayPal credentials not set, PayPal checkout is disabled")
	default:
		logger.Fatal("Failed to initialize PayPal client", zap.Error(err))
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	hasher := auth.NewBcrypt(bcrypt.DefaultCost)
	resetMailer := mailer.NewMailer(cfg.Mail)

	converter := service.NewCurrencyConverter(cfg.Business.FXAPIURL, redisClient, cfg.Business.FXCacheTTL, util.NewHTTPClient(10*time.Second))
	paymentService := service.NewPaymentService(gateway, cfg.Business.SimulatedPaymentDelay)
	deliveryService := service.NewDeliveryService(db, plugin)

	var deliverer service.Deliverer = deliveryService
	if cfg.Business.DeliveryAsync {
		deliverer = broker.NewDeliveryPublisher(eventPublisher)
	}

	orderService := service.NewOrderService(db, paymentService, converter, deliverer, redisClient, eventPublisher, service.OrderOptions{
		BaseCurrency:   cfg.Business.BaseCurrency,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	})
	chatService := service.NewChatService(db, redisClient, eventPublisher, cfg.Business.GuestChatLimit, cfg.Business.GuestChatWindow)
	userService := service.NewUserService(db, hasher, tokens, resetMailer, plugin)
	catalogService := service.NewCatalogService(db)
	serverService := service.NewServerService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var deliveryWorker *worker.DeliveryWorker
	if cfg.Business.DeliveryAsync {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicDelivery, cfg.Kafka.ConsumerGroup)
		deliveryWorker = worker.NewDeliveryWorker(consumer, db, deliveryService)
		go func() {
			if err := deliveryWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Delivery worker stopped", zap.Error(err))
			}
		}()
		logger.Info("Asynchronous delivery enabled", zap.String("topic", cfg.Kafka.TopicDelivery))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Orders:     orderService,
		Chat:       chatService,
		Users:      userService,
		Catalog:    catalogService,
		Server:     serverService,
		Tokens:     tokens,
		UserLoader: db,
		Readiness: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
		StatsSecret:    cfg.Auth.StatsSecret,
		AllowedOrigins: []string{cfg.Server.FrontendURL},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
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
	if deliveryWorker != nil {
		if err := deliveryWorker.Stop(); err != nil {
			logger.Warn("Error closing delivery consumer", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
