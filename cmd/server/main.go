package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"retail-service/config"
	"retail-service/internal/api"
	"retail-service/internal/broker"
	"retail-service/internal/gateway"
	"retail-service/internal/ledger"
	"retail-service/internal/redisclient"
	"retail-service/internal/service"
	"retail-service/internal/store"
	"retail-service/internal/util"
	"retail-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting retail service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer(util.ServiceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	checks := map[string]api.Pinger{}

	var repo store.Repository
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		repo = store.NewMemoryStore()
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Database connected")

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(logger); err != nil {
				logger.Fatal("Failed to run migrations", zap.Error(err))
			}
		}
		repo = db
		checks["database"] = db
	}

	var cache service.IdempotencyCache
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected")
		cache = redisClient
		checks["redis"] = redisClient
	}

	var producer broker.Publisher = broker.NewLogProducer()
	if cfg.Kafka.Enabled {
		kafkaProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer kafkaProducer.Close()
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))
		producer = kafkaProducer
	}
	eventPublisher := broker.NewEventPublisher(producer)

	stockLedger := ledger.New()
	reconciler := service.NewPaymentReconciler(repo, stockLedger, eventPublisher)

	var paymentGateway service.PaymentGateway
	switch cfg.Gateway.Mode {
	case "http":
		paymentGateway = gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.ShortCode, cfg.GatewayTimeout())
	default:
		logger.Warn("Using simulated payment gateway", zap.Float64("success_rate", cfg.Gateway.SimulatedSuccessRate))
		paymentGateway = gateway.NewSimulatedGateway(cfg.Gateway.SimulatedSuccessRate, simulatedSink(reconciler))
	}

	services := api.Services{
		Catalog:    service.NewCatalogService(repo),
		Deliveries: service.NewDeliveryService(repo, stockLedger, eventPublisher),
		POS:        service.NewPOSService(repo, stockLedger, cache, eventPublisher, cfg.IdempotencyTTL()),
		Sales: service.NewSaleService(repo, paymentGateway, eventPublisher, service.SaleConfig{
			Currency:       cfg.Gateway.Currency,
			CallbackURL:    cfg.Gateway.CallbackURL,
			GatewayTimeout: cfg.GatewayTimeout(),
		}),
		Reconciler: reconciler,
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentResults, cfg.Kafka.ConsumerGroup)
		resultWorker := worker.NewPaymentResultWorker(consumer, reconciler)
		g.Go(func() error {
			return ignoreCancel(resultWorker.Start(gctx))
		})
		defer resultWorker.Stop()
	}

	if cfg.Business.SweepEnabled {
		sweeper := service.NewPendingSaleSweeper(repo, eventPublisher, cfg.PendingSaleTimeout())
		sweepWorker := worker.NewSweepWorker(sweeper, cfg.SweepInterval())
		g.Go(func() error {
			return ignoreCancel(sweepWorker.Start(gctx))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

// simulatedSink feeds simulated gateway results back through the reconciler.
// An unknown reference is reported as an error so the gateway delivers again
// once the payment has been recorded.
func simulatedSink(reconciler *service.PaymentReconciler) gateway.ResultSink {
	return func(ctx context.Context, reference string, resultCode int) error {
		result, err := reconciler.HandleNotification(ctx, service.Notification{
			ExternalReferenceID: reference,
			ResultCode:          resultCode,
		})
		if err != nil {
			return err
		}
		if result.Outcome == service.OutcomeUnknownReference {
			return fmt.Errorf("payment %s not recorded yet", reference)
		}
		return nil
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
