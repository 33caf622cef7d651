package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fjod/go_cart/reservation-service/internal/cache"
	"github.com/fjod/go_cart/reservation-service/internal/config"
	"github.com/fjod/go_cart/reservation-service/internal/consumer"
	"github.com/fjod/go_cart/reservation-service/internal/feed"
	rgrpc "github.com/fjod/go_cart/reservation-service/internal/grpc"
	h "github.com/fjod/go_cart/reservation-service/internal/http"
	"github.com/fjod/go_cart/reservation-service/internal/metrics"
	"github.com/fjod/go_cart/reservation-service/internal/notification"
	"github.com/fjod/go_cart/reservation-service/internal/publisher"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/fjod/go_cart/reservation-service/internal/service"
	"github.com/fjod/go_cart/reservation-service/pkg/logger"
)

const serviceName = "reservation-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(serviceName, "info")
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.New(serviceName, cfg.LogLevel)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if err := run(cfg); err != nil {
		slog.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("reservation-service starting...")
	var wg sync.WaitGroup

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Postgres
	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(&cfg.DB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations completed")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(startupCtx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	// MongoDB
	mongoDB, err := notification.ConnectMongoDB(startupCtx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoDB.Client().Disconnect(ctx); err != nil {
			slog.Error("error disconnecting mongodb", "error", err)
		}
	}()

	store := notification.NewMongoStore(mongoDB)
	if err := store.CreateIndexes(startupCtx); err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}

	m := metrics.New()
	cartCache := cache.NewRedisCache(redisClient)
	changeFeed := feed.NewRedisFeed(redisClient)

	carts := service.NewCartService(repo, cartCache, m)
	catalog := service.NewCatalogService(repo)
	notifications := service.NewNotificationService(store, changeFeed, m)
	reservations := service.NewReservationService(repo, cartCache, m, service.ReservationConfig{
		AdminProfileIDs:     cfg.AdminProfileIDs,
		AdminStatusOverride: cfg.AdminStatusOverride,
		OrphanGrace:         cfg.OrphanGrace,
	})

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Outbox relay: Kafka when brokers are configured, in-process delivery otherwise
	var sink publisher.Sink
	var kafkaConsumer *consumer.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		sink = publisher.NewKafkaSink(cfg.KafkaTopic, cfg.KafkaBrokers...)
		kafkaConsumer = consumer.NewConsumer(notifications, cfg.KafkaTopic, cfg.KafkaBrokers...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			kafkaConsumer.Run(bgCtx)
		}()
		slog.Info("notifications relayed through kafka", "topic", cfg.KafkaTopic)
	} else {
		sink = publisher.NewDirectSink(notifications)
		slog.Info("notifications delivered in-process")
	}

	poller := publisher.NewOutboxPoller(repo, sink, reservations, m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(bgCtx)
	}()

	pingRedis := func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	// gRPC health
	healthReporter := rgrpc.NewHealthReporter(map[string]rgrpc.Check{
		"postgres": repo.Ping,
		"redis":    pingRedis,
		"mongodb":  store.Ping,
	}, 0)
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthReporter.Run(bgCtx)
	}()

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen on grpc port: %w", err)
	}
	grpcServer := rgrpc.NewServer(healthReporter)
	go func() {
		slog.Info("gRPC health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
		}
	}()

	// HTTP
	router := h.NewRouter(h.RouterConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        m,
		HealthChecks: map[string]h.HealthCheck{
			"postgres": repo.Ping,
			"redis":    pingRedis,
			"mongodb":  store.Ping,
		},
	}, h.Handlers{
		Carts:         h.NewCartHandler(carts, cfg.RequestTimeout),
		Reservations:  h.NewReservationHandler(reservations, cfg.RequestTimeout),
		Notifications: h.NewNotificationHandler(notifications, cfg.RequestTimeout, cfg.WSOriginPatterns...),
		Products:      h.NewProductHandler(catalog, cfg.RequestTimeout),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// hijacked websocket streams outlive Shutdown; they end when bgCtx is cancelled
		BaseContext: func(net.Listener) context.Context { return bgCtx },
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-quit:
	case runErr = <-serverErr:
	}

	slog.Info("shutting down reservation-service...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	bgCancel()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		slog.Info("background workers stopped cleanly")
	case <-shutdownCtx.Done():
		slog.Warn("background workers didn't stop in time")
	}

	if kafkaConsumer != nil {
		kafkaConsumer.Close()
	}
	if err := sink.Close(); err != nil {
		slog.Error("error closing outbox sink", "error", err)
	}
	slog.Info("reservation-service stopped")
	return runErr
}
