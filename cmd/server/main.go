package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"trading/cmd/server/config"
	grpcadapter "trading/internal/adapters/grpc"
	httpapi "trading/internal/adapters/http"
	natsadapter "trading/internal/adapters/nats"
	"trading/internal/auth"
	"trading/internal/messaging"
	"trading/internal/observability"
	"trading/internal/realtime"
	"trading/internal/reliability"
	"trading/internal/trading"
	"trading/internal/trading/saga"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obsCfg, err := config.LoadObservability()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(obsCfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, logger, obsCfg); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type settings struct {
	queues config.QueuesConfig
	retry  config.RetryConfig
	outbox config.OutboxConfig
	grpc   config.GRPCConfig
	http   config.HTTPConfig
	auth   config.AuthConfig
	broker config.BrokerConfig
	nats   config.NATSConfig
}

func loadSettings() (settings, error) {
	var s settings
	var err error
	if s.queues, err = config.LoadQueues(); err != nil {
		return s, err
	}
	if s.retry, err = config.LoadRetry(); err != nil {
		return s, err
	}
	if s.outbox, err = config.LoadOutbox(); err != nil {
		return s, err
	}
	if s.grpc, err = config.LoadGRPC(); err != nil {
		return s, err
	}
	if s.http, err = config.LoadHTTP(); err != nil {
		return s, err
	}
	if s.auth, err = config.LoadAuth(); err != nil {
		return s, err
	}
	if s.broker, err = config.LoadBroker(); err != nil {
		return s, err
	}
	if s.nats, err = config.LoadNATS(); err != nil {
		return s, err
	}
	return s, nil
}

// consumerRetry retries transient failures at a fixed interval and gives up
// immediately on permanent ones.
func consumerRetry(cfg config.RetryConfig) reliability.RetryPolicy {
	return reliability.FixedInterval(cfg.MaxAttempts, cfg.Interval, func(err error) bool {
		return !trading.IsPermanent(err) && reliability.DefaultShouldRetry(err)
	})
}

func run(ctx context.Context, logger *zap.Logger, obsCfg config.ObservabilityConfig) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	// Kafka deployments still use Redis for status fan-out when it is configured.
	var redisClient *redis.Client
	var redisCfg config.RedisConfig
	if s.broker.Kind == config.BrokerRedis || os.Getenv("REDIS_URL") != "" {
		if redisCfg, err = config.LoadRedis(); err != nil {
			return err
		}
		if redisClient, err = buildRedisClient(ctx, redisCfg); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
	}

	store, closeStore, err := buildSagaStore(ctx, config.LoadPostgres(), logger)
	if err != nil {
		return err
	}
	defer closeStore()
	catalogRepo, closeCatalog, err := buildCatalog(ctx, config.LoadMongo(), logger)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer closeCatalog()

	metrics := observability.NewMetrics()
	collectors := observability.NewCollectors(metrics)

	hub := realtime.NewHub(logger.Named("hub"))
	var notifier saga.Notifier = hub
	if redisClient != nil {
		notifier = realtime.NewRedisNotifier(redisClient)
	}

	routes := trading.NewRoutes(s.queues.GrantItems, s.queues.DebitGil, s.queues.SubtractItems)
	machine := trading.NewMachine(trading.NewPurchaseTotalActivity(catalogRepo), routes, nil)
	engine := trading.NewEngine(store, machine,
		trading.WithNotifier(notifier),
		trading.WithRecorder(collectors),
		trading.WithLogger(logger.Named("saga")),
	)

	b := buildBus(s.broker, redisClient, redisCfg, messaging.ConsumerOptions{
		Sources:  s.queues.SagaSources,
		Retry:    consumerRetry(s.retry),
		Logger:   logger.Named("consumer"),
		Recorder: collectors,
	}, logger)
	defer b.close()

	relay := messaging.NewRelay(store, b.publisher, messaging.RelayOptions{
		Interval:  s.outbox.Interval,
		BatchSize: s.outbox.BatchSize,
		Breaker: &reliability.CircuitBreakerConfig{
			MaxFailures:  s.outbox.BreakerFailures,
			ResetTimeout: s.outbox.BreakerReset,
		},
		Logger:   logger.Named("outbox"),
		Recorder: collectors,
	})

	queries := trading.NewQueryResponder(store)
	purchases := trading.NewPurchaseService(b.publisher, s.queues.PurchaseRequests, queries)
	verifier := auth.NewVerifier(s.auth.Secret, s.auth.Issuer, s.auth.Audience)

	httpSrv := &http.Server{
		Addr: s.http.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Purchases:  purchases,
			Catalog:    catalogRepo,
			Verifier:   verifier,
			Hub:        hub.Handler(verifier, s.http.AllowedOrigins...),
			Metrics:    metrics,
			Collectors: collectors,
			Logger:     logger.Named("http"),
		}),
	}
	obsSrv := &http.Server{Addr: obsCfg.Addr, Handler: observability.Mux(metrics, collectors)}

	limiter := reliability.NewRateLimiter(s.grpc.RateLimitInterval, s.grpc.RateLimitBurst, metrics.AddRateLimitWait)
	observer := callObserver{metrics: metrics, collectors: collectors, logger: logger.Named("grpc")}
	grpcSrv := grpcpkg.NewServer(
		grpcpkg.UnaryInterceptor(rateLimitUnaryInterceptor(limiter, observer)),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(limiter, observer)),
	)
	grpcadapter.RegisterPurchaseServiceServer(grpcSrv, grpcadapter.NewPurchaseServer(purchases, verifier))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthServer)
	setServing := func(st healthpb.HealthCheckResponse_ServingStatus) {
		healthServer.SetServingStatus(grpcadapter.ServiceName, st)
		healthServer.SetServingStatus("", st)
	}
	setServing(healthpb.HealthCheckResponse_SERVING)

	if env := os.Getenv("APP_ENV"); env != "production" {
		reflection.Register(grpcSrv)
		logger.Info("gRPC reflection enabled", zap.String("app_env", env))
	}

	lis, err := net.Listen("tcp", s.grpc.Addr)
	if err != nil {
		return err
	}

	var natsConn *nats.Conn
	if s.nats.URL != "" {
		if natsConn, err = nats.Connect(s.nats.URL, nats.Name("trading")); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer natsConn.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if redisClient != nil {
		g.Go(func() error { return realtime.Forward(gctx, redisClient, hub, logger.Named("forward")) })
	}
	g.Go(func() error { return b.subscriber.Subscribe(gctx, engine.HandleMessage) })
	g.Go(func() error { return relay.Run(gctx) })
	if natsConn != nil {
		responder := natsadapter.NewResponder(queries, s.nats.Timeout, logger.Named("nats"))
		g.Go(func() error { return responder.Serve(gctx, natsConn, s.nats.Subject, s.nats.Queue) })
	}
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", s.grpc.Addr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
		return ignoreClosed(httpSrv.ListenAndServe())
	})
	g.Go(func() error {
		return ignoreClosed(obsSrv.ListenAndServe())
	})
	g.Go(func() error {
		<-gctx.Done()
		setServing(healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.MarkShutdown(metrics.InFlight())
		logger.Info("shutting down", zap.Int64("inflight", metrics.InFlight()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.http.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = obsSrv.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
