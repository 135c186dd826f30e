package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"
)

// RedisConfig holds Redis connection and stream consumer settings.
type RedisConfig struct {
	URL                string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	StreamMaxLen       int64
	ConsumerGroup      string
	ConsumerName       string
	BlockTime          time.Duration
	Workers            int
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// PostgresConfig selects the durable saga store. An empty URL runs in memory.
type PostgresConfig struct {
	DatabaseURL string
}

// MongoConfig selects the catalog read models. An empty URI runs in memory.
type MongoConfig struct {
	URI      string
	Database string
}

// QueuesConfig names the streams or topics the saga reads and writes.
type QueuesConfig struct {
	PurchaseRequests string
	SagaSources      []string
	GrantItems       string
	DebitGil         string
	SubtractItems    string
}

// RetryConfig is the consumer redelivery policy.
type RetryConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

// OutboxConfig tunes the outbox relay.
type OutboxConfig struct {
	Interval        time.Duration
	BatchSize       int
	BreakerFailures int
	BreakerReset    time.Duration
}

// GRPCConfig holds listen address and ingress rate limiting settings.
type GRPCConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// HTTPConfig holds the public API address and the browser origins allowed
// to open the push hub.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr        string
	Development bool
}

// AuthConfig holds access token verification settings.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// BrokerConfig selects the message bus.
type BrokerConfig struct {
	Kind         string
	KafkaBrokers []string
	KafkaGroup   string
}

// NATSConfig enables the request/reply query responder when URL is set.
type NATSConfig struct {
	URL     string
	Subject string
	Queue   string
	Timeout time.Duration
}

const (
	BrokerRedis = "redis"
	BrokerKafka = "kafka"
)

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	var cfg RedisConfig
	var err error

	if cfg.URL, err = requiredString("REDIS_URL"); err != nil {
		return cfg, err
	}
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}
	if cfg.HealthcheckTimeout, err = durationOr("REDIS_HEALTHCHECK_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = int64Or("REDIS_STREAM_MAXLEN", 100000); err != nil {
		return cfg, err
	}
	if cfg.BlockTime, err = durationOr("REDIS_BLOCK_TIME", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = intOr("REDIS_CONSUMER_WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}
	if cfg.TLSConfig, err = loadRedisTLS(); err != nil {
		return cfg, err
	}

	cfg.ConsumerGroup = stringOr("REDIS_CONSUMER_GROUP", "trading-saga")
	cfg.ConsumerName = stringOr("REDIS_CONSUMER_NAME", defaultConsumerName())
	return cfg, nil
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "trading"
	}
	return host
}

// LoadPostgres reads the optional saga store DSN.
func LoadPostgres() PostgresConfig {
	return PostgresConfig{DatabaseURL: env("DATABASE_URL")}
}

// LoadMongo reads the optional catalog read model connection.
func LoadMongo() MongoConfig {
	return MongoConfig{
		URI:      env("MONGO_URI"),
		Database: stringOr("MONGO_DATABASE", "trading"),
	}
}

// LoadQueues reads destination and source names.
func LoadQueues() (QueuesConfig, error) {
	cfg := QueuesConfig{
		PurchaseRequests: stringOr("PURCHASE_REQUESTS_STREAM", "trading-purchases"),
		GrantItems:       stringOr("GRANT_ITEMS_QUEUE", "inventory-grant-items"),
		DebitGil:         stringOr("DEBIT_GIL_QUEUE", "identity-debit-gil"),
		SubtractItems:    stringOr("SUBTRACT_ITEMS_QUEUE", "inventory-subtract-items"),
	}
	cfg.SagaSources = listOr("SAGA_SOURCES", []string{cfg.PurchaseRequests, "inventory-events", "identity-events"})
	if len(cfg.SagaSources) == 0 {
		return cfg, fmt.Errorf("SAGA_SOURCES must name at least one stream")
	}
	return cfg, nil
}

// LoadRetry reads the consumer retry policy. Defaults to 3 attempts 5s apart.
func LoadRetry() (RetryConfig, error) {
	attempts, err := intOr("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return RetryConfig{}, err
	}
	if attempts < 1 {
		return RetryConfig{}, fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	interval, err := durationOr("RETRY_INTERVAL", 5*time.Second)
	if err != nil {
		return RetryConfig{}, err
	}
	return RetryConfig{MaxAttempts: attempts, Interval: interval}, nil
}

// LoadOutbox reads relay settings.
func LoadOutbox() (OutboxConfig, error) {
	var cfg OutboxConfig
	var err error
	if cfg.Interval, err = durationOr("OUTBOX_INTERVAL", 500*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = intOr("OUTBOX_BATCH_SIZE", 100); err != nil {
		return cfg, err
	}
	if cfg.BreakerFailures, err = intOr("OUTBOX_BREAKER_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerReset, err = durationOr("OUTBOX_BREAKER_RESET", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadGRPC reads gRPC listen and rate limit settings from env. A zero
// interval disables rate limiting.
func LoadGRPC() (GRPCConfig, error) {
	interval, err := durationOr("GRPC_RATE_LIMIT_INTERVAL", 0)
	if err != nil {
		return GRPCConfig{}, err
	}
	burst, err := intOr("GRPC_RATE_LIMIT_BURST", 0)
	if err != nil {
		return GRPCConfig{}, err
	}
	return GRPCConfig{
		Addr:              stringOr("GRPC_ADDR", ":50051"),
		RateLimitInterval: interval,
		RateLimitBurst:    burst,
	}, nil
}

// LoadHTTP reads the public API settings.
func LoadHTTP() (HTTPConfig, error) {
	timeout, err := durationOr("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return HTTPConfig{}, err
	}
	return HTTPConfig{
		Addr:            stringOr("HTTP_ADDR", ":8080"),
		ShutdownTimeout: timeout,
		AllowedOrigins:  listOr("ALLOWED_ORIGINS", nil),
	}, nil
}

// LoadObservability reads the metrics HTTP server address and log mode.
func LoadObservability() (ObservabilityConfig, error) {
	dev, err := optionalBool("LOG_DEVELOPMENT")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: stringOr("OBS_ADDR", ":9090"), Development: dev}, nil
}

// LoadAuth reads token verification settings.
func LoadAuth() (AuthConfig, error) {
	secret, err := requiredString("JWT_SECRET")
	if err != nil {
		return AuthConfig{}, err
	}
	return AuthConfig{
		Secret:   secret,
		Issuer:   env("JWT_ISSUER"),
		Audience: env("JWT_AUDIENCE"),
	}, nil
}

// LoadBroker reads the bus selection.
func LoadBroker() (BrokerConfig, error) {
	cfg := BrokerConfig{
		Kind:       stringOr("BROKER", BrokerRedis),
		KafkaGroup: stringOr("KAFKA_GROUP", "trading-saga"),
	}
	switch cfg.Kind {
	case BrokerRedis:
	case BrokerKafka:
		cfg.KafkaBrokers = listOr("KAFKA_BROKERS", nil)
		if len(cfg.KafkaBrokers) == 0 {
			return cfg, fmt.Errorf("KAFKA_BROKERS is required when BROKER=kafka")
		}
	default:
		return cfg, fmt.Errorf("BROKER must be %q or %q, got %q", BrokerRedis, BrokerKafka, cfg.Kind)
	}
	return cfg, nil
}

// LoadNATS reads the optional query responder settings.
func LoadNATS() (NATSConfig, error) {
	timeout, err := durationOr("NATS_QUERY_TIMEOUT", 2*time.Second)
	if err != nil {
		return NATSConfig{}, err
	}
	return NATSConfig{
		URL:     env("NATS_URL"),
		Subject: stringOr("NATS_QUERY_SUBJECT", "trading.purchase-state"),
		Queue:   stringOr("NATS_QUERY_QUEUE", "trading"),
		Timeout: timeout,
	}, nil
}
