package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadGRPC(t *testing.T) {
	t.Setenv("GRPC_RATE_LIMIT_INTERVAL", "5ms")
	t.Setenv("GRPC_RATE_LIMIT_BURST", "10")

	cfg, err := LoadGRPC()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimitInterval != 5*time.Millisecond || cfg.RateLimitBurst != 10 || cfg.Addr != ":50051" {
		t.Fatalf("unexpected grpc cfg: %+v", cfg)
	}
}

func TestLoadGRPC_InvalidInterval(t *testing.T) {
	t.Setenv("GRPC_RATE_LIMIT_INTERVAL", "soon")
	if _, err := LoadGRPC(); err == nil {
		t.Fatalf("expected error for bad interval")
	}
}

func TestLoadHTTP(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":8181")
	t.Setenv("ALLOWED_ORIGINS", "https://play.example.com, http://localhost:3000")

	cfg, err := LoadHTTP()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"https://play.example.com", "http://localhost:3000"}
	if cfg.Addr != ":8181" || cfg.ShutdownTimeout != 10*time.Second || !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("unexpected http cfg: %+v", cfg)
	}
}

func TestLoadObservability(t *testing.T) {
	t.Setenv("OBS_ADDR", ":9999")
	t.Setenv("LOG_DEVELOPMENT", "true")

	cfg, err := LoadObservability()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9999" || !cfg.Development {
		t.Fatalf("unexpected observability cfg: %+v", cfg)
	}
}

func TestLoadRedis_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_CONSUMER_NAME", "node-1")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.URL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected redis url: %s", cfg.URL)
	}
	if cfg.HealthcheckTimeout != 2*time.Second || cfg.StreamMaxLen != 100000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ConsumerGroup != "trading-saga" || cfg.ConsumerName != "node-1" || cfg.Workers != 4 {
		t.Fatalf("unexpected consumer settings: %+v", cfg)
	}
	if cfg.DialTimeout != nil || cfg.EnableOTel || cfg.TLSConfig != nil {
		t.Fatalf("expected optional fields unset: %+v", cfg)
	}
}

func TestLoadRedis_WithOptionalFields(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_HEALTHCHECK_TIMEOUT", "1s")
	t.Setenv("REDIS_STREAM_MAXLEN", "10")
	t.Setenv("REDIS_DIAL_TIMEOUT", "3s")
	t.Setenv("REDIS_READ_TIMEOUT", "4s")
	t.Setenv("REDIS_WRITE_TIMEOUT", "5s")
	t.Setenv("REDIS_POOL_SIZE", "9")
	t.Setenv("REDIS_MIN_IDLE_CONNS", "2")
	t.Setenv("REDIS_MAX_RETRIES", "3")
	t.Setenv("REDIS_OTEL", "true")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HealthcheckTimeout != time.Second || cfg.StreamMaxLen != 10 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.DialTimeout == nil || *cfg.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected dial timeout: %v", cfg.DialTimeout)
	}
	if cfg.ReadTimeout == nil || *cfg.ReadTimeout != 4*time.Second {
		t.Fatalf("unexpected read timeout: %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout == nil || *cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("unexpected write timeout: %v", cfg.WriteTimeout)
	}
	if cfg.PoolSize == nil || *cfg.PoolSize != 9 {
		t.Fatalf("unexpected pool size: %v", cfg.PoolSize)
	}
	if cfg.MinIdleConns == nil || *cfg.MinIdleConns != 2 {
		t.Fatalf("unexpected min idle: %v", cfg.MinIdleConns)
	}
	if cfg.MaxRetries == nil || *cfg.MaxRetries != 3 {
		t.Fatalf("unexpected max retries: %v", cfg.MaxRetries)
	}
	if !cfg.EnableOTel {
		t.Fatalf("expected otel enabled")
	}
}

func TestLoadRedis_MissingURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected missing url error")
	}
}

func TestLoadQueues(t *testing.T) {
	cfg, err := LoadQueues()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GrantItems != "inventory-grant-items" || cfg.DebitGil != "identity-debit-gil" || cfg.SubtractItems != "inventory-subtract-items" {
		t.Fatalf("unexpected destinations: %+v", cfg)
	}
	want := []string{"trading-purchases", "inventory-events", "identity-events"}
	if !reflect.DeepEqual(cfg.SagaSources, want) {
		t.Fatalf("unexpected sources: %v", cfg.SagaSources)
	}

	t.Setenv("SAGA_SOURCES", " a , ,b ")
	cfg, err = LoadQueues()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg.SagaSources, []string{"a", "b"}) {
		t.Fatalf("unexpected sources: %v", cfg.SagaSources)
	}

	t.Setenv("SAGA_SOURCES", " , ")
	if _, err := LoadQueues(); err == nil {
		t.Fatalf("expected error for empty source list")
	}
}

func TestLoadRetry(t *testing.T) {
	cfg, err := LoadRetry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxAttempts != 3 || cfg.Interval != 5*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}

	t.Setenv("RETRY_MAX_ATTEMPTS", "0")
	if _, err := LoadRetry(); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}

func TestLoadOutbox(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "25")
	cfg, err := LoadOutbox()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BatchSize != 25 || cfg.Interval != 500*time.Millisecond || cfg.BreakerFailures != 5 {
		t.Fatalf("unexpected outbox cfg: %+v", cfg)
	}
}

func TestLoadAuth(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadAuth(); err == nil {
		t.Fatalf("expected missing secret error")
	}
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_AUDIENCE", "trading")
	cfg, err := LoadAuth()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Secret != "s3cret" || cfg.Audience != "trading" || cfg.Issuer != "" {
		t.Fatalf("unexpected auth cfg: %+v", cfg)
	}
}

func TestLoadBroker(t *testing.T) {
	cfg, err := LoadBroker()
	if err != nil || cfg.Kind != BrokerRedis {
		t.Fatalf("expected redis default, got %+v %v", cfg, err)
	}

	t.Setenv("BROKER", "kafka")
	if _, err := LoadBroker(); err == nil {
		t.Fatalf("expected error without brokers")
	}
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err = LoadBroker()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaGroup != "trading-saga" {
		t.Fatalf("unexpected kafka cfg: %+v", cfg)
	}

	t.Setenv("BROKER", "rabbit")
	if _, err := LoadBroker(); err == nil {
		t.Fatalf("expected error for unknown broker")
	}
}

func TestLoadOptionalStores(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/trading")
	t.Setenv("MONGO_URI", "")
	if got := LoadPostgres().DatabaseURL; got != "postgres://localhost/trading" {
		t.Fatalf("unexpected database url: %q", got)
	}
	mongo := LoadMongo()
	if mongo.URI != "" || mongo.Database != "trading" {
		t.Fatalf("unexpected mongo cfg: %+v", mongo)
	}

	nats, err := LoadNATS()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nats.URL != "" || nats.Subject != "trading.purchase-state" || nats.Timeout != 2*time.Second {
		t.Fatalf("unexpected nats cfg: %+v", nats)
	}
}

func TestLoadRedisTLS_NoSettingsReturnsNil(t *testing.T) {
	if cfg, err := loadRedisTLS(); err != nil || cfg != nil {
		t.Fatalf("expected nil tls config, got %#v err %v", cfg, err)
	}
}

func TestLoadRedisTLS_MismatchedKeyPair(t *testing.T) {
	t.Setenv("REDIS_TLS_CERT_FILE", "cert")
	if _, err := loadRedisTLS(); err == nil {
		t.Fatalf("expected cert/key mismatch error")
	}
}

func TestLoadRedisTLS_InvalidInsecureFlag(t *testing.T) {
	t.Setenv("REDIS_TLS_INSECURE_SKIP_VERIFY", "notabool")
	if _, err := loadRedisTLS(); err == nil {
		t.Fatalf("expected parse bool error")
	}
}

func TestLoadRedisTLS_InsecureTrue(t *testing.T) {
	t.Setenv("REDIS_TLS_INSECURE_SKIP_VERIFY", "true")
	cfg, err := loadRedisTLS()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || !cfg.InsecureSkipVerify {
		t.Fatalf("expected insecure tls config, got %#v", cfg)
	}
}

func TestLoadRedisTLS_ReadCAError(t *testing.T) {
	t.Setenv("REDIS_TLS_CA_FILE", "/no/such/file")
	if _, err := loadRedisTLS(); err == nil {
		t.Fatalf("expected read error for missing CA file")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_OPT_DUR", "-1ms")
	if _, err := optionalDuration("X_OPT_DUR"); err == nil {
		t.Fatalf("expected negative duration error")
	}
	t.Setenv("X_OPT_INT", "-1")
	if _, err := optionalInt("X_OPT_INT"); err == nil {
		t.Fatalf("expected negative int error")
	}
	t.Setenv("X_OPT_BOOL", "notbool")
	if _, err := optionalBool("X_OPT_BOOL"); err == nil {
		t.Fatalf("expected bool parse error")
	}
	t.Setenv("X_INT64", "notint")
	if _, err := int64Or("X_INT64", 1); err == nil {
		t.Fatalf("expected int64 parse error")
	}
	t.Setenv("X_INT64", "-1")
	if _, err := int64Or("X_INT64", 1); err == nil {
		t.Fatalf("expected negative int64 error")
	}
	if got, err := durationOr("X_UNSET_DUR", time.Minute); err != nil || got != time.Minute {
		t.Fatalf("expected default duration, got %v %v", got, err)
	}
	if got := stringOr("X_UNSET_STR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
