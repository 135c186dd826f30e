package main

import (
	"trading/cmd/server/config"
	"trading/internal/messaging"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type bus struct {
	publisher  messaging.Publisher
	subscriber messaging.Subscriber
	close      func()
}

// buildBus selects Redis Streams or Kafka. client may be nil for Kafka.
func buildBus(cfg config.BrokerConfig, client *redis.Client, redisCfg config.RedisConfig, opts messaging.ConsumerOptions, logger *zap.Logger) bus {
	if cfg.Kind == config.BrokerKafka {
		writer := messaging.NewKafkaBus(messaging.NewKafkaWriter(cfg.KafkaBrokers))
		deadLetters := messaging.NewKafkaWriter(cfg.KafkaBrokers)
		opts.Group = cfg.KafkaGroup
		consumer := messaging.NewKafkaConsumer(
			messaging.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaGroup, opts.Sources),
			deadLetters,
			opts,
		)
		return bus{
			publisher:  writer,
			subscriber: consumer,
			close: func() {
				for name, closeFn := range map[string]func() error{
					"kafka writer":      writer.Close,
					"kafka dead letter": deadLetters.Close,
					"kafka reader":      consumer.Close,
				} {
					if err := closeFn(); err != nil {
						logger.Warn("close "+name, zap.Error(err))
					}
				}
			},
		}
	}

	opts.Group = redisCfg.ConsumerGroup
	opts.Consumer = redisCfg.ConsumerName
	opts.BlockTime = redisCfg.BlockTime
	opts.Workers = redisCfg.Workers
	return bus{
		publisher:  messaging.NewRedisBus(client, redisCfg.StreamMaxLen),
		subscriber: messaging.NewRedisConsumer(client, opts),
		close:      func() {},
	}
}
