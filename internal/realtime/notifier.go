package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const statusChannelPattern = "purchase:user:*:status"

// StatusChannel is the pub/sub channel carrying status updates for userID.
func StatusChannel(userID uuid.UUID) string {
	return "purchase:user:" + userID.String() + ":status"
}

// RedisNotifier publishes status snapshots so that every gateway instance
// can push them to its local clients.
type RedisNotifier struct {
	client redis.UniversalClient
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) NotifyStatus(ctx context.Context, snap saga.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return n.client.Publish(ctx, StatusChannel(snap.UserID), data).Err()
}

// Forward relays published status snapshots into hub until ctx is done.
func Forward(ctx context.Context, client redis.UniversalClient, hub *Hub, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.PSubscribe(ctx, statusChannelPattern)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", statusChannelPattern, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var snap saga.Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				logger.Warn("dropping malformed status update", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if !strings.HasSuffix(msg.Channel, snap.UserID.String()+":status") {
				logger.Warn("status update on foreign channel", zap.String("channel", msg.Channel))
				continue
			}
			if err := hub.NotifyStatus(ctx, snap); err != nil {
				if errors.Is(err, ErrHubStopped) || ctx.Err() != nil {
					return nil
				}
				logger.Warn("status forward failed", zap.Error(err))
			}
		}
	}
}

// MultiNotifier fans a snapshot out to several notifiers.
type MultiNotifier []saga.Notifier

func (m MultiNotifier) NotifyStatus(ctx context.Context, snap saga.Snapshot) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyStatus(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
