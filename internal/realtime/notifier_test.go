package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"trading/internal/trading/saga"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisNotifier_PublishesToUserChannel(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	user := uuid.New()

	sub := client.Subscribe(ctx, StatusChannel(user))
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	snap := saga.Snapshot{CorrelationID: uuid.New(), CurrentState: saga.StateCompleted, UserID: user}
	if err := NewRedisNotifier(client).NotifyStatus(ctx, snap); err != nil {
		t.Fatalf("NotifyStatus: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var got saga.Snapshot
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CorrelationID != snap.CorrelationID || got.CurrentState != saga.StateCompleted {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestForward_DeliversPublishedStatusToHub(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)
	forwardDone := make(chan error, 1)
	go func() { forwardDone <- Forward(ctx, client, hub, nil) }()

	user := uuid.New()
	url := startHubServer(t, hub, staticVerifier{"t": user})
	conn := dial(t, url+"?access_token=t")
	waitFor(t, "registration", func() bool { return hub.Connected(user) == 1 })
	waitFor(t, "pattern subscription", func() bool { return mr.PubSubNumPat() == 1 })

	snap := saga.Snapshot{CorrelationID: uuid.New(), CurrentState: saga.StateCompleted, UserID: user}
	if err := NewRedisNotifier(client).NotifyStatus(ctx, snap); err != nil {
		t.Fatalf("NotifyStatus: %v", err)
	}
	if got := readStatus(t, conn); got.CorrelationID != snap.CorrelationID {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	cancel()
	if err := <-forwardDone; err != nil {
		t.Fatalf("Forward: %v", err)
	}
}

type failingNotifier struct{ err error }

func (n failingNotifier) NotifyStatus(context.Context, saga.Snapshot) error { return n.err }

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	calls := 0
	counting := notifierFunc(func(context.Context, saga.Snapshot) error { calls++; return nil })

	err := MultiNotifier{failingNotifier{first}, counting, failingNotifier{second}}.NotifyStatus(context.Background(), saga.Snapshot{})
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected every notifier to run, got %d calls", calls)
	}
}

type notifierFunc func(context.Context, saga.Snapshot) error

func (f notifierFunc) NotifyStatus(ctx context.Context, snap saga.Snapshot) error { return f(ctx, snap) }
