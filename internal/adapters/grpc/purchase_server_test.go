package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"trading/internal/trading"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestPurchaseServerImplementsPurchaseServiceServer(t *testing.T) {
	var _ PurchaseServiceServer = (*PurchaseServer)(nil)
}

type staticVerifier map[string]uuid.UUID

func (v staticVerifier) Verify(token string) (uuid.UUID, error) {
	id, ok := v[token]
	if !ok {
		return uuid.Nil, errors.New("bad token")
	}
	return id, nil
}

type spyPurchaseService struct {
	submitted []trading.SubmitPurchase
	users     []uuid.UUID
	err       error
	snapshot  saga.Snapshot
}

func (s *spyPurchaseService) Submit(ctx context.Context, userID uuid.UUID, req trading.SubmitPurchase) error {
	if s.err != nil {
		return s.err
	}
	s.users = append(s.users, userID)
	s.submitted = append(s.submitted, req)
	return nil
}

func (s *spyPurchaseService) Status(ctx context.Context, id uuid.UUID) (saga.Snapshot, error) {
	if s.err != nil {
		return saga.Snapshot{}, s.err
	}
	if s.snapshot.CorrelationID != id {
		return saga.Snapshot{}, saga.ErrNotFound
	}
	return s.snapshot, nil
}

func bufDialer(lis *bufconn.Listener) func(context.Context, string) (net.Conn, error) {
	return func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.Dial()
	}
}

func newBufClient(t *testing.T, svc PurchaseService, verifier TokenVerifier) *PurchaseServiceClient {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	s := grpcpkg.NewServer()
	RegisterPurchaseServiceServer(s, NewPurchaseServer(svc, verifier))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(func() {
		s.Stop()
		_ = lis.Close()
	})

	conn, err := grpcpkg.NewClient(
		"passthrough:///bufnet",
		grpcpkg.WithContextDialer(bufDialer(lis)),
		grpcpkg.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewPurchaseServiceClient(conn)
}

func authed(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestSubmit_ForwardsCallerAndRequest(t *testing.T) {
	t.Parallel()

	user := uuid.New()
	svc := &spyPurchaseService{}
	client := newBufClient(t, svc, staticVerifier{"tok": user})
	itemID, idem := uuid.New(), uuid.New()

	resp, err := client.Submit(authed("tok"), mustStruct(t, map[string]any{
		"itemId":        itemID.String(),
		"quantity":      2,
		"idempotencyId": idem.String(),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.GetFields()["status"].GetStringValue() != "accepted" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if len(svc.submitted) != 1 || svc.users[0] != user {
		t.Fatalf("unexpected submissions: %+v", svc.submitted)
	}
	got := svc.submitted[0]
	if got.ItemID != itemID || got.Quantity != 2 || got.IdempotencyID != idem {
		t.Fatalf("unexpected submission: %+v", got)
	}
}

func TestSubmit_ErrorCodes(t *testing.T) {
	t.Parallel()

	valid := map[string]any{"itemId": uuid.New().String(), "quantity": 1, "idempotencyId": uuid.New().String()}
	cases := []struct {
		name  string
		token string
		req   map[string]any
		err   error
		want  codes.Code
	}{
		{name: "no token", token: "missing", req: valid, want: codes.Unauthenticated},
		{name: "bad item id", token: "tok", req: map[string]any{"itemId": "x", "idempotencyId": uuid.New().String()}, want: codes.InvalidArgument},
		{name: "invalid purchase", token: "tok", req: valid, err: trading.ErrInvalidPurchase, want: codes.InvalidArgument},
		{name: "generic", token: "tok", req: valid, err: errors.New("boom"), want: codes.Internal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client := newBufClient(t, &spyPurchaseService{err: tc.err}, staticVerifier{"tok": uuid.New()})
			_, err := client.Submit(authed(tc.token), mustStruct(t, tc.req))
			if status.Code(err) != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmit_RejectsNonIntegralQuantity(t *testing.T) {
	t.Parallel()

	for name, quantity := range map[string]any{
		"fractional": 2.9,
		"too large":  1e12,
		"string":     "3",
		"missing":    nil,
	} {
		quantity := quantity
		t.Run(name, func(t *testing.T) {
			svc := &spyPurchaseService{}
			client := newBufClient(t, svc, staticVerifier{"tok": uuid.New()})
			req := map[string]any{"itemId": uuid.New().String(), "idempotencyId": uuid.New().String()}
			if quantity != nil {
				req["quantity"] = quantity
			}
			_, err := client.Submit(authed("tok"), mustStruct(t, req))
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("expected InvalidArgument, got %v", err)
			}
			if len(svc.submitted) != 0 {
				t.Fatalf("expected nothing forwarded, got %+v", svc.submitted)
			}
		})
	}
}

func TestGetStatus_ReturnsOwnedPurchase(t *testing.T) {
	t.Parallel()

	user := uuid.New()
	reason := "insufficient funds"
	total := decimal.NewFromInt(30)
	snap := saga.Snapshot{
		CorrelationID: uuid.New(),
		CurrentState:  saga.StateFaulted,
		UserID:        user,
		ItemID:        uuid.New(),
		Quantity:      3,
		PurchaseTotal: &total,
		Received:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		LastUpdated:   time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC),
		ErrorMessage:  &reason,
	}
	client := newBufClient(t, &spyPurchaseService{snapshot: snap}, staticVerifier{"owner": user, "other": uuid.New()})
	req := mustStruct(t, map[string]any{"idempotencyId": snap.CorrelationID.String()})

	resp, err := client.GetStatus(authed("owner"), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := resp.GetFields()
	if fields["state"].GetStringValue() != "Faulted" || fields["reason"].GetStringValue() != reason || fields["purchaseTotal"].GetStringValue() != "30" {
		t.Fatalf("unexpected response: %v", resp)
	}

	if _, err := client.GetStatus(authed("other"), req); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound for other user, got %v", err)
	}
	missing := mustStruct(t, map[string]any{"idempotencyId": uuid.New().String()})
	if _, err := client.GetStatus(authed("owner"), missing); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
