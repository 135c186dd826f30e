package grpc

import (
	"context"
	"errors"
	"math"
	"time"

	"trading/internal/auth"
	"trading/internal/trading"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// PurchaseService defines the behavior needed by the gRPC adapter.
type PurchaseService interface {
	Submit(ctx context.Context, userID uuid.UUID, req trading.SubmitPurchase) error
	Status(ctx context.Context, idempotencyID uuid.UUID) (saga.Snapshot, error)
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// PurchaseServer adapts PurchaseService to gRPC.
type PurchaseServer struct {
	service  PurchaseService
	verifier TokenVerifier
}

// NewPurchaseServer constructs a PurchaseServer.
func NewPurchaseServer(svc PurchaseService, verifier TokenVerifier) *PurchaseServer {
	return &PurchaseServer{service: svc, verifier: verifier}
}

// Submit expects {itemId, quantity, idempotencyId}.
func (s *PurchaseServer) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	fields := req.GetFields()
	itemID, err := uuidField(fields, "itemId")
	if err != nil {
		return nil, err
	}
	idempotencyID, err := uuidField(fields, "idempotencyId")
	if err != nil {
		return nil, err
	}
	quantity, err := quantityField(fields, "quantity")
	if err != nil {
		return nil, err
	}

	if err := s.service.Submit(ctx, userID, trading.SubmitPurchase{
		ItemID:        itemID,
		Quantity:      quantity,
		IdempotencyID: idempotencyID,
	}); err != nil {
		return nil, mapPurchaseError(err)
	}
	return structpb.NewStruct(map[string]any{
		"idempotencyId": idempotencyID.String(),
		"status":        "accepted",
	})
}

// GetStatus expects {idempotencyId} and returns the reshaped status.
func (s *PurchaseServer) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	id, err := uuidField(req.GetFields(), "idempotencyId")
	if err != nil {
		return nil, err
	}
	snap, err := s.service.Status(ctx, id)
	if err != nil {
		return nil, mapPurchaseError(err)
	}
	if snap.UserID != userID {
		return nil, mapPurchaseError(saga.ErrNotFound)
	}

	out := map[string]any{
		"userId":      snap.UserID.String(),
		"itemId":      snap.ItemID.String(),
		"quantity":    snap.Quantity,
		"state":       string(snap.CurrentState),
		"received":    snap.Received.Format(time.RFC3339Nano),
		"lastUpdated": snap.LastUpdated.Format(time.RFC3339Nano),
	}
	if snap.PurchaseTotal != nil {
		out["purchaseTotal"] = snap.PurchaseTotal.String()
	}
	if snap.ErrorMessage != nil {
		out["reason"] = *snap.ErrorMessage
	}
	return structpb.NewStruct(out)
}

func (s *PurchaseServer) caller(ctx context.Context) (uuid.UUID, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if values := md.Get("authorization"); len(values) > 0 {
		token = auth.BearerToken(values[0])
	}
	userID, err := s.verifier.Verify(token)
	if err != nil {
		return uuid.Nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return userID, nil
}

func uuidField(fields map[string]*structpb.Value, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(fields[name].GetStringValue())
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s", name)
	}
	return id, nil
}

// quantityField accepts only whole numbers that fit an int32.
func quantityField(fields map[string]*structpb.Value, name string) (int, error) {
	v, ok := fields[name].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	n := v.NumberValue
	if math.IsNaN(n) || math.Trunc(n) != n || n < math.MinInt32 || n > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a whole number", name)
	}
	return int(n), nil
}

func mapPurchaseError(err error) error {
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, trading.ErrInvalidPurchase) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if errors.Is(err, saga.ErrNotFound) {
		return status.Error(codes.NotFound, "purchase not found")
	}
	return status.Error(codes.Internal, err.Error())
}
