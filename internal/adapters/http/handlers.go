package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"trading/internal/catalog"
	"trading/internal/trading"
	"trading/internal/trading/saga"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type handlers struct {
	purchases PurchaseService
	catalog   catalog.Repository
	logger    *zap.Logger
}

type submitPurchaseRequest struct {
	ItemID        uuid.UUID `json:"itemId"`
	Quantity      int       `json:"quantity"`
	IdempotencyID uuid.UUID `json:"idempotencyId"`
}

type purchaseStatusResponse struct {
	UserID        uuid.UUID        `json:"userId"`
	ItemID        uuid.UUID        `json:"itemId"`
	Quantity      int              `json:"quantity"`
	State         saga.State       `json:"state"`
	LastUpdated   time.Time        `json:"lastUpdated"`
	Received      time.Time        `json:"received"`
	PurchaseTotal *decimal.Decimal `json:"purchaseTotal,omitempty"`
	Reason        *string          `json:"reason,omitempty"`
}

type storeItemResponse struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	OwnedQuantity int             `json:"ownedQuantity"`
}

type storeResponse struct {
	Items   []storeItemResponse `json:"items"`
	UserGil decimal.Decimal     `json:"userGil"`
}

func (h *handlers) submitPurchase(c *gin.Context) {
	var req submitPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.purchases.Submit(c.Request.Context(), callerID(c), trading.SubmitPurchase{
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		IdempotencyID: req.IdempotencyID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/purchase/status/"+req.IdempotencyID.String())
	c.JSON(http.StatusAccepted, gin.H{"idempotencyId": req.IdempotencyID})
}

func (h *handlers) purchaseStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("idempotencyId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid idempotency id"})
		return
	}
	snap, err := h.purchases.Status(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	// Other users' purchases are reported as missing.
	if snap.UserID != callerID(c) {
		h.fail(c, saga.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, purchaseStatusResponse{
		UserID:        snap.UserID,
		ItemID:        snap.ItemID,
		Quantity:      snap.Quantity,
		State:         snap.CurrentState,
		LastUpdated:   snap.LastUpdated,
		Received:      snap.Received,
		PurchaseTotal: snap.PurchaseTotal,
		Reason:        snap.ErrorMessage,
	})
}

func (h *handlers) store(c *gin.Context) {
	view, err := catalog.BuildStoreView(c.Request.Context(), h.catalog, callerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := storeResponse{Items: make([]storeItemResponse, 0, len(view.Items)), UserGil: view.UserGil}
	for _, item := range view.Items {
		resp.Items = append(resp.Items, storeItemResponse{
			ID:            item.ID,
			Name:          item.Name,
			Description:   item.Description,
			Price:         item.Price,
			OwnedQuantity: item.OwnedQuantity,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(code, gin.H{"error": http.StatusText(code)})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, trading.ErrInvalidPurchase):
		return http.StatusBadRequest
	case errors.Is(err, saga.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
