package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"trading/internal/catalog"
	"trading/internal/observability"
	"trading/internal/trading"
	"trading/internal/trading/saga"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const userIDKey = "userID"

var errServerStatus = errors.New("server error status")

// PurchaseService is the front door the router drives.
type PurchaseService interface {
	Submit(ctx context.Context, userID uuid.UUID, req trading.SubmitPurchase) error
	Status(ctx context.Context, idempotencyID uuid.UUID) (saga.Snapshot, error)
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Deps wires the router. Hub, Metrics and Collectors are optional.
type Deps struct {
	Purchases  PurchaseService
	Catalog    catalog.Repository
	Verifier   TokenVerifier
	Hub        http.Handler
	Metrics    *observability.Metrics
	Collectors *observability.Collectors
	Logger     *zap.Logger
}

// NewRouter builds the public HTTP API.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics(deps.Metrics, deps.Collectors))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Hub != nil {
		// The hub authenticates on its own so browsers can pass the token as a query parameter.
		router.GET("/messagehub", gin.WrapH(deps.Hub))
	}

	h := &handlers{purchases: deps.Purchases, catalog: deps.Catalog, logger: deps.Logger}
	authed := router.Group("/", authenticate(deps.Verifier))
	authed.POST("/purchase", h.submitPurchase)
	authed.GET("/purchase/status/:idempotencyId", h.purchaseStatus)
	authed.GET("/store", h.store)
	return router
}

func requestMetrics(metrics *observability.Metrics, collectors *observability.Collectors) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Request.Method + " " + c.FullPath()
		started := time.Now()
		span := metrics.Start(name)
		c.Next()

		var err error
		if c.Writer.Status() >= http.StatusInternalServerError {
			err = errServerStatus
		}
		span.End(err)
		if collectors != nil {
			collectors.ObserveCall(name, started, err)
		}
	}
}

func callerID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(userIDKey)
	userID, _ := id.(uuid.UUID)
	return userID
}
