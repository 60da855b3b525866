package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/repositories"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/tracing"
)

// SubscriptionHandler serves subscription lookups. Results depend on the
// current time so they are never cached.
type SubscriptionHandler struct {
	subscriptionRepo *repositories.SubscriptionRepository
	tracer           tracing.Tracer
	now              func() time.Time
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subscriptionRepo *repositories.SubscriptionRepository, tracer tracing.Tracer) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionRepo: subscriptionRepo,
		tracer:           tracer,
		now:              time.Now,
	}
}

// RegisterRoutes registers the subscription routes
func (h *SubscriptionHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/subscriptions", h.ListSubscriptions)
	router.GET("/subscriptions/check", h.CheckSubscription)
}

type listSubscriptionsQuery struct {
	Subscriber string `form:"subscriber" binding:"required,sui_address"`
}

type checkSubscriptionQuery struct {
	Subscriber string `form:"subscriber" binding:"required,sui_address"`
	ServiceID  string `form:"service_id" binding:"required,sui_address"`
}

// SubscriptionCheckResponse is the active tier of a subscriber on a creator
type SubscriptionCheckResponse struct {
	TierLevel   int64 `json:"tierLevel"`
	ExpiresAtMs int64 `json:"expiresAtMs"`
}

// ListSubscriptions lists a subscriber's unexpired subscriptions
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-subscriptions")
	defer h.tracer.EndTransaction(txn)

	var q listSubscriptionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subs, err := h.subscriptionRepo.ListActive(c.Request.Context(), normalizeAddress(q.Subscriber), h.now())
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Msg("Failed to list subscriptions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, subs)
}

// CheckSubscription returns the subscriber's active tier on a service, or
// null when there is none
func (h *SubscriptionHandler) CheckSubscription(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-check-subscription")
	defer h.tracer.EndTransaction(txn)

	var q checkSubscriptionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.subscriptionRepo.GetActive(c.Request.Context(),
		normalizeAddress(q.Subscriber), normalizeAddress(q.ServiceID), h.now())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.JSON(http.StatusOK, nil)
			return
		}
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Msg("Failed to check subscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, SubscriptionCheckResponse{
		TierLevel:   sub.TierLevel,
		ExpiresAtMs: sub.ExpiresAtMs,
	})
}
