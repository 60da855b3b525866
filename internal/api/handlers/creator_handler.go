package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/cache"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/repositories"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/tracing"
)

// ResponseCache stores read responses
type ResponseCache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// CreatorHandler serves creator profiles and their posts
type CreatorHandler struct {
	creatorRepo *repositories.CreatorRepository
	postRepo    *repositories.PostRepository
	cache       ResponseCache
	ttl         time.Duration
	tracer      tracing.Tracer
}

// NewCreatorHandler creates a new creator handler
func NewCreatorHandler(
	creatorRepo *repositories.CreatorRepository,
	postRepo *repositories.PostRepository,
	respCache ResponseCache,
	ttl time.Duration,
	tracer tracing.Tracer,
) *CreatorHandler {
	return &CreatorHandler{
		creatorRepo: creatorRepo,
		postRepo:    postRepo,
		cache:       respCache,
		ttl:         ttl,
		tracer:      tracer,
	}
}

// RegisterRoutes registers the creator routes
func (h *CreatorHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/creators", h.ListCreators)
	router.GET("/creators/:id", h.GetCreator)
	router.GET("/creators/:id/posts", h.ListPosts)
}

type listCreatorsQuery struct {
	CreatorAddress string `form:"creator_address" binding:"omitempty,sui_address"`
}

type creatorPath struct {
	ID string `uri:"id" binding:"required,sui_address"`
}

// ListCreators lists active creators, optionally by owning address
func (h *CreatorHandler) ListCreators(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-creators")
	defer h.tracer.EndTransaction(txn)

	var q listCreatorsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr := normalizeAddress(q.CreatorAddress)

	key := cache.CreatorListKey(addr)
	var creators []models.Creator
	if h.cached(c, key, &creators) {
		c.JSON(http.StatusOK, creators)
		return
	}

	creators, err := h.creatorRepo.ListActive(c.Request.Context(), addr)
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Msg("Failed to list creators")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	h.store(c, key, creators)
	c.JSON(http.StatusOK, creators)
}

// GetCreator returns one active creator, or null when there is none
func (h *CreatorHandler) GetCreator(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-creator")
	defer h.tracer.EndTransaction(txn)

	var p creatorPath
	if err := c.ShouldBindUri(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := normalizeAddress(p.ID)

	key := cache.CreatorKey(id)
	var creator *models.Creator
	if h.cached(c, key, &creator) {
		c.JSON(http.StatusOK, creator)
		return
	}

	creator, err := h.creatorRepo.GetActive(c.Request.Context(), id)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Str("service_object_id", id).Msg("Failed to get creator")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	h.store(c, key, creator)
	c.JSON(http.StatusOK, creator)
}

// ListPosts lists a creator's active posts, newest first
func (h *CreatorHandler) ListPosts(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-posts")
	defer h.tracer.EndTransaction(txn)

	var p creatorPath
	if err := c.ShouldBindUri(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := normalizeAddress(p.ID)

	key := cache.PostsKey(id)
	var posts []models.Post
	if h.cached(c, key, &posts) {
		c.JSON(http.StatusOK, posts)
		return
	}

	posts, err := h.postRepo.ListByCreator(c.Request.Context(), id)
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Str("service_object_id", id).Msg("Failed to list posts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	h.store(c, key, posts)
	c.JSON(http.StatusOK, posts)
}

func (h *CreatorHandler) cached(c *gin.Context, key string, value interface{}) bool {
	if h.cache == nil {
		return false
	}
	return h.cache.Get(c.Request.Context(), key, value) == nil
}

func (h *CreatorHandler) store(c *gin.Context, key string, value interface{}) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(c.Request.Context(), key, value, h.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
	}
}
