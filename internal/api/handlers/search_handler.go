package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/search"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/tracing"
)

// Searcher runs full text queries
type Searcher interface {
	Search(ctx context.Context, q string, size int) ([]search.Hit, error)
}

// SearchHandler serves full text search over creators and posts
type SearchHandler struct {
	searcher Searcher
	tracer   tracing.Tracer
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searcher Searcher, tracer tracing.Tracer) *SearchHandler {
	return &SearchHandler{
		searcher: searcher,
		tracer:   tracer,
	}
}

// RegisterRoutes registers the search route
func (h *SearchHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/search", h.Search)
}

type searchQuery struct {
	Q    string `form:"q" binding:"required,max=256"`
	Size int    `form:"size,default=20" binding:"min=1,max=100"`
}

// Search runs q against the search index
func (h *SearchHandler) Search(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-search")
	defer h.tracer.EndTransaction(txn)

	var q searchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hits, err := h.searcher.Search(c.Request.Context(), q.Q, q.Size)
	if err != nil {
		if errors.Is(err, search.ErrDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is disabled"})
			return
		}
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Str("q", q.Q).Msg("Search failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, hits)
}
