// Package httpapi implements spec.md C7 (request handler) and C8 (health
// reporter) on top of github.com/gin-gonic/gin, the HTTP stack donated by
// paulround2tele-studio's backend/mcp modules. It owns the one thing
// spec.md places "out of scope" as an interface only: RFC 7807 error
// shaping and query validation; everything it renders follows internal/problem
// and internal/httpapi/validate.go exactly.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ryanelian/mitsu/internal/kvstore"
	"github.com/ryanelian/mitsu/internal/problem"
	"github.com/ryanelian/mitsu/internal/quota"
	"github.com/ryanelian/mitsu/internal/ratecache"
	"github.com/ryanelian/mitsu/internal/upstream"
)

// HitCounterKey is the well-known hit-counter key H from spec.md §3/§6.
const HitCounterKey = "hit_count"

// Handler wires the engine, store and quota accountant into gin routes.
type Handler struct {
	engine *ratecache.Engine
	store  kvstore.Store
	quota  *quota.Accountant
}

// New returns a Handler ready to be registered on a gin router.
func New(engine *ratecache.Engine, store kvstore.Store, q *quota.Accountant) *Handler {
	return &Handler{engine: engine, store: store, quota: q}
}

// Register mounts this handler's routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/pricing", h.getPricing)
	r.GET("/healthz", h.getHealth)
}

type pricingResponse struct {
	Rate string `json:"rate"`
}

// getPricing implements GET /pricing per spec.md §6.
func (h *Handler) getPricing(c *gin.Context) {
	traceID := problem.NewTraceID()

	var q pricingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.respondValidationError(c, traceID, map[string][]string{
			"request": {"Unable to parse query parameters."},
		})
		return
	}
	if errs := validatePricingQuery(q); errs != nil {
		h.respondValidationError(c, traceID, errs)
		return
	}

	tuple := upstream.Tuple{Period: q.Period, Hotel: q.Hotel, Room: q.Room}
	rate, present, err := h.engine.GetRate(c.Request.Context(), tuple)
	if err != nil {
		h.respondServiceUnavailable(c, traceID, err)
		return
	}
	if !present {
		// Upstream recognized nothing for this tuple, and the {"rate":...}
		// response shape has no way to express absence; correctness
		// requires 503 rather than fabricating a rate (spec.md §4.5.4).
		doc := problem.ServiceUnavailable(c.Request.URL.Path, traceID, "no rate known for tuple")
		c.JSON(http.StatusServiceUnavailable, doc)
		return
	}

	if _, err := h.store.Incr(c.Request.Context(), HitCounterKey); err != nil {
		log.Warn().Err(err).Msg("httpapi: hit counter increment failed")
	}

	c.JSON(http.StatusOK, pricingResponse{Rate: rate})
}

func (h *Handler) respondValidationError(c *gin.Context, traceID string, errs map[string][]string) {
	doc := problem.Validation(c.Request.URL.Path, traceID, errs)
	c.JSON(http.StatusBadRequest, doc)
}

func (h *Handler) respondServiceUnavailable(c *gin.Context, traceID string, err error) {
	detail := "lock contention"
	if su, ok := ratecache.IsServiceUnavailable(err); ok && su.Reason == ratecache.ReasonNoQuota {
		detail = "quota exhausted"
	}
	doc := problem.ServiceUnavailable(c.Request.URL.Path, traceID, detail)
	c.JSON(http.StatusServiceUnavailable, doc)
}
