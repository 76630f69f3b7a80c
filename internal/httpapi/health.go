package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type redisHealth struct {
	OK bool `json:"ok"`
}

type metricsHealth struct {
	Quota                 int64 `json:"quota"`
	RateAPICallsUsed      int64 `json:"rate_api_calls_used"`
	RateAPICallsRemaining int64 `json:"rate_api_calls_remaining"`
	HasQuotaRemaining     bool  `json:"has_quota_remaining"`
	HitCount              int64 `json:"hit_count"`
}

type healthResponse struct {
	Status  string        `json:"status"`
	Redis   redisHealth   `json:"redis"`
	Metrics metricsHealth `json:"metrics"`
}

// getHealth implements GET /healthz per spec.md §4.8/§6. It never fails: on
// any internal read error it reports degraded booleans but still returns
// 200, since a dead dependency is exactly the situation a health check
// exists to surface, not to 500 on.
func (h *Handler) getHealth(c *gin.Context) {
	ctx := c.Request.Context()

	reachable := h.store.Ping(ctx)

	used, err := h.quota.Count(ctx)
	if err != nil {
		used = 0
	}
	remaining, err := h.quota.Remaining(ctx)
	if err != nil {
		remaining = 0
	}
	hasRemaining, err := h.quota.HasRemaining(ctx)
	if err != nil {
		hasRemaining = false
	}
	hits, err := h.store.GetCounter(ctx, HitCounterKey)
	if err != nil {
		hits = 0
	}

	status := "ok"
	if !reachable {
		status = "degraded"
	}

	c.JSON(http.StatusOK, healthResponse{
		Status: status,
		Redis:  redisHealth{OK: reachable},
		Metrics: metricsHealth{
			Quota:                 h.quota.Ceiling(),
			RateAPICallsUsed:      used,
			RateAPICallsRemaining: remaining,
			HasQuotaRemaining:     hasRemaining,
			HitCount:              hits,
		},
	})
}
