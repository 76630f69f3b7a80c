package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine this service exposes: /pricing and
// /healthz from Handler, plus /metrics via the standard promhttp handler
// (SPEC_FULL.md §12.2) registered against the default Prometheus registry.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h.Register(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
