package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/letterflow/letterflow/internal/container"
	handlers "github.com/letterflow/letterflow/internal/interface/http"
	"github.com/letterflow/letterflow/internal/interface/middleware"
)

// NewsletterModule wires the operator-facing newsletter endpoints.
// Publishing fans out to every confirmed subscriber, so the per-IP
// limit is strict; requests from private networks bypass it so that
// internal tooling is not throttled.

type NewsletterModule struct {
	Handler *handlers.NewsletterHandler
}

func NewNewsletterModule(h *handlers.NewsletterHandler) *NewsletterModule {
	return &NewsletterModule{Handler: h}
}

func (m *NewsletterModule) Register(rg *gin.RouterGroup) {
	publishLimiter := middleware.RateLimit(container.GetRedis(), 10, time.Minute, middleware.KeyByIP(), middleware.AllowPrivateIP())
	reportsLimiter := middleware.RateLimit(container.GetRedis(), 60, time.Minute, middleware.KeyByIP(), middleware.AllowPrivateIP())

	rg.POST("/newsletters", publishLimiter, m.Handler.Publish)
	rg.GET("/newsletters/reports", reportsLimiter, m.Handler.Reports)
}
