package modules

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/letterflow/letterflow/internal/container"
	handlers "github.com/letterflow/letterflow/internal/interface/http"
	"github.com/letterflow/letterflow/internal/interface/middleware"
)

// SubscriptionModule wires the public subscription endpoints.
// Public: POST /api/subscriptions, GET /api/subscriptions/confirm,
// POST /api/subscriptions/resend. All routes are rate limited per IP
// and path since they are reachable without credentials.

type SubscriptionModule struct {
	Handler *handlers.SubscriptionHandler
}

func NewSubscriptionModule(h *handlers.SubscriptionHandler) *SubscriptionModule {
	return &SubscriptionModule{Handler: h}
}

func (m *SubscriptionModule) Register(rg *gin.RouterGroup) {
	subscribeLimiter := middleware.RateLimit(container.GetRedis(), 20, time.Minute, middleware.KeyByIPAndPath(), nil)
	confirmLimiter := middleware.RateLimit(container.GetRedis(), 60, time.Minute, middleware.KeyByIPAndPath(), nil)
	// Resend triggers outbound mail, so keep it tight.
	resendLimiter := middleware.RateLimit(container.GetRedis(), 5, time.Minute, middleware.KeyByIPAndPath(), nil)

	rg.POST("/subscriptions", subscribeLimiter, m.Handler.Subscribe)
	rg.GET("/subscriptions/confirm", confirmLimiter, m.Handler.Confirm)
	rg.POST("/subscriptions/resend", resendLimiter, m.Handler.Resend)
}
