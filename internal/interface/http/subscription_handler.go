package handlers

import (
	"errors"
	"expvar"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/letterflow/letterflow/internal/application"
	"github.com/letterflow/letterflow/internal/domain/entity"
	repo "github.com/letterflow/letterflow/internal/domain/repository"
	"github.com/letterflow/letterflow/pkg/response"
	"github.com/letterflow/letterflow/pkg/validation"
)

var (
	subscribeCreated   = expvar.NewInt("subscriptions_created")
	subscribeConfirmed = expvar.NewInt("subscriptions_confirmed")
)

type SubscriptionHandler struct {
	Svc    *application.SubscriptionService
	Logger *logrus.Logger
}

func NewSubscriptionHandler(svc *application.SubscriptionService, logger *logrus.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{Svc: svc, Logger: logger}
}

// subscribeRequest binds JSON and classic form posts, so plain HTML signup
// forms work without JavaScript.
type subscribeRequest struct {
	Email string `json:"email" form:"email" binding:"required,email"`
	Name  string `json:"name" form:"name" binding:"required,subscriber_name"`
}

type resendRequest struct {
	Email string `json:"email" form:"email" binding:"required,email"`
}

// Subscribe creates a pending subscription and emails the confirmation link.
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	sub, err := h.Svc.Subscribe(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrInvalidInput):
			response.Error[any](c, http.StatusBadRequest, "invalid subscriber data", err.Error())
		case errors.Is(err, repo.ErrDuplicateEmail):
			response.Error[any](c, http.StatusBadRequest, "email is already subscribed", nil)
		case errors.Is(err, application.ErrConfirmationSendFailed):
			response.Error[any](c, http.StatusInternalServerError, "failed to send confirmation email", nil)
		default:
			response.Error[any](c, http.StatusInternalServerError, "failed to create subscription", nil)
		}
		return
	}

	subscribeCreated.Add(1)
	response.Success(c, http.StatusCreated, gin.H{
		"id":            sub.ID,
		"email":         sub.Email,
		"name":          sub.Name,
		"status":        sub.Status,
		"subscribed_at": sub.SubscribedAt,
	}, "confirmation email sent, check your inbox", nil)
}

// Confirm turns a pending subscription into a confirmed one via the emailed
// token. Accepts both ?subscription_token= and the shorter ?token=.
func (h *SubscriptionHandler) Confirm(c *gin.Context) {
	token := c.Query("subscription_token")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		response.Error[any](c, http.StatusBadRequest, "missing subscription token", nil)
		return
	}

	if err := h.Svc.Confirm(c.Request.Context(), token); err != nil {
		switch {
		case errors.Is(err, entity.ErrInvalidInput):
			response.Error[any](c, http.StatusBadRequest, "invalid subscription token", nil)
		case errors.Is(err, repo.ErrTokenNotFound), errors.Is(err, repo.ErrSubscriberNotFound):
			response.Error[any](c, http.StatusNotFound, "unknown subscription token", nil)
		default:
			response.Error[any](c, http.StatusInternalServerError, "failed to confirm subscription", nil)
		}
		return
	}

	subscribeConfirmed.Add(1)
	response.Success[any](c, http.StatusOK, gin.H{"confirmed": true}, "subscription confirmed", nil)
}

// Resend issues a fresh confirmation email. The reply is identical whether
// or not the address has a pending subscription.
func (h *SubscriptionHandler) Resend(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	if err := h.Svc.ResendConfirmation(c.Request.Context(), req.Email); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid email address", nil)
		return
	}

	response.Success[any](c, http.StatusOK, gin.H{"requested": true},
		"if that address has a pending subscription, a new confirmation email is on its way", nil)
}
