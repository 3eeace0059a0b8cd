package handlers

import (
	"errors"
	"expvar"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/letterflow/letterflow/internal/application"
	"github.com/letterflow/letterflow/internal/domain/entity"
	"github.com/letterflow/letterflow/pkg/response"
	"github.com/letterflow/letterflow/pkg/validation"
)

var newslettersPublished = expvar.NewInt("newsletters_published")

type NewsletterHandler struct {
	Svc    *application.NewsletterService
	Logger *logrus.Logger
}

func NewNewsletterHandler(svc *application.NewsletterService, logger *logrus.Logger) *NewsletterHandler {
	return &NewsletterHandler{Svc: svc, Logger: logger}
}

type publishContent struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

type publishRequest struct {
	Title   string         `json:"title" binding:"required"`
	Content publishContent `json:"content"`
}

// Publish fans the issue out to every confirmed subscriber and responds
// with the delivery report. Partial send failures are still a 200; the
// report carries the failed recipients.
func (h *NewsletterHandler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	issue := entity.Issue{
		Title:       req.Title,
		HTMLContent: req.Content.HTML,
		TextContent: req.Content.Text,
	}

	report, err := h.Svc.Publish(c.Request.Context(), issue)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrInvalidInput):
			response.Error[any](c, http.StatusBadRequest, "invalid newsletter issue", err.Error())
		case report != nil:
			// storage gave out mid-run; the report still covers the
			// attempts already made
			response.Error[any](c, http.StatusInternalServerError, "delivery interrupted by storage failure", gin.H{"report": report})
		default:
			response.Error[any](c, http.StatusInternalServerError, "failed to deliver newsletter", nil)
		}
		return
	}

	newslettersPublished.Add(1)
	response.Success(c, http.StatusOK, report, "newsletter delivered", nil)
}

// Reports lists recent delivery reports, or searches the indexed ones when
// ?q= is given.
func (h *NewsletterHandler) Reports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	if q := c.Query("q"); q != "" {
		hits, err := h.Svc.SearchReports(c.Request.Context(), q, limit)
		if err != nil {
			response.Error[any](c, http.StatusInternalServerError, "report search failed", nil)
			return
		}
		response.Success(c, http.StatusOK, hits, "report search results", gin.H{"query": q})
		return
	}

	reports, err := h.Svc.RecentReports(c.Request.Context(), limit)
	if err != nil {
		response.Error[any](c, http.StatusInternalServerError, "failed to list delivery reports", nil)
		return
	}
	response.Success(c, http.StatusOK, reports, "recent delivery reports", nil)
}
