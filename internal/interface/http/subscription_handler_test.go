package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterflow/letterflow/config"
	"github.com/letterflow/letterflow/internal/application"
	"github.com/letterflow/letterflow/internal/domain/entity"
	repo "github.com/letterflow/letterflow/internal/domain/repository"
	"github.com/letterflow/letterflow/pkg/validation"
)

type fakeSubscriberRepo struct {
	insertPendingFunc func(ctx context.Context, sub *entity.Subscriber, token string) error
	insertTokenFunc   func(ctx context.Context, token, subscriberID string) error
	getByEmailFunc    func(ctx context.Context, email string) (*entity.Subscriber, error)
	idByTokenFunc     func(ctx context.Context, token string) (string, error)
	confirmFunc       func(ctx context.Context, subscriberID string) error
	eachConfirmedFunc func(ctx context.Context, fn func(email string) error) error
}

func (f *fakeSubscriberRepo) InsertPendingWithToken(ctx context.Context, sub *entity.Subscriber, token string) error {
	if f.insertPendingFunc != nil {
		return f.insertPendingFunc(ctx, sub, token)
	}
	return nil
}

func (f *fakeSubscriberRepo) InsertToken(ctx context.Context, token, subscriberID string) error {
	if f.insertTokenFunc != nil {
		return f.insertTokenFunc(ctx, token, subscriberID)
	}
	return nil
}

func (f *fakeSubscriberRepo) GetByEmail(ctx context.Context, email string) (*entity.Subscriber, error) {
	if f.getByEmailFunc != nil {
		return f.getByEmailFunc(ctx, email)
	}
	return nil, repo.ErrSubscriberNotFound
}

func (f *fakeSubscriberRepo) SubscriberIDByToken(ctx context.Context, token string) (string, error) {
	if f.idByTokenFunc != nil {
		return f.idByTokenFunc(ctx, token)
	}
	return "", repo.ErrTokenNotFound
}

func (f *fakeSubscriberRepo) ConfirmSubscriber(ctx context.Context, subscriberID string) error {
	if f.confirmFunc != nil {
		return f.confirmFunc(ctx, subscriberID)
	}
	return nil
}

func (f *fakeSubscriberRepo) EachConfirmedEmail(ctx context.Context, fn func(email string) error) error {
	if f.eachConfirmedFunc != nil {
		return f.eachConfirmedFunc(ctx, fn)
	}
	return nil
}

type fakeGateway struct {
	sendFunc func(ctx context.Context, to, subject, text, html string) error
}

func (f *fakeGateway) Send(ctx context.Context, to, subject, text, html string) error {
	if f.sendFunc != nil {
		return f.sendFunc(ctx, to, subject, text, html)
	}
	return nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Config {
	return &config.Config{AppName: "letterflow", BaseURL: "http://localhost:8080"}
}

func newSubscriptionRouter(r *fakeSubscriberRepo, gw *fakeGateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	validation.Init()

	svc := application.NewSubscriptionService(r, gw, testLogger(), testConfig())
	h := NewSubscriptionHandler(svc, testLogger())

	e := gin.New()
	e.POST("/api/subscriptions", h.Subscribe)
	e.GET("/api/subscriptions/confirm", h.Confirm)
	e.POST("/api/subscriptions/resend", h.Resend)
	return e
}

// envelope mirrors the response wrapper for assertions.
type envelope struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
	Error   any            `json:"error"`
}

func doJSON(t *testing.T, e *gin.Engine, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return rr, env
}

func TestSubscribeEndpoint(t *testing.T) {
	t.Run("valid signup returns 201", func(t *testing.T) {
		e := newSubscriptionRouter(&fakeSubscriberRepo{}, &fakeGateway{})

		rr, env := doJSON(t, e, http.MethodPost, "/api/subscriptions",
			`{"email":"ursula_le_guin@gmail.com","name":"Ursula Le Guin"}`)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.True(t, env.Success)
		assert.Equal(t, "ursula_le_guin@gmail.com", env.Data["email"])
		assert.Equal(t, string(entity.StatusPendingConfirmation), env.Data["status"])
		assert.NotEmpty(t, env.Data["id"])
	})

	t.Run("classic form posts bind too", func(t *testing.T) {
		e := newSubscriptionRouter(&fakeSubscriberRepo{}, &fakeGateway{})

		form := url.Values{"email": {"ursula_le_guin@gmail.com"}, "name": {"Ursula Le Guin"}}
		req := httptest.NewRequest(http.MethodPost, "/api/subscriptions", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		e.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("malformed email is rejected with field details", func(t *testing.T) {
		e := newSubscriptionRouter(&fakeSubscriberRepo{}, &fakeGateway{})

		rr, env := doJSON(t, e, http.MethodPost, "/api/subscriptions",
			`{"email":"not-an-email","name":"Ursula Le Guin"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.False(t, env.Success)
		details, ok := env.Error.(map[string]any)
		require.True(t, ok)
		assert.Contains(t, details, "email")
	})

	t.Run("forbidden name characters are rejected", func(t *testing.T) {
		e := newSubscriptionRouter(&fakeSubscriberRepo{}, &fakeGateway{})

		rr, env := doJSON(t, e, http.MethodPost, "/api/subscriptions",
			`{"email":"ursula_le_guin@gmail.com","name":"evil<script>"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		details, ok := env.Error.(map[string]any)
		require.True(t, ok)
		assert.Contains(t, details, "name")
	})

	t.Run("missing fields are rejected", func(t *testing.T) {
		e := newSubscriptionRouter(&fakeSubscriberRepo{}, &fakeGateway{})

		rr, _ := doJSON(t, e, http.MethodPost, "/api/subscriptions", `{"email":"ursula_le_guin@gmail.com"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("duplicate email returns 400", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		r.insertPendingFunc = func(context.Context, *entity.Subscriber, string) error {
			return repo.ErrDuplicateEmail
		}
		e := newSubscriptionRouter(r, &fakeGateway{})

		rr, env := doJSON(t, e, http.MethodPost, "/api/subscriptions",
			`{"email":"ursula_le_guin@gmail.com","name":"Ursula Le Guin"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "email is already subscribed", env.Message)
	})

	t.Run("mail outage returns 500", func(t *testing.T) {
		gw := &fakeGateway{}
		gw.sendFunc = func(context.Context, string, string, string, string) error {
			return assert.AnError
		}
		e := newSubscriptionRouter(&fakeSubscriberRepo{}, gw)

		rr, env := doJSON(t, e, http.MethodPost, "/api/subscriptions",
			`{"email":"ursula_le_guin@gmail.com","name":"Ursula Le Guin"}`)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.False(t, env.Success)
	})
}

func TestConfirmEndpoint(t *testing.T) {
	withToken := func() *fakeSubscriberRepo {
		r := &fakeSubscriberRepo{}
		r.idByTokenFunc = func(_ context.Context, token string) (string, error) {
			if token == "knowntokenknowntokenknown" {
				return "sub-42", nil
			}
			return "", repo.ErrTokenNotFound
		}
		return r
	}

	t.Run("valid token confirms", func(t *testing.T) {
		e := newSubscriptionRouter(withToken(), &fakeGateway{})

		rr, env := doJSON(t, e, http.MethodGet,
			"/api/subscriptions/confirm?subscription_token=knowntokenknowntokenknown", "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, env.Data["confirmed"])
	})

	t.Run("short token query param works", func(t *testing.T) {
		e := newSubscriptionRouter(withToken(), &fakeGateway{})

		rr, _ := doJSON(t, e, http.MethodGet,
			"/api/subscriptions/confirm?token=knowntokenknowntokenknown", "")

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("missing token returns 400", func(t *testing.T) {
		e := newSubscriptionRouter(withToken(), &fakeGateway{})

		rr, _ := doJSON(t, e, http.MethodGet, "/api/subscriptions/confirm", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown token returns 404", func(t *testing.T) {
		e := newSubscriptionRouter(withToken(), &fakeGateway{})

		rr, _ := doJSON(t, e, http.MethodGet,
			"/api/subscriptions/confirm?subscription_token=neverissuedtokenneverissu", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestResendEndpoint(t *testing.T) {
	t.Run("unknown addresses still get a 200", func(t *testing.T) {
		e := newSubscriptionRouter(&fakeSubscriberRepo{}, &fakeGateway{})

		rr, env := doJSON(t, e, http.MethodPost, "/api/subscriptions/resend",
			`{"email":"nobody@example.com"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, env.Data["requested"])
	})

	t.Run("malformed addresses are rejected", func(t *testing.T) {
		e := newSubscriptionRouter(&fakeSubscriberRepo{}, &fakeGateway{})

		rr, _ := doJSON(t, e, http.MethodPost, "/api/subscriptions/resend", `{"email":"not-an-email"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
