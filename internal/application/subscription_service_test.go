package application

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterflow/letterflow/config"
	"github.com/letterflow/letterflow/internal/domain/entity"
	repo "github.com/letterflow/letterflow/internal/domain/repository"
)

// fakeSubscriberRepo implements repository.SubscriberRepository with
// per-test behavior via func fields. Calls are recorded in order.
type fakeSubscriberRepo struct {
	calls []string

	insertPendingFunc func(ctx context.Context, sub *entity.Subscriber, token string) error
	insertTokenFunc   func(ctx context.Context, token, subscriberID string) error
	getByEmailFunc    func(ctx context.Context, email string) (*entity.Subscriber, error)
	idByTokenFunc     func(ctx context.Context, token string) (string, error)
	confirmFunc       func(ctx context.Context, subscriberID string) error
	eachConfirmedFunc func(ctx context.Context, fn func(email string) error) error
}

func (f *fakeSubscriberRepo) InsertPendingWithToken(ctx context.Context, sub *entity.Subscriber, token string) error {
	f.calls = append(f.calls, "InsertPendingWithToken")
	if f.insertPendingFunc != nil {
		return f.insertPendingFunc(ctx, sub, token)
	}
	return nil
}

func (f *fakeSubscriberRepo) InsertToken(ctx context.Context, token, subscriberID string) error {
	f.calls = append(f.calls, "InsertToken")
	if f.insertTokenFunc != nil {
		return f.insertTokenFunc(ctx, token, subscriberID)
	}
	return nil
}

func (f *fakeSubscriberRepo) GetByEmail(ctx context.Context, email string) (*entity.Subscriber, error) {
	f.calls = append(f.calls, "GetByEmail")
	if f.getByEmailFunc != nil {
		return f.getByEmailFunc(ctx, email)
	}
	return nil, repo.ErrSubscriberNotFound
}

func (f *fakeSubscriberRepo) SubscriberIDByToken(ctx context.Context, token string) (string, error) {
	f.calls = append(f.calls, "SubscriberIDByToken")
	if f.idByTokenFunc != nil {
		return f.idByTokenFunc(ctx, token)
	}
	return "", repo.ErrTokenNotFound
}

func (f *fakeSubscriberRepo) ConfirmSubscriber(ctx context.Context, subscriberID string) error {
	f.calls = append(f.calls, "ConfirmSubscriber")
	if f.confirmFunc != nil {
		return f.confirmFunc(ctx, subscriberID)
	}
	return nil
}

func (f *fakeSubscriberRepo) EachConfirmedEmail(ctx context.Context, fn func(email string) error) error {
	f.calls = append(f.calls, "EachConfirmedEmail")
	if f.eachConfirmedFunc != nil {
		return f.eachConfirmedFunc(ctx, fn)
	}
	return nil
}

type sentMail struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// fakeGateway records outgoing mail and optionally fails sends. Delivery
// fans out across workers, so the records are mutex guarded.
type fakeGateway struct {
	mu    sync.Mutex
	calls *[]string
	sent  []sentMail

	sendFunc func(ctx context.Context, to, subject, text, html string) error
}

func (f *fakeGateway) Send(ctx context.Context, to, subject, text, html string) error {
	f.mu.Lock()
	if f.calls != nil {
		*f.calls = append(*f.calls, "Send")
	}
	f.mu.Unlock()
	if f.sendFunc != nil {
		if err := f.sendFunc(ctx, to, subject, text, html); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Text: text, HTML: html})
	f.mu.Unlock()
	return nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Config {
	return &config.Config{
		AppName: "letterflow",
		BaseURL: "https://newsletter.example.com",
	}
}

const fixedToken = "fixedtokenfixedtokenfixed"

func newTestSubscriptionService(r *fakeSubscriberRepo, gw *fakeGateway) *SubscriptionService {
	svc := NewSubscriptionService(r, gw, testLogger(), testConfig())
	svc.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	svc.NewID = func() string { return "11111111-2222-3333-4444-555555555555" }
	svc.NewToken = func() (string, error) { return fixedToken, nil }
	return svc
}

func TestSubscribe(t *testing.T) {
	t.Run("stores a pending subscriber with its token before emailing", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		var storedSub *entity.Subscriber
		var storedToken string
		r.insertPendingFunc = func(_ context.Context, sub *entity.Subscriber, token string) error {
			storedSub, storedToken = sub, token
			return nil
		}
		gw := &fakeGateway{calls: &r.calls}
		svc := newTestSubscriptionService(r, gw)

		sub, err := svc.Subscribe(context.Background(), "ursula_le_guin@gmail.com", "Ursula Le Guin")
		require.NoError(t, err)

		require.NotNil(t, storedSub)
		assert.Equal(t, "ursula_le_guin@gmail.com", storedSub.Email)
		assert.Equal(t, entity.StatusPendingConfirmation, storedSub.Status)
		assert.Equal(t, "11111111-2222-3333-4444-555555555555", storedSub.ID)
		assert.Equal(t, fixedToken, storedToken)
		assert.Equal(t, sub, storedSub)

		// The row is committed before the gateway is touched, so a mail
		// outage cannot lose the signup.
		assert.Equal(t, []string{"InsertPendingWithToken", "Send"}, r.calls)
	})

	t.Run("confirmation link appears in both bodies", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		gw := &fakeGateway{}
		svc := newTestSubscriptionService(r, gw)

		_, err := svc.Subscribe(context.Background(), "ursula_le_guin@gmail.com", "Ursula Le Guin")
		require.NoError(t, err)

		require.Len(t, gw.sent, 1)
		mail := gw.sent[0]
		wantURL := "https://newsletter.example.com/api/subscriptions/confirm?subscription_token=" + fixedToken
		assert.Equal(t, "ursula_le_guin@gmail.com", mail.To)
		assert.Contains(t, mail.Text, wantURL)
		assert.Contains(t, mail.HTML, wantURL)
	})

	t.Run("rejects invalid input without touching storage", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		gw := &fakeGateway{}
		svc := newTestSubscriptionService(r, gw)

		_, err := svc.Subscribe(context.Background(), "not-an-email", "Ursula Le Guin")
		assert.ErrorIs(t, err, entity.ErrInvalidInput)

		_, err = svc.Subscribe(context.Background(), "ursula_le_guin@gmail.com", "no/slashes")
		assert.ErrorIs(t, err, entity.ErrInvalidInput)

		assert.Empty(t, r.calls)
		assert.Empty(t, gw.sent)
	})

	t.Run("surfaces duplicate emails without sending", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		r.insertPendingFunc = func(context.Context, *entity.Subscriber, string) error {
			return repo.ErrDuplicateEmail
		}
		gw := &fakeGateway{}
		svc := newTestSubscriptionService(r, gw)

		_, err := svc.Subscribe(context.Background(), "ursula_le_guin@gmail.com", "Ursula Le Guin")
		assert.ErrorIs(t, err, repo.ErrDuplicateEmail)
		assert.Empty(t, gw.sent)
	})

	t.Run("keeps the stored signup when the email fails", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		gw := &fakeGateway{calls: &r.calls}
		gw.sendFunc = func(context.Context, string, string, string, string) error {
			return errors.New("mailgun is down")
		}
		svc := newTestSubscriptionService(r, gw)

		_, err := svc.Subscribe(context.Background(), "ursula_le_guin@gmail.com", "Ursula Le Guin")
		assert.ErrorIs(t, err, ErrConfirmationSendFailed)
		// The insert already happened; resend can complete the signup later.
		assert.Equal(t, []string{"InsertPendingWithToken", "Send"}, r.calls)
	})
}

func TestConfirm(t *testing.T) {
	t.Run("marks the resolved subscriber confirmed", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		r.idByTokenFunc = func(_ context.Context, token string) (string, error) {
			assert.Equal(t, fixedToken, token)
			return "sub-42", nil
		}
		var confirmedID string
		r.confirmFunc = func(_ context.Context, id string) error {
			confirmedID = id
			return nil
		}
		svc := newTestSubscriptionService(r, &fakeGateway{})

		require.NoError(t, svc.Confirm(context.Background(), fixedToken))
		assert.Equal(t, "sub-42", confirmedID)
	})

	t.Run("is idempotent for an already confirmed subscriber", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		r.idByTokenFunc = func(context.Context, string) (string, error) { return "sub-42", nil }
		svc := newTestSubscriptionService(r, &fakeGateway{})

		require.NoError(t, svc.Confirm(context.Background(), fixedToken))
		require.NoError(t, svc.Confirm(context.Background(), fixedToken))
	})

	t.Run("rejects an empty token", func(t *testing.T) {
		svc := newTestSubscriptionService(&fakeSubscriberRepo{}, &fakeGateway{})
		assert.ErrorIs(t, svc.Confirm(context.Background(), ""), entity.ErrInvalidInput)
	})

	t.Run("propagates unknown tokens", func(t *testing.T) {
		svc := newTestSubscriptionService(&fakeSubscriberRepo{}, &fakeGateway{})
		assert.ErrorIs(t, svc.Confirm(context.Background(), "neverissuedtokenneverissu"), repo.ErrTokenNotFound)
	})
}

func TestResendConfirmation(t *testing.T) {
	pending := &entity.Subscriber{
		ID:     "sub-42",
		Email:  "ursula_le_guin@gmail.com",
		Name:   "Ursula Le Guin",
		Status: entity.StatusPendingConfirmation,
	}

	t.Run("issues a fresh token and emails it", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		r.getByEmailFunc = func(context.Context, string) (*entity.Subscriber, error) { return pending, nil }
		var insertedToken, insertedID string
		r.insertTokenFunc = func(_ context.Context, token, id string) error {
			insertedToken, insertedID = token, id
			return nil
		}
		gw := &fakeGateway{}
		svc := newTestSubscriptionService(r, gw)

		require.NoError(t, svc.ResendConfirmation(context.Background(), pending.Email))
		assert.Equal(t, fixedToken, insertedToken)
		assert.Equal(t, "sub-42", insertedID)
		require.Len(t, gw.sent, 1)
		assert.Equal(t, pending.Email, gw.sent[0].To)
	})

	t.Run("reports success for unknown addresses", func(t *testing.T) {
		gw := &fakeGateway{}
		svc := newTestSubscriptionService(&fakeSubscriberRepo{}, gw)

		assert.NoError(t, svc.ResendConfirmation(context.Background(), "nobody@example.com"))
		assert.Empty(t, gw.sent)
	})

	t.Run("does nothing for confirmed subscribers", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		r.getByEmailFunc = func(context.Context, string) (*entity.Subscriber, error) {
			return &entity.Subscriber{ID: "sub-42", Email: pending.Email, Status: entity.StatusConfirmed}, nil
		}
		gw := &fakeGateway{}
		svc := newTestSubscriptionService(r, gw)

		assert.NoError(t, svc.ResendConfirmation(context.Background(), pending.Email))
		assert.NotContains(t, r.calls, "InsertToken")
		assert.Empty(t, gw.sent)
	})

	t.Run("rejects malformed addresses", func(t *testing.T) {
		svc := newTestSubscriptionService(&fakeSubscriberRepo{}, &fakeGateway{})
		assert.ErrorIs(t, svc.ResendConfirmation(context.Background(), "not-an-email"), entity.ErrInvalidInput)
	})

	t.Run("swallows send failures", func(t *testing.T) {
		r := &fakeSubscriberRepo{}
		r.getByEmailFunc = func(context.Context, string) (*entity.Subscriber, error) { return pending, nil }
		gw := &fakeGateway{}
		gw.sendFunc = func(context.Context, string, string, string, string) error {
			return errors.New("mailgun is down")
		}
		svc := newTestSubscriptionService(r, gw)

		assert.NoError(t, svc.ResendConfirmation(context.Background(), pending.Email))
	})
}
