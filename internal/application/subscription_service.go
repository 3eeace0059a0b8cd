package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/letterflow/letterflow/config"
	"github.com/letterflow/letterflow/internal/domain/entity"
	"github.com/letterflow/letterflow/internal/domain/gateway"
	repo "github.com/letterflow/letterflow/internal/domain/repository"
	"github.com/letterflow/letterflow/pkg/helpers"
	"github.com/letterflow/letterflow/pkg/mailer/templates"
)

// ErrConfirmationSendFailed wraps gateway failures while dispatching the
// confirmation email. The subscriber row is already committed when it
// occurs, so the signup can be completed later through the resend flow.
var ErrConfirmationSendFailed = errors.New("failed to send confirmation email")

// SubscriptionService owns the double opt-in lifecycle: signup, token
// issuance, confirmation email dispatch and token confirmation.
type SubscriptionService struct {
	Repo    repo.SubscriberRepository
	Gateway gateway.EmailGateway
	Logger  *logrus.Logger
	Cfg     *config.Config

	// Clock, id and token sources are fields so tests can pin them.
	Now      func() time.Time
	NewID    func() string
	NewToken func() (string, error)
}

func NewSubscriptionService(r repo.SubscriberRepository, gw gateway.EmailGateway, logger *logrus.Logger, cfg *config.Config) *SubscriptionService {
	return &SubscriptionService{
		Repo:     r,
		Gateway:  gw,
		Logger:   logger,
		Cfg:      cfg,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
		NewToken: helpers.GenSubscriptionToken,
	}
}

// Subscribe validates the signup, stores the subscriber as pending together
// with a fresh confirmation token, then emails the confirmation link. The
// store commit happens before the email attempt, so a mail outage never
// loses the signup; it surfaces as ErrConfirmationSendFailed instead.
func (s *SubscriptionService) Subscribe(ctx context.Context, email, name string) (*entity.Subscriber, error) {
	sub, err := entity.NewSubscriber(email, name)
	if err != nil {
		return nil, err
	}

	token, err := s.NewToken()
	if err != nil {
		return nil, fmt.Errorf("generate confirmation token: %w", err)
	}

	sub.ID = s.NewID()
	sub.SubscribedAt = s.Now()

	if err := s.Repo.InsertPendingWithToken(ctx, sub, token); err != nil {
		if !errors.Is(err, repo.ErrDuplicateEmail) && s.Logger != nil {
			helpers.LogError(s.Logger, "store pending subscriber failed", err, logrus.Fields{"email": sub.Email})
		}
		return nil, err
	}

	if err := s.sendConfirmation(ctx, sub, token); err != nil {
		if s.Logger != nil {
			helpers.LogError(s.Logger, "confirmation email failed", err, logrus.Fields{
				"email":         sub.Email,
				"subscriber_id": sub.ID,
			})
		}
		return nil, fmt.Errorf("%w: %v", ErrConfirmationSendFailed, err)
	}

	if s.Logger != nil {
		helpers.LogInfo(s.Logger, "subscriber pending confirmation", logrus.Fields{
			"email":         sub.Email,
			"subscriber_id": sub.ID,
		})
	}
	return sub, nil
}

// ResendConfirmation issues a fresh token for a pending subscriber and
// emails a new confirmation link. It reports success for unknown and
// already-confirmed addresses too, so the endpoint cannot be used to probe
// which emails are subscribed.
func (s *SubscriptionService) ResendConfirmation(ctx context.Context, email string) error {
	addr, err := entity.ParseSubscriberEmail(email)
	if err != nil {
		return err
	}

	sub, err := s.Repo.GetByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, repo.ErrSubscriberNotFound) {
			if s.Logger != nil {
				s.Logger.WithField("email", addr).Debug("resend requested for unknown email")
			}
			return nil
		}
		if s.Logger != nil {
			helpers.LogError(s.Logger, "resend lookup failed", err, logrus.Fields{"email": addr})
		}
		return nil
	}
	if sub.Status == entity.StatusConfirmed {
		return nil
	}

	token, err := s.NewToken()
	if err != nil {
		if s.Logger != nil {
			helpers.LogError(s.Logger, "resend token generation failed", err, nil)
		}
		return nil
	}
	// Earlier tokens stay valid; any of the emailed links confirms.
	if err := s.Repo.InsertToken(ctx, token, sub.ID); err != nil {
		if s.Logger != nil {
			helpers.LogError(s.Logger, "resend token insert failed", err, logrus.Fields{"subscriber_id": sub.ID})
		}
		return nil
	}

	if err := s.sendConfirmation(ctx, sub, token); err != nil {
		if s.Logger != nil {
			helpers.LogError(s.Logger, "resend confirmation email failed", err, logrus.Fields{
				"email":         sub.Email,
				"subscriber_id": sub.ID,
			})
		}
		return nil
	}

	if s.Logger != nil {
		helpers.LogInfo(s.Logger, "confirmation email resent", logrus.Fields{"subscriber_id": sub.ID})
	}
	return nil
}

// Confirm resolves a confirmation token and marks its subscriber confirmed.
// Unknown tokens fail with repository.ErrTokenNotFound; confirming an
// already confirmed subscriber succeeds.
func (s *SubscriptionService) Confirm(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is empty", entity.ErrInvalidInput)
	}

	subscriberID, err := s.Repo.SubscriberIDByToken(ctx, token)
	if err != nil {
		return err
	}

	if err := s.Repo.ConfirmSubscriber(ctx, subscriberID); err != nil {
		return err
	}

	if s.Logger != nil {
		helpers.LogInfo(s.Logger, "subscriber confirmed", logrus.Fields{"subscriber_id": subscriberID})
	}
	return nil
}

func (s *SubscriptionService) sendConfirmation(ctx context.Context, sub *entity.Subscriber, token string) error {
	confirmURL := s.Cfg.ConfirmationURL(token)
	data := templates.NewConfirmationData(s.Cfg, sub.Name, sub.Email, confirmURL)
	subject, text, html, err := templates.Render(templates.Confirmation, data)
	if err != nil {
		return err
	}
	return s.Gateway.Send(ctx, sub.Email, subject, text, html)
}
