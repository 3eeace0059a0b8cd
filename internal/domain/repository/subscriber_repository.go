package repository

import (
	"context"
	"errors"

	"github.com/letterflow/letterflow/internal/domain/entity"
)

// Sentinel errors the storage layer translates driver failures into.
var (
	ErrDuplicateEmail     = errors.New("email is already subscribed")
	ErrTokenNotFound      = errors.New("subscription token not found")
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

// SubscriberRepository defines persistence for subscribers and their
// confirmation tokens. The email unique index is the single authority on
// duplicates; callers learn about races through ErrDuplicateEmail, never
// through a read-then-write check.
type SubscriberRepository interface {
	// InsertPendingWithToken stores a new pending subscriber together with
	// its first confirmation token in a single transaction. sub.ID and
	// sub.SubscribedAt must be set by the caller.
	InsertPendingWithToken(ctx context.Context, sub *entity.Subscriber, token string) error

	// InsertToken stores an additional confirmation token for an existing
	// subscriber. Earlier tokens stay valid.
	InsertToken(ctx context.Context, token, subscriberID string) error

	// GetByEmail returns ErrSubscriberNotFound when no row matches.
	GetByEmail(ctx context.Context, email string) (*entity.Subscriber, error)

	// SubscriberIDByToken resolves a confirmation token. Returns
	// ErrTokenNotFound for tokens that were never issued.
	SubscriberIDByToken(ctx context.Context, token string) (string, error)

	// ConfirmSubscriber marks the subscriber confirmed. Confirming an
	// already confirmed subscriber succeeds without changing anything, so
	// revisiting a confirmation link stays a no-op. Tokens are kept.
	ConfirmSubscriber(ctx context.Context, subscriberID string) error

	// EachConfirmedEmail streams the stored email of every confirmed
	// subscriber to fn without loading the audience into memory. A non-nil
	// error from fn stops the scan and is returned as is.
	EachConfirmedEmail(ctx context.Context, fn func(email string) error) error
}
