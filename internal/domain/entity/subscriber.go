package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rivo/uniseg"
)

// ErrInvalidInput marks subscriber data that failed validation. Callers
// branch on it with errors.Is.
var ErrInvalidInput = errors.New("invalid subscriber input")

// SubscriberStatus is the lifecycle state of a subscriber.
type SubscriberStatus string

const (
	// StatusPendingConfirmation means the subscriber signed up but has not
	// clicked the confirmation link yet. Pending subscribers never receive
	// newsletter issues.
	StatusPendingConfirmation SubscriberStatus = "pending_confirmation"
	// StatusConfirmed means the subscriber proved ownership of the address.
	StatusConfirmed SubscriberStatus = "confirmed"
)

// Subscriber is the aggregate root for the subscription domain.
type Subscriber struct {
	ID           string
	Email        string
	Name         string
	SubscribedAt time.Time
	Status       SubscriberStatus
}

const maxNameGraphemes = 256

// forbiddenNameChars would break HTML or SQL contexts the name is rendered in.
const forbiddenNameChars = `/()"<>\{}`

var emailCheck = validator.New()

// ParseSubscriberName validates a display name. Names are limited by
// user-perceived characters (grapheme clusters), not bytes, so a name full
// of combining marks or emoji still counts the way a person would count it.
func ParseSubscriberName(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidInput)
	}
	if uniseg.GraphemeClusterCount(s) > maxNameGraphemes {
		return "", fmt.Errorf("%w: name is longer than %d characters", ErrInvalidInput, maxNameGraphemes)
	}
	if strings.ContainsAny(s, forbiddenNameChars) {
		return "", fmt.Errorf("%w: name contains a forbidden character", ErrInvalidInput)
	}
	return s, nil
}

// ParseSubscriberEmail validates an email address. It is also applied to
// addresses read back from storage, which may predate current validation.
func ParseSubscriberEmail(s string) (string, error) {
	if err := emailCheck.Var(s, "required,email"); err != nil {
		return "", fmt.Errorf("%w: %q is not a valid email address", ErrInvalidInput, s)
	}
	return s, nil
}

// NewSubscriber validates raw signup input. ID and SubscribedAt are assigned
// by the service when the subscriber is stored.
func NewSubscriber(email, name string) (*Subscriber, error) {
	e, err := ParseSubscriberEmail(email)
	if err != nil {
		return nil, err
	}
	n, err := ParseSubscriberName(name)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		Email:  e,
		Name:   n,
		Status: StatusPendingConfirmation,
	}, nil
}
