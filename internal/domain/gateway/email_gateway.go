package gateway

import (
	"context"
	"fmt"
)

// DeliveryError carries the recipient a send failed for so the delivery
// pipeline can report it without parsing error strings.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// EmailGateway sends a single transactional email. Implementations honor
// ctx cancellation and deadlines; a nil error means the provider accepted
// the message, not that it reached an inbox.
type EmailGateway interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}
