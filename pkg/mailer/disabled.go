package mailer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/letterflow/letterflow/internal/domain/gateway"
)

// Disabled is the gateway used when MAIL_SEND_ENABLED=false. It logs what
// would have been sent and reports success, so local development works
// without a Mailgun account.
type Disabled struct {
	Logger *logrus.Logger
}

func NewDisabled(logger *logrus.Logger) *Disabled {
	return &Disabled{Logger: logger}
}

func (d *Disabled) Send(_ context.Context, to, subject, _, _ string) error {
	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
		}).Info("mail sending disabled, skipping send")
	}
	return nil
}

var _ gateway.EmailGateway = (*Disabled)(nil)
