package templates

import (
	"github.com/letterflow/letterflow/config"
)

// Option mutates EmailData before rendering.
type Option func(*EmailData)

func WithConfirmURL(url string) Option { return func(d *EmailData) { d.ConfirmURL = url } }

// NewBaseEmailData fills the shared fields from config, then applies options.
func NewBaseEmailData(cfg *config.Config, name, email string, opts ...Option) EmailData {
	d := EmailData{
		Name:  name,
		Email: email,

		CompanyName:    cfg.CompanyName,
		CompanyAddress: cfg.CompanyAddress,
		AppName:        cfg.AppName,

		LogoURL:        cfg.LogoURL,
		SupportURL:     cfg.SupportURL,
		PrivacyURL:     cfg.PrivacyURL,
		UnsubscribeURL: cfg.UnsubscribeURL,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// NewConfirmationData builds the data for the double opt-in confirmation email.
func NewConfirmationData(cfg *config.Config, name, email, confirmURL string, opts ...Option) EmailData {
	opts = append([]Option{WithConfirmURL(confirmURL)}, opts...)
	return NewBaseEmailData(cfg, name, email, opts...)
}
