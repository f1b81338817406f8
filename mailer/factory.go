package mailer

import (
	"context"
	"fmt"

	"bulk-mailer/config"
)

// New builds the transport selected by cfg.Driver.
func New(ctx context.Context, cfg config.MailConfig) (Transport, error) {
	switch cfg.Driver {
	case "smtp":
		t, err := NewSMTPTransport(SMTPConfig{
			MailHub:       cfg.MailHub,
			Username:      cfg.AuthUser,
			Password:      cfg.AuthPass,
			UseTLS:        bool(cfg.UseTLS),
			SkipTLSVerify: bool(cfg.SkipTLSVerify),
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	case "ses":
		t, err := NewSESTransport(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "resend":
		return NewResendTransport(cfg.ResendAPIKey), nil
	case "postmark":
		return NewPostmarkTransport(cfg.PostmarkServerToken, cfg.PostmarkAccountToken), nil
	}
	return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
}
