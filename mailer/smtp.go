package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"

	mail "gopkg.in/gomail.v2"
)

// SMTPConfig describes the relay. MailHub is "host:port".
type SMTPConfig struct {
	MailHub       string
	Username      string
	Password      string
	UseTLS        bool // implicit TLS (SMTPS); STARTTLS is negotiated automatically otherwise
	SkipTLSVerify bool
}

// SMTPTransport sends through an SMTP relay, one connection per message.
type SMTPTransport struct {
	dialer *mail.Dialer
}

// NewSMTPTransport parses the relay address and prepares the dialer.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	host, portStr, err := net.SplitHostPort(cfg.MailHub)
	if err != nil {
		return nil, fmt.Errorf("invalid MAILHUB format: %s. Expected host:port", cfg.MailHub)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in MAILHUB: %w", err)
	}

	d := mail.NewDialer(host, port, cfg.Username, cfg.Password)
	d.SSL = cfg.UseTLS
	d.TLSConfig = &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	return &SMTPTransport{dialer: d}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.dialer.DialAndSend(buildMessage(msg)); err != nil {
		return fmt.Errorf("could not send email: %w", err)
	}
	return nil
}

// buildMessage renders msg as a MIME message: text and HTML alternatives plus attachments.
func buildMessage(msg *Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	if text := msg.text(); text != "" {
		m.SetBody("text/plain", text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	for _, a := range msg.Attachments {
		settings := []mail.FileSetting{
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(a.Content)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, mail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		m.Attach(a.Filename, settings...)
	}
	return m
}
