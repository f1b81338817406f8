// Package mailer delivers single-recipient messages through a configurable provider.
package mailer

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ErrNoRecipient = errors.New("mailer: no recipient")
	ErrNoSender    = errors.New("mailer: no sender address")
)

// Message is one outbound email addressed to exactly one recipient.
type Message struct {
	From        string
	To          string
	Subject     string
	HTML        string
	Text        string // plain-text alternative; derived from HTML when empty
	Attachments []Attachment
}

// Attachment is a file carried in memory for the lifetime of a batch.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Transport abstracts the mail provider for DI and testing.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

func (m *Message) validate() error {
	if m.To == "" {
		return ErrNoRecipient
	}
	if m.From == "" {
		return ErrNoSender
	}
	return nil
}

func (m *Message) text() string {
	if m.Text != "" {
		return m.Text
	}
	return PlainText(m.HTML)
}

var stripPolicy = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// PlainText strips markup from an HTML body and collapses whitespace.
func PlainText(body string) string {
	stripped := html.UnescapeString(stripPolicy.Sanitize(body))
	return strings.Join(strings.Fields(stripped), " ")
}

// Preview returns at most n runes of the plain-text body, with an ellipsis when cut.
func Preview(body string, n int) string {
	text := []rune(PlainText(body))
	if len(text) <= n {
		return string(text)
	}
	return string(text[:n]) + "..."
}
