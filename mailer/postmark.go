package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkTransport sends through Postmark's transactional API.
type PostmarkTransport struct {
	client *postmark.Client
}

func NewPostmarkTransport(serverToken, accountToken string) *PostmarkTransport {
	return &PostmarkTransport{client: postmark.NewClient(serverToken, accountToken)}
}

func (t *PostmarkTransport) Send(ctx context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	resp, err := t.client.SendEmail(ctx, postmarkEmail(msg))
	if err != nil {
		return fmt.Errorf("postmark: failed to send email: %w", err)
	}
	if resp.ErrorCode > 0 {
		return errors.New("postmark: " + resp.Message)
	}
	return nil
}

func postmarkEmail(msg *Message) postmark.Email {
	email := postmark.Email{
		From:     msg.From,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTML,
		TextBody: msg.text(),
	}
	for _, a := range msg.Attachments {
		email.Attachments = append(email.Attachments, postmark.Attachment{
			Name:        a.Filename,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			ContentType: a.ContentType,
		})
	}
	return email
}
