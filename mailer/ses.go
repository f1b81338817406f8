package mailer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

type sesAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESTransport sends through Amazon SES. Raw MIME is used so attachments survive.
type SESTransport struct {
	client sesAPI
}

// NewSESTransport loads the default AWS credential chain for region.
func NewSESTransport(ctx context.Context, region string) (*SESTransport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SESTransport{client: ses.NewFromConfig(awsCfg)}, nil
}

func (t *SESTransport) Send(ctx context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	var raw bytes.Buffer
	if _, err := buildMessage(msg).WriteTo(&raw); err != nil {
		return fmt.Errorf("ses: failed to render message: %w", err)
	}

	_, err := t.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(msg.From),
		Destinations: []string{msg.To},
		RawMessage:   &types.RawMessage{Data: raw.Bytes()},
	})
	if err != nil {
		return fmt.Errorf("ses: failed to send email: %w", err)
	}
	return nil
}
