package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/giftwell/gift-automation/internal/config"
)

// SES emails users directly via AWS SESv2 for deployments that don't run
// the product notification backend. Bodies are deliberately plain: the kind
// and a few fields, no HTML templating here.
type SES struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
}

// NewSES creates an SES-backed dispatcher.
func NewSES(ctx context.Context, cfg appconfig.SESConfig) (*SES, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SES{
		client:    sesv2.NewFromConfig(awsCfg),
		fromName:  cfg.FromName,
		fromEmail: cfg.FromEmail,
	}, nil
}

var subjects = map[Kind]string{
	KindLowBalance:       "Your gift wallet balance is low",
	KindGiftConfirmed:    "Your gift is confirmed",
	KindNeedAddress:      "We need a shipping address for your gift",
	KindAddressReminder:  "Reminder: your gift still needs an address",
	KindGiftShipped:      "Your gift is on its way",
	KindOrderFailed:      "We couldn't place your gift order",
	KindGiftExpired:      "A scheduled gift has expired",
	KindAutomationFailed: "Action needed: gift automation stopped",
	KindAutoReloadFailed: "Your wallet auto-reload failed",
}

// Send implements Dispatcher.
func (s *SES) Send(ctx context.Context, kind Kind, contact string, data map[string]any) error {
	subject, ok := subjects[kind]
	if !ok {
		subject = "Update on your scheduled gift"
	}

	body := fmt.Sprintf("Hi,\n\nThis is an update about your scheduled gift (%s).\n", kind)
	for k, v := range data {
		body += fmt.Sprintf("%s: %v\n", k, v)
	}

	from := s.fromEmail
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{contact},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
