package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/e-sathish/bulk-email-tool-sample0/internal/config"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/pkg/logger"
)

// SES delivers mail through AWS SES using the SDK v2.
type SES struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
}

// NewSES creates an SES transport with static credentials. Falls back to the
// default AWS credential chain when no access key is configured.
func NewSES(ctx context.Context, cfg appconfig.MailerConfig) (*SES, error) {
	region := cfg.SES.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SES.AccessKey, cfg.SES.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SES{
		client:    sesv2.NewFromConfig(awsCfg),
		fromName:  cfg.FromName,
		fromEmail: cfg.FromEmail,
	}, nil
}

// Name implements Transport.
func (s *SES) Name() string { return "ses" }

// Deliver sends one email through SES. Campaign and recipient ids ride along
// as message tags so SES event destinations can correlate them.
func (s *SES) Deliver(ctx context.Context, msg Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	logger.Debug("ses delivery accepted", "to_email", msg.To, "message_id", messageID)
	return nil
}
