package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/pkg/retry"
)

// SESAPI is the part of the SES v2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures the email channel.
type SESConfig struct {
	Region           string
	AccessKey        string
	SecretKey        string
	FromName         string
	FromEmail        string
	ConfigurationSet string
}

// SESSender sends outreach email via AWS SES using the SDK v2. The SES
// MessageId is the attempt's provider reference, which bounce, delivery and
// complaint notifications carry back.
type SESSender struct {
	client SESAPI
	cfg    SESConfig
}

// NewSESSender builds the SES client from static credentials when given,
// otherwise from the default AWS credential chain.
func NewSESSender(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESSenderWithClient(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewSESSenderWithClient wraps an existing client.
func NewSESSenderWithClient(client SESAPI, cfg SESConfig) *SESSender {
	return &SESSender{client: client, cfg: cfg}
}

func (s *SESSender) Channel() domain.Channel { return domain.ChannelEmail }

// Send delivers one message. Rejections SES will never accept are returned
// as permanent errors so the dispatcher does not retry them.
func (s *SESSender) Send(ctx context.Context, msg outreach.Message) (outreach.SendResult, error) {
	from := s.cfg.FromEmail
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("attempt_id"), Value: aws.String(msg.AttemptID)},
		},
	}
	if msg.HTML != "" {
		input.Content.Simple.Body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		var rejected *types.MessageRejected
		var unverified *types.MailFromDomainNotVerifiedException
		var bad *types.BadRequestException
		if errors.As(err, &rejected) || errors.As(err, &unverified) || errors.As(err, &bad) {
			return outreach.SendResult{}, retry.Permanent(fmt.Errorf("ses: %w", err))
		}
		return outreach.SendResult{}, fmt.Errorf("ses: %w", err)
	}

	messageID := aws.ToString(out.MessageId)
	logger.Debug("ses email sent", "email", msg.To, "message_id", messageID, "attempt_id", msg.AttemptID)
	return outreach.SendResult{ProviderRef: messageID, At: time.Now().UTC()}, nil
}
