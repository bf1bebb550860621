package provider

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/meridian/cohort-scheduler/internal/pkg/logger"
)

// SES delivers messages through AWS SES using the SDK v2. SES has no
// native future-send API; the dispatcher only hands over messages whose
// scheduled time has arrived, so Schedule sends immediately and the SES
// message id becomes the correlation id.
type SES struct {
	client *sesv2.Client
	region string
}

// NewSES creates an SES provider. Static credentials win when both are
// provided; otherwise the default AWS chain (env, instance role) applies.
func NewSES(ctx context.Context, region, accessKey, secretKey string, timeout time.Duration) (*SES, error) {
	if region == "" {
		region = "us-east-1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(cfg), region: region}, nil
}

// Name identifies this provider on delivery records and staged events.
func (s *SES) Name() string { return "ses" }

// Schedule sends the message and returns the SES message id.
func (s *SES) Schedule(ctx context.Context, msg Message) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("ses client not initialized - check credentials")
	}

	result, err := s.client.SendEmail(ctx, buildSendInput(msg))
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[SES] Accepted message for %s (id: %s)", logger.RedactEmail(msg.To), messageID)
	return messageID, nil
}

// buildSendInput assembles the SES request. Split out so tests can assert
// the request shape without a live client.
func buildSendInput(msg Message) *sesv2.SendEmailInput {
	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.BodyHTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	return input
}
