// Package alert tells the canteen operator when the notifier runs degraded.
package alert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// Notifier delivers an operator alert. Implementations must never be handed
// private key material.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// API is the subset of the SES client used here.
type API interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier emails alerts through Amazon SES.
type SESNotifier struct {
	client API
	from   string
	to     string
	logger *zap.Logger
}

// NewSESClient builds an SES client from the default AWS credential chain.
func NewSESClient(ctx context.Context, region string) (*ses.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return ses.NewFromConfig(awsCfg), nil
}

// NewSESNotifier creates an SES-backed notifier sending from -> to.
func NewSESNotifier(client API, from, to string, logger *zap.Logger) *SESNotifier {
	return &SESNotifier{client: client, from: from, to: to, logger: logger}
}

// Notify sends a plain-text email.
func (s *SESNotifier) Notify(ctx context.Context, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{s.to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String("[canteen-notifier] " + subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("operator alert sent",
		zap.String("subject", subject),
		zap.String("to", s.to),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// LogNotifier only logs; used when no operator email is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at warn level.
func (l *LogNotifier) Notify(ctx context.Context, subject, body string) error {
	l.logger.Warn("operator alert", zap.String("subject", subject), zap.String("body", body))
	return nil
}
