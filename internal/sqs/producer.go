// Package sqs carries order status transitions between the ordering system
// and the notifier over an SQS queue.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ErrInvalidEvent marks an order event the worker could never deliver.
var ErrInvalidEvent = errors.New("invalid order event")

// OrderEvent announces that an order moved to a new status.
type OrderEvent struct {
	OrderNumber string    `json:"orderNumber"`
	UserID      int64     `json:"userId"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Validate rejects events the worker could never deliver.
func (e OrderEvent) Validate() error {
	switch {
	case e.OrderNumber == "":
		return fmt.Errorf("%w: missing orderNumber", ErrInvalidEvent)
	case e.UserID <= 0:
		return fmt.Errorf("%w: missing userId", ErrInvalidEvent)
	case e.Status == "":
		return fmt.Errorf("%w: missing status", ErrInvalidEvent)
	}
	return nil
}

// NewClient builds an SQS client from the default AWS credential chain.
func NewClient(ctx context.Context, region string) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Producer publishes order events.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(client API, queueURL string, logger *zap.Logger) *Producer {
	logger.Info("sqs producer initialized", zap.String("queue_url", queueURL))
	return &Producer{client: client, queueURL: queueURL, logger: logger}
}

// Enqueue sends an order event and returns the SQS message id.
func (p *Producer) Enqueue(ctx context.Context, e OrderEvent) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal order event: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send order event to sqs",
			zap.Error(err),
			zap.String("order_number", e.OrderNumber),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// Received is one message pulled from the queue. Err is set when the body
// could not be decoded; such messages should be deleted, not retried.
type Received struct {
	Event         OrderEvent
	ReceiptHandle string
	Err           error
}

// Consumer reads order events.
type Consumer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(client API, queueURL string, logger *zap.Logger) *Consumer {
	logger.Info("sqs consumer initialized", zap.String("queue_url", queueURL))
	return &Consumer{client: client, queueURL: queueURL, logger: logger}
}

// Receive long-polls for up to max events.
func (c *Consumer) Receive(ctx context.Context, max int32) ([]Received, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	out := make([]Received, 0, len(result.Messages))
	for _, m := range result.Messages {
		r := Received{ReceiptHandle: aws.ToString(m.ReceiptHandle)}
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &r.Event); err != nil {
			r.Err = fmt.Errorf("invalid order event: %w", err)
		} else if err := r.Event.Validate(); err != nil {
			r.Err = err
		}
		out = append(out, r)
	}

	return out, nil
}

// Delete acknowledges a processed message.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}
