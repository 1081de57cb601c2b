// Package sns publishes dispatch audit events to an SNS topic for
// downstream analytics.
package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/lalithlochan/canteen/internal/dispatch"
)

// API is the subset of the SNS client used here.
type API interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher sends one message per dispatch to the audit topic.
type Publisher struct {
	client   API
	topicARN string
}

// NewClient builds an SNS client from the default AWS credential chain.
func NewClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// NewPublisher creates an audit publisher for topicARN.
func NewPublisher(client API, topicARN string) *Publisher {
	return &Publisher{client: client, topicARN: topicARN}
}

// PublishDispatch publishes e. Subscribers can filter on the kind and
// pruned attributes without parsing the body.
func (p *Publisher) PublishDispatch(ctx context.Context, e dispatch.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch event: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"kind": {
			DataType:    aws.String("String"),
			StringValue: aws.String(e.Kind),
		},
		"pruned": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(e.PrunedCount)),
		},
	}
	if e.TargetType != "" {
		attrs["target_type"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(e.TargetType),
		}
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return nil
}
