package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

type fakeAPI struct {
	sent    []string
	inbox   []types.Message
	deleted []string
	sendErr error
}

func (f *fakeAPI) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

func (f *fakeAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	msgs := f.inbox
	f.inbox = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestProducer_Enqueue(t *testing.T) {
	api := &fakeAPI{}
	p := NewProducer(api, "https://sqs.test/orders", zap.NewNop())

	id, err := p.Enqueue(context.Background(), OrderEvent{OrderNumber: "A1B2C3", UserID: 42, Status: "ready"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("expected msg-1, got %s", id)
	}

	var decoded OrderEvent
	if err := json.Unmarshal([]byte(api.sent[0]), &decoded); err != nil {
		t.Fatalf("body is not an order event: %v", err)
	}
	if decoded.OrderNumber != "A1B2C3" || decoded.UserID != 42 || decoded.Status != "ready" {
		t.Errorf("unexpected event %+v", decoded)
	}
	if decoded.OccurredAt.IsZero() {
		t.Error("occurredAt should be stamped")
	}
}

func TestProducer_RejectsInvalidEvent(t *testing.T) {
	api := &fakeAPI{}
	p := NewProducer(api, "q", zap.NewNop())

	tests := []OrderEvent{
		{UserID: 1, Status: "ready"},
		{OrderNumber: "A", Status: "ready"},
		{OrderNumber: "A", UserID: 1},
	}
	for _, e := range tests {
		if _, err := p.Enqueue(context.Background(), e); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for %+v, got %v", e, err)
		}
	}
	if len(api.sent) != 0 {
		t.Error("invalid events must not be sent")
	}
}

func TestProducer_SendError(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("throttled")}
	p := NewProducer(api, "q", zap.NewNop())

	if _, err := p.Enqueue(context.Background(), OrderEvent{OrderNumber: "A", UserID: 1, Status: "ready"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestConsumer_Receive(t *testing.T) {
	api := &fakeAPI{inbox: []types.Message{
		{Body: aws.String(`{"orderNumber":"A1","userId":7,"status":"preparing"}`), ReceiptHandle: aws.String("r1")},
		{Body: aws.String(`not json`), ReceiptHandle: aws.String("r2")},
		{Body: aws.String(`{"orderNumber":"A2","status":"ready"}`), ReceiptHandle: aws.String("r3")},
	}}
	c := NewConsumer(api, "q", zap.NewNop())

	got, err := c.Receive(context.Background(), 10)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if got[0].Err != nil || got[0].Event.UserID != 7 {
		t.Errorf("first message should decode: %+v", got[0])
	}
	if got[1].Err == nil {
		t.Error("malformed body should carry an error")
	}
	if got[2].Err == nil {
		t.Error("event without user should fail validation")
	}

	if err := c.Delete(context.Background(), "r1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "r1" {
		t.Errorf("unexpected deletes %v", api.deleted)
	}
}
