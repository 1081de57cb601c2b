// Package worker consumes order status events from the queue and turns them
// into push notifications.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/dispatch"
	"github.com/lalithlochan/canteen/internal/metrics"
	"github.com/lalithlochan/canteen/internal/sqs"
)

// Queue is where order events arrive.
type Queue interface {
	Receive(ctx context.Context, max int32) ([]sqs.Received, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// OrderNotifier sends the notification for one order transition.
type OrderNotifier interface {
	SendOrderUpdate(ctx context.Context, userID int64, orderNumber, status, override string) dispatch.Result
}

// Config tunes the polling loop.
type Config struct {
	BatchSize    int32
	ErrorBackoff time.Duration // pause after a failed receive
}

// Worker drains the order event queue.
type Worker struct {
	queue    Queue
	notifier OrderNotifier
	config   Config
	logger   *zap.Logger
}

// New creates a worker.
func New(queue Queue, notifier OrderNotifier, cfg Config, logger *zap.Logger) *Worker {
	if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
		cfg.BatchSize = 10
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}

	return &Worker{
		queue:    queue,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

// Start polls until ctx is cancelled. Receive long-polls, so there is no
// ticker between batches.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("order event worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("order event worker stopping")
			return
		}

		if err := w.processBatch(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("failed to receive order events", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.config.ErrorBackoff):
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	batch, err := w.queue.Receive(ctx, w.config.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	metrics.SetSQSMessagesInFlight(len(batch))
	defer metrics.SetSQSMessagesInFlight(0)

	for _, msg := range batch {
		w.process(ctx, msg)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, msg sqs.Received) {
	if msg.Err != nil {
		// Redelivery can't fix a malformed body.
		w.logger.Warn("discarding undecodable order event", zap.Error(msg.Err))
		metrics.RecordOrderEvent("invalid")
		w.ack(ctx, msg.ReceiptHandle)
		return
	}

	e := msg.Event
	res := w.notifier.SendOrderUpdate(ctx, e.UserID, e.OrderNumber, e.Status, e.Message)

	if ctx.Err() != nil {
		// Shutting down mid-dispatch; let the queue redeliver.
		metrics.RecordOrderEvent("interrupted")
		return
	}

	w.logger.Info("order event processed",
		zap.String("order_number", e.OrderNumber),
		zap.String("status", e.Status),
		zap.Int("sent", res.SentCount),
		zap.Int("targets", res.TargetCount),
	)
	metrics.RecordOrderEvent("delivered")
	w.ack(ctx, msg.ReceiptHandle)
}

func (w *Worker) ack(ctx context.Context, handle string) {
	if err := w.queue.Delete(ctx, handle); err != nil {
		w.logger.Error("failed to delete order event", zap.Error(err))
	}
}
