package queue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const maxRetries = 10

// ErrPermanent marks failures that retrying cannot fix. Such messages go
// straight to the dead-letter queue.
var ErrPermanent = errors.New("permanent failure")

type ProcessFunc func(ctx context.Context, body []byte) error

// Consumer is the part of *amqp091.Channel used to receive deliveries.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// Consume processes deliveries of queueName one at a time until ctx is
// done or the broker closes the channel.
func Consume(ctx context.Context, ch Consumer, pub Publisher, queueName string, process ProcessFunc) error {
	msgs, err := ch.Consume(queueName, queueName+"_consumer", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queueName, err)
	}

	logger.Info("[Queue] Listening for messages", "queue", queueName)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", queueName)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("[Queue] Message channel closed", "queue", queueName)
				return nil
			}
			HandleDelivery(ctx, pub, msg, queueName, process)
		}
	}
}

// HandleDelivery runs process on msg and acknowledges it. Failed messages
// are moved to the retry queue, or to the dead-letter queue once they were
// retried maxRetries times or failed permanently.
func HandleDelivery(ctx context.Context, pub Publisher, msg amqp091.Delivery, queueName string, process ProcessFunc) {
	start := time.Now()
	logger.Info("[Queue] Received message", "queue", queueName)

	if err := process(ctx, msg.Body); err != nil {
		logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
		handleProcessingError(ctx, pub, msg, queueName, err)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "queue", queueName, "err", err)
		return
	}
	logger.Info("[Queue] Message processed", "queue", queueName, "duration", time.Since(start).Round(time.Millisecond))
}

func handleProcessingError(ctx context.Context, pub Publisher, msg amqp091.Delivery, queueName string, procErr error) {
	retries := retryCount(msg.Headers)

	headers := amqp091.Table{}
	maps.Copy(headers, msg.Headers)

	target := queueName + "_retry"
	if retries >= maxRetries || errors.Is(procErr, ErrPermanent) {
		target = queueName + "_dlq"
		headers["x-error"] = procErr.Error()
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	if err := publish(ctx, pub, target, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to reroute message", "queue", target, "err", err)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "queue", queueName, "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "queue", queueName, "err", err)
	}
}

func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
