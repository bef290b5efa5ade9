package queue

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/internal/util"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue = "ingest_queue"

	// retryDelay is how long a failed message waits in the retry queue
	// before it is dead-lettered back onto its work queue.
	retryDelay = 10 * time.Second
)

// Declarer is the part of *amqp091.Channel used to declare queues.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// Publisher is the part of *amqp091.Channel used to publish messages.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// ConnectionURL builds the broker URL from the RABBITMQ_* settings.
func ConnectionURL() (string, error) {
	env, err := util.RequireEnv("RABBITMQ_USER", "RABBITMQ_PASSWORD", "RABBITMQ_HOST")
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(env["RABBITMQ_USER"], env["RABBITMQ_PASSWORD"]),
		Host:   fmt.Sprintf("%s:%s", env["RABBITMQ_HOST"], util.GetEnvString("RABBITMQ_PORT", "5672")),
		Path:   "/",
	}
	return u.String(), nil
}

func Init() (*amqp091.Connection, error) {
	connURL, err := ConnectionURL()
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares every work queue together with its _retry queue,
// which dead-letters back after retryDelay, and its _dlq.
func SetupQueues(ch Declarer, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", retryName, err)
		}
	}
	return nil
}

func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte) error {
	return publish(ctx, ch, queueName, data, nil)
}

func publish(ctx context.Context, ch Publisher, queueName string, data []byte, headers amqp091.Table) error {
	err := ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queueName, err)
	}
	return nil
}
