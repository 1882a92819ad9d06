package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	taskQueue    string
	retryQueue   string
	webhookQueue string
}

// retryDelayMS is how long a task job parks in the retry queue before it is
// dead-lettered back to the main queue.
const retryDelayMS = 15000

// TaskMessage points the worker at a persisted task request row.
type TaskMessage struct {
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id"`
}

// WebhookMessage is the follow-up delivery job. It is published after the
// primary job finishes, success or failure, so delivery never depends on the
// generation outcome.
type WebhookMessage struct {
	TaskID     string `json:"task_id"`
	WebhookURL string `json:"webhook_url"`
}

func NewPublisher(url, taskQueue, webhookQueue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := DeclareTopology(ch, taskQueue, webhookQueue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:         conn,
		ch:           ch,
		taskQueue:    taskQueue,
		retryQueue:   taskQueue + ".retry",
		webhookQueue: webhookQueue,
	}, nil
}

// DeclareTopology sets up the main/retry/DLQ trio for the task queue and a
// plain durable queue for webhook deliveries. Publisher and worker both call
// it so either side can start first.
func DeclareTopology(ch *amqp.Channel, taskQueue, webhookQueue string) error {
	mainQ := taskQueue
	retryQ := taskQueue + ".retry"
	dlqQ := taskQueue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-message-ttl":             int32(retryDelayMS),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		return err
	}

	// Webhook deliveries are best-effort; no retry topology.
	if _, err := ch.QueueDeclare(
		webhookQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}

	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishTask(ctx context.Context, msg TaskMessage) error {
	return p.publish(ctx, p.taskQueue, msg)
}

// PublishTaskRetry parks a failed task job in the retry queue; the queue's
// TTL sends it back to the main queue for another attempt.
func (p *Publisher) PublishTaskRetry(ctx context.Context, msg TaskMessage) error {
	return p.publish(ctx, p.retryQueue, msg)
}

// DeathCount sums the delivery counts recorded in the x-death header, which
// the broker appends each time a message is dead-lettered. The worker uses
// it to cap retry cycles before parking a job in the DLQ.
func DeathCount(headers amqp.Table) int {
	deaths, ok := headers["x-death"].([]any)
	if !ok {
		return 0
	}
	total := 0
	for _, d := range deaths {
		entry, ok := d.(amqp.Table)
		if !ok {
			continue
		}
		switch n := entry["count"].(type) {
		case int64:
			total += int(n)
		case int32:
			total += int(n)
		case int:
			total += n
		}
	}
	return total
}

func (p *Publisher) PublishWebhook(ctx context.Context, msg WebhookMessage) error {
	return p.publish(ctx, p.webhookQueue, msg)
}

func (p *Publisher) publish(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
