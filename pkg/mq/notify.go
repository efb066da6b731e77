package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"

	"intelligrade/pkg/queue"
)

// Notifier pushes job lifecycle events over RabbitMQ and lets the worker wake
// up early when new work arrives. Everything here is best-effort: the job
// store is the source of truth and polling stays correct with no broker at all.
type Notifier struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

const (
	// EventsExchange fans out status changes to any subscriber (dashboards,
	// owner-facing push channels).
	EventsExchange = "grading.events"
	// SubmitExchange receives a message per submission; the wakeup queue
	// hangs off it so an idle worker can start a cycle without waiting for
	// the next poll tick.
	SubmitExchange = "grading.submit"
	WakeupQueue    = "grading.wakeup"
)

func New() (*Notifier, error) {
	conn, err := amqp.Dial(os.Getenv("RABBITMQ_URL"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Notifier{conn: conn, ch: ch}, nil
}

// SetupTopology declares all necessary exchanges and queues. Idempotent.
func (n *Notifier) SetupTopology() error {
	if err := n.ch.ExchangeDeclare(EventsExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if err := n.ch.ExchangeDeclare(SubmitExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	_, err := n.ch.QueueDeclare(WakeupQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	return n.ch.QueueBind(WakeupQueue, "", SubmitExchange, false, nil)
}

// statusEvent is the wire format of a lifecycle notification.
type statusEvent struct {
	JobID     string       `json:"job_id"`
	OwnerID   string       `json:"owner_id,omitempty"`
	Status    queue.Status `json:"status"`
	LastError string       `json:"last_error,omitempty"`
}

// PublishStatus emits a status-change event for subscribers.
func (n *Notifier) PublishStatus(ctx context.Context, j *queue.Job) error {
	body, err := json.Marshal(statusEvent{
		JobID:     j.ID,
		OwnerID:   j.OwnerID,
		Status:    j.Status,
		LastError: j.LastError,
	})
	if err != nil {
		return err
	}
	return n.ch.PublishWithContext(ctx,
		EventsExchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
}

// PublishSubmitted signals the worker that a new job is queued.
func (n *Notifier) PublishSubmitted(ctx context.Context, jobID string) error {
	return n.ch.PublishWithContext(ctx,
		SubmitExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(jobID),
		})
}

// Wakeups consumes the wakeup queue. Messages are auto-acked: a lost wakeup
// only delays work until the next poll tick.
func (n *Notifier) Wakeups() (<-chan amqp.Delivery, error) {
	return n.ch.Consume(
		WakeupQueue,
		"",   // consumer
		true, // auto-ack
		false,
		false,
		false,
		nil,
	)
}

func (n *Notifier) Close() {
	n.ch.Close()
	n.conn.Close()
}
