// internal/queue/rabbitmq.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/astercc518/outreachd/internal/config"
	"github.com/astercc518/outreachd/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ is the audit sink transport: status-changed events and
// execution-log entries are fanned out to durable queues for downstream
// consumers (dashboards, alerting). The engine never consumes here.
type RabbitMQ struct {
	conn          *amqp.Connection
	statusChannel *amqp.Channel
	logsChannel   *amqp.Channel
	config        config.RabbitMQConfig
}

func NewRabbitMQ(cfg config.RabbitMQConfig) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	statusCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open status channel: %w", err)
	}

	logsCh, err := conn.Channel()
	if err != nil {
		statusCh.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to open logs channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:          conn,
		statusChannel: statusCh,
		logsChannel:   logsCh,
		config:        cfg,
	}

	if err := rmq.setupQueues(); err != nil {
		rmq.Close()
		return nil, fmt.Errorf("failed to setup queues: %w", err)
	}

	return rmq, nil
}

func (r *RabbitMQ) setupQueues() error {
	err := r.statusChannel.ExchangeDeclare(
		r.config.Exchange,     // name
		r.config.ExchangeType, // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return err
	}

	// Status queue with message TTL; stale status updates are worthless.
	args := make(amqp.Table)
	args["x-message-ttl"] = 72 * 60 * 60 * 1000 // 72 hours in milliseconds

	_, err = r.statusChannel.QueueDeclare(
		r.config.StatusQueue, // name
		true,                 // durable
		false,                // delete when unused
		false,                // exclusive
		false,                // no-wait
		args,                 // arguments - including TTL
	)
	if err != nil {
		return err
	}

	err = r.statusChannel.QueueBind(
		r.config.StatusQueue, // queue name
		"status",             // routing key
		r.config.Exchange,    // exchange
		false,
		nil,
	)
	if err != nil {
		return err
	}

	// Logs queue is durable without TTL; it feeds the audit trail.
	_, err = r.logsChannel.QueueDeclare(
		r.config.LogsQueue, // name
		true,               // durable
		false,              // delete when unused
		false,              // exclusive
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return err
	}

	return r.logsChannel.QueueBind(
		r.config.LogsQueue, // queue name
		"logs",             // routing key
		r.config.Exchange,  // exchange
		false,
		nil,
	)
}

// PublishStatus emits one status-changed event for a task or the engine.
func (r *RabbitMQ) PublishStatus(ctx context.Context, status *models.StatusMessage) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	return r.statusChannel.PublishWithContext(ctx,
		r.config.Exchange, // exchange
		"status",          // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// PublishLog appends one execution-log entry to the audit queue.
func (r *RabbitMQ) PublishLog(ctx context.Context, entry *models.ExecutionLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal execution log: %w", err)
	}

	return r.logsChannel.PublishWithContext(ctx,
		r.config.Exchange, // exchange
		"logs",            // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

func (r *RabbitMQ) Close() error {
	if err := r.statusChannel.Close(); err != nil {
		return err
	}
	if err := r.logsChannel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}
