// Package service holds the outbound integrations of the server.  The
// event publisher delivers reservation lifecycle events to RabbitMQ.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/lab-reservation/internal/queue"
)

// EventPublisher publishes events to a durable queue through the default
// exchange.  The connection is opened on first use and reopened after a
// failure, so a broker outage costs the events published during it and
// nothing else.  It is safe for concurrent use.
type EventPublisher struct {
	url   string
	queue string
	log   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewEventPublisher does not connect; the first Publish does.
func NewEventPublisher(url, queueName string, log *zap.Logger) *EventPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventPublisher{url: url, queue: queueName, log: log}
}

// Publish sends ev as a persistent JSON message.
func (p *EventPublisher) Publish(ctx context.Context, ev queue.ReservationEvent) error {
	msg, err := publishing(ev, time.Now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.log.Debug("event published", zap.String("type", ev.Type), zap.String("message_id", msg.MessageId))
	return nil
}

// Close closes the channel and connection, if open.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	p.ch, p.conn = nil, nil
	return err
}

// channel returns an open channel, dialing and declaring the queue when
// needed.  p.mu must be held.
func (p *EventPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.log.Info("rabbitmq publisher connected", zap.String("queue", p.queue))
	return ch, nil
}

func (p *EventPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// publishing builds the AMQP message for ev.  The event id doubles as the
// message id so consumers can drop redeliveries.
func publishing(ev queue.ReservationEvent, now time.Time) (amqp.Publishing, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    now.UTC(),
		Body:         body,
	}, nil
}
