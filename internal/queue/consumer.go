package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer reads reservation events back from the broker and turns each
// one into a structured notification log entry for the requester.
type Consumer struct {
	url   string
	queue string
	log   *zap.Logger
}

func NewConsumer(url, queueName string, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, queue: queueName, log: log.Named("notifier")}
}

// Run connects to RabbitMQ, declares the queue (durable) and consumes it
// until ctx is cancelled.  Lost connections are re-dialled with a backoff
// doubling from one second up to thirty.  Messages that cannot be decoded
// are rejected without requeueing.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("set qos failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info("consuming", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				c.log.Warn("drop message", zap.String("message_id", d.MessageId), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev ReservationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.ReservationID == 0 {
		return errors.New("event without type or reservation id")
	}
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.Uint64("reservation_id", ev.ReservationID),
		zap.Uint64("user_id", ev.UserID),
		zap.String("status", ev.Status),
		zap.String("occurred_at", ev.OccurredAt),
	}
	if ev.RefundCents > 0 {
		fields = append(fields, zap.Uint32("refund_cents", ev.RefundCents))
	}
	c.log.Info(Notification(ev), fields...)
	return nil
}

// Notification renders the message sent to the requester for ev.
func Notification(ev ReservationEvent) string {
	switch ev.Type {
	case EventPartiallyApproved:
		return fmt.Sprintf("reservation %d approved by %s, waiting for %s",
			ev.ReservationID, ev.Role, strings.Join(ev.PendingRoles, ", "))
	case EventAdvanced:
		msg := fmt.Sprintf("reservation %d moved to step %d (%s)",
			ev.ReservationID, ev.Step, strings.Join(ev.NextRoles, ", "))
		if ev.PaymentNeeded {
			msg += "; please pay to continue"
		}
		return msg
	case EventApproved:
		return fmt.Sprintf("reservation %d approved, device %d is ready for pickup", ev.ReservationID, ev.DeviceID)
	case EventRejected:
		return fmt.Sprintf("reservation %d rejected by %s: %s", ev.ReservationID, ev.Role, ev.Note)
	case EventCancelled:
		return fmt.Sprintf("reservation %d cancelled, refund %d.%02d", ev.ReservationID, ev.RefundCents/100, ev.RefundCents%100)
	case EventCompleted:
		return fmt.Sprintf("reservation %d completed, device %d returned", ev.ReservationID, ev.DeviceID)
	}
	return fmt.Sprintf("reservation %d: %s", ev.ReservationID, ev.Type)
}

// sleep waits for d or until ctx is done and reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
