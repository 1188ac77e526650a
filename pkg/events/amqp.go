package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type rmqPublisher struct {
	conn     *amqp.Connection
	exchange string
	log      *slog.Logger
}

// NewAMQP dials url and declares exchange as a durable topic exchange
func NewAMQP(url, exchange string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &rmqPublisher{conn: conn, exchange: exchange, log: logger}, nil
}

// Publish sends msg as a persistent JSON message and waits for the broker
// confirm
func (r *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := msgID
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, r.exchange, key, false, false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Timestamp:     time.Now(),
			Type:          msg.Meta.Type,
			AppId:         Producer,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirm of %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", key)
	}

	r.log.Info("published", slog.String("key", key), slog.String("exchange", r.exchange), slog.String("id", msgID))
	return nil
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}

// Connect returns an AMQP publisher, or a Fallback when url is empty or the
// broker cannot be reached
func Connect(url, exchange string, logger *slog.Logger) Publisher {
	if url == "" {
		logger.Info("event publishing disabled")
		return NewFallback(logger)
	}

	pub, err := NewAMQP(url, exchange, logger)
	if err != nil {
		logger.Warn("broker unavailable, events will be dropped", slog.Any("error", err))
		return NewFallback(logger)
	}
	return pub
}
