package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var ErrNotConfirmed = errors.New("broker did not confirm message")

// AMQPPublisher publishes persistent JSON messages to a durable topic
// exchange, routed by event type, and waits for the broker's confirm.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	confirms chan amqp.Confirmation
	logger   zerolog.Logger

	mu sync.Mutex
}

func DialAMQP(url, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		logger:   logger.With().Str("component", "events").Str("exchange", exchange).Logger(),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := Encode(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.Type, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tag := p.ch.GetNextPublishSeqNo()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         evt.Type,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, evt.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	for {
		select {
		case confirmed, ok := <-p.confirms:
			if !ok {
				return fmt.Errorf("publish %s: %w", evt.Type, amqp.ErrClosed)
			}
			// Confirms for earlier publishes abandoned on ctx cancel.
			if confirmed.DeliveryTag < tag {
				continue
			}
			if !confirmed.Ack {
				return fmt.Errorf("publish %s: %w", evt.Type, ErrNotConfirmed)
			}
			p.logger.Debug().Str("event_id", evt.ID).Str("event_type", evt.Type).Msg("event confirmed")
			return nil
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", evt.Type, ctx.Err())
		}
	}
}

// Check reports whether the broker connection is still open.
func (p *AMQPPublisher) Check(context.Context) error {
	if p.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
