package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/matteocacciola/cheshirecat-core/pkg/models"
)

// RabbitBus broadcasts over a RabbitMQ fanout exchange. Each replica binds
// one exclusive auto-delete queue, so every replica receives every message
// and queues vanish with their consumer. The consumer reconnects with
// exponential backoff; while disconnected, publishes fail and the caller
// degrades to local-only operation.
type RabbitBus struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRabbitBus connects to RabbitMQ and declares the fanout exchange.
func NewRabbitBus(url, exchange string) (*RabbitBus, error) {
	b := &RabbitBus{url: url, exchange: exchange, done: make(chan struct{})}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *RabbitBus) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(b.exchange, "fanout", false, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	b.mu.Lock()
	b.conn, b.ch = conn, ch
	b.mu.Unlock()
	log.Info().Str("exchange", b.exchange).Msg("Sync channel connected")
	return nil
}

// Publish broadcasts msg on the fanout exchange.
func (b *RabbitBus) Publish(ctx context.Context, msg models.SyncMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sync message marshal: %w", err)
	}

	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("sync channel not connected")
	}
	return ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   msg.IdempotencyKey,
		Timestamp:   msg.Timestamp,
		Body:        body,
	})
}

// Start runs the consume loop in the background. Each (re)connection binds
// a fresh exclusive queue to the exchange; on connection loss the loop
// redials with exponential backoff until ctx ends or Close is called.
func (b *RabbitBus) Start(ctx context.Context, handler Handler) error {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			if err := b.consumeOnce(ctx, handler); err != nil {
				log.Warn().Err(err).Msg("Sync channel consumer stopped")
			}
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			default:
			}
			if err := b.redial(ctx); err != nil {
				return
			}
		}
	}()
	return nil
}

func (b *RabbitBus) redial(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // retry until stopped
	return backoff.Retry(func() error {
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case <-b.done:
			return backoff.Permanent(fmt.Errorf("sync channel closed"))
		default:
		}
		if err := b.connect(); err != nil {
			log.Warn().Err(err).Msg("Sync channel reconnect failed, backing off")
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}

// consumeOnce binds an exclusive queue and pumps deliveries to the
// handler until the channel dies or the bus stops.
func (b *RabbitBus) consumeOnce(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("sync channel not connected")
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue bind: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("sync channel delivery stream closed")
			}
			var msg models.SyncMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				log.Warn().Err(err).Msg("Malformed sync message dropped")
				continue
			}
			handler(ctx, msg)
		}
	}
}

// Close stops the consumer and tears down the connection.
func (b *RabbitBus) Close() error {
	close(b.done)

	b.mu.Lock()
	ch, conn := b.ch, b.conn
	b.ch, b.conn = nil, nil
	b.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	b.wg.Wait()
	return nil
}
