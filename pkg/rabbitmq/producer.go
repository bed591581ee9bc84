/**
 * @description
 * This package provides a simple producer for publishing ledger events to
 * RabbitMQ. It encapsulates the logic for connecting to RabbitMQ and
 * publishing a message to a specific exchange and routing key. The broker is
 * optional for this mock service: when it is unconfigured or unreachable a
 * fallback producer logs and drops events instead.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/google/uuid: Event ids.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// EventsExchange is the topic exchange every ledger event is published to.
const EventsExchange = "freerider.events"

// TransferCompletedEvent is published after a transfer has settled and its
// history record has been appended.
type TransferCompletedEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	TransactionID string    `json:"transaction_id"`
	FromBank      string    `json:"from_bank"`
	FromAccount   string    `json:"from_account"`
	Amount        int64     `json:"amount"`
	CardID        string    `json:"card_id"`
	CompletedAt   time.Time `json:"completed_at"`
}

// VirtualAccountEvent is published when a virtual deposit account is created.
type VirtualAccountEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	AccountNumber string    `json:"account_number"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	ExpireAt      time.Time `json:"expire_at"`
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishTransferCompleted(ctx context.Context, event TransferCompletedEvent) error
	PublishVirtualAccountCreated(ctx context.Context, event VirtualAccountEvent) error
	PublishVirtualAccountExpired(ctx context.Context, event VirtualAccountEvent) error
	Close()
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishTransferCompleted(ctx context.Context, event TransferCompletedEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"transfer event publish skipped\" transaction_id=%s", event.TransactionID)
	return nil
}

func (p *EventProducerFallback) PublishVirtualAccountCreated(ctx context.Context, event VirtualAccountEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"virtual account event publish skipped\" account_number=%s", event.AccountNumber)
	return nil
}

func (p *EventProducerFallback) PublishVirtualAccountExpired(ctx context.Context, event VirtualAccountEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"virtual account expiry event publish skipped\" account_number=%s", event.AccountNumber)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// Publish sends a message to a specific exchange with a routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", exchange, err)
		// Attempt simple channel reopen once
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if err2 := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err2 != nil {
					return err2
				}
			} else {
				return chErr
			}
		} else {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		// One-shot retry: reopen channel and try again
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				// re-declare exchange and retry
				if exErr := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); exErr == nil {
					err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
						ContentType: "application/json",
						Timestamp:   time.Now(),
						Body:        jsonBody,
					})
					if err == nil {
						return nil
					}
				}
			}
		}
		return err
	}
	return nil
}

// PublishTransferCompleted publishes a settled transfer to the events exchange.
func (p *EventProducer) PublishTransferCompleted(ctx context.Context, event TransferCompletedEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	return p.Publish(ctx, EventsExchange, "ledger.transfer.completed", event)
}

// PublishVirtualAccountCreated publishes a newly provisioned virtual account.
func (p *EventProducer) PublishVirtualAccountCreated(ctx context.Context, event VirtualAccountEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	return p.Publish(ctx, EventsExchange, "ledger.virtual_account.created", event)
}

// PublishVirtualAccountExpired publishes a virtual account reclaimed by the
// expiry sweep.
func (p *EventProducer) PublishVirtualAccountExpired(ctx context.Context, event VirtualAccountEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	return p.Publish(ctx, EventsExchange, "ledger.virtual_account.expired", event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
