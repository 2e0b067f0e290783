package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/ajsai47/AI-Calendar/internal/ingest"
)

// RabbitMQNotifier publishes ingestion run summaries so downstream
// consumers (feed caches, chat indexers) can react to fresh data
// without polling the database.
type RabbitMQNotifier struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	exchangeName string
	url          string
}

// NewRabbitMQNotifier connects to the broker and declares the exchange.
func NewRabbitMQNotifier(url, exchangeName string) (*RabbitMQNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare the exchange (idempotent)
	err = channel.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	notifier := &RabbitMQNotifier{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		url:          url,
	}

	go notifier.handleReconnect()

	log.Info().
		Str("exchange", exchangeName).
		Msg("RabbitMQ notifier initialized")

	return notifier, nil
}

// PublishRunCompleted publishes an ingest.completed message with the run
// summary.
func (n *RabbitMQNotifier) PublishRunCompleted(ctx context.Context, summary ingest.RunSummary) error {
	return n.publish(ctx, "ingest.completed", summary)
}

func (n *RabbitMQNotifier) publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.channel.PublishWithContext(
		ctx,
		n.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    fmt.Sprintf("%d", time.Now().UnixNano()),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Info().
		Str("routing_key", routingKey).
		Str("exchange", n.exchangeName).
		Int("body_size", len(body)).
		Msg("Message published to RabbitMQ")

	return nil
}

// handleReconnect re-establishes the connection and exchange after a
// broker-side close.
func (n *RabbitMQNotifier) handleReconnect() {
	closeChan := make(chan *amqp.Error)
	n.conn.NotifyClose(closeChan)

	for closeErr := range closeChan {
		if closeErr == nil {
			continue
		}
		log.Error().
			Err(closeErr).
			Msg("RabbitMQ connection closed, attempting to reconnect...")

		for {
			time.Sleep(5 * time.Second)

			conn, err := amqp.Dial(n.url)
			if err != nil {
				log.Error().Err(err).Msg("Failed to reconnect to RabbitMQ")
				continue
			}

			channel, err := conn.Channel()
			if err != nil {
				conn.Close()
				log.Error().Err(err).Msg("Failed to open channel")
				continue
			}

			err = channel.ExchangeDeclare(
				n.exchangeName,
				"topic",
				true,
				false,
				false,
				false,
				nil,
			)
			if err != nil {
				channel.Close()
				conn.Close()
				log.Error().Err(err).Msg("Failed to declare exchange")
				continue
			}

			n.conn = conn
			n.channel = channel

			log.Info().Msg("Successfully reconnected to RabbitMQ")

			closeChan = make(chan *amqp.Error)
			n.conn.NotifyClose(closeChan)
			break
		}
	}
}

// Close closes the RabbitMQ connection.
func (n *RabbitMQNotifier) Close() error {
	if n.channel != nil {
		if err := n.channel.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
			return err
		}
	}
	log.Info().Msg("RabbitMQ notifier closed")
	return nil
}

// HealthCheck verifies the RabbitMQ connection.
func (n *RabbitMQNotifier) HealthCheck() error {
	if n.conn == nil || n.conn.IsClosed() {
		return fmt.Errorf("RabbitMQ connection is closed")
	}
	if n.channel == nil {
		return fmt.Errorf("RabbitMQ channel is nil")
	}
	return nil
}
