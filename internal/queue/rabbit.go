package queue

import (
	"context"
	"fmt"
	"ingest/internal/config"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Client is the RabbitMQ transport used by the job queue
type Client interface {
	Close() error

	DeclareExchange(name, kind string) error
	DeclareQueue(name string) (amqp.Queue, error)
	BindQueue(queueName, exchangeName, routingKey string) error

	Publish(exchange, routingKey string, body []byte, headers amqp.Table) error
	Consume(queueName string, consumerTag string) (<-chan amqp.Delivery, error)

	Health() error
}

type client struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	config       config.RabbitMQConfig
	mu           sync.Mutex
	reconnecting bool
	notifyClose  chan *amqp.Error
}

// NewClientFromConfig connects to RabbitMQ and installs reconnect handling
func NewClientFromConfig(cfg config.RabbitMQConfig) (Client, error) {
	c := &client{config: cfg}

	if err := c.connect(); err != nil {
		return nil, err
	}

	c.setupReconnect()

	return c, nil
}

func (c *client) connect() error {
	amqpURL := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		c.config.Username,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Heartbeat: 30 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to RabbitMQ")
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open RabbitMQ channel")
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Prefetch bounds how many jobs one process works concurrently
	if c.config.PrefetchCount > 0 {
		if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
			log.Error().Err(err).Msg("Failed to set channel QoS")
			conn.Close()
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	c.conn = conn
	c.channel = ch

	log.Info().
		Str("host", c.config.Host).
		Int("port", c.config.Port).
		Str("vhost", c.config.VHost).
		Msg("RabbitMQ connection established")

	return nil
}

func (c *client) setupReconnect() {
	c.notifyClose = c.conn.NotifyClose(make(chan *amqp.Error))

	go func() {
		for err := range c.notifyClose {
			log.Warn().
				Str("reason", err.Reason).
				Int("code", err.Code).
				Bool("recover", err.Recover).
				Msg("RabbitMQ connection closed, attempting to reconnect...")

			c.doReconnect()
		}
	}()
}

func (c *client) doReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnecting {
		return
	}

	c.reconnecting = true
	defer func() { c.reconnecting = false }()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}

	// Reconnect with capped exponential backoff
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		log.Info().Dur("backoff", backoff).Msg("Attempting to reconnect to RabbitMQ")

		if err := c.connect(); err != nil {
			log.Error().Err(err).Msg("Failed to reconnect to RabbitMQ")

			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.notifyClose = c.conn.NotifyClose(make(chan *amqp.Error))

		log.Info().Msg("Successfully reconnected to RabbitMQ")
		return
	}
}

// ensure reconnects the channel if the connection dropped. Callers must hold
// the mutex.
func (c *client) ensure() error {
	if c.conn == nil || c.channel == nil || c.conn.IsClosed() {
		if err := c.connect(); err != nil {
			return fmt.Errorf("failed to reconnect: %w", err)
		}
		c.setupReconnect()
	}
	return nil
}

func (c *client) Health() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.channel == nil {
		log.Error().Msg("RabbitMQ health check failed: nil connection or channel")
		return fmt.Errorf("nil connection or channel")
	}

	if c.conn.IsClosed() {
		log.Error().Msg("RabbitMQ connection is closed")
		return fmt.Errorf("connection is closed")
	}

	// Passive declare validates channel health
	err := c.channel.ExchangeDeclarePassive(
		c.config.ExchangeName,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Error().Err(err).Msg("RabbitMQ health check failed on passive exchange declare")
		return err
	}

	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ channel")
			return fmt.Errorf("channel close error: %w", err)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
			return fmt.Errorf("connection close error: %w", err)
		}
	}

	log.Info().Msg("RabbitMQ connection and channel closed")
	return nil
}

func (c *client) Publish(exchange, routingKey string, body []byte, headers amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(); err != nil {
		return fmt.Errorf("failed to reconnect before publishing: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      headers,
	}

	err := c.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		log.Error().
			Err(err).
			Str("exchange", exchange).
			Str("routingKey", routingKey).
			Msg("Failed to publish message")

		// One reconnect-and-retry attempt for a dropped channel
		if reconnErr := c.connect(); reconnErr == nil {
			c.setupReconnect()
			if retryErr := c.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); retryErr == nil {
				log.Info().
					Str("exchange", exchange).
					Str("routingKey", routingKey).
					Int("size", len(body)).
					Msg("Published message after reconnection")
				return nil
			}
		}

		return err
	}

	log.Debug().
		Str("exchange", exchange).
		Str("routingKey", routingKey).
		Int("size", len(body)).
		Msg("Published message")

	return nil
}

func (c *client) Consume(queueName string, consumerTag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(); err != nil {
		return nil, fmt.Errorf("failed to reconnect before consuming: %w", err)
	}

	deliveries, err := c.channel.Consume(
		queueName,
		consumerTag,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("queue", queueName).
			Str("consumerTag", consumerTag).
			Msg("Failed to start consuming")
		return nil, fmt.Errorf("consume error: %w", err)
	}

	log.Info().
		Str("queue", queueName).
		Str("consumerTag", consumerTag).
		Msg("Started consuming messages")

	return deliveries, nil
}

func (c *client) DeclareExchange(name, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(); err != nil {
		return fmt.Errorf("failed to reconnect before declaring exchange: %w", err)
	}

	err := c.channel.ExchangeDeclare(
		name, kind, true, false, false, false, nil,
	)
	if err != nil {
		log.Error().Err(err).Str("exchange", name).Msg("Failed to declare exchange")
	} else {
		log.Info().Str("exchange", name).Str("type", kind).Msg("Declared exchange")
	}
	return err
}

func (c *client) DeclareQueue(name string) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(); err != nil {
		return amqp.Queue{}, fmt.Errorf("failed to reconnect before declaring queue: %w", err)
	}

	queue, err := c.channel.QueueDeclare(
		name, true, false, false, false, nil,
	)
	if err != nil {
		log.Error().Err(err).Str("queue", name).Msg("Failed to declare queue")
	} else {
		log.Info().Str("queue", name).Msg("Declared queue")
	}
	return queue, err
}

func (c *client) BindQueue(queueName, exchangeName, routingKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(); err != nil {
		return fmt.Errorf("failed to reconnect before binding queue: %w", err)
	}

	err := c.channel.QueueBind(
		queueName, routingKey, exchangeName, false, nil,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("queue", queueName).
			Str("exchange", exchangeName).
			Str("routingKey", routingKey).
			Msg("Failed to bind queue")
	} else {
		log.Info().
			Str("queue", queueName).
			Str("exchange", exchangeName).
			Str("routingKey", routingKey).
			Msg("Bound queue to exchange")
	}
	return err
}
