package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"convometrics-server/pkg/analytics"
	"convometrics-server/pkg/metrics"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// SnapshotEnvelope is the wire format for published analytics snapshots.
type SnapshotEnvelope struct {
	ConversationID string                     `json:"conversation_id"`
	Snapshot       *analytics.MetricsSnapshot `json:"snapshot"`
	PublishedAt    time.Time                  `json:"published_at"`
	DeadLetter     bool                       `json:"dead_letter,omitempty"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL          string
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Durable      bool
	AutoDelete   bool
}

// AMQPClient publishes analytics snapshots to an AMQP queue. It
// tolerates a missing or flapping broker: publishing fails fast and
// the connection monitor reconnects with backoff.
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	config.Durable = true     // Default to durable queues
	config.AutoDelete = false // Default to persistent queues

	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" || c.config.QueueName == "" {
		c.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, snapshot publishing will be disabled")
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	// Dial in a goroutine so a hung broker cannot block startup.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}

	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	c.conn = conn

	channelChan := make(chan struct {
		channel *amqp.Channel
		err     error
	}, 1)

	go func() {
		channel, err := conn.Channel()
		channelChan <- struct {
			channel *amqp.Channel
			err     error
		}{channel, err}
	}()

	var channel *amqp.Channel
	select {
	case result := <-channelChan:
		channel = result.channel
		err = result.err
	case <-time.After(3 * time.Second):
		conn.Close()
		return fmt.Errorf("channel creation timed out after 3 seconds")
	}

	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	c.channel = channel

	queueChan := make(chan struct {
		queue amqp.Queue
		err   error
	}, 1)

	go func() {
		queue, err := channel.QueueDeclare(
			c.config.QueueName,
			c.config.Durable,
			c.config.AutoDelete,
			false, // Exclusive
			false, // No-wait
			nil,   // Arguments
		)
		queueChan <- struct {
			queue amqp.Queue
			err   error
		}{queue, err}
	}()

	select {
	case result := <-queueChan:
		err = result.err
	case <-time.After(3 * time.Second):
		channel.Close()
		conn.Close()
		return fmt.Errorf("queue declaration timed out after 3 seconds")
	}

	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	c.connected = true
	metrics.SetAMQPConnectionStatus(true)
	c.logger.WithFields(logrus.Fields{
		"url":   c.config.URL,
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	// Fresh stop channel in case this is a reconnect.
	c.stopChan = make(chan struct{})

	go c.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishSnapshot publishes an analytics snapshot to the queue. A slow
// or dead broker fails the publish after 200ms rather than stalling
// the caller.
func (c *AMQPClient) PublishSnapshot(snapshot *analytics.MetricsSnapshot) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"conversation_id": snapshot.ConversationID,
				"recover":         r,
			}).Error("Recovered from panic in AMQP PublishSnapshot")
		}
	}()

	if !c.IsConnected() {
		metrics.RecordAMQPPublish(c.config.QueueName, "not_connected")
		return fmt.Errorf("not connected to AMQP server")
	}

	envelope := SnapshotEnvelope{
		ConversationID: snapshot.ConversationID,
		Snapshot:       snapshot,
		PublishedAt:    time.Now(),
	}

	bodyBytes, err := json.Marshal(envelope)
	if err != nil {
		metrics.RecordAMQPPublish(c.config.QueueName, "marshal_error")
		return fmt.Errorf("failed to marshal snapshot to JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		// Recheck after acquiring the lock.
		if !c.connected || c.channel == nil {
			select {
			case <-ctx.Done():
				return
			case publishChan <- fmt.Errorf("lost AMQP connection before publishing"):
			}
			return
		}

		err := c.channel.Publish(
			c.config.ExchangeName,
			c.config.RoutingKey,
			false, // Mandatory
			false, // Immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         bodyBytes,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				// Expire stale snapshots instead of letting the queue build up.
				Expiration: "43200000", // 12 hours in milliseconds
			},
		)

		select {
		case <-ctx.Done():
			return
		case publishChan <- err:
		}
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			metrics.RecordAMQPPublish(c.config.QueueName, "error")
			return fmt.Errorf("failed to publish snapshot to AMQP: %w", err)
		}
	case <-ctx.Done():
		metrics.RecordAMQPPublish(c.config.QueueName, "timeout")
		return fmt.Errorf("publishing to AMQP timed out after 200ms")
	}

	metrics.RecordAMQPPublish(c.config.QueueName, "success")
	c.logger.WithField("conversation_id", snapshot.ConversationID).Debug("Published snapshot to AMQP")
	return nil
}

// PublishToDeadLetterQueue publishes a snapshot that repeatedly failed
// delivery to the side queue so it is not silently lost.
func (c *AMQPClient) PublishToDeadLetterQueue(snapshot *analytics.MetricsSnapshot) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"conversation_id": snapshot.ConversationID,
				"recover":         r,
			}).Error("Recovered from panic in AMQP PublishToDeadLetterQueue")
		}
	}()

	if !c.IsConnected() {
		return fmt.Errorf("AMQP client is not connected")
	}

	c.connMutex.RLock()
	channel := c.channel
	c.connMutex.RUnlock()

	if channel == nil {
		return fmt.Errorf("AMQP channel is not available")
	}

	envelope := SnapshotEnvelope{
		ConversationID: snapshot.ConversationID,
		Snapshot:       snapshot,
		PublishedAt:    time.Now(),
		DeadLetter:     true,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter message: %w", err)
	}

	deadLetterQueueName := c.config.QueueName + ".dead_letter"

	_, err = channel.QueueDeclare(
		deadLetterQueueName, // name
		true,                // durable
		false,               // delete when unused
		false,               // exclusive
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}

	err = channel.Publish(
		c.config.ExchangeName,
		deadLetterQueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				"x-dead-letter-reason": "max-retries-exceeded",
				"x-conversation-id":    snapshot.ConversationID,
			},
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish to dead letter queue: %w", err)
	}

	metrics.RecordAMQPPublish(deadLetterQueueName, "success")
	c.logger.WithFields(logrus.Fields{
		"conversation_id":   snapshot.ConversationID,
		"dead_letter_queue": deadLetterQueueName,
	}).Info("Snapshot published to dead letter queue")

	return nil
}

// monitorConnection watches for connection loss and reconnects with
// exponential backoff.
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	for {
		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()
			metrics.SetAMQPConnectionStatus(false)

			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= 10; attempt++ {
				c.logger.WithField("attempt", attempt).Info("Reconnecting to AMQP server")

				err := c.Connect()
				if err == nil {
					c.logger.Info("Successfully reconnected to AMQP server")
					break
				}

				c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

				// Exponential backoff with max delay of 30 seconds
				backoff := time.Duration(1<<uint(attempt-1)) * time.Second
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}

				time.Sleep(backoff)
			}
		}
	}
}
