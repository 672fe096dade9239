package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kendall-kelly/cafe-orders-api/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const relayExchange = "cafe_broadcast_fanout"

// relayEnvelope is one broadcast as carried between instances.
type relayEnvelope struct {
	Event   string          `json:"event"`
	Groups  []string        `json:"groups,omitempty"`
	All     bool            `json:"all,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPRelay is a Broadcaster that routes every broadcast through a RabbitMQ
// fanout exchange. Each instance consumes the exchange with its own exclusive
// queue and hands messages to its local Hub, so every connected client on
// every instance receives an event once.
type AMQPRelay struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	publisher amqpPublisher
	exchange  string
	local     *Hub
	timeout   time.Duration
}

// DialAMQPRelay connects to RabbitMQ and declares the fanout exchange
func DialAMQPRelay(url string, local *Hub) (*AMQPRelay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(relayExchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", relayExchange, err)
	}

	return &AMQPRelay{
		conn:      conn,
		ch:        ch,
		publisher: ch,
		exchange:  relayExchange,
		local:     local,
		timeout:   5 * time.Second,
	}, nil
}

func (r *AMQPRelay) Broadcast(event string, payload any, groups ...string) {
	r.publish(relayEnvelope{Event: event, Groups: groups}, payload)
}

func (r *AMQPRelay) BroadcastAll(event string, payload any) {
	r.publish(relayEnvelope{Event: event, All: true}, payload)
}

// publish falls back to local delivery when the broker is unreachable so
// clients on this instance still receive the event.
func (r *AMQPRelay) publish(env relayEnvelope, payload any) {
	log := logger.WithFields(logrus.Fields{"event": env.Event})

	raw, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("Failed to encode broadcast payload")
		return
	}
	env.Payload = raw

	body, err := json.Marshal(env)
	if err != nil {
		log.WithError(err).Error("Failed to encode broadcast envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err = r.publisher.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to publish broadcast, delivering locally")
		r.deliverLocal(env)
	}
}

// Run consumes the exchange until ctx is cancelled.
func (r *AMQPRelay) Run(ctx context.Context) error {
	q, err := r.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare relay queue: %w", err)
	}
	if err := r.ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind relay queue: %w", err)
	}
	msgs, err := r.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume relay queue: %w", err)
	}

	logger.WithFields(logrus.Fields{"queue": q.Name, "exchange": r.exchange}).Info("Broadcast relay started")

	for {
		select {
		case <-ctx.Done():
			logger.Get().Info("Broadcast relay stopped")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("relay delivery channel closed")
			}
			r.HandleDelivery(d.Body)
		}
	}
}

// HandleDelivery decodes one relayed broadcast and delivers it locally.
func (r *AMQPRelay) HandleDelivery(body []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		logger.Get().WithError(err).Warn("Dropping malformed relay message")
		return
	}
	r.deliverLocal(env)
}

func (r *AMQPRelay) deliverLocal(env relayEnvelope) {
	if env.All {
		r.local.DeliverAll(env.Event, env.Payload)
		return
	}
	r.local.Deliver(env.Event, env.Payload, env.Groups...)
}

// Close shuts the channel and connection.
func (r *AMQPRelay) Close() error {
	if r.ch != nil && !r.ch.IsClosed() {
		if err := r.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}
