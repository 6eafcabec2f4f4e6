// Package publisher sends lifecycle events to a topic exchange with
// delivery confirmations, so the Job Watcher can treat "published" as
// meaning the broker actually has the message. Grounded on the
// reaper's blocking, confirm-before-return message sender: same
// retry/backoff shape, same three distinct failure branches
// (too-long body, unroutable, connection error), re-expressed with
// amqp091-go's channel confirmations instead of pika's.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/guardian/cds-k8s/internal/errors"
	"github.com/guardian/cds-k8s/internal/logging"
	"github.com/guardian/cds-k8s/internal/retry"
)

// Config describes the broker connection and exchange this publisher
// targets.
type Config struct {
	URL          string
	ExchangeName string
	MaxRetries   int
}

// Publisher maintains a single AMQP channel with publisher confirms
// enabled against a durable topic exchange.
type Publisher struct {
	log   *logging.Logger
	cfg   Config
	conn  *amqp.Connection
	ch    *amqp.Channel
	confs <-chan amqp.Confirmation
}

// New dials the broker and declares the exchange, retrying setup with
// a 2×attempt second backoff up to cfg.MaxRetries times.
func New(ctx context.Context, cfg Config, log *logging.Logger) (*Publisher, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	p := &Publisher{log: log.With("component", "Publisher"), cfg: cfg}
	if err := p.setup(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) setup(ctx context.Context) error {
	return retry.Linear(ctx, p.cfg.MaxRetries, retry.TwiceAttempt, func(attempt int) error {
		conn, err := amqp.Dial(p.cfg.URL)
		if err != nil {
			p.log.Warn("could not establish rabbitmq connection", "attempt", attempt, "error", err)
			return err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			p.log.Warn("could not open rabbitmq channel", "attempt", attempt, "error", err)
			return err
		}
		if err := ch.ExchangeDeclare(p.cfg.ExchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			p.log.Warn("could not declare exchange", "exchange", p.cfg.ExchangeName, "attempt", attempt, "error", err)
			return err
		}
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			p.log.Warn("could not enable publisher confirms", "attempt", attempt, "error", err)
			return err
		}
		if p.ch != nil {
			_ = p.ch.Close()
		}
		if p.conn != nil {
			_ = p.conn.Close()
		}
		p.conn = conn
		p.ch = ch
		p.confs = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
		return nil
	})
}

// maxBodyBytes mirrors the client-side body size ceiling the reaper's
// original pika-based sender rejected messages at before ever talking
// to the broker.
const maxBodyBytes = 1<<32 - 1

// Notify marshals content to JSON and publishes it to routingKey on
// the configured exchange, blocking for a delivery confirmation before
// returning. It returns (false, nil) for a body too long to send —
// that is a permanent, non-retryable rejection, not an error. Any
// other returned error means the body could not be encoded, ctx was
// cancelled, or the retry budget was exhausted; in each case the
// message was not confirmed as delivered.
func (p *Publisher) Notify(ctx context.Context, routingKey string, content map[string]any) (bool, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return false, fmt.Errorf("encoding message for %s: %w", routingKey, err)
	}
	if len(body) > maxBodyBytes {
		p.log.Error("message body too long to send", "routing_key", routingKey, "bytes", len(body))
		return false, nil
	}

	var delivered bool
	err = retry.Linear(ctx, p.cfg.MaxRetries, retry.FiveTimesAttempt, func(attempt int) error {
		p.log.Debug("publishing", "routing_key", routingKey, "exchange", p.cfg.ExchangeName, "attempt", attempt)

		pubErr := p.ch.PublishWithContext(ctx, p.cfg.ExchangeName, routingKey, true, false, amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
		if pubErr != nil {
			p.log.Warn("publish failed, attempting to re-open connection", "attempt", attempt, "error", pubErr)
			if setupErr := p.setup(ctx); setupErr != nil {
				return setupErr
			}
			return pubErr
		}

		select {
		case conf, ok := <-p.confs:
			if !ok || !conf.Ack {
				p.log.Warn("message unroutable or broker nacked delivery", "routing_key", routingKey, "attempt", attempt)
				return errors.ErrUnroutable
			}
			delivered = true
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err != nil {
		return false, fmt.Errorf("delivering message to %s after %d attempts: %w", routingKey, p.cfg.MaxRetries, err)
	}
	return delivered, nil
}

// Close tears down the channel and connection.
func (p *Publisher) Close() error {
	var firstErr error
	if p.ch != nil {
		firstErr = p.ch.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
