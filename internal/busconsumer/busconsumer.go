// Package busconsumer is the Responder's Consumer Runtime: a
// single-connection, many-channel topic dispatcher that validates
// inbound messages against a per-handler JSON schema and maps handler
// outcomes onto broker ack/nack/requeue semantics. Grounded on the
// responder's Command/MessageProcessor pair: the same DLX/DLQ wiring,
// the same "NackMessage vs NackWithRetry vs any other error" policy,
// re-expressed as explicit Go error types (see internal/errors)
// instead of raised exception classes.
package busconsumer

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/santhosh-tekuri/jsonschema/v6"

	cdserrors "github.com/guardian/cds-k8s/internal/errors"
	"github.com/guardian/cds-k8s/internal/logging"
)

const (
	dlxName = "cdsresponder-dlx"
	dlqName = "cdsresponder-dlq"
)

// Handler is a single routing-key consumer: it validates its own
// inbound shape via Schema and processes accepted messages in Handle.
type Handler interface {
	// Exchange is the topic exchange this handler's queue binds to.
	Exchange() string
	// RoutingKey is the binding pattern, e.g. "cds.job.*".
	RoutingKey() string
	// Schema validates the decoded JSON body before Handle is called.
	// A nil Schema means no validation is performed.
	Schema() *jsonschema.Schema
	// Handle processes one validated message. Return a *errors.NackMessage
	// to dead-letter without requeue, a *errors.NackWithRetry to requeue,
	// nil to ack, or any other error to dead-letter (logged as unexpected).
	Handle(ctx context.Context, routingKey string, body map[string]any) error
}

var nonWordChar = regexp.MustCompile(`[^A-Za-z0-9_]`)

func sanitizeRoutingKey(routingKey string) string {
	return nonWordChar.ReplaceAllString(routingKey, "")
}

// Runtime owns one AMQP connection and one channel per registered
// handler.
type Runtime struct {
	url      string
	log      *logging.Logger
	handlers []Handler
	conn     *amqp.Connection
	channels []*amqp.Channel
}

// New constructs a Runtime against the given broker URL with the
// given handlers. Handlers are wired in the order given when Run is
// called.
func New(url string, log *logging.Logger, handlers ...Handler) *Runtime {
	return &Runtime{url: url, log: log.With("component", "ConsumerRuntime"), handlers: handlers}
}

// Run connects to the broker, wires every handler's queue, and
// consumes until ctx is cancelled or the connection is lost. A lost
// connection is returned as an error; the caller (main) is expected to
// exit non-zero so the orchestrator restarts the process, matching the
// original runtime's "connection loss is fatal" failure model.
func (r *Runtime) Run(ctx context.Context) error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	r.conn = conn
	defer conn.Close()

	closeNotify := conn.NotifyClose(make(chan *amqp.Error, 1))

	for _, h := range r.handlers {
		if err := r.wireHandler(ctx, h); err != nil {
			return fmt.Errorf("wiring handler for %s: %w", h.RoutingKey(), err)
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case amqpErr := <-closeNotify:
		return fmt.Errorf("broker connection closed: %w", amqpErr)
	}
}

func (r *Runtime) wireHandler(ctx context.Context, h Handler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	r.channels = append(r.channels, ch)

	if err := ch.ExchangeDeclare(dlxName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(dlqName, "", dlxName, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(h.Exchange(), amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return err
	}

	queueName := "cdsresponder-" + sanitizeRoutingKey(h.RoutingKey())
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlxName,
	}); err != nil {
		return err
	}
	if err := ch.QueueBind(queueName, h.RoutingKey(), h.Exchange(), false, nil); err != nil {
		return err
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	r.log.Info("consumer started", "queue", queueName, "exchange", h.Exchange(), "routing_key", h.RoutingKey())

	go r.consumeLoop(ctx, h, deliveries)
	return nil
}

func (r *Runtime) consumeLoop(ctx context.Context, h Handler, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			r.dispatch(ctx, h, d)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, h Handler, d amqp.Delivery) {
	body, validateErr := r.decodeAndValidate(h, d.Body)
	if validateErr != nil {
		r.log.Error("message did not validate", "routing_key", d.RoutingKey, "exchange", d.Exchange, "error", validateErr)
		_ = d.Nack(false, false)
		return
	}

	err := h.Handle(ctx, d.RoutingKey, body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case asNackWithRetry(err) != nil:
		r.log.Warn("handler requested retry", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, true)
	case asNackMessage(err) != nil:
		r.log.Warn("handler rejected message", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
	default:
		r.log.Error("handler returned unexpected error", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
	}
}

func (r *Runtime) decodeAndValidate(h Handler, raw []byte) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decoding JSON body: %w", err)
	}
	if schema := h.Schema(); schema != nil {
		if err := schema.Validate(body); err != nil {
			return nil, fmt.Errorf("schema validation: %w", err)
		}
	}
	return body, nil
}

func asNackMessage(err error) *cdserrors.NackMessage {
	var n *cdserrors.NackMessage
	if stderrors.As(err, &n) {
		return n
	}
	return nil
}

func asNackWithRetry(err error) *cdserrors.NackWithRetry {
	var n *cdserrors.NackWithRetry
	if stderrors.As(err, &n) {
		return n
	}
	return nil
}
