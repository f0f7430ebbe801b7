package amqprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ipapp-go/ipapp/app"
	"github.com/ipapp-go/ipapp/mq"
	"github.com/ipapp-go/ipapp/rpc"
	"github.com/ipapp-go/ipapp/tracer"
	"github.com/ipapp-go/ipapp/tracer/ext"
)

// ClientConfig mirrors ipapp/rpc/mq/pika.py's RpcClientChannelConfig.
type ClientConfig struct {
	Queue          string
	Timeout        time.Duration
	PropagateTrace bool
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Queue == "" {
		c.Queue = "rpc"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

type pending struct {
	resultCh chan amqpResponse
}

// Client calls Config.Queue's AMQP RPC server from its own exclusive
// reply queue, matching correlation_id to outstanding calls (spec.md §4.6
// "Client uses a per-instance exclusive reply queue; outstanding calls
// are keyed by correlation_id and resolved on reply or rejected on
// timeout"). Client is an app.Component.
type Client struct {
	cfg    ClientConfig
	broker *mq.Broker

	ch        *amqp.Channel
	replyName string
	tag       string

	mu      sync.Mutex
	pending map[string]*pending

	wg sync.WaitGroup
}

var _ app.Component = (*Client)(nil)

// NewClient builds an AMQP RPC client over broker's connection.
func NewClient(broker *mq.Broker, cfg ClientConfig) *Client {
	return &Client{cfg: cfg.withDefaults(), broker: broker, pending: map[string]*pending{}}
}

func (c *Client) Prepare(context.Context) error {
	ch, err := c.broker.Channel()
	if err != nil {
		return fmt.Errorf("amqprpc: open channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("amqprpc: declare reply queue: %w", err)
	}
	c.ch = ch
	c.replyName = q.Name
	return nil
}

func (c *Client) Start(context.Context) error {
	c.tag = "amqprpc-client-" + uuid.NewString()
	deliveries, err := c.ch.Consume(c.replyName, c.tag, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqprpc: consume reply queue: %w", err)
	}
	c.wg.Add(1)
	go c.serve(deliveries)
	return nil
}

func (c *Client) serve(deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for d := range deliveries {
		c.handleReply(d)
	}
}

func (c *Client) handleReply(d amqp.Delivery) {
	var resp amqpResponse
	if err := json.Unmarshal(d.Body, &resp); err != nil {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[d.CorrelationId]
	if ok {
		delete(c.pending, d.CorrelationId)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.resultCh <- resp
}

// Call publishes method/params to Config.Queue and blocks for a reply
// (or timeout, or ctx cancellation), matching RpcClientChannel.call.
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}) (interface{}, error) {
	body, err := json.Marshal(amqpRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("amqprpc: marshal request: %w", err)
	}

	correlationID := uuid.NewString()
	p := &pending{resultCh: make(chan amqpResponse, 1)}
	c.mu.Lock()
	c.pending[correlationID] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	span, ctx := tracer.Start(ctx, "rpc::out::"+method, tracer.WithKind(ext.SpanKindClient))
	defer func() { span.Finish(nil) }()
	span.Tag("rpc.method", method)

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       c.replyName,
		Body:          body,
	}
	if c.cfg.PropagateTrace {
		publishing.Headers = httpToHeaders(span.ToHeaders())
	}
	if err := c.ch.PublishWithContext(ctx, "", c.cfg.Queue, false, false, publishing); err != nil {
		span.Error(err)
		return nil, fmt.Errorf("amqprpc: publish: %w", err)
	}

	timeout := c.cfg.Timeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-p.resultCh:
		if resp.Code != 0 {
			err := rpc.ErrorFromCode(resp.Code, resp.Message, resp.Data)
			span.Error(err)
			return nil, err
		}
		return resp.Result, nil
	case <-timer.C:
		err := fmt.Errorf("amqprpc: call %q timed out after %s", method, timeout)
		span.Error(err)
		return nil, err
	case <-ctx.Done():
		span.Error(ctx.Err())
		return nil, ctx.Err()
	}
}

func (c *Client) Stop(context.Context) error {
	if c.ch == nil {
		return nil
	}
	if c.tag != "" {
		_ = c.ch.Cancel(c.tag, false)
	}
	c.wg.Wait()
	return c.ch.Close()
}

func (c *Client) Health(context.Context) error {
	if c.ch == nil {
		return fmt.Errorf("amqprpc: client channel not prepared")
	}
	return nil
}
