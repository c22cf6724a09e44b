package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/callq/internal/analysis"
)

// Client is a thin wrapper over a NATS connection that speaks JSON.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("callq"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishBatch announces a finished batch on the completed or aborted
// subject.
func (c *Client) PublishBatch(stats analysis.Stats, runErr error) error {
	subject, ev := NewBatchEvent(stats, runErr, time.Now())
	if err := c.Publish(subject, ev); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	c.logger.Info("batch event published", "subject", subject, "run_id", ev.RunID, "event_id", ev.EventID)
	return nil
}

// Notify publishes the batch event; it lets the client sit in the
// pipeline's notifier list.
func (c *Client) Notify(_ context.Context, _ time.Time, stats analysis.Stats, _ []analysis.Result, runErr error) error {
	return c.PublishBatch(stats, runErr)
}

// SubscribeTriggers calls handler for every well-formed trigger message.
// Malformed messages are logged and dropped.
func (c *Client) SubscribeTriggers(handler func(TriggerRequest)) error {
	return c.Subscribe(SubjectBatchTrigger, func(subject string, data []byte) {
		req, err := ParseTrigger(data)
		if err != nil {
			c.logger.Warn("ignoring trigger", "subject", subject, "error", err)
			return
		}
		handler(req)
	})
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Drain flushes pending publishes before closing, so events sent just
// before exit are not lost.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
