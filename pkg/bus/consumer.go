package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/idhub/pkg/observability"
)

// Handler processes a single envelope. A nil return acknowledges the message;
// an error leaves it pending for redelivery, so handlers must be idempotent.
type Handler func(ctx context.Context, env Envelope) error

// ConsumerConfig holds stream consumer settings
type ConsumerConfig struct {
	Stream         string
	Group          string
	Consumer       string
	HandlerTimeout time.Duration
	// BatchSize caps messages fetched per read. Defaults to 10.
	BatchSize int64
	// BlockTimeout bounds each blocking read. Defaults to 5s.
	BlockTimeout time.Duration
}

// Consumer reads a redis stream through a consumer group and dispatches each
// entry to a handler, acknowledging only on success.
type Consumer struct {
	client  *redis.Client
	cfg     ConsumerConfig
	handler Handler
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewConsumer creates a stream consumer
func NewConsumer(client *redis.Client, cfg ConsumerConfig, handler Handler, logger *observability.Logger, metrics *observability.Metrics) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}

	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger.WithField("stream", cfg.Stream),
		metrics: metrics,
	}
}

// Run consumes the stream until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			c.logger.WithError(err).Warn("stream read failed")
			c.metrics.BusMessagesTotal.WithLabelValues(c.cfg.Stream, "read_error").Inc()
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.process(ctx, msg)
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	start := time.Now()

	env, err := decodeMessage(msg)
	if err != nil {
		// A malformed entry will never decode; ack it so it cannot wedge
		// the pending list.
		c.logger.WithError(err).WithField("entry_id", msg.ID).Error("dropping undecodable message")
		c.metrics.BusMessagesTotal.WithLabelValues(c.cfg.Stream, "malformed").Inc()
		c.ack(ctx, msg.ID)
		return
	}

	handlerCtx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	err = c.handler(handlerCtx, env)
	cancel()

	c.metrics.BusHandlerSeconds.WithLabelValues(c.cfg.Stream).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"entry_id":   msg.ID,
			"message_id": env.ID,
			"type":       env.Type,
		}).Error("handler failed, leaving message pending")
		c.metrics.BusMessagesTotal.WithLabelValues(c.cfg.Stream, "handler_error").Inc()
		return
	}

	c.metrics.BusMessagesTotal.WithLabelValues(c.cfg.Stream, "ok").Inc()
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, entryID).Err(); err != nil {
		c.logger.WithError(err).WithField("entry_id", entryID).Warn("ack failed")
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func decodeMessage(msg redis.XMessage) (Envelope, error) {
	raw, ok := msg.Values[envelopeField]
	if !ok {
		return Envelope{}, errors.New("missing envelope field")
	}

	body, ok := raw.(string)
	if !ok {
		return Envelope{}, errors.New("envelope field is not a string")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, err
	}

	return env, nil
}
