package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/idhub/pkg/observability"
)

// envelopeField is the stream entry field carrying the JSON envelope
const envelopeField = "envelope"

// Publisher appends envelopes to redis streams
type Publisher struct {
	client *redis.Client
	logger *observability.Logger
}

// NewPublisher creates a publisher
func NewPublisher(client *redis.Client, logger *observability.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish appends an envelope to the given stream
func (p *Publisher) Publish(ctx context.Context, stream string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{envelopeField: body},
	}).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"stream":     stream,
		"message_id": env.ID,
		"type":       env.Type,
	}).Debug("published message")

	return nil
}
