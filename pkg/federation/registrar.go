package federation

import (
	"context"
	"fmt"

	"github.com/platinummonkey/idhub/pkg/bus"
)

// Publisher appends envelopes to a stream
type Publisher interface {
	Publish(ctx context.Context, stream string, env bus.Envelope) error
}

// Registrar publishes registration messages on behalf of a module. Modules
// embed this in their startup path so each deployment re-announces its
// permission surface.
type Registrar struct {
	publisher Publisher
	stream    string
	source    string
}

// NewRegistrar creates a registrar publishing to the given stream
func NewRegistrar(publisher Publisher, stream, source string) *Registrar {
	return &Registrar{
		publisher: publisher,
		stream:    stream,
		source:    source,
	}
}

// Announce publishes a registration message
func (r *Registrar) Announce(ctx context.Context, msg RegisterModule) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}

	env, err := bus.NewEnvelope(bus.TypeRegisterModule, r.source, msg)
	if err != nil {
		return err
	}

	return r.publisher.Publish(ctx, r.stream, env)
}
