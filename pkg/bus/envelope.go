package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types carried on the bus.
const (
	TypeRegisterModule    = "module.register"
	TypeUserLoggedOut     = "user.logged_out"
	TypePermissionCreated = "permission.created"
	TypePermissionUpdated = "permission.updated"
	TypeRoleCreated       = "role.created"
	TypeRoleUpdated       = "role.updated"
	TypeUserCreated       = "user.created"
	TypeUserUpdated       = "user.updated"
)

// Envelope wraps every bus message with identity and provenance. Payload is
// the type-specific body, decoded by the handler.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope around a JSON-serializable payload
func NewEnvelope(msgType, source string, payload interface{}) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return Envelope{
		ID:         uuid.NewString(),
		Type:       msgType,
		Source:     source,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}, nil
}

// Decode unmarshals the payload into dst
func (e Envelope) Decode(dst interface{}) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
