// Package revocation tracks users whose sessions were revoked by logout.
// Entries live in redis with a TTL, so every hub instance sees the same
// revocation set and stale entries expire on their own.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/idhub/pkg/bus"
	"github.com/platinummonkey/idhub/pkg/observability"
)

// keyPrefix namespaces revocation entries in redis
const keyPrefix = "revoked:user:"

// Store records and queries revoked users
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewStore creates a revocation store. Entries expire after ttl.
func NewStore(client *redis.Client, ttl time.Duration, logger *observability.Logger) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func key(userID string) string {
	return keyPrefix + userID
}

// Revoke marks a user's sessions as revoked
func (s *Store) Revoke(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}

	if err := s.client.Set(ctx, key(userID), time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke user %s: %w", userID, err)
	}

	s.logger.WithField("user_id", userID).Info("revoked user sessions")
	return nil
}

// IsRevoked reports whether a user's sessions are currently revoked
func (s *Store) IsRevoked(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation for %s: %w", userID, err)
	}
	return n > 0, nil
}

// Clear lifts a user's revocation, typically after a fresh login
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear revocation for %s: %w", userID, err)
	}
	return nil
}

// LogoutPayload is the body of a user logout message
type LogoutPayload struct {
	UserID string `json:"user_id"`
}

// HandleLogout processes a logout envelope by revoking the user. Wired as a
// bus handler on the logout stream.
func (s *Store) HandleLogout(ctx context.Context, env bus.Envelope) error {
	var payload LogoutPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	return s.Revoke(ctx, payload.UserID)
}
