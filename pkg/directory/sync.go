// Package directory imports users from an external LDAP directory into the
// catalog. Imported users are marked as federated and carry their
// distinguished name; accounts that already exist are never touched, the same
// first-writer-wins policy module registration follows.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/observability"
)

// ErrNotConfigured is returned when no enabled directory configuration exists
var ErrNotConfigured = errors.New("directory: not configured")

// User is one directory entry considered for import
type User struct {
	UserName string
	Email    string
	FullName string
	DN       string
}

// Searcher lists user entries from a directory server
type Searcher interface {
	Search(ctx context.Context, cfg *catalog.DirectoryConfig) ([]User, error)
}

// Catalog is the slice of the catalog store the syncer needs
type Catalog interface {
	GetDirectoryConfig(ctx context.Context) (*catalog.DirectoryConfig, error)
	EnsureUser(ctx context.Context, user *catalog.User) (*catalog.User, bool, error)
}

// Notifier announces created users. A nil Notifier disables notifications.
type Notifier interface {
	UserCreated(ctx context.Context, userID, userName string) error
}

// Result summarizes one sync run
type Result struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Skipped  int `json:"skipped"`
}

// Syncer imports directory users into the catalog
type Syncer struct {
	store    Catalog
	searcher Searcher
	events   Notifier
	logger   *observability.Logger
	metrics  *observability.Metrics

	// defaultPassword fills the local credential slot of imported accounts;
	// federated users authenticate against the directory, not this password
	defaultPassword string
}

// NewSyncer creates a directory syncer
func NewSyncer(store Catalog, searcher Searcher, events Notifier, defaultPassword string, logger *observability.Logger, metrics *observability.Metrics) *Syncer {
	return &Syncer{
		store:           store,
		searcher:        searcher,
		events:          events,
		logger:          logger,
		metrics:         metrics,
		defaultPassword: defaultPassword,
	}
}

// Sync imports every directory user absent from the catalog. Existing users
// keep their stored state; entries without a user name are counted as
// skipped. Safe to run repeatedly.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	cfg, err := s.store.GetDirectoryConfig(ctx)
	if errors.Is(err, catalog.ErrNotFound) {
		return Result{}, ErrNotConfigured
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load directory config: %w", err)
	}
	if !cfg.IsEnabled {
		return Result{}, ErrNotConfigured
	}

	entries, err := s.searcher.Search(ctx, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("directory search failed: %w", err)
	}

	hash, err := catalog.HashPassword(s.defaultPassword)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, entry := range entries {
		if entry.UserName == "" {
			result.Skipped++
			continue
		}

		dn := entry.DN
		user, created, err := s.store.EnsureUser(ctx, &catalog.User{
			UserName:        entry.UserName,
			Email:           entry.Email,
			FullName:        entry.FullName,
			IsActive:        true,
			EmailConfirmed:  true,
			IsFederatedUser: true,
			ExternalDN:      &dn,
			PasswordHash:    hash,
		})
		if err != nil {
			s.logger.WithError(err).WithField("user_name", entry.UserName).Error("skipping directory user")
			result.Skipped++
			continue
		}

		if created {
			result.Created++
			s.notifyUserCreated(ctx, user.ID, user.UserName)
		} else {
			result.Existing++
		}
	}

	s.metrics.DirectoryUsersTotal.WithLabelValues("created").Add(float64(result.Created))
	s.metrics.DirectoryUsersTotal.WithLabelValues("existing").Add(float64(result.Existing))
	s.metrics.DirectoryUsersTotal.WithLabelValues("skipped").Add(float64(result.Skipped))

	s.logger.WithFields(map[string]interface{}{
		"created":  result.Created,
		"existing": result.Existing,
		"skipped":  result.Skipped,
	}).Info("directory sync completed")

	return result, nil
}

// The sync itself has already committed when notifications fire; a failed
// publish is logged, not returned.
func (s *Syncer) notifyUserCreated(ctx context.Context, userID, userName string) {
	if s.events == nil {
		return
	}
	if err := s.events.UserCreated(ctx, userID, userName); err != nil {
		s.logger.WithError(err).WithField("user_name", userName).Warn("failed to publish user creation")
	}
}
