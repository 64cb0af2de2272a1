package claims

import (
	"context"
	"fmt"
	"sort"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/observability"
)

// Store is the slice of the catalog store the augmentor needs
type Store interface {
	GetUser(ctx context.Context, id string) (*catalog.User, error)
	GetUserRoleNames(ctx context.Context, userID string) ([]string, error)
	GetPermissionsForRoles(ctx context.Context, roleNames []string) ([]catalog.Permission, error)
	ListRestrictions(ctx context.Context, userID string) ([]catalog.UserModuleRestriction, error)
}

// Augmentor builds the claim set for a user
type Augmentor struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics

	// suppressRestricted drops permission claims from modules the user is
	// restricted from, instead of leaving enforcement to downstream
	// services.
	suppressRestricted bool
}

// NewAugmentor creates a claims augmentor
func NewAugmentor(store Store, suppressRestricted bool, logger *observability.Logger, metrics *observability.Metrics) *Augmentor {
	return &Augmentor{
		store:              store,
		logger:             logger,
		metrics:            metrics,
		suppressRestricted: suppressRestricted,
	}
}

// ForUser returns the user's claims: the identity claims (subject, user
// name, email, full name), one role claim per role, and the deduplicated
// union of permissions granted by those roles. Output is deterministic;
// roles and permissions are sorted by value.
func (a *Augmentor) ForUser(ctx context.Context, userID string) ([]Claim, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	roles, err := a.store.GetUserRoleNames(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	permissions, err := a.store.GetPermissionsForRoles(ctx, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}

	restricted := make(map[string]bool)
	if a.suppressRestricted {
		restrictions, err := a.store.ListRestrictions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load restrictions: %w", err)
		}
		for _, r := range restrictions {
			restricted[r.ModuleID.String()] = true
		}
	}

	claims := []Claim{{Type: TypeSubject, Value: user.ID}}
	if user.UserName != "" {
		claims = append(claims, Claim{Type: TypeName, Value: user.UserName})
	}
	if user.Email != "" {
		claims = append(claims, Claim{Type: TypeEmail, Value: user.Email})
	}
	if user.FullName != "" {
		claims = append(claims, Claim{Type: TypeFullName, Value: user.FullName})
	}

	sort.Strings(roles)
	for _, role := range roles {
		claims = append(claims, Claim{Type: TypeRole, Value: role})
	}

	seen := make(map[string]bool, len(permissions))
	for _, perm := range permissions {
		if seen[perm.Name] {
			continue
		}
		seen[perm.Name] = true

		if restricted[perm.ModuleID.String()] {
			a.logger.WithFields(map[string]interface{}{
				"user_id":    userID,
				"permission": perm.Name,
			}).Debug("suppressed permission claim for restricted module")
			a.metrics.ClaimsDroppedTotal.WithLabelValues("restricted").Inc()
			continue
		}
		claims = append(claims, Claim{Type: TypePermission, Value: perm.Name})
	}

	for _, claim := range claims {
		a.metrics.ClaimsIssuedTotal.WithLabelValues(claim.Type).Inc()
	}

	return claims, nil
}

// IsActive reports whether the user may receive tokens at all
func (a *Augmentor) IsActive(ctx context.Context, userID string) (bool, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsActive, nil
}
