package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AddRestriction denies a user access to a module. Adding an existing
// restriction is a no-op.
func (s *Store) AddRestriction(ctx context.Context, userID string, moduleID uuid.UUID, createdBy *string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_module_restrictions (user_id, module_id, created_by)
		VALUES ($1, $2, $3) ON CONFLICT (user_id, module_id) DO NOTHING`,
		userID, moduleID, createdBy)
	if err != nil {
		if isFKViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to add restriction: %w", err)
	}

	return nil
}

// RemoveRestriction lifts a user's restriction on a module
func (s *Store) RemoveRestriction(ctx context.Context, userID string, moduleID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_module_restrictions
		WHERE user_id = $1 AND module_id = $2`,
		userID, moduleID)
	if err != nil {
		return fmt.Errorf("failed to remove restriction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListRestrictions returns a user's restrictions
func (s *Store) ListRestrictions(ctx context.Context, userID string) ([]UserModuleRestriction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, module_id, created_at, created_by
		FROM user_module_restrictions
		WHERE user_id = $1
		ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions: %w", err)
	}
	defer rows.Close()

	var restrictions []UserModuleRestriction
	for rows.Next() {
		var r UserModuleRestriction
		if err := rows.Scan(&r.ID, &r.UserID, &r.ModuleID, &r.CreatedAt,
			&r.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan restriction: %w", err)
		}
		restrictions = append(restrictions, r)
	}

	return restrictions, rows.Err()
}

// RestrictedModuleNames returns the names of modules a user is denied
func (s *Store) RestrictedModuleNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.name
		FROM user_module_restrictions umr
		JOIN modules m ON m.id = umr.module_id
		WHERE umr.user_id = $1
		ORDER BY m.name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query restricted modules: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan module name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// IsRestricted reports whether a user is denied access to a module
func (s *Store) IsRestricted(ctx context.Context, userID string, moduleID uuid.UUID) (bool, error) {
	var restricted bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_module_restrictions
			WHERE user_id = $1 AND module_id = $2
		)`,
		userID, moduleID,
	).Scan(&restricted)
	if err != nil {
		return false, fmt.Errorf("failed to check restriction: %w", err)
	}

	return restricted, nil
}
