package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnsureRole creates a role by name if it does not already exist. Existing
// roles are left untouched. The returned bool reports whether a new row was
// created.
func (s *Store) EnsureRole(ctx context.Context, name, description string, moduleID *uuid.UUID) (*Role, bool, error) {
	name = normalizeName(name)
	if existing, err := s.GetRoleByName(ctx, name); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	role := &Role{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		ModuleID:    moduleID,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, module_id)
		VALUES ($1, $2, $3, $4)`,
		role.ID, role.Name, role.Description, role.ModuleID)

	if isUniqueViolation(err) {
		existing, getErr := s.GetRoleByName(ctx, name)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create role: %w", err)
	}

	return role, true, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	role := &Role{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, module_id FROM roles WHERE id = $1`,
		id,
	).Scan(&role.ID, &role.Name, &role.Description, &role.ModuleID)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return role, nil
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	role := &Role{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, module_id FROM roles WHERE name = $1`,
		name,
	).Scan(&role.ID, &role.Name, &role.Description, &role.ModuleID)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return role, nil
}

// ListRoles returns all roles ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, module_id FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.ModuleID); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}

	return roles, rows.Err()
}

// ListRolesByModule returns a module's roles ordered by name
func (s *Store) ListRolesByModule(ctx context.Context, moduleID uuid.UUID) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, module_id
		FROM roles WHERE module_id = $1 ORDER BY name`,
		moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.ModuleID); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}

	return roles, rows.Err()
}

// GetRolePermissionIDs returns the IDs of permissions granted to a role
func (s *Store) GetRolePermissionIDs(ctx context.Context, roleID string) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT permission_id FROM role_permissions WHERE role_id = $1`,
		roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan permission id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ReplaceRolePermissions replaces a role's full permission set in one
// transaction. Assignments absent from permissionIDs are removed.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []uuid.UUID) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roleID, permID); err != nil {
			if isFKViolation(err) {
				return fmt.Errorf("permission %s: %w", permID, ErrNotFound)
			}
			return fmt.Errorf("failed to assign permission: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role permissions: %w", err)
	}

	return nil
}

// GrantRolePermission adds a single permission to a role, idempotently
func (s *Store) GrantRolePermission(ctx context.Context, roleID string, permissionID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roleID, permissionID)
	if err != nil {
		if isFKViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	return nil
}
