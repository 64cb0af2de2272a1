package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// maxParentDepth bounds ancestor walks so a corrupted tree cannot loop forever
const maxParentDepth = 32

// EnsurePermission creates a permission by exact name if it does not already
// exist. An existing permission is left untouched, whichever module first
// declared it owns it. The returned bool reports whether a new row was created.
func (s *Store) EnsurePermission(ctx context.Context, name, description string, moduleID uuid.UUID) (*Permission, bool, error) {
	name = normalizeName(name)
	if existing, err := s.GetPermissionByName(ctx, name); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	perm := &Permission{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		ModuleID:    moduleID,
		IsActive:    true,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, name, description, module_id, is_active)
		VALUES ($1, $2, $3, $4, TRUE)`,
		perm.ID, perm.Name, perm.Description, perm.ModuleID)

	if isUniqueViolation(err) {
		existing, getErr := s.GetPermissionByName(ctx, name)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create permission: %w", err)
	}

	return perm, true, nil
}

// CreatePermission inserts a permission with an optional parent. The parent
// must exist; parent assignment cannot introduce a cycle because the new row
// has a fresh ID, so only existence is checked here.
func (s *Store) CreatePermission(ctx context.Context, perm *Permission) error {
	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}
	perm.Name = normalizeName(perm.Name)

	if perm.ParentID != nil {
		if _, err := s.GetPermission(ctx, *perm.ParentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrParentNotFound
			}
			return err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, name, description, module_id, is_active, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		perm.ID, perm.Name, perm.Description, perm.ModuleID, perm.IsActive, perm.ParentID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}

	return nil
}

// UpdatePermission updates a permission's description, active flag, and
// parent. Re-parenting is validated against the stored ancestor chain so the
// tree stays acyclic.
func (s *Store) UpdatePermission(ctx context.Context, perm *Permission) error {
	if perm.ParentID != nil {
		if *perm.ParentID == perm.ID {
			return ErrCyclicParent
		}
		if err := s.checkAncestry(ctx, *perm.ParentID, perm.ID); err != nil {
			return err
		}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE permissions
		SET description = $2, is_active = $3, parent_id = $4
		WHERE id = $1`,
		perm.ID, perm.Description, perm.IsActive, perm.ParentID)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
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

// checkAncestry walks up from candidate parent and fails if forbidden appears
// in the chain.
func (s *Store) checkAncestry(ctx context.Context, parent, forbidden uuid.UUID) error {
	current := parent
	for depth := 0; depth < maxParentDepth; depth++ {
		var next *uuid.UUID
		err := s.db.QueryRowContext(ctx,
			`SELECT parent_id FROM permissions WHERE id = $1`, current,
		).Scan(&next)
		if err == sql.ErrNoRows {
			return ErrParentNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to walk permission ancestry: %w", err)
		}
		if next == nil {
			return nil
		}
		if *next == forbidden {
			return ErrCyclicParent
		}
		current = *next
	}

	return ErrCyclicParent
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error) {
	perm := &Permission{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, module_id, is_active, parent_id
		FROM permissions WHERE id = $1`,
		id,
	).Scan(&perm.ID, &perm.Name, &perm.Description, &perm.ModuleID,
		&perm.IsActive, &perm.ParentID)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	return perm, nil
}

// GetPermissionByName retrieves a permission by exact name
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	perm := &Permission{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, module_id, is_active, parent_id
		FROM permissions WHERE name = $1`,
		name,
	).Scan(&perm.ID, &perm.Name, &perm.Description, &perm.ModuleID,
		&perm.IsActive, &perm.ParentID)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	return perm, nil
}

// ListPermissions returns all permissions ordered by name
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.queryPermissions(ctx, `
		SELECT id, name, description, module_id, is_active, parent_id
		FROM permissions ORDER BY name`)
}

// ListPermissionsByModule returns a module's permissions ordered by name
func (s *Store) ListPermissionsByModule(ctx context.Context, moduleID uuid.UUID) ([]Permission, error) {
	return s.queryPermissions(ctx, `
		SELECT id, name, description, module_id, is_active, parent_id
		FROM permissions WHERE module_id = $1 ORDER BY name`, moduleID)
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.ModuleID,
			&p.IsActive, &p.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}

	return perms, rows.Err()
}

// DeletePermission removes a permission. Deleting a permission that still has
// children is rejected; callers must delete or re-parent children first.
func (s *Store) DeletePermission(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if isFKViolation(err) {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Table == "permissions" {
			return ErrPermissionHasChildren
		}
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
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

// GetPermissionsForRoles returns the distinct permissions granted by any of
// the given roles, sorted by name.
func (s *Store) GetPermissionsForRoles(ctx context.Context, roleNames []string) ([]Permission, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}

	return s.queryPermissions(ctx, `
		SELECT DISTINCT p.id, p.name, p.description, p.module_id, p.is_active, p.parent_id
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE r.name = ANY($1)
		ORDER BY p.name`,
		pq.Array(roleNames))
}

// GetPermissionNamesForRoles returns the distinct permission names granted by
// any of the given roles, sorted by name. Unknown role names contribute
// nothing.
func (s *Store) GetPermissionNamesForRoles(ctx context.Context, roleNames []string) ([]string, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.name
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE r.name = ANY($1)
		ORDER BY p.name`,
		pq.Array(roleNames))
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}
