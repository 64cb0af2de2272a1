package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("catalog: not found")

	// ErrPermissionHasChildren is returned when deleting a permission that
	// still has child permissions
	ErrPermissionHasChildren = errors.New("catalog: permission has children")

	// ErrCyclicParent is returned when a parent assignment would create a
	// cycle in the permission tree
	ErrCyclicParent = errors.New("catalog: cyclic permission parent")

	// ErrParentNotFound is returned when the referenced parent permission
	// does not exist
	ErrParentNotFound = errors.New("catalog: parent permission not found")
)

// Store handles all database operations for the identity catalog
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// isUniqueViolation reports whether err is a postgres unique constraint error
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isFKViolation reports whether err is a postgres foreign key constraint error
func isFKViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// EnsureModule creates a module by name if it does not already exist and
// returns the stored row. Name matching is case-insensitive; the first
// writer's casing and description win. The returned bool reports whether a
// new row was created.
func (s *Store) EnsureModule(ctx context.Context, name, description string) (*Module, bool, error) {
	name = normalizeName(name)
	if existing, err := s.GetModuleByName(ctx, name); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	module := &Module{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		IsActive:    true,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO modules (id, name, description, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING created_at, updated_at`,
		module.ID, module.Name, module.Description,
	).Scan(&module.CreatedAt, &module.UpdatedAt)

	if isUniqueViolation(err) {
		// Lost the race; another writer created it first.
		existing, getErr := s.GetModuleByName(ctx, name)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create module: %w", err)
	}

	return module, true, nil
}

// GetModuleByName retrieves a module by case-insensitive name
func (s *Store) GetModuleByName(ctx context.Context, name string) (*Module, error) {
	module := &Module{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM modules WHERE LOWER(name) = LOWER($1)`,
		name,
	).Scan(&module.ID, &module.Name, &module.Description, &module.IsActive,
		&module.CreatedAt, &module.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}

	return module, nil
}

// GetModule retrieves a module by ID
func (s *Store) GetModule(ctx context.Context, id uuid.UUID) (*Module, error) {
	module := &Module{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM modules WHERE id = $1`,
		id,
	).Scan(&module.ID, &module.Name, &module.Description, &module.IsActive,
		&module.CreatedAt, &module.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}

	return module, nil
}

// ListModules returns all modules ordered by name
func (s *Store) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM modules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.IsActive,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, m)
	}

	return modules, rows.Err()
}

// SetModuleActive flips a module's active flag
func (s *Store) SetModuleActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE modules SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("failed to update module: %w", err)
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

// DeleteModule removes a module; its permissions and restrictions cascade
func (s *Store) DeleteModule(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete module: %w", err)
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

// normalizeName trims surrounding whitespace from a registered name
func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
