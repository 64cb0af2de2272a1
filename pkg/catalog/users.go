package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash for storage
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a password against a stored hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateUser inserts a new user. The caller provides an already-hashed
// password. Use EnsureUser for create-if-absent semantics.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, user_name, email, full_name, is_active,
			email_confirmed, is_federated_user, external_dn, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		user.ID, user.UserName, user.Email, user.FullName, user.IsActive,
		user.EmailConfirmed, user.IsFederatedUser, user.ExternalDN,
		user.PasswordHash,
	).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// EnsureUser creates a user if the user name is not already taken. Existing
// users are left untouched. The returned bool reports whether a new row was
// created.
func (s *Store) EnsureUser(ctx context.Context, user *User) (*User, bool, error) {
	if existing, err := s.GetUserByUserName(ctx, user.UserName); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	err := s.CreateUser(ctx, user)
	if isUniqueViolation(err) {
		existing, getErr := s.GetUserByUserName(ctx, user.UserName)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return user, true, nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByUserName retrieves a user by user name
func (s *Store) GetUserByUserName(ctx context.Context, userName string) (*User, error) {
	return s.getUser(ctx, `WHERE user_name = $1`, userName)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_name, email, full_name, is_active, email_confirmed,
			is_federated_user, external_dn, password_hash, created_at
		FROM users `+where,
		arg,
	).Scan(&user.ID, &user.UserName, &user.Email, &user.FullName,
		&user.IsActive, &user.EmailConfirmed, &user.IsFederatedUser,
		&user.ExternalDN, &user.PasswordHash, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// SetUserActive flips a user's active flag
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
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

// AddUserRole assigns a role to a user, idempotently
func (s *Store) AddUserRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID)
	if err != nil {
		if isFKViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to add user role: %w", err)
	}

	return nil
}

// GetUserRoleNames returns the names of roles held by a user
func (s *Store) GetUserRoleNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// UserNamesWithRole returns user names holding any of the given roles
func (s *Store) UserNamesWithRole(ctx context.Context, roleNames []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.user_name
		FROM user_roles ur
		JOIN users u ON u.id = ur.user_id
		JOIN roles r ON r.id = ur.role_id
		WHERE r.name = ANY($1)
		ORDER BY u.user_name`,
		pq.Array(roleNames))
	if err != nil {
		return nil, fmt.Errorf("failed to query users by role: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan user name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}
