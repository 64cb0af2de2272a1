package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all catalog migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create modules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS modules (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_modules_name_ci ON modules(LOWER(name));
				CREATE INDEX idx_modules_is_active ON modules(is_active);
			`,
		},
		{
			Version:     2,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					module_id UUID NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					parent_id UUID REFERENCES permissions(id) ON DELETE RESTRICT,
					UNIQUE(name)
				);

				CREATE INDEX idx_permissions_module_id ON permissions(module_id);
				CREATE INDEX idx_permissions_parent_id ON permissions(parent_id);
			`,
		},
		{
			Version:     3,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					module_id UUID REFERENCES modules(id) ON DELETE CASCADE,
					UNIQUE(name)
				);

				CREATE INDEX idx_roles_module_id ON roles(module_id);
			`,
		},
		{
			Version:     4,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     5,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(64) PRIMARY KEY,
					user_name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL DEFAULT '',
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
					is_federated_user BOOLEAN NOT NULL DEFAULT FALSE,
					external_dn TEXT,
					password_hash TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_name)
				);

				CREATE INDEX idx_users_email ON users(email);
			`,
		},
		{
			Version:     6,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     7,
			Description: "Create user_module_restrictions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_module_restrictions (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					module_id UUID NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					created_by VARCHAR(64),
					UNIQUE(user_id, module_id)
				);

				CREATE INDEX idx_user_module_restrictions_user_id ON user_module_restrictions(user_id);
			`,
		},
		{
			Version:     8,
			Description: "Create directory_configurations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS directory_configurations (
					id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
					host VARCHAR(255) NOT NULL DEFAULT '',
					port INT NOT NULL DEFAULT 389,
					base_dn TEXT NOT NULL DEFAULT '',
					admin_dn TEXT NOT NULL DEFAULT '',
					admin_password TEXT NOT NULL DEFAULT '',
					use_ssl BOOLEAN NOT NULL DEFAULT FALSE,
					is_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS catalog_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM catalog_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to read migration versions: %w", err)
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO catalog_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
