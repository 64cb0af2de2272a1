package clientreg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Store handles database operations for OAuth clients
type Store struct {
	db *sql.DB
}

// NewStore creates a new client store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetMigrations returns the client registry migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create oauth_clients table",
			SQL: `
				CREATE TABLE IF NOT EXISTS oauth_clients (
					client_id VARCHAR(255) PRIMARY KEY,
					client_name VARCHAR(255) NOT NULL,
					secret_hash TEXT NOT NULL DEFAULT '',
					grant_types TEXT[] NOT NULL DEFAULT '{}',
					scopes TEXT[] NOT NULL DEFAULT '{}',
					redirect_uris TEXT[] NOT NULL DEFAULT '{}',
					post_logout_redirect_uris TEXT[] NOT NULL DEFAULT '{}',
					health_check_url VARCHAR(2048) NOT NULL DEFAULT '',
					require_pkce BOOLEAN NOT NULL DEFAULT FALSE,
					allow_offline BOOLEAN NOT NULL DEFAULT FALSE,
					owner_module VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_oauth_clients_owner_module ON oauth_clients(owner_module);
			`,
		},
	}
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// RunMigrations executes all pending client registry migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS clientreg_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range GetMigrations() {
		var applied bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM clientreg_migrations WHERE version = $1)`,
			migration.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if applied {
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
			"INSERT INTO clientreg_migrations (version, description) VALUES ($1, $2)",
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

// Upsert creates or replaces a client from a descriptor. New clients get
// default grant types and scopes for unset fields; existing clients are
// updated in place with the descriptor's values. An empty secret keeps the
// stored secret.
func (s *Store) Upsert(ctx context.Context, d Descriptor) (*Client, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}

	grantTypes := d.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = DefaultGrantTypes
	}
	scopes := d.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	secretHash := ""
	if d.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(d.Secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		secretHash = string(hash)
	}

	client := &Client{
		ClientID:               d.ClientID,
		ClientName:             d.ClientName,
		SecretHash:             secretHash,
		GrantTypes:             grantTypes,
		Scopes:                 scopes,
		RedirectURIs:           d.RedirectURIs,
		PostLogoutRedirectURIs: d.PostLogoutRedirectURIs,
		HealthCheckURL:         d.HealthCheckURL,
		RequirePKCE:            d.RequirePKCE,
		AllowOffline:           d.AllowOffline,
		OwnerModule:            d.OwnerModule,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO oauth_clients (client_id, client_name, secret_hash,
			grant_types, scopes, redirect_uris, post_logout_redirect_uris,
			health_check_url, require_pkce, allow_offline, owner_module)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (client_id) DO UPDATE SET
			client_name = EXCLUDED.client_name,
			secret_hash = CASE WHEN EXCLUDED.secret_hash = ''
				THEN oauth_clients.secret_hash ELSE EXCLUDED.secret_hash END,
			grant_types = EXCLUDED.grant_types,
			scopes = EXCLUDED.scopes,
			redirect_uris = EXCLUDED.redirect_uris,
			post_logout_redirect_uris = EXCLUDED.post_logout_redirect_uris,
			health_check_url = EXCLUDED.health_check_url,
			require_pkce = EXCLUDED.require_pkce,
			allow_offline = EXCLUDED.allow_offline,
			owner_module = EXCLUDED.owner_module,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		client.ClientID, client.ClientName, client.SecretHash,
		pq.Array(client.GrantTypes), pq.Array(client.Scopes),
		pq.Array(client.RedirectURIs), pq.Array(client.PostLogoutRedirectURIs),
		client.HealthCheckURL, client.RequirePKCE,
		client.AllowOffline, client.OwnerModule,
	).Scan(&client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert client: %w", err)
	}

	return client, nil
}

// Get retrieves a client by ID
func (s *Store) Get(ctx context.Context, clientID string) (*Client, error) {
	client := &Client{}
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, client_name, secret_hash, grant_types, scopes,
			redirect_uris, post_logout_redirect_uris, health_check_url,
			require_pkce, allow_offline, owner_module, created_at, updated_at
		FROM oauth_clients WHERE client_id = $1`,
		clientID,
	).Scan(&client.ClientID, &client.ClientName, &client.SecretHash,
		pq.Array(&client.GrantTypes), pq.Array(&client.Scopes),
		pq.Array(&client.RedirectURIs), pq.Array(&client.PostLogoutRedirectURIs),
		&client.HealthCheckURL, &client.RequirePKCE,
		&client.AllowOffline, &client.OwnerModule,
		&client.CreatedAt, &client.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return client, nil
}

// List returns all clients ordered by client ID
func (s *Store) List(ctx context.Context) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, client_name, secret_hash, grant_types, scopes,
			redirect_uris, post_logout_redirect_uris, health_check_url,
			require_pkce, allow_offline, owner_module, created_at, updated_at
		FROM oauth_clients ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ClientID, &c.ClientName, &c.SecretHash,
			pq.Array(&c.GrantTypes), pq.Array(&c.Scopes),
			pq.Array(&c.RedirectURIs), pq.Array(&c.PostLogoutRedirectURIs),
			&c.HealthCheckURL, &c.RequirePKCE,
			&c.AllowOffline, &c.OwnerModule,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}

	return clients, rows.Err()
}

// CheckSecret compares a presented secret against the stored hash
func (c *Client) CheckSecret(secret string) bool {
	if c.SecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}
