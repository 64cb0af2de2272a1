package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// DirectoryConfig holds the connection settings for the external user
// directory. A deployment has at most one row; directory sync is off until an
// administrator saves an enabled configuration.
type DirectoryConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	BaseDN        string `json:"base_dn"`
	AdminDN       string `json:"admin_dn"`
	AdminPassword string `json:"admin_password,omitempty"`
	UseSSL        bool   `json:"use_ssl"`
	IsEnabled     bool   `json:"is_enabled"`
}

// GetDirectoryConfig returns the stored directory configuration, or
// ErrNotFound when none has been saved yet.
func (s *Store) GetDirectoryConfig(ctx context.Context) (*DirectoryConfig, error) {
	cfg := &DirectoryConfig{}
	err := s.db.QueryRowContext(ctx, `
		SELECT host, port, base_dn, admin_dn, admin_password, use_ssl, is_enabled
		FROM directory_configurations WHERE id = 1`,
	).Scan(&cfg.Host, &cfg.Port, &cfg.BaseDN, &cfg.AdminDN,
		&cfg.AdminPassword, &cfg.UseSSL, &cfg.IsEnabled)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get directory config: %w", err)
	}

	return cfg, nil
}

// SaveDirectoryConfig upserts the single configuration row. An empty admin
// password keeps the stored one, so the credential never has to round-trip
// through the admin surface.
func (s *Store) SaveDirectoryConfig(ctx context.Context, cfg *DirectoryConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO directory_configurations
			(id, host, port, base_dn, admin_dn, admin_password, use_ssl, is_enabled, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			base_dn = EXCLUDED.base_dn,
			admin_dn = EXCLUDED.admin_dn,
			admin_password = CASE WHEN EXCLUDED.admin_password = ''
				THEN directory_configurations.admin_password
				ELSE EXCLUDED.admin_password END,
			use_ssl = EXCLUDED.use_ssl,
			is_enabled = EXCLUDED.is_enabled,
			updated_at = NOW()`,
		cfg.Host, cfg.Port, cfg.BaseDN, cfg.AdminDN,
		cfg.AdminPassword, cfg.UseSSL, cfg.IsEnabled)
	if err != nil {
		return fmt.Errorf("failed to save directory config: %w", err)
	}

	return nil
}
