// Package seed installs the baseline catalog a fresh deployment needs: the
// core user-management permissions, the Administrator role, the admin user,
// and the well-known OAuth clients. Seeding is idempotent and never
// overwrites rows that already exist.
package seed

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/claims"
	"github.com/platinummonkey/idhub/pkg/clientreg"
	"github.com/platinummonkey/idhub/pkg/observability"
)

// CoreModuleName is the module owning the built-in permissions
const CoreModuleName = "UserManagement"

// AdminUserName is the built-in administrator account
const AdminUserName = "admin"

// SupportedScopes are the scopes the hub issues tokens for
var SupportedScopes = []string{
	claims.ScopeAPI,
	claims.ScopeOpenID,
	claims.ScopeProfile,
	claims.ScopeEmail,
	claims.ScopeRoles,
}

// permissionSeed declares one built-in permission
type permissionSeed struct {
	Name        string
	Description string
}

var corePermissions = []permissionSeed{
	{"UserManagement.Users.View", "View users"},
	{"UserManagement.Users.Create", "Create users"},
	{"UserManagement.Users.Edit", "Edit users"},
	{"UserManagement.Users.Delete", "Delete users"},
	{"UserManagement.Roles.View", "View roles"},
	{"UserManagement.Roles.Create", "Create roles"},
	{"UserManagement.Roles.Edit", "Edit roles"},
	{"UserManagement.Roles.Delete", "Delete roles"},
	{"UserManagement.Permissions.View", "View permissions"},
	{"UserManagement.Permissions.Assign", "Assign permissions"},
}

var wellKnownClients = []clientreg.Descriptor{
	{
		ClientID:    "hospital-app",
		ClientName:  "Hospital Application",
		Scopes:      []string{"openid", "profile", "api"},
		RequirePKCE: true,
		OwnerModule: CoreModuleName,
	},
	{
		ClientID:    "financial-app",
		ClientName:  "Financial Application",
		Scopes:      []string{"openid", "profile", "api"},
		RequirePKCE: true,
		OwnerModule: CoreModuleName,
	},
	{
		ClientID:               "ui-client",
		ClientName:             "Administration UI",
		Scopes:                 SupportedScopes,
		RedirectURIs:           []string{"https://localhost:4200/callback"},
		PostLogoutRedirectURIs: []string{"https://localhost:4200/"},
		RequirePKCE:            true,
		OwnerModule:            CoreModuleName,
	},
	{
		ClientID:               "ui-client-2",
		ClientName:             "Administration UI (staging)",
		Scopes:                 SupportedScopes,
		RedirectURIs:           []string{"https://localhost:4300/callback"},
		PostLogoutRedirectURIs: []string{"https://localhost:4300/"},
		RequirePKCE:            true,
		OwnerModule:            CoreModuleName,
	},
	{
		ClientID:    "recovery-project",
		ClientName:  "Recovery Project",
		GrantTypes:  []string{"client_credentials"},
		Scopes:      []string{"api"},
		OwnerModule: CoreModuleName,
	},
}

// Catalog is the slice of the catalog store the seeder needs
type Catalog interface {
	EnsureModule(ctx context.Context, name, description string) (*catalog.Module, bool, error)
	EnsurePermission(ctx context.Context, name, description string, moduleID uuid.UUID) (*catalog.Permission, bool, error)
	EnsureRole(ctx context.Context, name, description string, moduleID *uuid.UUID) (*catalog.Role, bool, error)
	EnsureUser(ctx context.Context, user *catalog.User) (*catalog.User, bool, error)
	GrantRolePermission(ctx context.Context, roleID string, permissionID uuid.UUID) error
	AddUserRole(ctx context.Context, userID, roleID string) error
}

// Clients upserts OAuth clients
type Clients interface {
	Upsert(ctx context.Context, d clientreg.Descriptor) (*clientreg.Client, error)
}

// Seeder installs the baseline catalog
type Seeder struct {
	store   Catalog
	clients Clients
	logger  *observability.Logger

	// adminPassword is only used when the admin user does not exist yet
	adminPassword string
}

// NewSeeder creates a seeder
func NewSeeder(store Catalog, clients Clients, adminPassword string, logger *observability.Logger) *Seeder {
	return &Seeder{
		store:         store,
		clients:       clients,
		logger:        logger,
		adminPassword: adminPassword,
	}
}

// Run installs everything. Safe to call on every startup.
func (s *Seeder) Run(ctx context.Context) error {
	module, _, err := s.store.EnsureModule(ctx, CoreModuleName, "Core user, role, and permission management")
	if err != nil {
		return fmt.Errorf("failed to seed core module: %w", err)
	}

	permIDs := make([]uuid.UUID, 0, len(corePermissions))
	for _, spec := range corePermissions {
		perm, _, err := s.store.EnsurePermission(ctx, spec.Name, spec.Description, module.ID)
		if err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", spec.Name, err)
		}
		permIDs = append(permIDs, perm.ID)
	}

	// Administrator is global, not owned by any module, and always holds
	// every core permission, including ones added by upgrades.
	admin, created, err := s.store.EnsureRole(ctx, claims.AdministratorRole, "Full administrative access", nil)
	if err != nil {
		return fmt.Errorf("failed to seed administrator role: %w", err)
	}
	for _, permID := range permIDs {
		if err := s.store.GrantRolePermission(ctx, admin.ID, permID); err != nil {
			return fmt.Errorf("failed to grant core permission: %w", err)
		}
	}
	if created {
		s.logger.Info("seeded administrator role")
	}

	if err := s.seedAdminUser(ctx, admin.ID); err != nil {
		return err
	}

	for _, descriptor := range wellKnownClients {
		if _, err := s.clients.Upsert(ctx, descriptor); err != nil {
			return fmt.Errorf("failed to seed client %s: %w", descriptor.ClientID, err)
		}
	}

	return nil
}

func (s *Seeder) seedAdminUser(ctx context.Context, adminRoleID string) error {
	hash, err := catalog.HashPassword(s.adminPassword)
	if err != nil {
		return err
	}

	user, created, err := s.store.EnsureUser(ctx, &catalog.User{
		UserName:       AdminUserName,
		Email:          "admin@localhost",
		FullName:       "System Administrator",
		IsActive:       true,
		EmailConfirmed: true,
		PasswordHash:   hash,
	})
	if err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	if err := s.store.AddUserRole(ctx, user.ID, adminRoleID); err != nil {
		return fmt.Errorf("failed to assign administrator role: %w", err)
	}

	if created {
		s.logger.Info("seeded admin user")
	}

	return nil
}
