package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Module represents an independently deployable unit of functionality that
// owns a namespace of permissions and roles. Modules are created on first
// sighting (registration message or service discovery) and never hard-deleted
// by the federation protocol.
type Module struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission represents a single grantable capability within a module.
// Permissions form a tree via ParentID; the ancestor chain of every
// permission terminates at a root (ParentID == nil).
type Permission struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ModuleID    uuid.UUID  `json:"module_id"`
	IsActive    bool       `json:"is_active"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
}

// Role represents a named set of permission grants. ModuleID is nil for
// global roles such as Administrator.
type Role struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ModuleID    *uuid.UUID `json:"module_id,omitempty"`
}

// RolePermission links a role to a permission it grants.
// The pair is the composite key; mutation is always a full replace-set.
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID uuid.UUID `json:"permission_id"`
}

// User represents an authenticatable principal.
type User struct {
	ID              string    `json:"id"`
	UserName        string    `json:"user_name"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name"`
	IsActive        bool      `json:"is_active"`
	EmailConfirmed  bool      `json:"email_confirmed"`
	IsFederatedUser bool      `json:"is_federated_user"`
	// ExternalDN is set for users imported from an external directory.
	ExternalDN   *string   `json:"external_dn,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserModuleRestriction denies a user access to a module regardless of any
// role or permission grants. An explicit deny-list overlay on top of RBAC.
type UserModuleRestriction struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	ModuleID  uuid.UUID `json:"module_id"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy *string   `json:"created_by,omitempty"`
}

// PermissionTreeNode is a read-time view of a permission and its children,
// annotated with whether a given role holds it.
type PermissionTreeNode struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	IsAssigned  bool                 `json:"is_assigned"`
	Children    []PermissionTreeNode `json:"children"`
}
