// Package federation handles module registration messages. A module declares
// its permissions, roles, users, and OAuth clients in one message; the
// consumer folds the declaration into the catalog without ever overwriting
// what an earlier module already claimed.
package federation

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/idhub/pkg/clientreg"
)

// PermissionSpec declares one permission in a registration message. Module
// names the owning module when it differs from the registering one; empty
// means the enclosing module.
type PermissionSpec struct {
	Name        string `json:"name"`
	Module      string `json:"module,omitempty"`
	Description string `json:"description,omitempty"`
}

// RoleSpec declares one role and the permission names it grants
type RoleSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// UserSpec declares one user and the role names to assign
type UserSpec struct {
	UserName string   `json:"user_name"`
	Email    string   `json:"email,omitempty"`
	FullName string   `json:"full_name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// RegisterModule is the payload of a module registration message
type RegisterModule struct {
	ModuleName  string                `json:"module_name"`
	Description string                `json:"description,omitempty"`
	Permissions []PermissionSpec      `json:"permissions,omitempty"`
	Roles       []RoleSpec            `json:"roles,omitempty"`
	Users       []UserSpec            `json:"users,omitempty"`
	Clients     []clientreg.Descriptor `json:"clients,omitempty"`
}

// Validate checks the message's structural requirements
func (m RegisterModule) Validate() error {
	if m.ModuleName == "" {
		return errors.New("module_name is required")
	}
	for i, p := range m.Permissions {
		if p.Name == "" {
			return fmt.Errorf("permission %d: name is required", i)
		}
	}
	for i, r := range m.Roles {
		if r.Name == "" {
			return fmt.Errorf("role %d: name is required", i)
		}
	}
	for i, u := range m.Users {
		if u.UserName == "" {
			return fmt.Errorf("user %d: user_name is required", i)
		}
	}
	for i, c := range m.Clients {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("client %d: %w", i, err)
		}
	}
	return nil
}
