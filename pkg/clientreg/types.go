// Package clientreg manages OAuth client registrations declared by modules.
// Unlike the rest of the catalog, client registration is an upsert: modules
// own their clients and the latest declaration wins.
package clientreg

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a client does not exist
	ErrNotFound = errors.New("clientreg: not found")

	// ErrInvalidClient is returned when a descriptor fails validation
	ErrInvalidClient = errors.New("clientreg: invalid client")
)

// Default values applied to newly created clients when the descriptor leaves
// them unset.
var (
	DefaultGrantTypes = []string{"authorization_code"}
	DefaultScopes     = []string{"openid", "profile", "api"}
)

// Client is a registered OAuth client
type Client struct {
	ClientID               string    `json:"client_id"`
	ClientName             string    `json:"client_name"`
	SecretHash             string    `json:"-"`
	GrantTypes             []string  `json:"grant_types"`
	Scopes                 []string  `json:"scopes"`
	RedirectURIs           []string  `json:"redirect_uris"`
	PostLogoutRedirectURIs []string  `json:"post_logout_redirect_uris"`
	HealthCheckURL         string    `json:"health_check_url,omitempty"`
	RequirePKCE            bool      `json:"require_pkce"`
	AllowOffline           bool      `json:"allow_offline"`
	OwnerModule            string    `json:"owner_module,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Descriptor is a client registration request carried in module registration
// messages and admin calls.
type Descriptor struct {
	ClientID               string   `json:"client_id"`
	ClientName             string   `json:"client_name"`
	Secret                 string   `json:"secret,omitempty"`
	GrantTypes             []string `json:"grant_types,omitempty"`
	Scopes                 []string `json:"scopes,omitempty"`
	RedirectURIs           []string `json:"redirect_uris,omitempty"`
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris,omitempty"`
	HealthCheckURL         string   `json:"health_check_url,omitempty"`
	RequirePKCE            bool     `json:"require_pkce"`
	AllowOffline           bool     `json:"allow_offline"`
	OwnerModule            string   `json:"owner_module,omitempty"`
}

// Validate checks the descriptor's required fields
func (d Descriptor) Validate() error {
	if d.ClientID == "" {
		return errors.New("client_id is required")
	}
	if d.ClientName == "" {
		return errors.New("client_name is required")
	}
	return nil
}
