// Package claims builds and routes token claims. The augmentor folds a
// user's roles and permissions into claims; the destination table decides
// which tokens each claim type lands in.
package claims

// Claim is a single typed claim value
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Claim types issued or routed by the hub.
const (
	TypeSubject    = "sub"
	TypeName       = "name"
	TypeFullName   = "full_name"
	TypeEmail      = "email"
	TypeRole       = "role"
	TypePermission = "permission"
	TypeClientID   = "client_id"

	// TypeSecurityStamp is an internal account-integrity marker and must
	// never leave the server in any token.
	TypeSecurityStamp = "AspNet.Identity.SecurityStamp"
)

// Scopes that gate identity-token claim delivery.
const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
	ScopeRoles   = "roles"
	ScopeAPI     = "api"
)
