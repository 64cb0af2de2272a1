package claims

// Token destinations for issued claims.
const (
	DestinationAccessToken   = "access_token"
	DestinationIdentityToken = "id_token"
)

// scopeForType maps user claim types to the scope that admits them into the
// identity token.
var scopeForType = map[string]string{
	TypeName:     ScopeProfile,
	TypeFullName: ScopeProfile,
	TypeEmail:    ScopeEmail,
	TypeRole:     ScopeRoles,
}

// Destinations returns the tokens a claim type may be written to, given the
// scopes granted to the request. The security stamp goes nowhere. Claim
// types with a scope mapping always reach the access token and additionally
// reach the identity token when their scope was granted. Everything else is
// access-token only.
func Destinations(claimType string, scopes []string) []string {
	if claimType == TypeSecurityStamp {
		return nil
	}

	scope, ok := scopeForType[claimType]
	if !ok {
		return []string{DestinationAccessToken}
	}

	for _, granted := range scopes {
		if granted == scope {
			return []string{DestinationAccessToken, DestinationIdentityToken}
		}
	}

	return []string{DestinationAccessToken}
}
