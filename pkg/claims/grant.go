package claims

// AdministratorRole is the role granted to the recovery client
const AdministratorRole = "Administrator"

// ForClientCredentials returns the claims for a machine-to-machine grant.
// The designated recovery client receives the Administrator role so that a
// locked-out deployment can still be repaired; every other client gets only
// its identity claim.
func ForClientCredentials(clientID, recoveryClientID string) []Claim {
	claims := []Claim{{Type: TypeClientID, Value: clientID}}

	if clientID != "" && clientID == recoveryClientID {
		claims = append(claims, Claim{Type: TypeRole, Value: AdministratorRole})
	}

	return claims
}
