package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/claims"
	"github.com/platinummonkey/idhub/pkg/clientreg"
	"github.com/platinummonkey/idhub/pkg/httputil"
)

// routedClaim is a claim annotated with the tokens it may be written to
type routedClaim struct {
	Type         string   `json:"type"`
	Value        string   `json:"value"`
	Destinations []string `json:"destinations"`
}

// routeClaims annotates each claim with its token destinations for the
// granted scopes, dropping claims that may not leave the hub
func routeClaims(issued []claims.Claim, scopes []string) []routedClaim {
	routed := make([]routedClaim, 0, len(issued))
	for _, claim := range issued {
		destinations := claims.Destinations(claim.Type, scopes)
		if len(destinations) == 0 {
			continue
		}
		routed = append(routed, routedClaim{
			Type:         claim.Type,
			Value:        claim.Value,
			Destinations: destinations,
		})
	}
	return routed
}

// handleUserClaims serves the claim set a token service should attach for a
// user. Scopes are passed as repeated scope query parameters and only affect
// destination routing.
func (s *Server) handleUserClaims(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	scopes := r.URL.Query()["scope"]

	active, err := s.augmentor.IsActive(r.Context(), userID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "user not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to check user")
		httputil.WriteInternalError(w)
		return
	}

	revoked, err := s.revocations.IsRevoked(r.Context(), userID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to check revocation")
		httputil.WriteInternalError(w)
		return
	}

	if !active || revoked {
		httputil.WriteErrorMessage(w, http.StatusForbidden, "user is not eligible for tokens")
		return
	}

	userClaims, err := s.augmentor.ForUser(r.Context(), userID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to build claims")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, routeClaims(userClaims, scopes))
}

// handleClientClaims serves the claim set a token service should attach for
// a client-credentials grant. The configured recovery client receives the
// Administrator role so a locked-out deployment can still be repaired.
func (s *Server) handleClientClaims(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]

	if _, err := s.clients.Get(r.Context(), clientID); err != nil {
		if errors.Is(err, clientreg.ErrNotFound) {
			httputil.WriteNotFound(w, "client not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to get client")
		httputil.WriteInternalError(w)
		return
	}

	grant := claims.ForClientCredentials(clientID, s.recoveryClientID)
	httputil.WriteJSON(w, http.StatusOK, routeClaims(grant, r.URL.Query()["scope"]))
}

// handleRevocationStatus reports whether a user's sessions are revoked
func (s *Server) handleRevocationStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	revoked, err := s.revocations.IsRevoked(r.Context(), userID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to check revocation")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"revoked": revoked,
	})
}

// handleRevokeUser forces a user's sessions out, the same effect as a logout
// message on the bus
func (s *Server) handleRevokeUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if err := s.revocations.Revoke(r.Context(), userID); err != nil {
		s.requestLogger(r).WithError(err).Error("failed to revoke user")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

// handleClearRevocation lifts a user's revocation before the TTL expires
func (s *Server) handleClearRevocation(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if err := s.revocations.Clear(r.Context(), userID); err != nil {
		s.requestLogger(r).WithError(err).Error("failed to clear revocation")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}
