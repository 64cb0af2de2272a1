// Package api exposes the hub's admin HTTP surface: module listings,
// permission and role management, user restrictions, client registration,
// and a synchronous path for publishing module registrations.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/claims"
	"github.com/platinummonkey/idhub/pkg/clientreg"
	"github.com/platinummonkey/idhub/pkg/directory"
	"github.com/platinummonkey/idhub/pkg/federation"
	"github.com/platinummonkey/idhub/pkg/observability"
	"github.com/platinummonkey/idhub/pkg/revocation"
)

// Notifier announces admin-surface catalog changes on the events stream.
// A nil Notifier disables notifications.
type Notifier interface {
	PermissionCreated(ctx context.Context, permissionID, name string) error
	PermissionUpdated(ctx context.Context, permissionID string) error
	RoleCreated(ctx context.Context, roleID, name string) error
	RoleUpdated(ctx context.Context, roleID string) error
	UserUpdated(ctx context.Context, userID string) error
}

// Directory runs administrator-triggered imports from the external user
// directory. A nil Directory disables the sync endpoint.
type Directory interface {
	Sync(ctx context.Context) (directory.Result, error)
}

// Server handles admin API requests
type Server struct {
	store       *catalog.Store
	clients     *clientreg.Store
	registrar   *federation.Registrar
	augmentor   *claims.Augmentor
	revocations *revocation.Store
	events      Notifier
	directory   Directory
	logger      *observability.Logger
	metrics     *observability.Metrics

	// recoveryClientID is the single client-credentials client granted the
	// Administrator role
	recoveryClientID string
}

// NewServer creates an admin API server
func NewServer(store *catalog.Store, clients *clientreg.Store, registrar *federation.Registrar, augmentor *claims.Augmentor, revocations *revocation.Store, events Notifier, dir Directory, recoveryClientID string, logger *observability.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		store:            store,
		clients:          clients,
		registrar:        registrar,
		augmentor:        augmentor,
		revocations:      revocations,
		events:           events,
		directory:        dir,
		logger:           logger,
		metrics:          metrics,
		recoveryClientID: recoveryClientID,
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	s.RegisterRoutes(router)

	var handler http.Handler = router
	handler = s.metrics.HTTPMiddleware(handler)
	handler = requestIDMiddleware(s.logger, handler)
	return handler
}

// RegisterRoutes attaches all admin routes to the router
func (s *Server) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/modules", s.handleListModules).Methods(http.MethodGet)
	v1.HandleFunc("/modules/{id}", s.handleGetModule).Methods(http.MethodGet)
	v1.HandleFunc("/modules/{id}", s.handleDeleteModule).Methods(http.MethodDelete)
	v1.HandleFunc("/modules/{id}/active", s.handleSetModuleActive).Methods(http.MethodPut)
	v1.HandleFunc("/modules/{id}/permissions", s.handleModulePermissions).Methods(http.MethodGet)

	v1.HandleFunc("/permissions", s.handleListPermissions).Methods(http.MethodGet)
	v1.HandleFunc("/permissions", s.handleCreatePermission).Methods(http.MethodPost)
	v1.HandleFunc("/permissions/{id}", s.handleUpdatePermission).Methods(http.MethodPut)
	v1.HandleFunc("/permissions/{id}", s.handleDeletePermission).Methods(http.MethodDelete)

	v1.HandleFunc("/roles", s.handleListRoles).Methods(http.MethodGet)
	v1.HandleFunc("/roles", s.handleCreateRole).Methods(http.MethodPost)
	v1.HandleFunc("/roles/{id}/permissions", s.handleGetRolePermissions).Methods(http.MethodGet)
	v1.HandleFunc("/roles/{id}/permissions", s.handleReplaceRolePermissions).Methods(http.MethodPut)
	v1.HandleFunc("/roles/{id}/permission-tree", s.handlePermissionTree).Methods(http.MethodGet)
	v1.HandleFunc("/roles/{id}/users", s.handleRoleUsers).Methods(http.MethodGet)

	v1.HandleFunc("/users/{id}/active", s.handleSetUserActive).Methods(http.MethodPut)
	v1.HandleFunc("/users/{id}/claims", s.handleUserClaims).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/permissions", s.handleUserPermissions).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/revoked", s.handleRevocationStatus).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/revoked", s.handleRevokeUser).Methods(http.MethodPut)
	v1.HandleFunc("/users/{id}/revoked", s.handleClearRevocation).Methods(http.MethodDelete)

	v1.HandleFunc("/users/{id}/restrictions", s.handleListRestrictions).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/restrictions", s.handleAddRestriction).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}/restrictions/{moduleID}", s.handleCheckRestriction).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/restrictions/{moduleID}", s.handleRemoveRestriction).Methods(http.MethodDelete)

	v1.HandleFunc("/clients", s.handleListClients).Methods(http.MethodGet)
	v1.HandleFunc("/clients/{id}", s.handleUpsertClient).Methods(http.MethodPut)
	v1.HandleFunc("/clients/{id}/claims", s.handleClientClaims).Methods(http.MethodGet)

	v1.HandleFunc("/directory/config", s.handleGetDirectoryConfig).Methods(http.MethodGet)
	v1.HandleFunc("/directory/config", s.handleSaveDirectoryConfig).Methods(http.MethodPut)
	v1.HandleFunc("/directory/sync", s.handleDirectorySync).Methods(http.MethodPost)

	v1.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
}

// requestIDMiddleware attaches a request ID and logger to the context and
// echoes the ID on the response
func requestIDMiddleware(logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = observability.WithLogger(ctx, logger)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
