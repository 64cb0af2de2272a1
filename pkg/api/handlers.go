package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/clientreg"
	"github.com/platinummonkey/idhub/pkg/federation"
	"github.com/platinummonkey/idhub/pkg/httputil"
	"github.com/platinummonkey/idhub/pkg/observability"
)

func (s *Server) requestLogger(r *http.Request) *observability.Logger {
	return observability.FromContext(r.Context())
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[name])
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := s.store.ListModules(r.Context())
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to list modules")
		httputil.WriteInternalError(w)
		return
	}
	if modules == nil {
		modules = []catalog.Module{}
	}
	httputil.WriteJSON(w, http.StatusOK, modules)
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httputil.WriteValidationError(w, "invalid module id")
		return
	}

	module, err := s.store.GetModule(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "module not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to get module")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, module)
}

func (s *Server) handleDeleteModule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httputil.WriteValidationError(w, "invalid module id")
		return
	}

	if err := s.store.DeleteModule(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "module not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to delete module")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

func (s *Server) handleModulePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httputil.WriteValidationError(w, "invalid module id")
		return
	}

	perms, err := s.store.ListPermissionsByModule(r.Context(), id)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to list module permissions")
		httputil.WriteInternalError(w)
		return
	}
	if perms == nil {
		perms = []catalog.Permission{}
	}
	httputil.WriteJSON(w, http.StatusOK, perms)
}

func (s *Server) handleSetModuleActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httputil.WriteValidationError(w, "invalid module id")
		return
	}

	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	if err := s.store.SetModuleActive(r.Context(), id, body.IsActive); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "module not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to update module")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

// queryModuleID parses an optional module query parameter. ok is false when
// the parameter is present but not a uuid.
func queryModuleID(r *http.Request) (id uuid.UUID, filtered, ok bool) {
	raw := r.URL.Query().Get("module")
	if raw == "" {
		return uuid.Nil, false, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, false
	}
	return id, true, true
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	moduleID, filtered, ok := queryModuleID(r)
	if !ok {
		httputil.WriteValidationError(w, "invalid module filter")
		return
	}

	var perms []catalog.Permission
	var err error
	if filtered {
		perms, err = s.store.ListPermissionsByModule(r.Context(), moduleID)
	} else {
		perms, err = s.store.ListPermissions(r.Context())
	}
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to list permissions")
		httputil.WriteInternalError(w)
		return
	}
	if perms == nil {
		perms = []catalog.Permission{}
	}
	httputil.WriteJSON(w, http.StatusOK, perms)
}

type permissionRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ModuleID    uuid.UUID  `json:"module_id"`
	IsActive    *bool      `json:"is_active,omitempty"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
}

func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var body permissionRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if body.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}
	if body.ModuleID == uuid.Nil {
		httputil.WriteValidationError(w, "module_id is required")
		return
	}

	perm := &catalog.Permission{
		Name:        body.Name,
		Description: body.Description,
		ModuleID:    body.ModuleID,
		IsActive:    true,
		ParentID:    body.ParentID,
	}
	if body.IsActive != nil {
		perm.IsActive = *body.IsActive
	}

	if err := s.store.CreatePermission(r.Context(), perm); err != nil {
		switch {
		case errors.Is(err, catalog.ErrParentNotFound):
			httputil.WriteValidationError(w, "parent permission does not exist")
		default:
			s.requestLogger(r).WithError(err).Error("failed to create permission")
			httputil.WriteInternalError(w)
		}
		return
	}

	s.notify(r, "permission creation", func(ctx context.Context) error {
		return s.events.PermissionCreated(ctx, perm.ID.String(), perm.Name)
	})
	httputil.WriteCreated(w, perm)
}

func (s *Server) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httputil.WriteValidationError(w, "invalid permission id")
		return
	}

	var body permissionRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	perm := &catalog.Permission{
		ID:          id,
		Description: body.Description,
		IsActive:    true,
		ParentID:    body.ParentID,
	}
	if body.IsActive != nil {
		perm.IsActive = *body.IsActive
	}

	if err := s.store.UpdatePermission(r.Context(), perm); err != nil {
		switch {
		case errors.Is(err, catalog.ErrCyclicParent):
			httputil.WriteConflict(w, "parent assignment would create a cycle")
		case errors.Is(err, catalog.ErrParentNotFound):
			httputil.WriteValidationError(w, "parent permission does not exist")
		case errors.Is(err, catalog.ErrNotFound):
			httputil.WriteNotFound(w, "permission not found")
		default:
			s.requestLogger(r).WithError(err).Error("failed to update permission")
			httputil.WriteInternalError(w)
		}
		return
	}

	s.notify(r, "permission update", func(ctx context.Context) error {
		return s.events.PermissionUpdated(ctx, id.String())
	})
	httputil.WriteNoContent(w)
}

func (s *Server) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		httputil.WriteValidationError(w, "invalid permission id")
		return
	}

	if err := s.store.DeletePermission(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, catalog.ErrPermissionHasChildren):
			httputil.WriteConflict(w, "permission has child permissions")
		case errors.Is(err, catalog.ErrNotFound):
			httputil.WriteNotFound(w, "permission not found")
		default:
			s.requestLogger(r).WithError(err).Error("failed to delete permission")
			httputil.WriteInternalError(w)
		}
		return
	}

	httputil.WriteNoContent(w)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	moduleID, filtered, ok := queryModuleID(r)
	if !ok {
		httputil.WriteValidationError(w, "invalid module filter")
		return
	}

	var roles []catalog.Role
	var err error
	if filtered {
		roles, err = s.store.ListRolesByModule(r.Context(), moduleID)
	} else {
		roles, err = s.store.ListRoles(r.Context())
	}
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to list roles")
		httputil.WriteInternalError(w)
		return
	}
	if roles == nil {
		roles = []catalog.Role{}
	}
	httputil.WriteJSON(w, http.StatusOK, roles)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string     `json:"name"`
		Description string     `json:"description"`
		ModuleID    *uuid.UUID `json:"module_id,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if body.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	role, created, err := s.store.EnsureRole(r.Context(), body.Name, body.Description, body.ModuleID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to create role")
		httputil.WriteInternalError(w)
		return
	}
	if !created {
		httputil.WriteConflict(w, "role already exists")
		return
	}

	s.notify(r, "role creation", func(ctx context.Context) error {
		return s.events.RoleCreated(ctx, role.ID, role.Name)
	})
	httputil.WriteCreated(w, role)
}

func (s *Server) handleGetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]

	ids, err := s.store.GetRolePermissionIDs(r.Context(), roleID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to get role permissions")
		httputil.WriteInternalError(w)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"role_id":        roleID,
		"permission_ids": ids,
	})
}

func (s *Server) handleReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]

	var body struct {
		PermissionIDs []uuid.UUID `json:"permission_ids"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	if err := s.store.ReplaceRolePermissions(r.Context(), roleID, body.PermissionIDs); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "role or permission not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to replace role permissions")
		httputil.WriteInternalError(w)
		return
	}

	s.notify(r, "role update", func(ctx context.Context) error {
		return s.events.RoleUpdated(ctx, roleID)
	})
	httputil.WriteNoContent(w)
}

// notify announces a catalog change on the events stream. The write has
// already committed; a failed publish is logged and the request still
// succeeds.
func (s *Server) notify(r *http.Request, what string, publish func(context.Context) error) {
	if s.events == nil {
		return
	}
	if err := publish(r.Context()); err != nil {
		s.requestLogger(r).WithError(err).Warnf("failed to publish %s event", what)
	}
}

func (s *Server) handlePermissionTree(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]

	moduleID, filtered, ok := queryModuleID(r)
	if !ok {
		httputil.WriteValidationError(w, "invalid module filter")
		return
	}

	if _, err := s.store.GetRole(r.Context(), roleID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "role not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to get role")
		httputil.WriteInternalError(w)
		return
	}

	var perms []catalog.Permission
	var err error
	if filtered {
		perms, err = s.store.ListPermissionsByModule(r.Context(), moduleID)
	} else {
		perms, err = s.store.ListPermissions(r.Context())
	}
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to list permissions")
		httputil.WriteInternalError(w)
		return
	}

	assigned, err := s.store.GetRolePermissionIDs(r.Context(), roleID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to get role permissions")
		httputil.WriteInternalError(w)
		return
	}

	tree := catalog.BuildPermissionTree(perms, assigned)
	if tree == nil {
		tree = []catalog.PermissionTreeNode{}
	}
	httputil.WriteJSON(w, http.StatusOK, tree)
}

func (s *Server) handleRoleUsers(w http.ResponseWriter, r *http.Request) {
	roleID := mux.Vars(r)["id"]

	role, err := s.store.GetRole(r.Context(), roleID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "role not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to get role")
		httputil.WriteInternalError(w)
		return
	}

	users, err := s.store.UserNamesWithRole(r.Context(), []string{role.Name})
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to list role users")
		httputil.WriteInternalError(w)
		return
	}
	if users == nil {
		users = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"role_id": roleID,
		"users":   users,
	})
}

func (s *Server) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	if err := s.store.SetUserActive(r.Context(), userID, body.IsActive); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "user not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to update user")
		httputil.WriteInternalError(w)
		return
	}

	s.notify(r, "user update", func(ctx context.Context) error {
		return s.events.UserUpdated(ctx, userID)
	})
	httputil.WriteNoContent(w)
}

// handleUserPermissions reports a user's effective authorization state: role
// names, the permission names those roles grant, and the modules the user is
// restricted from.
func (s *Server) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "user not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to get user")
		httputil.WriteInternalError(w)
		return
	}

	roles, err := s.store.GetUserRoleNames(r.Context(), userID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to get user roles")
		httputil.WriteInternalError(w)
		return
	}

	permissions, err := s.store.GetPermissionNamesForRoles(r.Context(), roles)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to get role permissions")
		httputil.WriteInternalError(w)
		return
	}

	restricted, err := s.store.RestrictedModuleNames(r.Context(), userID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to get restrictions")
		httputil.WriteInternalError(w)
		return
	}

	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}
	if restricted == nil {
		restricted = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":            userID,
		"roles":              roles,
		"permissions":        permissions,
		"restricted_modules": restricted,
	})
}

func (s *Server) handleListRestrictions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	restrictions, err := s.store.ListRestrictions(r.Context(), userID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to list restrictions")
		httputil.WriteInternalError(w)
		return
	}
	if restrictions == nil {
		restrictions = []catalog.UserModuleRestriction{}
	}
	httputil.WriteJSON(w, http.StatusOK, restrictions)
}

func (s *Server) handleAddRestriction(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var body struct {
		ModuleID  uuid.UUID `json:"module_id"`
		CreatedBy *string   `json:"created_by,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if body.ModuleID == uuid.Nil {
		httputil.WriteValidationError(w, "module_id is required")
		return
	}

	if err := s.store.AddRestriction(r.Context(), userID, body.ModuleID, body.CreatedBy); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "user or module not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to add restriction")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

func (s *Server) handleCheckRestriction(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	moduleID, err := pathUUID(r, "moduleID")
	if err != nil {
		httputil.WriteValidationError(w, "invalid module id")
		return
	}

	restricted, err := s.store.IsRestricted(r.Context(), userID, moduleID)
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to check restriction")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"module_id":  moduleID,
		"restricted": restricted,
	})
}

func (s *Server) handleRemoveRestriction(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	moduleID, err := pathUUID(r, "moduleID")
	if err != nil {
		httputil.WriteValidationError(w, "invalid module id")
		return
	}

	if err := s.store.RemoveRestriction(r.Context(), userID, moduleID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "restriction not found")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to remove restriction")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.clients.List(r.Context())
	if err != nil {
		s.requestLogger(r).WithError(err).Error("failed to list clients")
		httputil.WriteInternalError(w)
		return
	}
	if clients == nil {
		clients = []clientreg.Client{}
	}
	httputil.WriteJSON(w, http.StatusOK, clients)
}

func (s *Server) handleUpsertClient(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["id"]

	var descriptor clientreg.Descriptor
	if err := httputil.DecodeJSON(r, &descriptor); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	descriptor.ClientID = clientID

	client, err := s.clients.Upsert(r.Context(), descriptor)
	if err != nil {
		if errors.Is(err, clientreg.ErrInvalidClient) {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to upsert client")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, client)
}

// handleRegister publishes a registration message on behalf of a module that
// cannot reach the bus directly. The registration is applied asynchronously
// by the stream consumer.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var msg federation.RegisterModule
	if err := httputil.DecodeJSON(r, &msg); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if err := msg.Validate(); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if err := s.registrar.Announce(r.Context(), msg); err != nil {
		s.requestLogger(r).WithError(err).Error("failed to publish registration")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"module": msg.ModuleName,
	})
}
