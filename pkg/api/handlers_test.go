package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idhub/pkg/bus"
	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/claims"
	"github.com/platinummonkey/idhub/pkg/clientreg"
	"github.com/platinummonkey/idhub/pkg/directory"
	"github.com/platinummonkey/idhub/pkg/federation"
	"github.com/platinummonkey/idhub/pkg/observability"
	"github.com/platinummonkey/idhub/pkg/revocation"
)

func childFKError() error {
	return &pq.Error{Code: "23503", Table: "permissions"}
}

// capturingPublisher records published envelopes
type capturingPublisher struct {
	stream    string
	envelopes []bus.Envelope
}

func (p *capturingPublisher) Publish(ctx context.Context, stream string, env bus.Envelope) error {
	p.stream = stream
	p.envelopes = append(p.envelopes, env)
	return nil
}

// fakeDirectory stands in for the LDAP syncer
type fakeDirectory struct {
	result directory.Result
	err    error
	calls  int
}

func (f *fakeDirectory) Sync(ctx context.Context) (directory.Result, error) {
	f.calls++
	return f.result, f.err
}

type testEnv struct {
	server    *Server
	mock      sqlmock.Sqlmock
	publisher *capturingPublisher
	redis     *redis.Client
	directory *fakeDirectory
	cleanup   func()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	publisher := &capturingPublisher{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	registrar := federation.NewRegistrar(publisher, "idhub:register-module", "admin-api")

	store := catalog.NewStore(db)
	augmentor := claims.NewAugmentor(store, false, logger, metrics)
	revocations := revocation.NewStore(redisClient, time.Hour, logger)
	events := bus.NewEvents(bus.NewPublisher(redisClient, logger), "idhub:events", "admin-api")
	dir := &fakeDirectory{}

	server := NewServer(store, clientreg.NewStore(db), registrar, augmentor, revocations,
		events, dir, "recovery-project", logger, metrics)

	return &testEnv{
		server:    server,
		mock:      mock,
		publisher: publisher,
		redis:     redisClient,
		directory: dir,
		cleanup: func() {
			db.Close()
			redisClient.Close()
			mr.Close()
		},
	}
}

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock, *capturingPublisher, func()) {
	t.Helper()
	env := newTestEnv(t)
	return env.server, env.mock, env.publisher, env.cleanup
}

func doRequest(server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListModules(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM modules").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "is_active", "created_at", "updated_at"}).
			AddRow(id.String(), "Billing", "Billing module", true, time.Now(), time.Now()))

	rec := doRequest(server, http.MethodGet, "/api/v1/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var modules []catalog.Module
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &modules))
	require.Len(t, modules, 1)
	assert.Equal(t, "Billing", modules[0].Name)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListModules_EmptyIsArray(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM modules").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "is_active", "created_at", "updated_at"}))

	rec := doRequest(server, http.MethodGet, "/api/v1/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCreatePermission_Validation(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(server, http.MethodPost, "/api/v1/permissions", map[string]interface{}{
		"description": "no name",
		"module_id":   uuid.New(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(server, http.MethodPost, "/api/v1/permissions", map[string]interface{}{
		"name": "Billing.Invoices.View",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePermission_CycleIsConflict(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	a, c := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT parent_id FROM permissions").
		WithArgs(c).
		WillReturnRows(sqlmock.NewRows([]string{"parent_id"}).AddRow(a.String()))

	rec := doRequest(server, http.MethodPut, fmt.Sprintf("/api/v1/permissions/%s", a),
		map[string]interface{}{"parent_id": c})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePermission_ChildrenIsConflict(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectExec("DELETE FROM permissions").
		WillReturnError(childFKError())

	rec := doRequest(server, http.MethodDelete, fmt.Sprintf("/api/v1/permissions/%s", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReplaceRolePermissions_UnknownRole(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM roles WHERE id").
		WillReturnError(sql.ErrNoRows)

	rec := doRequest(server, http.MethodPut, "/api/v1/roles/missing/permissions",
		map[string]interface{}{"permission_ids": []uuid.UUID{}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionTree(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	moduleID := uuid.New()
	parent := uuid.New()
	child := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM roles WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "module_id"}).
			AddRow("role-1", "Clerk", "", nil))

	mock.ExpectQuery("SELECT (.+) FROM permissions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "module_id", "is_active", "parent_id"}).
			AddRow(parent.String(), "Billing", "", moduleID.String(), true, nil).
			AddRow(child.String(), "Billing.View", "", moduleID.String(), true, parent.String()))

	mock.ExpectQuery("SELECT permission_id FROM role_permissions").
		WillReturnRows(sqlmock.NewRows([]string{"permission_id"}).AddRow(child.String()))

	rec := doRequest(server, http.MethodGet, "/api/v1/roles/role-1/permission-tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tree []catalog.PermissionTreeNode
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	require.Len(t, tree, 1)
	assert.False(t, tree[0].IsAssigned)
	require.Len(t, tree[0].Children, 1)
	assert.True(t, tree[0].Children[0].IsAssigned)
}

func TestRegisterEndpoint_PublishesMessage(t *testing.T) {
	server, _, publisher, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(server, http.MethodPost, "/api/v1/register", federation.RegisterModule{
		ModuleName: "Billing",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, publisher.envelopes, 1)
	assert.Equal(t, "idhub:register-module", publisher.stream)
	assert.Equal(t, bus.TypeRegisterModule, publisher.envelopes[0].Type)
}

func TestRegisterEndpoint_InvalidMessage(t *testing.T) {
	server, _, publisher, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(server, http.MethodPost, "/api/v1/register", federation.RegisterModule{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, publisher.envelopes)
}

func apiUserRows(id, fullName string, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_name", "email", "full_name", "is_active",
		"email_confirmed", "is_federated_user", "external_dn", "password_hash", "created_at"}).
		AddRow(id, "alice", "alice@example.com", fullName, active, true, false, nil, "hash", time.Now())
}

func TestUserClaims_RoutesByScope(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	moduleID := uuid.New()

	// Active check and claim build each load the user.
	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnRows(apiUserRows("u-1", "Alice Smith", true))
	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnRows(apiUserRows("u-1", "Alice Smith", true))
	mock.ExpectQuery("SELECT r.name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Clerk"))
	mock.ExpectQuery("SELECT DISTINCT p.id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "module_id", "is_active", "parent_id"}).
			AddRow(uuid.New().String(), "Billing.Invoices.View", "", moduleID.String(), true, nil))

	rec := doRequest(server, http.MethodGet,
		"/api/v1/users/u-1/claims?scope=openid&scope=roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var routed []routedClaim
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routed))
	require.Len(t, routed, 6)

	byType := make(map[string][]string)
	for _, claim := range routed {
		byType[claim.Type] = claim.Destinations
	}
	assert.Equal(t, []string{claims.DestinationAccessToken}, byType[claims.TypeSubject])
	assert.Equal(t, []string{claims.DestinationAccessToken}, byType[claims.TypeName])
	assert.Equal(t, []string{claims.DestinationAccessToken}, byType[claims.TypeEmail])
	assert.Equal(t, []string{claims.DestinationAccessToken}, byType[claims.TypeFullName])
	assert.Equal(t, []string{claims.DestinationAccessToken, claims.DestinationIdentityToken},
		byType[claims.TypeRole])
	assert.Equal(t, []string{claims.DestinationAccessToken}, byType[claims.TypePermission])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserClaims_InactiveUserForbidden(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnRows(apiUserRows("u-1", "Alice Smith", false))

	rec := doRequest(server, http.MethodGet, "/api/v1/users/u-1/claims", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserClaims_UnknownUser(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnError(sql.ErrNoRows)

	rec := doRequest(server, http.MethodGet, "/api/v1/users/missing/claims", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserPermissions(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnRows(apiUserRows("u-1", "Alice Smith", true))
	mock.ExpectQuery("SELECT r.name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Clerk"))
	mock.ExpectQuery("SELECT DISTINCT p.name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("Billing.Invoices.View").
			AddRow("Reports.View"))
	mock.ExpectQuery("SELECT m.name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Reporting"))

	rec := doRequest(server, http.MethodGet, "/api/v1/users/u-1/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Roles             []string `json:"roles"`
		Permissions       []string `json:"permissions"`
		RestrictedModules []string `json:"restricted_modules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []string{"Clerk"}, view.Roles)
	assert.Equal(t, []string{"Billing.Invoices.View", "Reports.View"}, view.Permissions)
	assert.Equal(t, []string{"Reporting"}, view.RestrictedModules)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckRestriction(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	moduleID := uuid.New()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("u-1", moduleID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	rec := doRequest(server, http.MethodGet,
		fmt.Sprintf("/api/v1/users/u-1/restrictions/%s", moduleID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Restricted bool `json:"restricted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Restricted)
}

func TestRevocationStatus_NotRevoked(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(server, http.MethodGet, "/api/v1/users/u-1/revoked", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		UserID  string `json:"user_id"`
		Revoked bool   `json:"revoked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "u-1", status.UserID)
	assert.False(t, status.Revoked)
}

func TestRevokeAndClear(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	revokedStatus := func() bool {
		rec := doRequest(server, http.MethodGet, "/api/v1/users/u-1/revoked", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var status struct {
			Revoked bool `json:"revoked"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		return status.Revoked
	}

	rec := doRequest(server, http.MethodPut, "/api/v1/users/u-1/revoked", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, revokedStatus())

	rec = doRequest(server, http.MethodDelete, "/api/v1/users/u-1/revoked", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, revokedStatus())
}

func apiClientRows(clientID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"client_id", "client_name", "secret_hash", "grant_types",
		"scopes", "redirect_uris", "post_logout_redirect_uris", "health_check_url",
		"require_pkce", "allow_offline", "owner_module", "created_at", "updated_at"}).
		AddRow(clientID, "Test Client", "hash", "{client_credentials}", "{api}", "{}", "{}", "",
			false, false, "UserManagement", time.Now(), time.Now())
}

func TestClientClaims_RecoveryClient(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM oauth_clients").
		WithArgs("recovery-project").
		WillReturnRows(apiClientRows("recovery-project"))

	rec := doRequest(server, http.MethodGet,
		"/api/v1/clients/recovery-project/claims?scope=roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var routed []routedClaim
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routed))
	require.Len(t, routed, 2)

	byType := make(map[string]routedClaim)
	for _, claim := range routed {
		byType[claim.Type] = claim
	}
	assert.Equal(t, "recovery-project", byType[claims.TypeClientID].Value)
	assert.Equal(t, []string{claims.DestinationAccessToken}, byType[claims.TypeClientID].Destinations)
	assert.Equal(t, claims.AdministratorRole, byType[claims.TypeRole].Value)
	assert.Equal(t, []string{claims.DestinationAccessToken, claims.DestinationIdentityToken},
		byType[claims.TypeRole].Destinations)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientClaims_OrdinaryClient(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM oauth_clients").
		WithArgs("ui-client").
		WillReturnRows(apiClientRows("ui-client"))

	rec := doRequest(server, http.MethodGet, "/api/v1/clients/ui-client/claims", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var routed []routedClaim
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routed))
	require.Len(t, routed, 1)
	assert.Equal(t, claims.TypeClientID, routed[0].Type)
	assert.Equal(t, "ui-client", routed[0].Value)
}

func TestClientClaims_UnknownClient(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM oauth_clients").
		WillReturnError(sql.ErrNoRows)

	rec := doRequest(server, http.MethodGet, "/api/v1/clients/missing/claims", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDirectorySync(t *testing.T) {
	env := newTestEnv(t)
	defer env.cleanup()

	env.directory.result = directory.Result{Created: 2, Existing: 1}

	rec := doRequest(env.server, http.MethodPost, "/api/v1/directory/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.directory.calls)

	var result directory.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, directory.Result{Created: 2, Existing: 1}, result)
}

func TestDirectorySync_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	defer env.cleanup()

	env.directory.err = directory.ErrNotConfigured

	rec := doRequest(env.server, http.MethodPost, "/api/v1/directory/sync", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetDirectoryConfig_PasswordNotEchoed(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM directory_configurations").
		WillReturnRows(sqlmock.NewRows([]string{"host", "port", "base_dn", "admin_dn",
			"admin_password", "use_ssl", "is_enabled"}).
			AddRow("ldap.example.com", 636, "dc=example,dc=com", "cn=reader,dc=example,dc=com",
				"secret", true, true))

	rec := doRequest(server, http.MethodGet, "/api/v1/directory/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ldap.example.com", body["host"])
	assert.NotContains(t, body, "admin_password")
}

func TestSaveDirectoryConfig_DefaultsPort(t *testing.T) {
	server, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO directory_configurations").
		WithArgs("ldap.example.com", 389, "dc=example,dc=com", "", "", false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doRequest(server, http.MethodPut, "/api/v1/directory/config", map[string]interface{}{
		"host":    "ldap.example.com",
		"base_dn": "dc=example,dc=com",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDirectoryConfig_RequiresHost(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := doRequest(server, http.MethodPut, "/api/v1/directory/config",
		map[string]interface{}{"base_dn": "dc=example,dc=com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRole_PublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	defer env.cleanup()

	env.mock.ExpectQuery("SELECT (.+) FROM roles WHERE name").
		WillReturnError(sql.ErrNoRows)
	env.mock.ExpectExec("INSERT INTO roles").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doRequest(env.server, http.MethodPost, "/api/v1/roles",
		map[string]interface{}{"name": "Auditor"})
	require.Equal(t, http.StatusCreated, rec.Code)

	entries, err := env.redis.XRange(context.Background(), "idhub:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var env0 bus.Envelope
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["envelope"].(string)), &env0))
	assert.Equal(t, bus.TypeRoleCreated, env0.Type)

	var payload bus.RoleCreatedEvent
	require.NoError(t, json.Unmarshal(env0.Payload, &payload))
	assert.Equal(t, "Auditor", payload.Name)
}
