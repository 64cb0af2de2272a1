package claims

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/observability"
)

// fakeStore serves one user's claims data
type fakeStore struct {
	user         *catalog.User
	roles        []string
	permissions  []catalog.Permission
	restrictions []catalog.UserModuleRestriction
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*catalog.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, catalog.ErrNotFound
	}
	return f.user, nil
}

func (f *fakeStore) GetUserRoleNames(ctx context.Context, userID string) ([]string, error) {
	return f.roles, nil
}

func (f *fakeStore) GetPermissionsForRoles(ctx context.Context, roleNames []string) ([]catalog.Permission, error) {
	return f.permissions, nil
}

func (f *fakeStore) ListRestrictions(ctx context.Context, userID string) ([]catalog.UserModuleRestriction, error) {
	return f.restrictions, nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func TestForUser_UnionDedupAndOrder(t *testing.T) {
	billingID := uuid.New()
	store := &fakeStore{
		user: &catalog.User{
			ID:       "u-1",
			UserName: "alice",
			Email:    "alice@example.com",
			FullName: "Alice Smith",
			IsActive: true,
		},
		roles: []string{"Viewer", "Auditor"},
		// Role Auditor grants {A, B}, Viewer grants {B, C}; the union is
		// {A, B, C} with B appearing once.
		permissions: []catalog.Permission{
			{Name: "Reports.Audit", ModuleID: billingID},
			{Name: "Reports.Export", ModuleID: billingID},
			{Name: "Reports.Export", ModuleID: billingID},
			{Name: "Reports.View", ModuleID: billingID},
		},
	}

	augmentor := NewAugmentor(store, false, testLogger(), testMetrics())
	claims, err := augmentor.ForUser(context.Background(), "u-1")
	require.NoError(t, err)

	assert.Equal(t, []Claim{
		{Type: TypeSubject, Value: "u-1"},
		{Type: TypeName, Value: "alice"},
		{Type: TypeEmail, Value: "alice@example.com"},
		{Type: TypeFullName, Value: "Alice Smith"},
		{Type: TypeRole, Value: "Auditor"},
		{Type: TypeRole, Value: "Viewer"},
		{Type: TypePermission, Value: "Reports.Audit"},
		{Type: TypePermission, Value: "Reports.Export"},
		{Type: TypePermission, Value: "Reports.View"},
	}, claims)
}

func TestForUser_BareUserGetsSubjectOnly(t *testing.T) {
	store := &fakeStore{user: &catalog.User{ID: "u-1", IsActive: true}}

	augmentor := NewAugmentor(store, false, testLogger(), testMetrics())
	claims, err := augmentor.ForUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []Claim{{Type: TypeSubject, Value: "u-1"}}, claims)
}

func TestForUser_RestrictionsSuppressPermissions(t *testing.T) {
	billingID := uuid.New()
	reportingID := uuid.New()
	store := &fakeStore{
		user:  &catalog.User{ID: "u-1", IsActive: true},
		roles: []string{"Clerk"},
		permissions: []catalog.Permission{
			{Name: "Billing.Invoices.View", ModuleID: billingID},
			{Name: "Reports.View", ModuleID: reportingID},
		},
		restrictions: []catalog.UserModuleRestriction{
			{UserID: "u-1", ModuleID: billingID},
		},
	}

	suppressing := NewAugmentor(store, true, testLogger(), testMetrics())
	claims, err := suppressing.ForUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []Claim{
		{Type: TypeSubject, Value: "u-1"},
		{Type: TypeRole, Value: "Clerk"},
		{Type: TypePermission, Value: "Reports.View"},
	}, claims)

	// With suppression off, restrictions do not touch claim issuance.
	passthrough := NewAugmentor(store, false, testLogger(), testMetrics())
	claims, err = passthrough.ForUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Len(t, claims, 4)
}

func TestForUser_UnknownUser(t *testing.T) {
	augmentor := NewAugmentor(&fakeStore{}, false, testLogger(), testMetrics())
	_, err := augmentor.ForUser(context.Background(), "missing")
	assert.Error(t, err)
}

func TestIsActive(t *testing.T) {
	store := &fakeStore{user: &catalog.User{ID: "u-1", IsActive: false}}
	augmentor := NewAugmentor(store, false, testLogger(), testMetrics())

	active, err := augmentor.IsActive(context.Background(), "u-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestDestinations(t *testing.T) {
	tests := []struct {
		name      string
		claimType string
		scopes    []string
		want      []string
	}{
		{
			name:      "security stamp never leaves",
			claimType: TypeSecurityStamp,
			scopes:    []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopeRoles},
			want:      nil,
		},
		{
			name:      "name with profile scope reaches both tokens",
			claimType: TypeName,
			scopes:    []string{ScopeOpenID, ScopeProfile},
			want:      []string{DestinationAccessToken, DestinationIdentityToken},
		},
		{
			name:      "name without profile scope is access only",
			claimType: TypeName,
			scopes:    []string{ScopeOpenID},
			want:      []string{DestinationAccessToken},
		},
		{
			name:      "email gated by email scope",
			claimType: TypeEmail,
			scopes:    []string{ScopeOpenID, ScopeEmail},
			want:      []string{DestinationAccessToken, DestinationIdentityToken},
		},
		{
			name:      "role gated by roles scope",
			claimType: TypeRole,
			scopes:    []string{ScopeRoles},
			want:      []string{DestinationAccessToken, DestinationIdentityToken},
		},
		{
			name:      "role without roles scope is access only",
			claimType: TypeRole,
			scopes:    []string{ScopeOpenID, ScopeProfile},
			want:      []string{DestinationAccessToken},
		},
		{
			name:      "unknown claim type is access only",
			claimType: TypePermission,
			scopes:    []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopeRoles},
			want:      []string{DestinationAccessToken},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Destinations(tt.claimType, tt.scopes)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForClientCredentials(t *testing.T) {
	claims := ForClientCredentials("recovery-project", "recovery-project")
	assert.Contains(t, claims, Claim{Type: TypeRole, Value: AdministratorRole})

	claims = ForClientCredentials("ui-client", "recovery-project")
	assert.Equal(t, []Claim{{Type: TypeClientID, Value: "ui-client"}}, claims)

	claims = ForClientCredentials("", "")
	assert.Equal(t, []Claim{{Type: TypeClientID, Value: ""}}, claims)
}
