package directory

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/observability"
)

// fakeStore is an in-memory Catalog with first-writer-wins user creation
type fakeStore struct {
	config *catalog.DirectoryConfig
	users  map[string]*catalog.User

	failUserNames map[string]bool
}

func newFakeStore(config *catalog.DirectoryConfig) *fakeStore {
	return &fakeStore{
		config:        config,
		users:         make(map[string]*catalog.User),
		failUserNames: make(map[string]bool),
	}
}

func (f *fakeStore) GetDirectoryConfig(ctx context.Context) (*catalog.DirectoryConfig, error) {
	if f.config == nil {
		return nil, catalog.ErrNotFound
	}
	return f.config, nil
}

func (f *fakeStore) EnsureUser(ctx context.Context, user *catalog.User) (*catalog.User, bool, error) {
	if f.failUserNames[user.UserName] {
		return nil, false, errors.New("simulated store failure")
	}
	if u, ok := f.users[user.UserName]; ok {
		return u, false, nil
	}
	user.ID = uuid.NewString()
	f.users[user.UserName] = user
	return user, true, nil
}

// fakeSearcher serves a fixed entry list
type fakeSearcher struct {
	entries []User
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, cfg *catalog.DirectoryConfig) ([]User, error) {
	return f.entries, f.err
}

// recordingNotifier captures published user creations
type recordingNotifier struct {
	userCreates []string
}

func (n *recordingNotifier) UserCreated(ctx context.Context, userID, userName string) error {
	n.userCreates = append(n.userCreates, userName)
	return nil
}

func enabledConfig() *catalog.DirectoryConfig {
	return &catalog.DirectoryConfig{
		Host:      "ldap.example.com",
		Port:      389,
		BaseDN:    "dc=example,dc=com",
		AdminDN:   "cn=reader,dc=example,dc=com",
		IsEnabled: true,
	}
}

func newTestSyncer(store Catalog, searcher Searcher, events Notifier) *Syncer {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewSyncer(store, searcher, events, "DefaultPassword123!", logger, metrics)
}

func TestSync_CreatesFederatedUsers(t *testing.T) {
	store := newFakeStore(enabledConfig())
	searcher := &fakeSearcher{entries: []User{
		{UserName: "jdoe", Email: "j@example.com", FullName: "Jane Doe", DN: "cn=jdoe,dc=example,dc=com"},
		{UserName: "asmith", FullName: "Alice Smith", DN: "cn=asmith,dc=example,dc=com"},
	}}
	events := &recordingNotifier{}
	syncer := newTestSyncer(store, searcher, events)

	result, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2}, result)
	assert.Equal(t, []string{"jdoe", "asmith"}, events.userCreates)

	user := store.users["jdoe"]
	require.NotNil(t, user)
	assert.True(t, user.IsActive)
	assert.True(t, user.IsFederatedUser)
	require.NotNil(t, user.ExternalDN)
	assert.Equal(t, "cn=jdoe,dc=example,dc=com", *user.ExternalDN)
	assert.True(t, catalog.CheckPassword(user.PasswordHash, "DefaultPassword123!"))
}

func TestSync_ExistingUsersUntouched(t *testing.T) {
	store := newFakeStore(enabledConfig())
	searcher := &fakeSearcher{entries: []User{
		{UserName: "jdoe", DN: "cn=jdoe,dc=example,dc=com"},
	}}
	events := &recordingNotifier{}
	syncer := newTestSyncer(store, searcher, events)

	_, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	original := store.users["jdoe"]

	// A second run finds the user and announces nothing new.
	result, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Existing: 1}, result)
	assert.Same(t, original, store.users["jdoe"])
	assert.Len(t, events.userCreates, 1)
}

func TestSync_NotConfigured(t *testing.T) {
	syncer := newTestSyncer(newFakeStore(nil), &fakeSearcher{}, nil)

	_, err := syncer.Sync(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSync_DisabledConfig(t *testing.T) {
	config := enabledConfig()
	config.IsEnabled = false
	syncer := newTestSyncer(newFakeStore(config), &fakeSearcher{}, nil)

	_, err := syncer.Sync(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSync_SearchFailure(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("connection refused")}
	syncer := newTestSyncer(newFakeStore(enabledConfig()), searcher, nil)

	_, err := syncer.Sync(context.Background())
	assert.Error(t, err)
}

func TestSync_BadEntriesCountedAsSkipped(t *testing.T) {
	store := newFakeStore(enabledConfig())
	store.failUserNames["broken"] = true
	searcher := &fakeSearcher{entries: []User{
		{UserName: ""},
		{UserName: "broken", DN: "cn=broken,dc=example,dc=com"},
		{UserName: "jdoe", DN: "cn=jdoe,dc=example,dc=com"},
	}}
	syncer := newTestSyncer(store, searcher, nil)

	result, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 1, Skipped: 2}, result)
	assert.NotContains(t, store.users, "broken")
}
