package identity

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// MockStore is a mock implementation of vault.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, loginID string) (vault.Credential, error) {
	args := m.Called(ctx, loginID)
	return args.Get(0).(vault.Credential), args.Error(1)
}

func (m *MockStore) Save(ctx context.Context, loginID string, cred vault.Credential) error {
	args := m.Called(ctx, loginID, cred)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, loginID string) error {
	args := m.Called(ctx, loginID)
	return args.Error(0)
}

// MockResolver is a mock implementation of Resolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, cred vault.Credential) (Profile, RemoteClient, error) {
	args := m.Called(ctx, cred)
	var client RemoteClient
	if c := args.Get(1); c != nil {
		client = c.(RemoteClient)
	}
	return args.Get(0).(Profile), client, args.Error(2)
}

// hookStore wraps a Store and runs a callback before delegating Save.
type hookStore struct {
	vault.Store
	beforeSave func(loginID string)
}

func (s *hookStore) Save(ctx context.Context, loginID string, cred vault.Credential) error {
	if s.beforeSave != nil {
		s.beforeSave(loginID)
	}
	return s.Store.Save(ctx, loginID, cred)
}

// slowDeleteStore wraps a Store and parks the Delete call for one login
// id until released.
type slowDeleteStore struct {
	vault.Store
	blockOn string
	entered chan struct{}
	release chan struct{}
}

func (s *slowDeleteStore) Delete(ctx context.Context, loginID string) error {
	if loginID == s.blockOn {
		close(s.entered)
		<-s.release
	}
	return s.Store.Delete(ctx, loginID)
}

// fakeClient is a RemoteClient that records whether it was closed.
type fakeClient struct {
	closed bool
	err    error
}

func (c *fakeClient) Close() error {
	c.closed = true
	return c.err
}
