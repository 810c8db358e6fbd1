package authflow

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/devidkit/pkg/vault"
)

// MockAuthorizer is a mock implementation of Authorizer.
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) AuthURL(state string) (string, error) {
	args := m.Called(state)
	return args.String(0), args.Error(1)
}

func (m *MockAuthorizer) Exchange(ctx context.Context, code string) (vault.Credential, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(vault.Credential), args.Error(1)
}
