package billing

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/stripe/stripe-go/v83"
)

// MockProvider is a mock implementation of ProviderGateway for testing.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Subscription), args.Error(1)
}

// Ensure MockProvider implements ProviderGateway
var _ ProviderGateway = (*MockProvider)(nil)
