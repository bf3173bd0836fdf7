package tools

import (
	"context"
	"sync"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
)

// MockProvider is an OrderLookupProvider with settable results.
// Used by tests and by the demo deployment; safe for concurrent use.
type MockProvider struct {
	mu sync.Mutex

	Orders    []Order
	ByRef     map[string]Order
	LookupErr error
	RefErr    error

	lookupCalls int
	refCalls    int
}

// Compile-time interface check.
var _ OrderLookupProvider = (*MockProvider)(nil)

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{ByRef: make(map[string]Order)}
}

// LookupOrders implements OrderLookupProvider.
func (m *MockProvider) LookupOrders(_ context.Context, _ conversation.CustomerInfo) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookupCalls++
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	out := make([]Order, len(m.Orders))
	copy(out, m.Orders)
	return out, nil
}

// LookupOrderByReference implements OrderLookupProvider.
func (m *MockProvider) LookupOrderByReference(_ context.Context, reference string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refCalls++
	if m.RefErr != nil {
		return nil, m.RefErr
	}
	if order, ok := m.ByRef[reference]; ok {
		o := order
		return &o, nil
	}
	return nil, nil
}

// LookupCalls returns how many times LookupOrders was invoked.
func (m *MockProvider) LookupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupCalls
}

// RefCalls returns how many times LookupOrderByReference was invoked.
func (m *MockProvider) RefCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refCalls
}
