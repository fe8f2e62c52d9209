package model

import (
	"context"
	"sync"
)

// MockClient is a scriptable endpoint for router tests.
type MockClient struct {
	ClientName             string
	CompleteFunc           func(ctx context.Context, prompt string) (string, error)
	CompleteWithSystemFunc func(ctx context.Context, system, user string) (string, error)

	mu    sync.Mutex
	calls int
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) Name() string {
	if m.ClientName != "" {
		return m.ClientName
	}
	return "mock"
}

func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "mock completion", nil
}

func (m *MockClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.CompleteWithSystemFunc != nil {
		return m.CompleteWithSystemFunc(ctx, system, user)
	}
	return "mock completion", nil
}
