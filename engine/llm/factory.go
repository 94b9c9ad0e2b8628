package llm

import (
	"context"
	"sync"
)

// DefaultFactory creates langchaingo-backed clients. The mock provider yields
// a scripted client for tests.
type DefaultFactory struct{}

func NewFactory() *DefaultFactory {
	return &DefaultFactory{}
}

func (f *DefaultFactory) CreateClient(ctx context.Context, config *ProviderConfig) (Client, error) {
	if config != nil && config.Provider == ProviderMock {
		return NewMockClient(), nil
	}
	return NewLangchainClient(ctx, config)
}

// MockClient is a scripted Client for tests. Responses are returned in the
// order they were queued; once drained, Respond's fallback text is used.
type MockClient struct {
	mu        sync.Mutex
	queue     []*Response
	err       error
	fallback  string
	Requests  []*Request
	CallCount int
}

func NewMockClient() *MockClient {
	return &MockClient{fallback: "mock response"}
}

// Respond sets the text returned once the queued responses run out.
func (m *MockClient) Respond(text string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = text
	return m
}

// Queue appends a scripted response.
func (m *MockClient) Queue(resp *Response) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
	return m
}

// Fail makes every subsequent call return err.
func (m *MockClient) Fail(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockClient) GenerateContent(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount++
	m.Requests = append(m.Requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, nil
	}
	return &Response{Content: m.fallback}, nil
}

func (m *MockClient) Close() error {
	return nil
}
