package llm

import (
	"context"
	"sync"

	"github.com/alanmaizon/taskplan/internal/domain"
)

// MockCompleter returns a canned completion and records what it was asked.
type MockCompleter struct {
	Content string
	Err     error

	mu           sync.Mutex
	calls        int
	lastProvider ProviderConfig
	lastMessages []domain.ChatMessage
}

func NewMockCompleter(content string, err error) *MockCompleter {
	return &MockCompleter{Content: content, Err: err}
}

func (m *MockCompleter) Complete(ctx context.Context, provider ProviderConfig, messages []domain.ChatMessage) (string, error) {
	return observeProviderOperation(ctx, "mock", "chat_completion", func() (string, error) {
		m.mu.Lock()
		m.calls++
		m.lastProvider = provider
		m.lastMessages = append([]domain.ChatMessage(nil), messages...)
		m.mu.Unlock()

		if m.Err != nil {
			return "", m.Err
		}
		return m.Content, nil
	})
}

func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockCompleter) LastProvider() ProviderConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastProvider
}

func (m *MockCompleter) LastMessages() []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatMessage(nil), m.lastMessages...)
}
