package llms

import (
	"context"
	"strings"
	"sync"
)

// MockLLM - Scripted generator for tests and offline runs (LLM_PROVIDER is never "mock" in config,
// callers construct it directly).
type MockLLM struct {
	LLM
	fragments []string
	err       error
	errAfter  int
	gate      <-chan struct{}

	mu      sync.Mutex
	prompts []string
	calls   []Options
}

// NewMockLLM - Streams fragments in order; Generate returns them joined.
func NewMockLLM(model Model, fragments ...string) *MockLLM {
	return &MockLLM{
		LLM:       LLM{provider: "mock", model: model},
		fragments: fragments,
		errAfter:  -1,
	}
}

// WithError - Fail with err once n fragments have been emitted. n = 0 fails before any output.
func (m *MockLLM) WithError(err error, n int) *MockLLM {
	m.err = err
	m.errAfter = n
	return m
}

// WithGate - Block before the first fragment until gate is closed or ctx is done.
func (m *MockLLM) WithGate(gate <-chan struct{}) *MockLLM {
	m.gate = gate
	return m
}

// Prompts - Every prompt received so far.
func (m *MockLLM) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Calls - The options every call resolved to, in order.
func (m *MockLLM) Calls() []Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Options(nil), m.calls...)
}

func (m *MockLLM) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	var sb strings.Builder
	err := m.GenerateStream(ctx, prompt, func(s string) error {
		sb.WriteString(s)
		return nil
	}, opts...)
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (m *MockLLM) GenerateStream(ctx context.Context, prompt string, onFragment func(string) error, opts ...Option) error {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.calls = append(m.calls, m.options(opts))
	m.mu.Unlock()

	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i, f := range m.fragments {
		if m.err != nil && i == m.errAfter {
			return m.err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onFragment(f); err != nil {
			return err
		}
	}
	if m.err != nil && m.errAfter >= len(m.fragments) {
		return m.err
	}
	return nil
}
