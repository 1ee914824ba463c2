package textgen

import (
	"context"
	"testing"
	"time"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	calls    int
	delay    time.Duration
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:           "test_resp",
			Model:        "test-model",
			Provider:     name,
			Text:         text,
			FinishReason: FinishReason{Reason: "stop"},
			Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text)
	}
	if resp.Provider != "test-provider" {
		t.Errorf("expected provider %q, got %q", "test-provider", resp.Provider)
	}
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")
	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Provider: "anthropic",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "Anthropic response" {
		t.Errorf("expected anthropic to handle the request, got %q", resp.Text)
	}

	resp, err = client.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "OpenAI response" {
		t.Errorf("expected default provider to handle the request, got %q", resp.Text)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient(WithProvider("openai", newMockAdapter("openai", "x")))

	_, err := client.Complete(context.Background(), Request{
		Provider: "gemini",
		Messages: []Message{UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected *ConfigurationError, got %T", err)
	}
}

func TestClientNoDefaultProvider(t *testing.T) {
	client := NewClient()

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error when no provider is configured")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected *ConfigurationError, got %T", err)
	}
}

func TestClientSingleProviderBecomesDefault(t *testing.T) {
	client := NewClient(WithProvider("openai", newMockAdapter("openai", "hi")))

	resp, err := client.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hi" {
		t.Errorf("expected sole provider to be used as default, got %q", resp.Text)
	}
}

func TestClientTimeout(t *testing.T) {
	slow := newMockAdapter("slow", "late")
	slow.delay = 200 * time.Millisecond
	client := NewClient(
		WithProvider("slow", slow),
		WithTimeout(20*time.Millisecond),
	)

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if _, ok := err.(*RequestTimeoutError); !ok {
		t.Errorf("expected *RequestTimeoutError, got %T: %v", err, err)
	}
}

func TestClientRetryMiddleware(t *testing.T) {
	flaky := &mockAdapter{name: "flaky"}
	flaky.err = &ServerError{ProviderError: ProviderError{
		ClientError: ClientError{Message: "server error"}, Retryable: true,
	}}
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}
	client := NewClient(
		WithProvider("flaky", flaky),
		WithMiddleware(RetryMiddleware(policy)),
	)

	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", flaky.calls)
	}
}
