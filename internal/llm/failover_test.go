package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// mockClient is a scriptable Client for failover tests.
type mockClient struct {
	resp    *Response
	err     error
	pingErr error
	calls   int
}

func (m *mockClient) Chat(ctx context.Context, req Request) (*Response, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func (m *mockClient) Ping(ctx context.Context) error {
	return m.pingErr
}

func TestFailoverChat_FirstSucceeds(t *testing.T) {
	primary := &mockClient{resp: &Response{Content: "ok", Provider: "ollama"}}
	backup := &mockClient{resp: &Response{Content: "backup", Provider: "anthropic"}}

	f := NewFailover(nil)
	f.Add("ollama", primary)
	f.Add("anthropic", backup)

	resp, err := f.Chat(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama", resp.Provider)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
}

func TestFailoverChat_FallsThrough(t *testing.T) {
	primary := &mockClient{err: errors.New("connection refused")}
	backup := &mockClient{resp: &Response{Content: "ok", Provider: "anthropic"}}

	f := NewFailover(nil)
	f.Add("ollama", primary)
	f.Add("anthropic", backup)

	resp, err := f.Chat(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", resp.Provider)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1", primary.calls)
	}
}

func TestFailoverChat_AllFail(t *testing.T) {
	sentinel := errors.New("overloaded")
	f := NewFailover(nil)
	f.Add("ollama", &mockClient{err: errors.New("connection refused")})
	f.Add("anthropic", &mockClient{err: sentinel})

	_, err := f.Chat(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("error should wrap the last failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "all 2 providers failed") {
		t.Errorf("error = %v", err)
	}
}

func TestFailoverChat_Empty(t *testing.T) {
	f := NewFailover(nil)
	if _, err := f.Chat(context.Background(), Request{}); err == nil {
		t.Error("expected error for empty failover")
	}
}

func TestFailoverChat_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &mockClient{err: ctx.Err()}
	backup := &mockClient{resp: &Response{Content: "ok"}}

	f := NewFailover(nil)
	f.Add("ollama", primary)
	f.Add("anthropic", backup)

	_, err := f.Chat(ctx, Request{})
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times after cancellation, want 0", backup.calls)
	}
}

func TestFailoverPing(t *testing.T) {
	tests := []struct {
		name    string
		primary error
		backup  error
		wantErr bool
	}{
		{"both up", nil, nil, false},
		{"primary down", errors.New("refused"), nil, false},
		{"both down", errors.New("refused"), errors.New("401"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFailover(nil)
			f.Add("ollama", &mockClient{pingErr: tt.primary})
			f.Add("anthropic", &mockClient{pingErr: tt.backup})

			err := f.Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFailoverLen(t *testing.T) {
	f := NewFailover(nil)
	if f.Len() != 0 {
		t.Errorf("Len = %d, want 0", f.Len())
	}
	f.Add("ollama", &mockClient{})
	f.Add("anthropic", &mockClient{})
	if f.Len() != 2 {
		t.Errorf("Len = %d, want 2", f.Len())
	}
}
