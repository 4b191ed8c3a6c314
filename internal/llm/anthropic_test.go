package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicChat(t *testing.T) {
	var gotReq anthropicRequest
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		json.NewEncoder(w).Encode(anthropicResponse{
			ID:   "msg_01",
			Type: "message",
			Role: "assistant",
			Content: []anthropicContent{
				{Type: "text", Text: "Hello "},
				{Type: "text", Text: "there."},
			},
			Model:      "claude-sonnet-4-5",
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 12, OutputTokens: 5},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test-key", nil)
	c.apiURL = srv.URL

	resp, err := c.Chat(context.Background(), Request{
		Model:       "claude-sonnet-4-5",
		System:      "be brief",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// Text blocks are concatenated in order.
	if resp.Content != "Hello there." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", resp.Provider)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 12/5", resp.InputTokens, resp.OutputTokens)
	}

	if gotHeaders.Get("x-api-key") != "sk-test-key" {
		t.Errorf("x-api-key = %q", gotHeaders.Get("x-api-key"))
	}
	if gotHeaders.Get("anthropic-version") != anthropicAPIVersion {
		t.Errorf("anthropic-version = %q", gotHeaders.Get("anthropic-version"))
	}

	if gotReq.System != "be brief" {
		t.Errorf("system = %q", gotReq.System)
	}
	if gotReq.MaxTokens != anthropicDefaultMaxTokens {
		t.Errorf("max_tokens = %d, want default %d", gotReq.MaxTokens, anthropicDefaultMaxTokens)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", gotReq.Temperature)
	}
}

func TestAnthropicChat_ZeroTemperatureSent(t *testing.T) {
	// Classification calls pin temperature to 0; the zero must reach the
	// wire rather than being dropped by omitempty.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Temperature == nil {
			t.Error("temperature missing from request")
		} else if *req.Temperature != 0 {
			t.Errorf("temperature = %v, want 0", *req.Temperature)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: `{"pattern":"genuine"}`}},
			Usage:   anthropicUsage{InputTokens: 1, OutputTokens: 1},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test-key", nil)
	c.apiURL = srv.URL

	if _, err := c.Chat(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{{Role: "user", Content: "hi"}},
		JSONOnly: true,
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestAnthropicChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test-key", nil)
	c.apiURL = srv.URL

	_, err := c.Chat(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestAnthropicPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"bad key", http.StatusUnauthorized, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewAnthropicClient("sk-test-key", nil)
			c.apiURL = srv.URL

			err := c.Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
