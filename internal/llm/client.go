// Package llm provides LLM client implementations.
//
// Two call sites exist in Foyer: engagement classification (strict JSON
// output, temperature 0) and reply phrasing (short free text). Both go
// through [Client.Chat]; there is no tool calling and no streaming.
package llm

import (
	"context"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req Request) (*Response, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Model    string
	System   string
	Messages []Message

	// JSONOnly asks the provider for machine-parseable JSON output.
	// Ollama has a wire-level format flag; Anthropic relies on the
	// prompt's instruction, so callers must still validate the output.
	JSONOnly bool

	// MaxTokens bounds the completion length. Zero means the provider
	// client's default.
	MaxTokens int

	// Temperature is passed through verbatim. Classification uses 0.
	Temperature float64
}

// Response is the unified response from any LLM provider.
type Response struct {
	Content  string
	Model    string
	Provider string // "ollama" or "anthropic"

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}
