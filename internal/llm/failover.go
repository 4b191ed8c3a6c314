package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Failover tries a fixed sequence of providers until one answers. The
// order comes from config (models.providers); a local Ollama first with
// the Anthropic API as backup is the expected arrangement.
type Failover struct {
	names   []string
	clients []Client
	logger  *slog.Logger
}

// NewFailover creates an empty failover client. Add providers in
// preference order with [Failover.Add].
func NewFailover(logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{logger: logger}
}

// Add registers a provider at the end of the failover order.
func (f *Failover) Add(name string, client Client) {
	f.names = append(f.names, name)
	f.clients = append(f.clients, client)
}

// Len returns the number of registered providers.
func (f *Failover) Len() int {
	return len(f.clients)
}

// Chat tries each provider in order and returns the first success.
// Providers are only skipped on error; a context cancellation stops the
// sequence immediately since later providers would inherit the same
// dead context.
func (f *Failover) Chat(ctx context.Context, req Request) (*Response, error) {
	if len(f.clients) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	var lastErr error
	for i, client := range f.clients {
		resp, err := client.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("provider failover succeeded",
					"provider", f.names[i],
					"attempt", i+1,
				)
			}
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chat cancelled: %w", ctx.Err())
		}
		f.logger.Warn("provider failed, trying next",
			"provider", f.names[i],
			"remaining", len(f.clients)-i-1,
			"error", err,
		)
	}

	return nil, fmt.Errorf("all %d providers failed: %w", len(f.clients), lastErr)
}

// Ping succeeds if any registered provider is reachable.
func (f *Failover) Ping(ctx context.Context) error {
	if len(f.clients) == 0 {
		return fmt.Errorf("no providers configured")
	}

	var lastErr error
	for i, client := range f.clients {
		err := client.Ping(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		f.logger.Debug("provider ping failed", "provider", f.names[i], "error", err)
	}
	return fmt.Errorf("no provider reachable: %w", lastErr)
}
