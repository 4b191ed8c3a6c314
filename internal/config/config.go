// Package config handles Foyer configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./foyer.yaml, ~/.config/foyer/config.yaml, /etc/foyer/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"foyer.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "foyer", "config.yaml"))
	}

	paths = append(paths, "/etc/foyer/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Foyer configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Models    ModelsConfig    `yaml:"models"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Events    EventsConfig    `yaml:"events"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines LLM provider and model settings.
type ModelsConfig struct {
	// Providers is the failover order for LLM calls. Each entry must be
	// "ollama" or "anthropic". The first reachable provider wins.
	Providers []string `yaml:"providers"`
	OllamaURL string   `yaml:"ollama_url"`
	// Classify is the model used for engagement classification. Small and
	// fast is fine here; the output is a short JSON verdict.
	Classify string `yaml:"classify"`
	// Reply is the model used to phrase the next question to the visitor.
	Reply string `yaml:"reply"`
	// MaxReplyTokens bounds reply generation (default 256).
	MaxReplyTokens int `yaml:"max_reply_tokens"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether the Anthropic provider can be used.
func (c AnthropicConfig) Configured() bool {
	return c.APIKey != ""
}

// DiscoveryConfig tunes the discovery flow's failsafe arithmetic.
type DiscoveryConfig struct {
	// HonestLimit is the honest-attempt strike threshold (default 5).
	HonestLimit int `yaml:"honest_limit"`
	// NonEngagementLimit is the non-engagement strike threshold (default 3).
	NonEngagementLimit int `yaml:"non_engagement_limit"`
	// ResetOnCapture selects which counters clear when a value is
	// successfully captured: "honest" (default), "both", or "none".
	ResetOnCapture string `yaml:"reset_on_capture"`
	// Weights overrides the default per-pattern strike weights.
	Weights WeightsConfig `yaml:"weights"`
	// HistoryTurns is how many recent turns accompany each classifier
	// request (default 6).
	HistoryTurns int `yaml:"history_turns"`
	// MaxTurns hard-caps a session's total turns before routing to the
	// failsafe (default 30, 0 disables the cap).
	MaxTurns int `yaml:"max_turns"`
	// AssistantName is the persona name used in generated replies.
	AssistantName string `yaml:"assistant_name"`
}

// WeightsConfig holds the default strike weight per pattern. Values are
// clamped to [1, 3] at use; zero means "use the built-in default".
type WeightsConfig struct {
	Honest        int `yaml:"honest"`         // default 1
	Dismissive    int `yaml:"dismissive"`     // default 2
	NonEngagement int `yaml:"non_engagement"` // default 3
}

// EventsConfig defines the MQTT outcome publisher settings.
type EventsConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether outcome publishing is enabled.
func (c EventsConfig) Configured() bool {
	return c.Broker != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Providers:      []string{"ollama"},
			OllamaURL:      "http://localhost:11434",
			Classify:       "qwen3:4b",
			Reply:          "qwen3:4b",
			MaxReplyTokens: 256,
		},
		Discovery: DiscoveryConfig{
			HonestLimit:        5,
			NonEngagementLimit: 3,
			ResetOnCapture:     "honest",
			HistoryTurns:       6,
			MaxTurns:           30,
			AssistantName:      "Foyer",
		},
		Events: EventsConfig{
			DeviceName:  "foyer",
			TopicPrefix: "foyer",
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// applyDefaults fills zero-valued fields that Unmarshal may have cleared
// when a section was present but a key was omitted.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if len(c.Models.Providers) == 0 {
		c.Models.Providers = []string{"ollama"}
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Classify == "" {
		c.Models.Classify = "qwen3:4b"
	}
	if c.Models.Reply == "" {
		c.Models.Reply = c.Models.Classify
	}
	if c.Models.MaxReplyTokens == 0 {
		c.Models.MaxReplyTokens = 256
	}
	if c.Discovery.HonestLimit == 0 {
		c.Discovery.HonestLimit = 5
	}
	if c.Discovery.NonEngagementLimit == 0 {
		c.Discovery.NonEngagementLimit = 3
	}
	if c.Discovery.ResetOnCapture == "" {
		c.Discovery.ResetOnCapture = "honest"
	}
	if c.Discovery.HistoryTurns == 0 {
		c.Discovery.HistoryTurns = 6
	}
	if c.Discovery.AssistantName == "" {
		c.Discovery.AssistantName = "Foyer"
	}
	if c.Events.DeviceName == "" {
		c.Events.DeviceName = "foyer"
	}
	if c.Events.TopicPrefix == "" {
		c.Events.TopicPrefix = "foyer"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime failures. Call after Load.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}

	for _, p := range c.Models.Providers {
		switch p {
		case "ollama", "anthropic":
		default:
			return fmt.Errorf("unknown provider %q in models.providers (valid: ollama, anthropic)", p)
		}
		if p == "anthropic" && !c.Anthropic.Configured() {
			return fmt.Errorf("models.providers lists anthropic but anthropic.api_key is not set")
		}
	}

	switch c.Discovery.ResetOnCapture {
	case "honest", "both", "none":
	default:
		return fmt.Errorf("discovery.reset_on_capture %q invalid (valid: honest, both, none)", c.Discovery.ResetOnCapture)
	}

	if c.Discovery.HonestLimit < 1 {
		return fmt.Errorf("discovery.honest_limit must be at least 1")
	}
	if c.Discovery.NonEngagementLimit < 1 {
		return fmt.Errorf("discovery.non_engagement_limit must be at least 1")
	}
	if c.Discovery.MaxTurns < 0 {
		return fmt.Errorf("discovery.max_turns must not be negative")
	}

	if c.Events.Configured() {
		u, err := url.Parse(c.Events.Broker)
		if err != nil {
			return fmt.Errorf("events.broker: %w", err)
		}
		switch u.Scheme {
		case "mqtt", "tcp", "mqtts", "ssl":
		default:
			return fmt.Errorf("events.broker scheme %q invalid (valid: mqtt, tcp, mqtts, ssl)", u.Scheme)
		}
	}

	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q invalid (valid: text, json)", c.LogFormat)
	}

	return nil
}

// starterConfig is written by "foyer init". Comments double as the
// reference documentation for each setting.
const starterConfig = `# Foyer configuration.
# Search order: ./foyer.yaml, ~/.config/foyer/config.yaml, /etc/foyer/config.yaml
# Values support ${ENV_VAR} expansion.

listen:
  address: ""          # bind address ("" = all interfaces)
  port: 8080

models:
  providers: [ollama]  # failover order; add "anthropic" to fall back to the API
  ollama_url: http://localhost:11434
  classify: qwen3:4b   # engagement classification (small + fast is fine)
  reply: qwen3:4b      # reply phrasing
  max_reply_tokens: 256

#anthropic:
#  api_key: ${ANTHROPIC_API_KEY}

discovery:
  honest_limit: 5          # honest-attempt strikes before failsafe
  non_engagement_limit: 3  # non-engagement strikes before failsafe
  reset_on_capture: honest # honest | both | none
  history_turns: 6         # recent turns sent with each classifier request
  max_turns: 30            # overall session turn cap (0 = off)
  assistant_name: Foyer

# Uncomment to publish completed/failsafe outcome events over MQTT.
#events:
#  broker: mqtt://localhost:1883
#  username: ""
#  password: ""
#  device_name: foyer
#  topic_prefix: foyer

data_dir: ./data
log_level: info   # trace | debug | info | warn | error
log_format: text  # text | json
`

// WriteStarter writes the commented starter config to dir/foyer.yaml.
// It refuses to overwrite an existing file.
func WriteStarter(dir string) (string, error) {
	path := filepath.Join(dir, "foyer.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("refusing to overwrite existing %s", path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Redacted returns a copy of the config safe for logging, with secrets
// replaced by a fixed marker.
func (c *Config) Redacted() Config {
	out := *c
	if out.Anthropic.APIKey != "" {
		out.Anthropic.APIKey = "[redacted]"
	}
	if out.Events.Password != "" {
		out.Events.Password = "[redacted]"
	}
	return out
}

// String implements fmt.Stringer with secrets redacted.
func (c *Config) String() string {
	r := c.Redacted()
	return strings.TrimSpace(fmt.Sprintf("listen=%s:%d providers=%v data_dir=%s",
		r.Listen.Address, r.Listen.Port, r.Models.Providers, r.DataDir))
}
