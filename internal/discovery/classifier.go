package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/foyerhq/foyer/internal/llm"
	"github.com/foyerhq/foyer/internal/prompts"
)

// Classification sources.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// classifyMaxTokens bounds the classification response; the verdict JSON
// is small and anything longer is the model wandering off.
const classifyMaxTokens = 256

// ClassifyRequest carries one utterance plus the conversation context
// the classifier needs to score it.
type ClassifyRequest struct {
	ConversationID string
	Utterance      string
	Stage          Stage
	Name           string // captured name, if any
	Intent         string // captured intent, if any
	History        []HistoryEntry
}

// HistoryEntry is one prior line of conversation, given to the
// classification and reply prompts as context.
type HistoryEntry struct {
	Role    string `json:"role"` // "visitor" or "assistant"
	Content string `json:"content"`
}

// Classification is the ephemeral result of scoring one utterance.
type Classification struct {
	Pattern    Pattern `json:"pattern"`
	Candidate  string  `json:"candidate,omitempty"` // extracted name or intent
	Weight     int     `json:"weight"`
	Correction bool    `json:"correction"` // revises a previously captured value
	Confirm    bool    `json:"confirm"`    // verification agreement
	Deny       bool    `json:"deny"`       // verification rejection
	Reason     string  `json:"reason,omitempty"`
	Source     string  `json:"source,omitempty"` // "llm" or "heuristic"
}

// Classifier scores a single utterance. Implementations must be safe
// for concurrent use across conversations.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Classification, error)
}

// LLMClassifier scores utterances with a language model at temperature
// zero, demanding strict JSON output. Every failure mode (transport
// error, timeout, fenced garbage, unknown enum values) surfaces as an
// error so the engine can fall back to the deterministic heuristic.
type LLMClassifier struct {
	client  llm.Client
	model   string
	weights Weights
	logger  *slog.Logger
	usage   UsageFunc
}

// NewLLMClassifier creates the primary classifier.
func NewLLMClassifier(client llm.Client, model string, logger *slog.Logger) *LLMClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{
		client:  client,
		model:   model,
		weights: DefaultWeights(),
		logger:  logger.With("component", "classifier"),
	}
}

// SetWeights overrides the default per-pattern strike weights used when
// the model omits one.
func (c *LLMClassifier) SetWeights(w Weights) {
	c.weights = w.Normalize()
}

// SetUsageFunc configures the token accounting hook.
func (c *LLMClassifier) SetUsageFunc(fn UsageFunc) {
	c.usage = fn
}

// Classify sends the utterance to the model and parses its verdict.
func (c *LLMClassifier) Classify(ctx context.Context, req ClassifyRequest) (Classification, error) {
	prompt := prompts.ClassifyPrompt(string(req.Stage), req.Name, transcript(req.History), req.Utterance)

	resp, err := c.client.Chat(ctx, llm.Request{
		Model:     c.model,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		JSONOnly:  true,
		MaxTokens: classifyMaxTokens,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classification call: %w", err)
	}

	if c.usage != nil {
		c.usage(ctx, TokenUsage{
			ConversationID: req.ConversationID,
			Purpose:        "classify",
			Model:          resp.Model,
			Provider:       resp.Provider,
			InputTokens:    resp.InputTokens,
			OutputTokens:   resp.OutputTokens,
		})
	}

	cls, err := parseClassification(resp.Content, c.weights)
	if err != nil {
		c.logger.Log(ctx, llm.LevelTrace, "unusable classification payload", "content", resp.Content)
		return Classification{}, err
	}
	cls.Source = SourceLLM
	return cls, nil
}

// parseClassification decodes the model's JSON verdict, stripping
// markdown code fences if present, and validates its fields.
func parseClassification(content string, weights Weights) (Classification, error) {
	content = strings.TrimPrefix(content, "```json\n")
	content = strings.TrimPrefix(content, "```\n")
	content = strings.TrimSuffix(content, "\n```")
	content = strings.TrimSpace(content)
	if content == "" {
		return Classification{}, fmt.Errorf("empty classification response")
	}

	var cls Classification
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return Classification{}, fmt.Errorf("parse classification: %w", err)
	}
	if !cls.Pattern.Valid() {
		return Classification{}, fmt.Errorf("unknown pattern %q", cls.Pattern)
	}

	cls.Weight = clampWeight(cls.Pattern, cls.Weight, weights)
	cls.Candidate = strings.TrimSpace(cls.Candidate)
	return cls, nil
}

// clampWeight bounds a strike weight to what the accumulator accepts:
// zero for genuine, 1 through 3 for everything else, with the pattern's
// default filled in when the model sent none.
func clampWeight(p Pattern, w int, weights Weights) int {
	if p == PatternGenuine {
		return 0
	}
	if w == 0 {
		w = weights.For(p)
	}
	if w < 1 {
		w = 1
	}
	if w > 3 {
		w = 3
	}
	return w
}

// transcript renders history entries as "role: content" lines for
// prompt interpolation.
func transcript(history []HistoryEntry) string {
	var b strings.Builder
	for i, h := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(h.Role)
		b.WriteString(": ")
		b.WriteString(h.Content)
	}
	return b.String()
}
