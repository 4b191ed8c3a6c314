package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/foyerhq/foyer/internal/llm"
)

// stubLLM is a scriptable llm.Client for classifier tests.
type stubLLM struct {
	content  string
	err      error
	lastReq  llm.Request
	requests int
}

func (s *stubLLM) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.lastReq = req
	s.requests++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{
		Content:      s.content,
		Model:        req.Model,
		Provider:     "stub",
		InputTokens:  10,
		OutputTokens: 5,
	}, nil
}

func (s *stubLLM) Ping(context.Context) error { return nil }

var _ llm.Client = (*stubLLM)(nil)

func TestLLMClassifier(t *testing.T) {
	stub := &stubLLM{content: `{"pattern": "genuine", "candidate": "Sarah", "weight": 0, "reason": "stated name"}`}
	c := NewLLMClassifier(stub, "qwen3:4b", nil)

	cls, err := c.Classify(context.Background(), ClassifyRequest{
		ConversationID: "c1",
		Utterance:      "My name is Sarah",
		Stage:          StageCollectingName,
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if cls.Pattern != PatternGenuine {
		t.Errorf("pattern = %s", cls.Pattern)
	}
	if cls.Candidate != "Sarah" {
		t.Errorf("candidate = %q", cls.Candidate)
	}
	if cls.Source != SourceLLM {
		t.Errorf("source = %q, want llm", cls.Source)
	}

	if !stub.lastReq.JSONOnly {
		t.Error("classification request should demand JSON")
	}
	if stub.lastReq.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", stub.lastReq.Temperature)
	}
	if !strings.Contains(stub.lastReq.Messages[0].Content, "My name is Sarah") {
		t.Error("prompt should contain the utterance")
	}
}

func TestLLMClassifier_TransportError(t *testing.T) {
	stub := &stubLLM{err: errors.New("connection refused")}
	c := NewLLMClassifier(stub, "qwen3:4b", nil)

	_, err := c.Classify(context.Background(), ClassifyRequest{
		Utterance: "hi",
		Stage:     StageCollectingName,
	})
	if err == nil {
		t.Fatal("expected error when the provider is down")
	}
}

func TestLLMClassifier_UsageHook(t *testing.T) {
	stub := &stubLLM{content: `{"pattern": "honest_attempt", "weight": 1}`}
	c := NewLLMClassifier(stub, "qwen3:4b", nil)

	var got TokenUsage
	c.SetUsageFunc(func(_ context.Context, u TokenUsage) { got = u })

	if _, err := c.Classify(context.Background(), ClassifyRequest{
		ConversationID: "c9",
		Utterance:      "hmm",
		Stage:          StageCollectingName,
	}); err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if got.ConversationID != "c9" || got.Purpose != "classify" {
		t.Errorf("usage = %+v", got)
	}
	if got.InputTokens != 10 || got.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 10/5", got.InputTokens, got.OutputTokens)
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Classification
		wantErr bool
	}{
		{
			name:    "clean JSON",
			content: `{"pattern": "dismissive", "weight": 2, "reason": "brush-off"}`,
			want:    Classification{Pattern: PatternDismissive, Weight: 2, Reason: "brush-off"},
		},
		{
			name:    "fenced JSON",
			content: "```json\n{\"pattern\": \"genuine\", \"candidate\": \"Sarah\"}\n```",
			want:    Classification{Pattern: PatternGenuine, Candidate: "Sarah"},
		},
		{
			name:    "candidate whitespace trimmed",
			content: `{"pattern": "genuine", "candidate": "  Sarah  "}`,
			want:    Classification{Pattern: PatternGenuine, Candidate: "Sarah"},
		},
		{
			name:    "missing weight gets the pattern default",
			content: `{"pattern": "non_engagement"}`,
			want:    Classification{Pattern: PatternNonEngagement, Weight: 3},
		},
		{
			name:    "oversized weight clamps to three",
			content: `{"pattern": "dismissive", "weight": 9}`,
			want:    Classification{Pattern: PatternDismissive, Weight: 3},
		},
		{
			name:    "genuine weight pinned to zero",
			content: `{"pattern": "genuine", "weight": 2}`,
			want:    Classification{Pattern: PatternGenuine, Weight: 0},
		},
		{name: "empty response", content: "", wantErr: true},
		{name: "not JSON", content: "I think this is genuine.", wantErr: true},
		{name: "unknown pattern", content: `{"pattern": "sarcastic"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClassification(tt.content, DefaultWeights())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseClassification: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLLMClassifier_ConfiguredWeights(t *testing.T) {
	stub := &stubLLM{content: `{"pattern": "dismissive"}`}
	c := NewLLMClassifier(stub, "qwen3:4b", nil)
	c.SetWeights(Weights{Dismissive: 1})

	cls, err := c.Classify(context.Background(), ClassifyRequest{
		Utterance: "whatever",
		Stage:     StageCollectingName,
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Weight != 1 {
		t.Errorf("weight = %d, want configured 1", cls.Weight)
	}
}

func TestTranscript(t *testing.T) {
	history := []HistoryEntry{
		{Role: "assistant", Content: "What should I call you?"},
		{Role: "visitor", Content: "hey"},
	}
	got := transcript(history)
	want := "assistant: What should I call you?\nvisitor: hey"
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if transcript(nil) != "" {
		t.Error("empty history should render empty")
	}
}
